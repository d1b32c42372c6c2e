package httpservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Anya-org/dlcd/internal/config"
	"github.com/Anya-org/dlcd/internal/core/application"
	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/Anya-org/dlcd/internal/interface/http/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

type Service interface {
	Start() error
	Stop()
}

type Config struct {
	Port uint32
	// Password unlocks the keystore at startup, a new one is created the
	// first time.
	Password string
}

func (c Config) address() string {
	return fmt.Sprintf(":%d", c.Port)
}

type service struct {
	version   string
	config    Config
	appConfig *config.Config
	server    *http.Server
	appSvc    application.Service
}

func NewService(
	version string, svcConfig Config, appConfig *config.Config,
) (Service, error) {
	if err := appConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app config: %s", err)
	}
	return &service{
		version:   version,
		config:    svcConfig,
		appConfig: appConfig,
	}, nil
}

func (s *service) Start() error {
	ctx := context.Background()
	if err := unlockWallet(ctx, s.appConfig.WalletService(), s.config.Password); err != nil {
		return err
	}

	appSvc, err := s.appConfig.AppService()
	if err != nil {
		return err
	}
	if err := appSvc.Start(); err != nil {
		return err
	}
	s.appSvc = appSvc
	log.Info("started app service")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newBuildInfoCollector(s.version),
	)
	router, err := handlers.NewRouter(appSvc, registry, registry)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Addr:              s.config.address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				log.Debug("http server shutdown")
				return
			}
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()
	log.Infof("started listening at %s", s.config.address())
	return nil
}

func (s *service) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("failed to shutdown http server")
		}
		log.Info("stopped http server")
	}
	if s.appSvc != nil {
		s.appSvc.Stop()
		log.Info("stopped app service")
	}
}

func unlockWallet(ctx context.Context, wallet ports.WalletService, password string) error {
	status, err := wallet.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get wallet status: %s", err)
	}
	if !status.IsInitialized() {
		if err := wallet.Create(ctx, password); err != nil {
			return fmt.Errorf("failed to create wallet: %s", err)
		}
		log.Info("created new wallet")
	}
	if status.IsUnlocked() {
		return nil
	}
	if err := wallet.Unlock(ctx, password); err != nil {
		return fmt.Errorf("failed to unlock wallet: %s", err)
	}
	log.Info("wallet unlocked")
	return nil
}

func newBuildInfoCollector(version string) prometheus.Collector {
	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "dlcd",
		Name:        "build_info",
		Help:        "Version of the running daemon.",
		ConstLabels: prometheus.Labels{"version": version},
	})
	info.Set(1)
	return info
}

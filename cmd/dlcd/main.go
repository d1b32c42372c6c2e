package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Anya-org/dlcd/internal/config"
	httpservice "github.com/Anya-org/dlcd/internal/interface/http"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Version will be set during build time
var Version string

func mainAction(_ *cli.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	svcConfig := httpservice.Config{
		Port:     cfg.Port,
		Password: cfg.KeystorePassword,
	}

	svc, err := httpservice.NewService(Version, svcConfig, cfg)
	if err != nil {
		return err
	}

	log.Infof("dlcd config: %s", cfg)

	log.Debug("starting service...")
	if err := svc.Start(); err != nil {
		return err
	}

	log.RegisterExitHandler(svc.Stop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, os.Interrupt)
	<-sigChan

	log.Debug("shutting down service...")
	log.Exit(0)

	return nil
}

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "dlcd"
	app.Usage = "run or manage the DLC daemon"
	app.UsageText = "Run the DLC daemon with:\n\tdlcd\nManage the DLC daemon with:\n\tdlcd [global options] command [command options]"
	app.Commands = append(
		app.Commands,
		infoCmd,
		announcementsCmd,
		contractCmd,
	)
	app.Action = mainAction
	app.Flags = append(app.Flags, urlFlag)

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

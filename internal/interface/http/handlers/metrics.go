package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Anya-org/dlcd/internal/core/application"
	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const (
	metricsNamespace = "dlcd"
	collectTimeout   = 5 * time.Second
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHttpMetrics(registerer prometheus.Registerer) (*httpMetrics, error) {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Tracks the number of HTTP requests.",
			}, []string{"route", "method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "Tracks the latencies for HTTP requests.",
			}, []string{"route", "method", "code"},
		),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// middleware labels metrics with the route pattern rather than the raw path
// so contract ids don't end up in label values.
func (m *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); len(pattern) > 0 {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"route": route, "method": r.Method, "code": strconv.Itoa(status),
		}
		m.requests.With(labels).Inc()
		m.duration.With(labels).Observe(time.Since(start).Seconds())
	})
}

var contractsDesc = prometheus.NewDesc(
	prometheus.BuildFQName(metricsNamespace, "", "contracts"),
	"Number of contracts by state.",
	[]string{"state"}, nil,
)

// contractsCollector counts the stored contracts at scrape time.
type contractsCollector struct {
	svc application.Service
}

func (c contractsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- contractsDesc
}

func (c contractsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	contracts, err := c.svc.ListContracts(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to collect contract metrics")
		return
	}
	count := make(map[string]int)
	for s := domain.ContractStateOffered; s <= domain.ContractStateFailed; s++ {
		count[s.String()] = 0
	}
	for _, contract := range contracts {
		count[contract.State]++
	}
	for state, n := range count {
		ch <- prometheus.MustNewConstMetric(
			contractsDesc, prometheus.GaugeValue, float64(n), state,
		)
	}
}

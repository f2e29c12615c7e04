// Package metrics exposes sender counters over Prometheus. The endpoint
// is read by the studio's monitoring box; nothing in tamaki scrapes it.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sender's instrumentation. Each sender process owns
// one set on a private registry so tests can build them freely.
type Metrics struct {
	reg *prometheus.Registry

	PacketsSent        prometheus.Counter
	SendErrors         prometheus.Counter
	ReadErrors         *prometheus.CounterVec
	CommandsTotal      *prometheus.CounterVec
	TargetFrequency    prometheus.Gauge
	SensorsInitialized prometheus.Gauge
	CycleDuration      prometheus.Histogram
}

// New creates and registers the sender metrics.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tamaki_packets_sent_total",
			Help: "Total telemetry packets sent over UDP",
		}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tamaki_send_errors_total",
			Help: "Total UDP send failures",
		}),
		ReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tamaki_read_errors_total",
			Help: "Total sensor read failures",
		}, []string{"sensor"}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tamaki_commands_total",
			Help: "Total remote commands processed",
		}, []string{"command"}),
		TargetFrequency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tamaki_target_frequency_hz",
			Help: "Current target send frequency in Hz",
		}),
		SensorsInitialized: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tamaki_sensors_initialized",
			Help: "Number of sensors that initialized successfully",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tamaki_cycle_duration_seconds",
			Help:    "Duration of one sample-and-send cycle",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}

	m.reg.MustRegister(
		m.PacketsSent,
		m.SendErrors,
		m.ReadErrors,
		m.CommandsTotal,
		m.TargetFrequency,
		m.SensorsInitialized,
		m.CycleDuration,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve runs the metrics endpoint on addr until ctx is canceled.
// Returns the ListenAndServe error for anything other than a clean
// shutdown.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

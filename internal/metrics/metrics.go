// Package metrics exposes the server's operation counters and gauges
// over Prometheus: one Metrics struct bundling related collectors,
// registered once and served via promhttp.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the server touches. Unlike the
// teacher's package-level global vars, these live on a struct bound to
// a private registry so tests can build independent instances without
// tripping prometheus's "duplicate metrics collector registration"
// panic.
type Metrics struct {
	registry *prometheus.Registry

	WritesTotal        prometheus.Counter
	ReadsTotal         prometheus.Counter
	DeletesTotal       prometheus.Counter
	SubscribesTotal    prometheus.Counter
	UnsubscribesTotal  prometheus.Counter
	NotificationsTotal prometheus.Counter
	BackupsTotal       prometheus.Counter
	BackupsFailedTotal prometheus.Counter

	SessionsActive     prometheus.Gauge
	JobsQueued         prometheus.Gauge
	BackupChildrenLive prometheus.Gauge
}

// New builds and registers a fresh set of collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		WritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_writes_total",
			Help: "Total WRITE commands executed.",
		}),
		ReadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_reads_total",
			Help: "Total READ commands executed.",
		}),
		DeletesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_deletes_total",
			Help: "Total DELETE commands executed.",
		}),
		SubscribesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_subscribes_total",
			Help: "Total successful SUBSCRIBE requests.",
		}),
		UnsubscribesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_unsubscribes_total",
			Help: "Total successful UNSUBSCRIBE requests.",
		}),
		NotificationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_notifications_total",
			Help: "Total written pairs handed to subscription fan-out, whether or not any client is subscribed.",
		}),
		BackupsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_backups_total",
			Help: "Total BACKUP commands admitted.",
		}),
		BackupsFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvsd_backups_failed_total",
			Help: "Total BACKUP commands whose snapshot child failed to spawn.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvsd_sessions_active",
			Help: "Sessions currently queued or being served.",
		}),
		JobsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvsd_jobs_queued",
			Help: "Job files not yet dequeued by a worker.",
		}),
		BackupChildrenLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvsd_backup_children_live",
			Help: "Snapshot child processes currently in flight.",
		}),
	}

	reg.MustRegister(
		m.WritesTotal, m.ReadsTotal, m.DeletesTotal,
		m.SubscribesTotal, m.UnsubscribesTotal, m.NotificationsTotal,
		m.BackupsTotal, m.BackupsFailedTotal,
		m.SessionsActive, m.JobsQueued, m.BackupChildrenLive,
	)
	return m
}

// Server exposes m on addr's "/metrics" endpoint until Shutdown.
type Server struct {
	http *http.Server
}

// NewServer builds (but does not start) an HTTP server for m's
// registry.
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the HTTP server until Shutdown is called. Meant to be
// launched in its own goroutine; a non-nil return other than
// http.ErrServerClosed indicates a genuine startup failure.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the metrics server down.
func (s *Server) Stop() {
	s.http.Shutdown(context.Background())
}

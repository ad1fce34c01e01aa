// Package metrics exposes Prometheus counters for the server. This is an
// ambient addition (SPEC_FULL.md "domain stack") with no analogue in the
// original spec; it is wired the way caddyserver/caddy's metrics.go wires
// its own admin-API counters (promauto, a package-level metrics struct,
// MustRegister at init), but scoped to the request pipeline instead of an
// admin API.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "althttpd"

// Recorder is the collection of counters/gauges the pipeline, CGI launcher
// and SCGI relay update. Every metric is created and registered with the
// default Prometheus registry when the package is initialised.
var Recorder = struct {
	RequestsTotal       *prometheus.CounterVec
	CGIInvocationsTotal prometheus.Counter
	SCGIRelightTotal    prometheus.Counter
	ActiveConnections   prometheus.Gauge
}{
	RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total requests handled, labeled by reply status.",
	}, []string{"status"}),
	CGIInvocationsTotal: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cgi_invocations_total",
		Help:      "Total CGI scripts launched.",
	}),
	SCGIRelightTotal: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scgi_relight_total",
		Help:      "Total SCGI relight retries attempted.",
	}),
	ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Connections currently being served.",
	}),
}

// ObserveRequest increments the request counter for the given 3-digit reply
// status.
func ObserveRequest(status string) {
	if status == "" {
		status = "000"
	}
	Recorder.RequestsTotal.WithLabelValues(status).Inc()
}

// Serve starts a promhttp exposition listener on addr until ctx is done. The
// caller (cmd/althttpd) only calls this when --metrics-addr is set; the
// server is off by default (SPEC_FULL.md).
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}

// Package metrics exposes the relay's Prometheus metrics on a dedicated
// listener, kept off the public API port.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

// Relay counters. Labels stay low-cardinality: reasons are taxonomy kinds,
// never raw error strings.
var (
	JoinsAccepted = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "relay_joins_accepted_total",
		Help: "Group joins relayed on-chain successfully.",
	})
	JoinsRejected = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "relay_joins_rejected_total",
		Help: "Join requests rejected, by error kind.",
	}, []string{"reason"})
	PostsAccepted = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "relay_posts_accepted_total",
		Help: "Posts verified on-chain and stored.",
	})
	PostsRejected = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "relay_posts_rejected_total",
		Help: "Post submissions rejected, by error kind.",
	}, []string{"reason"})
	ChainSubmitSeconds = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_chain_submit_seconds",
		Help:    "Wall time from broadcast to confirmed inclusion.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
	NotifyFailures = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Name: "relay_notify_failures_total",
		Help: "Dropped best-effort notifications.",
	})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// MetricsServer serves the registry on its own address.
type MetricsServer struct {
	srv *http.Server
}

// New builds a metrics server for addr. An empty addr yields a server that
// is never started; callers gate ListenAndServe on the address being set.
func New(addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving metrics until Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

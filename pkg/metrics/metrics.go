// Package metrics exposes the harvester's Prometheus metrics over HTTP.
// The metrics themselves are defined in their packages (client, pagination,
// export, harvest, runstore) and registered via promauto.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Registry is the registerer all harvester metrics use.
var Registry = prometheus.DefaultRegisterer

// Handler serves /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	return mux
}

// Server serves Handler for the duration of a run.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// Start listens on addr and serves in the background.
// Use ":0" to pick a free port; Addr reports the bound address.
func Start(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:     ln,
		logger: log.With().Str("component", "metrics").Logger(),
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	s.logger.Info().Str("addr", s.Addr()).Msg("Metrics server listening")
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - harvest_requests_total{status} (Counter): Search requests by HTTP status ("network_error" for network failures)
//   - harvest_request_duration_seconds (Histogram): Search request duration
//   - harvest_request_errors_total{class} (Counter): Failures by class (client, server, network, decode)
//
// Pagination Metrics (pkg/pagination):
//   - harvest_pages_total{result} (Counter): Pages settled by result (success, failure)
//   - harvest_fetch_duration_seconds (Histogram): Duration of the concurrent fetch phase
//
// Export Metrics (pkg/export):
//   - harvest_export_records_total{artifact} (Counter): Records written per artifact
//   - harvest_export_errors_total{artifact} (Counter): Failed artifact writes
//
// Run Metrics (pkg/harvest):
//   - harvest_runs_total{result} (Counter): Runs by result (ok, partial, failed)
//   - harvest_run_duration_seconds (Histogram): Duration of a complete run
//   - harvest_flatten_collisions_total (Counter): Flattened keys produced by more than one path
//
// Run Store Metrics (pkg/runstore):
//   - harvest_runstore_errors_total{operation} (Counter): Redis operation errors
//
// Example Prometheus Queries:
//
//   # Page failure ratio
//   sum(rate(harvest_pages_total{result="failure"}[1h])) / sum(rate(harvest_pages_total[1h]))
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(harvest_request_duration_seconds_bucket[5m]))

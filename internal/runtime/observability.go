package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/dispatchkit/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/dispatchkit/internal/runtime/logging"
)

const readHeaderTimeout = 5 * time.Second

// ObservabilityHandler serves /metrics from the service's Prometheus registry
// and /executors as a JSON snapshot of every instrumented pool.
func (s *Service) ObservabilityHandler() http.Handler {
	mux := http.NewServeMux()
	if g := s.metrics.Gatherer(); g != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/executors", s.handleExecutors)
	return mux
}

func (s *Service) handleExecutors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, s.metrics.Snapshot()); err != nil {
		s.Logger.Error("Failed to encode executor snapshot", err, nil)
	}
}

// serveObservability runs the HTTP server until ctx is done.
func (s *Service) serveObservability(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.Conf.MetricsPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.ObservabilityHandler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": addr})
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readHeaderTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nsqlite/xapibench/internal/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	logNs           = "metrics"
	shutdownTimeout = 5 * time.Second
)

// NewHandler serves the registry at /metrics and a liveness check at
// /ready.
func NewHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Serve exposes reg on addr until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoNs(logNs, "serving metrics", log.KV{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

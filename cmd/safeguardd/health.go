package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/revittco/safeguard/internal/keystore"
	"github.com/revittco/safeguard/internal/store"
)

// serveHealth runs the liveness/readiness/metrics HTTP surface
// cmd/safeguardd exposes in place of the operator-facing approve/reject
// API, which remains a transport-layer collaborator per spec.md's
// Non-goals.
func serveHealth(ctx context.Context, addr string, db store.Store, ks *keystore.RedisKeystore, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		readinessHandler(db, ks)(w, r)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("health server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down health server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type readinessBody struct {
	Store    string `json:"store"`
	Keystore string `json:"keystore"`
}

func readinessHandler(db store.Store, ks *keystore.RedisKeystore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := readinessBody{Store: "ok", Keystore: "ok"}
		ready := true

		if err := db.Ping(r.Context()); err != nil {
			body.Store = err.Error()
			ready = false
		}
		if _, _, err := ks.GetSecret(r.Context(), "safeguard:readiness-probe"); err != nil {
			body.Keystore = err.Error()
			ready = false
		}

		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(body)
	}
}

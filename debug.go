package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/s0ultr4d3r/gpx2video/metrics"
)

func debugRouter(prov *metrics.Provider) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", prov.Handler())
	r.Mount("/debug", middleware.Profiler())
	return r
}

// startDebugServer serves metrics and pprof on addr until ctx ends.
func startDebugServer(ctx context.Context, addr string, prov *metrics.Provider, log zerolog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           debugRouter(prov),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msgf("debug: http://%s/debug/pprof/", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("debug server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// cmd/microperf/server.go
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/FairForge/microperf/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func newRouter(exporter *metrics.Exporter) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", exporter.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func newMetricsServer(addr string, exporter *metrics.Exporter, logger *zap.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           newRouter(exporter),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          zap.NewStdLog(logger),
	}
}

func shutdown(srv *http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("metrics server shutdown", zap.Error(err))
	}
}

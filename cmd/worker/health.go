package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/vista-api/internal/api/shared"
)

const healthCheckTimeout = 2 * time.Second

// pinger is implemented by the task store and the broker.
type pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Broker string `json:"broker"`
}

// newHealthRouter serves GET /health. It answers 503 when either backend is
// unreachable so orchestrators can restart the worker.
func newHealthRouter(taskStore, broker pinger, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Store: "ok", Broker: "ok"}
		if err := taskStore.Ping(ctx); err != nil {
			logger.Warn("store ping failed", slog.String("error", err.Error()))
			resp.Store = "unavailable"
			resp.Status = "degraded"
		}
		if err := broker.Ping(ctx); err != nil {
			logger.Warn("broker ping failed", slog.String("error", err.Error()))
			resp.Broker = "unavailable"
			resp.Status = "degraded"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		shared.RespondWithJSON(w, r, status, resp)
	})

	return r
}

package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/vista-api/internal/api"
	apiMiddleware "github.com/phrazzld/vista-api/internal/api/middleware"
)

// setupRouter creates the router with the standard middleware and the task
// gateway routes.
func (a *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(a.logger))

	handler := api.NewTaskHandler(a.tasks, a.components.Files, api.TaskHandlerConfig{
		MaxUploadBytes: a.config.Server.MaxUploadBytes,
		Backends:       a.components.Backends(),
	}, a.logger)
	handler.Routes(r)

	return r
}

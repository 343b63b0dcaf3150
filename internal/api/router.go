package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/logsift/internal/api/middleware"
	"github.com/kiranshivaraju/logsift/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler        http.HandlerFunc
	SubmitJobsHandler    http.HandlerFunc
	GetJobHandler        http.HandlerFunc
	ListArtifactsHandler http.HandlerFunc
	UpsertBugsHandler    http.HandlerFunc
	SearchBugsHandler    http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJobsHandler))
		r.Get("/api/v1/jobs/{guid}", orNotImplemented(deps.GetJobHandler))
		r.Get("/api/v1/jobs/{guid}/artifacts", orNotImplemented(deps.ListArtifactsHandler))

		r.Post("/api/v1/bugs", orNotImplemented(deps.UpsertBugsHandler))
		r.Get("/api/v1/bugs/search", orNotImplemented(deps.SearchBugsHandler))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "No such endpoint", nil)
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}

package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/orgdesk/orgdesk/internal/audit"
	"github.com/orgdesk/orgdesk/internal/auth"
	"github.com/orgdesk/orgdesk/internal/deletion"
	"github.com/orgdesk/orgdesk/internal/export"
	"github.com/orgdesk/orgdesk/internal/observability"
	"github.com/orgdesk/orgdesk/internal/org"
	"github.com/orgdesk/orgdesk/internal/sessions"
	"github.com/orgdesk/orgdesk/internal/shared"
	"github.com/orgdesk/orgdesk/internal/transfer"
	"github.com/orgdesk/orgdesk/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	SessionManager  *shared.SessionManager
	Registry        *sessions.Service
	AuthHandler     *auth.Handler
	OrgHandler      *org.Handler
	DeletionHandler *deletion.Handler
	TransferHandler *transfer.Handler
	ExportHandler   *export.Handler
	SessionsHandler *sessions.Handler
	AuditHandler    *audit.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Registry:       params.Registry,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Route("/orgs", func(r chi.Router) {
		params.OrgHandler.MountRoutes(r)
		params.DeletionHandler.MountRoutes(r)
		params.TransferHandler.MountRoutes(r)
		if params.ExportHandler != nil {
			params.ExportHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r)
		}
	})

	params.SessionsHandler.MountRoutes(r)

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

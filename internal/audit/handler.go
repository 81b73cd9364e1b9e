package audit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/orgdesk/orgdesk/internal/org"
	"github.com/orgdesk/orgdesk/internal/platform/httpx"
	"github.com/orgdesk/orgdesk/internal/policy"
	"github.com/orgdesk/orgdesk/internal/shared"
)

// RoleSource resolves the caller's role in the organization.
type RoleSource interface {
	GetMembershipRole(ctx context.Context, orgID, userID uuid.UUID) (policy.Role, error)
}

type Handler struct {
	logger  *slog.Logger
	service *Service
	roles   RoleSource
}

func NewHandler(logger *slog.Logger, service *Service, roles RoleSource) *Handler {
	return &Handler{logger: logger, service: service, roles: roles}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{orgID}/activity", h.Timeline)
}

func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid organization id")
		return
	}

	role, err := h.roles.GetMembershipRole(r.Context(), orgID, userID)
	if err != nil {
		if errors.Is(err, org.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		h.logger.Error("audit handler", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if !policy.CanPerform(role, policy.ActionAccessSecuritySettings, false) {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}

	filters := TimelineFilters{
		OrgID:  orgID,
		Actor:  r.URL.Query().Get("actor"),
		Entity: r.URL.Query().Get("entity"),
		Action: r.URL.Query().Get("action"),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.From = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.To = t
		}
	}
	filters.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filters.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))

	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit handler", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

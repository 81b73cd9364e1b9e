package export

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/orgdesk/orgdesk/internal/org"
	"github.com/orgdesk/orgdesk/internal/platform/httpx"
	"github.com/orgdesk/orgdesk/internal/policy"
	"github.com/orgdesk/orgdesk/internal/shared"
)

type ExportRequest struct {
	Format     string   `json:"format" validate:"required,oneof=json csv"`
	Categories []string `json:"categories,omitempty" validate:"omitempty,dive,oneof=organization memberships invitations preferences"`
}

// RoleSource resolves the caller's role in the organization.
type RoleSource interface {
	GetMembershipRole(ctx context.Context, orgID, userID uuid.UUID) (policy.Role, error)
}

type Handler struct {
	logger    *slog.Logger
	service   *Service
	roles     RoleSource
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, roles RoleSource) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		roles:     roles,
		validator: validator.New(),
	}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{orgID}/export", h.Export)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
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
	var body ExportRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	role, err := h.roles.GetMembershipRole(r.Context(), orgID, userID)
	if err != nil {
		if errors.Is(err, org.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		h.logger.Error("export handler", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if !policy.CanPerform(role, policy.ActionExportOrganizationData, false) {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}

	result, err := h.service.Export(r.Context(), orgID, Format(body.Format), body.Categories)
	if err != nil {
		switch {
		case errors.Is(err, org.ErrNotFound):
			httpx.RespondError(w, httpx.ErrNotFound)
		case errors.Is(err, ErrUnknownFormat):
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		default:
			h.logger.Error("export handler", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

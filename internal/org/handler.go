package org

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/orgdesk/orgdesk/internal/platform/httpx"
	"github.com/orgdesk/orgdesk/internal/policy"
	"github.com/orgdesk/orgdesk/internal/shared"
)

type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// actor resolves the authenticated caller's membership in the routed
// organization. Failures are already shaped for the response writer.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (Actor, uuid.UUID, bool) {
	userID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return Actor{}, uuid.Nil, false
	}
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid organization id")
		return Actor{}, uuid.Nil, false
	}
	actor, err := h.service.ResolveActor(r.Context(), orgID, userID)
	if err != nil {
		h.respondError(w, err)
		return Actor{}, uuid.Nil, false
	}
	return actor, orgID, true
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.actor(w, r)
	if !ok {
		return
	}
	o, err := h.service.Get(r.Context(), actor, orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req UpdateOrganizationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	o, err := h.service.UpdateProfile(r.Context(), actor, orgID, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.actor(w, r)
	if !ok {
		return
	}
	members, err := h.service.ListMembers(r.Context(), actor, orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, members)
}

func (h *Handler) ChangeMemberRole(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.actor(w, r)
	if !ok {
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	var req ChangeMemberRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.ChangeMemberRole(r.Context(), actor, orgID, targetID, policy.Role(req.Role)); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.actor(w, r)
	if !ok {
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user id")
		return
	}
	if err := h.service.RemoveMember(r.Context(), actor, orgID, targetID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req InviteMemberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inv, err := h.service.InviteMember(r.Context(), actor, orgID, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.actor(w, r)
	if !ok {
		return
	}
	invites, err := h.service.ListInvitations(r.Context(), actor, orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invites)
}

func (h *Handler) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.actor(w, r)
	if !ok {
		return
	}
	inviteID, err := uuid.Parse(chi.URLParam(r, "inviteID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invitation id")
		return
	}
	if err := h.service.RevokeInvitation(r.Context(), actor, orgID, inviteID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ShowPreferences(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.actor(w, r)
	if !ok {
		return
	}
	prefs, err := h.service.GetPreferences(r.Context(), actor, orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, prefs)
}

func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	actor, orgID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req UpdatePreferencesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	prefs, err := h.service.UpdatePreferences(r.Context(), actor, orgID, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, prefs)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrForbidden):
		httpx.RespondError(w, httpx.ErrForbidden)
	case errors.Is(err, ErrOwnerRoleChange), errors.Is(err, ErrInvalidLocale), errors.Is(err, ErrInvalidTimezone):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	case errors.Is(err, ErrAlreadyExists):
		httpx.RespondError(w, httpx.ErrConflict)
	case errors.Is(err, shared.ErrStaleState):
		httpx.RespondError(w, httpx.ErrConflict)
	default:
		h.logger.Error("org handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

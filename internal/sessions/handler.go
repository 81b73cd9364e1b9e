package sessions

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/orgdesk/orgdesk/internal/platform/httpx"
	"github.com/orgdesk/orgdesk/internal/shared"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/me/sessions", func(r chi.Router) {
		r.Get("/", h.List)
		r.Delete("/{sessionID}", h.Revoke)
		r.Post("/revoke-others", h.RevokeOthers)
	})
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	userID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return uuid.Nil, "", false
	}
	return userID, shared.CurrentSessionID(r.Context()), true
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, current, ok := h.caller(w, r)
	if !ok {
		return
	}
	out, err := h.service.List(r.Context(), userID, current)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, current, ok := h.caller(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.service.Revoke(r.Context(), userID, sessionID, current, "user_request"); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	userID, current, ok := h.caller(w, r)
	if !ok {
		return
	}
	revoked, err := h.service.RevokeAllOthers(r.Context(), userID, current)
	if err != nil {
		// Partial success still reports the count.
		h.logger.Warn("revoke others", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"revoked": revoked})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		httpx.RespondError(w, httpx.ErrForbidden)
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	default:
		h.logger.Error("sessions handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

package deletion

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/orgdesk/orgdesk/internal/org"
	"github.com/orgdesk/orgdesk/internal/platform/httpx"
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

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid organization id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, orgID, true
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.caller(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), userID, orgID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) ConfirmName(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body ConfirmNameRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req, err := h.service.ConfirmName(r.Context(), userID, orgID, body.Name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) ConfirmPhrase(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body ConfirmPhraseRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req, err := h.service.ConfirmPhrase(r.Context(), userID, orgID, body.Phrase)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var body FinalizeRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req, err := h.service.Finalize(r.Context(), userID, orgID, body)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.service.Restore(r.Context(), userID, orgID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), userID, orgID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, org.ErrNotFound), errors.Is(err, ErrNoActiveRequest):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrForbidden):
		httpx.RespondError(w, httpx.ErrForbidden)
	case errors.Is(err, ErrNameMismatch), errors.Is(err, ErrPhraseMismatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	case errors.Is(err, ErrAlreadyPending), errors.Is(err, ErrTransferPending):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrGracePeriodExpired):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrExportFailed):
		httpx.Problem(w, http.StatusBadGateway, "Export Failed", err.Error())
	case errors.Is(err, shared.ErrStaleState):
		httpx.RespondError(w, httpx.ErrConflict)
	default:
		h.logger.Error("deletion handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

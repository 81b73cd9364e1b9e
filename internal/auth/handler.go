package auth

import (
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/orgdesk/orgdesk/internal/platform/httpx"
	"github.com/orgdesk/orgdesk/internal/sessions"
	"github.com/orgdesk/orgdesk/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows. A successful login
// also registers the session with the registry so the device shows up in
// the user's session list.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	registry       *sessions.Service
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sm *shared.SessionManager, registry *sessions.Service) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sm,
		registry:       registry,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed json")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	user, err := h.service.Authenticate(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
			return
		}
		h.logger.Error("login", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.RespondError(w, errors.New("session unavailable"))
		return
	}
	sess.SetUser(user.ID.String())

	client := sessions.Client{
		Device:   r.UserAgent(),
		IP:       clientIP(r),
		Location: clientLocation(r),
	}
	if err := h.registry.Register(r.Context(), user.ID, sess.ID, client); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}

	httpx.JSON(w, http.StatusOK, map[string]string{"user_id": user.ID.String()})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if userID, ok := shared.CurrentUserID(r.Context()); ok {
			if err := h.registry.Revoke(r.Context(), userID, sess.ID, sess.ID, "logout"); err != nil {
				h.logger.Warn("revoke session", slog.Any("error", err))
			}
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientLocation reads the geo headers the edge proxy injects for the
// client's IP. Empty when no proxy provides them.
func clientLocation(r *http.Request) string {
	city := r.Header.Get("X-Geo-City")
	country := r.Header.Get("X-Geo-Country")
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case city != "":
		return city
	default:
		return country
	}
}

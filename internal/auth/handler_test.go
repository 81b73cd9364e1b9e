package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/orgdesk/orgdesk/internal/sessions"
	"github.com/orgdesk/orgdesk/internal/shared"
)

type stubRepo struct {
	users map[string]*User
}

func (r *stubRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	user, ok := r.users[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return user, nil
}

// commitOnWriteRecorder commits the session before the first response
// write, matching the production middleware's ResponseWriter wrapper.
type commitOnWriteRecorder struct {
	http.ResponseWriter
	sm            *shared.SessionManager
	sess          *shared.Session
	ctx           context.Context
	req           *http.Request
	headerWritten bool
}

func (w *commitOnWriteRecorder) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.headerWritten = true
		_ = w.sm.Commit(w.ctx, w.ResponseWriter, w.req, w.sess)
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *commitOnWriteRecorder) Write(data []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

type testEnv struct {
	router   chi.Router
	sm       *shared.SessionManager
	registry *sessions.Service
	userID   uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse-battery"), bcrypt.MinCost)
	require.NoError(t, err)
	userID := uuid.New()
	repo := &stubRepo{users: map[string]*User{
		"alice@example.test": {ID: userID, Email: "alice@example.test", PasswordHash: string(hash), IsActive: true},
	}}

	sm := shared.NewSessionManager(client, "orgdesk_session", "secret", time.Hour, false)
	registry := sessions.NewService(sessions.NewRedisStore(client), nil, slog.Default(), time.Hour)
	h := NewHandler(slog.Default(), NewService(repo), sm, registry)

	router := chi.NewRouter()
	// Load-and-commit session middleware, as the app router does: the
	// session commits before the first byte of the response, mirroring
	// internal/app/middleware.go's commit-on-WriteHeader wrapper.
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sm.Load(r.Context(), r)
			require.NoError(t, err)
			ctx := shared.ContextWithSession(r.Context(), sess)
			r = r.WithContext(ctx)
			wrapped := &commitOnWriteRecorder{ResponseWriter: w, sm: sm, sess: sess, ctx: ctx, req: r}
			next.ServeHTTP(wrapped, r)
			if !wrapped.headerWritten {
				require.NoError(t, sm.Commit(ctx, w, r, sess))
			}
		})
	})
	h.MountRoutes(router)

	return &testEnv{router: router, sm: sm, registry: registry, userID: userID}
}

func postJSON(router chi.Router, path, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.5:51234"
	req.Header.Set("User-Agent", "orgdesk-test/1.0")
	req.Header.Set("X-Geo-City", "Lisbon")
	req.Header.Set("X-Geo-Country", "PT")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLoginRegistersSession(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(env.router, "/login", `{"email":"alice@example.test","password":"correct-horse-battery"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, env.userID.String(), body["user_id"])
	require.NotEmpty(t, rec.Result().Cookies())

	listed, err := env.registry.List(context.Background(), env.userID, "")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "orgdesk-test/1.0", listed[0].Device)
	assert.Equal(t, "10.0.0.5", listed[0].IP)
	assert.Equal(t, "Lisbon, PT", listed[0].Location)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{
		`{"email":"alice@example.test","password":"wrong-password-here"}`,
		`{"email":"nobody@example.test","password":"correct-horse-battery"}`,
	} {
		rec := postJSON(env.router, "/login", body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	listed, err := env.registry.List(context.Background(), env.userID, "")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestLoginValidatesInput(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(env.router, "/login", `{"email":"alice@example.test","password":"short"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "password below minimum length fails validation")

	rec = postJSON(env.router, "/login", `{"email":"not-an-email","password":"correct-horse-battery"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutRevokesRegistrySession(t *testing.T) {
	env := newTestEnv(t)

	login := postJSON(env.router, "/login", `{"email":"alice@example.test","password":"correct-horse-battery"}`, nil)
	require.Equal(t, http.StatusOK, login.Code)
	cookies := login.Result().Cookies()

	logout := postJSON(env.router, "/logout", "", cookies)
	require.Equal(t, http.StatusNoContent, logout.Code)

	listed, err := env.registry.List(context.Background(), env.userID, "")
	require.NoError(t, err)
	assert.Empty(t, listed, "logout signs the device out of the registry")
}

package sessions

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgdesk/orgdesk/internal/shared"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(NewRedisStore(client), nil, slog.Default(), time.Hour)
	return svc, mr, client
}

func TestRegisterAndList(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, svc.Register(ctx, userID, "sess-laptop", Client{Device: "Firefox on Linux", IP: "10.0.0.5", Location: "Berlin, DE"}))
	require.NoError(t, svc.Register(ctx, userID, "sess-phone", Client{Device: "Safari on iPhone", IP: "10.0.0.9"}))

	out, err := svc.List(ctx, userID, "sess-phone")
	require.NoError(t, err)
	require.Len(t, out, 2)

	byID := map[string]Session{}
	for _, s := range out {
		byID[s.ID] = s
	}
	assert.True(t, byID["sess-phone"].Current)
	assert.False(t, byID["sess-laptop"].Current)
	assert.Equal(t, "Firefox on Linux", byID["sess-laptop"].Device)
	assert.Equal(t, "Berlin, DE", byID["sess-laptop"].Location)
	assert.Empty(t, byID["sess-phone"].Location)
}

func TestListScopedToUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	require.NoError(t, svc.Register(ctx, alice, "sess-a", Client{Device: "Firefox", IP: "10.0.0.1"}))
	require.NoError(t, svc.Register(ctx, bob, "sess-b", Client{Device: "Chrome", IP: "10.0.0.2"}))

	out, err := svc.List(ctx, alice, "sess-a")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "sess-a", out[0].ID)
}

func TestRevokeDeletesCookieSession(t *testing.T) {
	svc, mr, client := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, svc.Register(ctx, userID, "sess-laptop", Client{Device: "Firefox", IP: "10.0.0.5"}))
	// Simulate the cookie session the record describes.
	require.NoError(t, client.Set(ctx, shared.SessionKeyPrefix+"sess-laptop", `{"user_id":"x"}`, time.Hour).Err())

	require.NoError(t, svc.Revoke(ctx, userID, "sess-laptop", "sess-phone", "user_request"))

	assert.False(t, mr.Exists(shared.SessionKeyPrefix+"sess-laptop"), "cookie session must be gone")
	out, err := svc.List(ctx, userID, "sess-phone")
	require.NoError(t, err)
	assert.Empty(t, out)

	// Revoking again is a no-op.
	assert.NoError(t, svc.Revoke(ctx, userID, "sess-laptop", "sess-phone", "user_request"))
}

func TestRevokeOtherUsersSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	require.NoError(t, svc.Register(ctx, bob, "sess-b", Client{Device: "Chrome", IP: "10.0.0.2"}))

	err := svc.Revoke(ctx, alice, "sess-b", "sess-a", "user_request")
	assert.ErrorIs(t, err, ErrForbidden)

	out, err := svc.List(ctx, bob, "sess-b")
	require.NoError(t, err)
	assert.Len(t, out, 1, "the session survives")
}

func TestRevokeAllOthersKeepsCurrent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		require.NoError(t, svc.Register(ctx, userID, id, Client{Device: "Firefox", IP: "10.0.0.5"}))
	}

	revoked, err := svc.RevokeAllOthers(ctx, userID, "sess-2")
	require.NoError(t, err)
	assert.Equal(t, 2, revoked)

	out, err := svc.List(ctx, userID, "sess-2")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "sess-2", out[0].ID)
	assert.True(t, out[0].Current)
}

func TestListPrunesExpiredRecords(t *testing.T) {
	svc, mr, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, svc.Register(ctx, userID, "sess-old", Client{Device: "Firefox", IP: "10.0.0.5"}))
	require.NoError(t, svc.Register(ctx, userID, "sess-new", Client{Device: "Chrome", IP: "10.0.0.6"}))

	// The old record expires; the index set still references it.
	mr.Del(recordKeyPrefix + "sess-old")

	out, err := svc.List(ctx, userID, "sess-new")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "sess-new", out[0].ID)
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	require.NoError(t, svc.Register(ctx, userID, "sess-1", Client{Device: "Firefox", IP: "10.0.0.5"}))

	svc.now = func() time.Time { return base.Add(15 * time.Minute) }
	svc.Touch(ctx, "sess-1")

	out, err := svc.List(ctx, userID, "sess-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, base.Add(15*time.Minute), out[0].LastSeenAt)
}

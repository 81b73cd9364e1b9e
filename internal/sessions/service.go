package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/orgdesk/orgdesk/internal/shared"
)

// ErrForbidden rejects operating on another user's session. Deliberately
// generic in the response.
var ErrForbidden = errors.New("sessions: not permitted")

// Service is the session registry. Users see their own sessions only; the
// owner of a session may terminate it from any of their other devices.
type Service struct {
	store  Store
	audit  shared.Recorder
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

func NewService(store Store, audit shared.Recorder, logger *slog.Logger, ttl time.Duration) *Service {
	return &Service{
		store:  store,
		audit:  audit,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Client describes the device a session was established from. Location is a
// best-effort hint; empty when the deployment has no geo-aware proxy.
type Client struct {
	Device   string
	IP       string
	Location string
}

// Register records a fresh sign-in. Called by the auth handler after the
// cookie session is established.
func (s *Service) Register(ctx context.Context, userID uuid.UUID, sessionID string, c Client) error {
	now := s.now().UTC()
	return s.store.Register(ctx, Session{
		ID:         sessionID,
		UserID:     userID,
		Device:     c.Device,
		IP:         c.IP,
		Location:   c.Location,
		CreatedAt:  now,
		LastSeenAt: now,
	}, s.ttl)
}

// Touch refreshes a session's last-seen time. Failures are not the
// request's problem.
func (s *Service) Touch(ctx context.Context, sessionID string) {
	if err := s.store.Touch(ctx, sessionID, s.now().UTC(), s.ttl); err != nil && !errors.Is(err, ErrNotFound) {
		if s.logger != nil {
			s.logger.Warn("session touch", slog.Any("error", err))
		}
	}
}

// List returns the caller's sessions newest first, flagging the one that
// made the request.
func (s *Service) List(ctx context.Context, userID uuid.UUID, currentSessionID string) ([]Session, error) {
	out, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Current = out[i].ID == currentSessionID
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	return out, nil
}

// Revoke signs one session out. Idempotent: revoking a session that already
// expired or was already revoked succeeds. A session belonging to a
// different user is rejected without revealing whether it exists.
func (s *Service) Revoke(ctx context.Context, userID uuid.UUID, sessionID, currentSessionID, reason string) error {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if sess.UserID != userID {
		return ErrForbidden
	}
	if err := s.store.Revoke(ctx, userID, sessionID); err != nil {
		return err
	}
	s.record(ctx, userID, sessionID, currentSessionID, reason)
	return nil
}

// RevokeAllOthers signs out every session except the one making the
// request. Individual failures do not abort the rest; the count of
// successful revocations is returned alongside any aggregated error.
func (s *Service) RevokeAllOthers(ctx context.Context, userID uuid.UUID, currentSessionID string) (int, error) {
	sessions, err := s.store.List(ctx, userID)
	if err != nil {
		return 0, err
	}

	revoked := 0
	var failures []error
	for _, sess := range sessions {
		if sess.ID == currentSessionID {
			continue
		}
		if err := s.store.Revoke(ctx, userID, sess.ID); err != nil {
			failures = append(failures, fmt.Errorf("session %s: %w", sess.ID, err))
			continue
		}
		revoked++
		s.record(ctx, userID, sess.ID, currentSessionID, "revoke_all_others")
	}
	return revoked, errors.Join(failures...)
}

func (s *Service) record(ctx context.Context, userID uuid.UUID, sessionID, revokedFrom, reason string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  userID.String(),
		Action:   "session.revoked",
		Entity:   "session",
		EntityID: sessionID,
		Meta:     map[string]any{"revoked_from": revokedFrom, "reason": reason},
		At:       s.now().UTC(),
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.Any("error", err))
	}
}

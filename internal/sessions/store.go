package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/orgdesk/orgdesk/internal/shared"
)

// ErrNotFound indicates no registry record exists for the session ID.
var ErrNotFound = errors.New("sessions: not found")

const (
	recordKeyPrefix = "usersession:"
	indexKeyPrefix  = "user_sessions:"
)

// Store persists session registry records.
type Store interface {
	Register(ctx context.Context, sess Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	List(ctx context.Context, userID uuid.UUID) ([]Session, error)
	Touch(ctx context.Context, sessionID string, at time.Time, ttl time.Duration) error
	// Revoke removes the registry record, the index entry, and the cookie
	// session key. Idempotent: revoking an unknown session is a no-op.
	Revoke(ctx context.Context, userID uuid.UUID, sessionID string) error
}

// RedisStore keeps one JSON record per session plus a per-user index set.
// Records expire with the cookie session TTL; the index is pruned lazily on
// List when a member's record has already expired.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) Register(ctx context.Context, sess Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKeyPrefix+sess.ID, data, ttl)
	pipe.SAdd(ctx, indexKeyPrefix+sess.UserID.String(), sess.ID)
	pipe.Expire(ctx, indexKeyPrefix+sess.UserID.String(), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.client.Get(ctx, recordKeyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisStore) List(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	indexKey := indexKeyPrefix + userID.String()
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}

	var out []Session
	var stale []interface{}
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				stale = append(stale, id)
				continue
			}
			return nil, err
		}
		out = append(out, *sess)
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, indexKey, stale...).Err()
	}
	return out, nil
}

func (s *RedisStore) Touch(ctx context.Context, sessionID string, at time.Time, ttl time.Duration) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.LastSeenAt = at
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, recordKeyPrefix+sessionID, data, ttl).Err()
}

func (s *RedisStore) Revoke(ctx context.Context, userID uuid.UUID, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recordKeyPrefix+sessionID)
	pipe.SRem(ctx, indexKeyPrefix+userID.String(), sessionID)
	// Deleting the cookie key is what actually signs the device out.
	pipe.Del(ctx, shared.SessionKeyPrefix+sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

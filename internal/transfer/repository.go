package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orgdesk/orgdesk/internal/org"
	"github.com/orgdesk/orgdesk/internal/platform/db"
	"github.com/orgdesk/orgdesk/internal/policy"
	"github.com/orgdesk/orgdesk/internal/shared"
)

var (
	// ErrNoActiveTransfer indicates no live proposal exists.
	ErrNoActiveTransfer = errors.New("transfer: no active proposal")
	// ErrAlreadyProposed indicates a live proposal already exists.
	ErrAlreadyProposed = errors.New("transfer: proposal already pending")
)

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	GetOrganizationForUpdate(ctx context.Context, orgID uuid.UUID) (*org.Organization, error)
	GetMembershipRole(ctx context.Context, orgID, userID uuid.UUID) (policy.Role, error)
	SetMembershipRole(ctx context.Context, orgID, userID uuid.UUID, role policy.Role) error
	SetOrgOwner(ctx context.Context, orgID, userID uuid.UUID) error
	HasActiveDeletion(ctx context.Context, orgID uuid.UUID) (bool, error)
	// CancelDeletionRequests cancels any deletion request still inside its
	// confirmation steps. Called when ownership changes hands so a stale
	// half-confirmed deletion from the demoted owner cannot proceed.
	CancelDeletionRequests(ctx context.Context, orgID uuid.UUID) error

	GetActive(ctx context.Context, orgID uuid.UUID, now time.Time) (*Transfer, error)
	// GetLatest returns the most recent transfer for the organization
	// regardless of status.
	GetLatest(ctx context.Context, orgID uuid.UUID) (*Transfer, error)
	Create(ctx context.Context, t Transfer) error
	SetStatusCAS(ctx context.Context, transferID uuid.UUID, from, to Status, resolvedAt time.Time) error
	// MarkExpired rewrites lapsed proposed rows so listings and the unique
	// index stop counting them as live. Reads never depend on it.
	MarkExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func (r *repository) GetOrganizationForUpdate(ctx context.Context, orgID uuid.UUID) (*org.Organization, error) {
	var o org.Organization
	err := r.db.QueryRow(ctx, `SELECT id, name, slug, status, owner_user_id, created_at, updated_at
FROM organizations WHERE id = $1 FOR UPDATE`, orgID).
		Scan(&o.ID, &o.Name, &o.Slug, &o.Status, &o.OwnerUserID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, org.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *repository) GetMembershipRole(ctx context.Context, orgID, userID uuid.UUID) (policy.Role, error) {
	var role policy.Role
	err := r.db.QueryRow(ctx, `SELECT role FROM memberships WHERE org_id = $1 AND user_id = $2`, orgID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", org.ErrNotFound
		}
		return "", err
	}
	return role, nil
}

func (r *repository) SetMembershipRole(ctx context.Context, orgID, userID uuid.UUID, role policy.Role) error {
	tag, err := r.db.Exec(ctx, `UPDATE memberships SET role = $3 WHERE org_id = $1 AND user_id = $2`, orgID, userID, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return org.ErrNotFound
	}
	return nil
}

func (r *repository) SetOrgOwner(ctx context.Context, orgID, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE organizations SET owner_user_id = $2, updated_at = NOW() WHERE id = $1`, orgID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return org.ErrNotFound
	}
	return nil
}

func (r *repository) HasActiveDeletion(ctx context.Context, orgID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM org_deletion_requests WHERE org_id = $1 AND status IN ('awaiting_phrase', 'awaiting_finalize', 'pending'))`, orgID).Scan(&exists)
	return exists, err
}

func (r *repository) CancelDeletionRequests(ctx context.Context, orgID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE org_deletion_requests SET status = 'cancelled'
WHERE org_id = $1 AND status IN ('awaiting_phrase', 'awaiting_finalize')`, orgID)
	return err
}

const transferColumns = `id, org_id, from_user_id, to_user_id, status, message, reason, proposed_at, expires_at, resolved_at`

func (r *repository) GetActive(ctx context.Context, orgID uuid.UUID, now time.Time) (*Transfer, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM ownership_transfers
WHERE org_id = $1 AND status = 'proposed' AND expires_at > $2`, orgID, now)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveTransfer
		}
		return nil, err
	}
	return t, nil
}

func (r *repository) GetLatest(ctx context.Context, orgID uuid.UUID) (*Transfer, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM ownership_transfers
WHERE org_id = $1 ORDER BY proposed_at DESC LIMIT 1`, orgID)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveTransfer
		}
		return nil, err
	}
	return t, nil
}

func (r *repository) Create(ctx context.Context, t Transfer) error {
	_, err := r.db.Exec(ctx, `INSERT INTO ownership_transfers
(id, org_id, from_user_id, to_user_id, status, message, reason, proposed_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.OrgID, t.FromUserID, t.ToUserID, t.Status, t.Message, t.Reason, t.ProposedAt, t.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		// Partial unique index on proposed rows: one live proposal per org.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyProposed
		}
		return err
	}
	return nil
}

func (r *repository) SetStatusCAS(ctx context.Context, transferID uuid.UUID, from, to Status, resolvedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE ownership_transfers SET status = $3, resolved_at = $4
WHERE id = $1 AND status = $2`, transferID, from, to, resolvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStaleState
	}
	return nil
}

func (r *repository) MarkExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	tag, err := r.db.Exec(ctx, `UPDATE ownership_transfers SET status = 'expired', resolved_at = $1
WHERE id IN (
	SELECT id FROM ownership_transfers WHERE status = 'proposed' AND expires_at <= $1
	ORDER BY expires_at LIMIT $2)`, now, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var t Transfer
	var resolvedAt pgtype.Timestamptz
	err := row.Scan(&t.ID, &t.OrgID, &t.FromUserID, &t.ToUserID, &t.Status, &t.Message, &t.Reason, &t.ProposedAt, &t.ExpiresAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		rt := resolvedAt.Time
		t.ResolvedAt = &rt
	}
	return &t, nil
}

package org

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orgdesk/orgdesk/internal/platform/db"
	"github.com/orgdesk/orgdesk/internal/policy"
	"github.com/orgdesk/orgdesk/internal/shared"
)

var (
	ErrNotFound      = errors.New("org: record not found")
	ErrAlreadyExists = errors.New("org: record already exists")
)

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id uuid.UUID) (*Organization, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Organization, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	SetStatusCAS(ctx context.Context, id uuid.UUID, from, to Status) error
	SetOwner(ctx context.Context, id uuid.UUID, owner uuid.UUID) error

	GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error)
	ListMemberships(ctx context.Context, orgID uuid.UUID) ([]Membership, error)
	SetMembershipRole(ctx context.Context, orgID, userID uuid.UUID, role policy.Role) error
	DeleteMembership(ctx context.Context, orgID, userID uuid.UUID) error

	CreateInvitation(ctx context.Context, inv Invitation) error
	ListInvitations(ctx context.Context, orgID uuid.UUID) ([]Invitation, error)
	RevokeInvitation(ctx context.Context, orgID, inviteID uuid.UUID) error

	GetPreferences(ctx context.Context, orgID uuid.UUID) (*Preferences, error)
	PutPreferences(ctx context.Context, prefs Preferences) error

	Snapshot(ctx context.Context, orgID uuid.UUID) (*Snapshot, error)
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

const orgColumns = "id, name, slug, status, owner_user_id, created_at, updated_at"

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return r.getOrg(ctx, fmt.Sprintf("SELECT %s FROM organizations WHERE id = $1", orgColumns), id)
}

// GetForUpdate locks the organization row for the duration of the enclosing
// transaction. Both lifecycle state machines take this lock first, which
// serializes a deletion against a transfer on the same organization.
func (r *repository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return r.getOrg(ctx, fmt.Sprintf("SELECT %s FROM organizations WHERE id = $1 FOR UPDATE", orgColumns), id)
}

func (r *repository) getOrg(ctx context.Context, query string, id uuid.UUID) (*Organization, error) {
	var o Organization
	err := r.db.QueryRow(ctx, query, id).Scan(&o.ID, &o.Name, &o.Slug, &o.Status, &o.OwnerUserID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *repository) UpdateProfile(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	query := "UPDATE organizations SET updated_at = NOW()"
	var args []interface{}
	argPos := 1

	if v, ok := updates["name"]; ok {
		query += fmt.Sprintf(", name = $%d", argPos)
		args = append(args, v)
		argPos++
	}
	if v, ok := updates["slug"]; ok {
		query += fmt.Sprintf(", slug = $%d", argPos)
		args = append(args, v)
		argPos++
	}

	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatusCAS flips organization status only when the observed prior value
// still matches. A lost race surfaces as shared.ErrStaleState.
func (r *repository) SetStatusCAS(ctx context.Context, id uuid.UUID, from, to Status) error {
	tag, err := r.db.Exec(ctx, `UPDATE organizations SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStaleState
	}
	return nil
}

func (r *repository) SetOwner(ctx context.Context, id uuid.UUID, owner uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE organizations SET owner_user_id = $2, updated_at = NOW() WHERE id = $1`, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error) {
	var m Membership
	err := r.db.QueryRow(ctx, `SELECT org_id, user_id, role, joined_at FROM memberships WHERE org_id = $1 AND user_id = $2`, orgID, userID).
		Scan(&m.OrgID, &m.UserID, &m.Role, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *repository) ListMemberships(ctx context.Context, orgID uuid.UUID) ([]Membership, error) {
	rows, err := r.db.Query(ctx, `SELECT org_id, user_id, role, joined_at FROM memberships WHERE org_id = $1 ORDER BY joined_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *repository) SetMembershipRole(ctx context.Context, orgID, userID uuid.UUID, role policy.Role) error {
	tag, err := r.db.Exec(ctx, `UPDATE memberships SET role = $3 WHERE org_id = $1 AND user_id = $2`, orgID, userID, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) DeleteMembership(ctx context.Context, orgID, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM memberships WHERE org_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) CreateInvitation(ctx context.Context, inv Invitation) error {
	_, err := r.db.Exec(ctx, `INSERT INTO invitations (id, org_id, email, role, invited_by, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())`, inv.ID, inv.OrgID, inv.Email, inv.Role, inv.InvitedBy, inv.Status)
	if err != nil && isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (r *repository) ListInvitations(ctx context.Context, orgID uuid.UUID) ([]Invitation, error) {
	rows, err := r.db.Query(ctx, `SELECT id, org_id, email, role, invited_by, status, created_at FROM invitations WHERE org_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []Invitation
	for rows.Next() {
		var inv Invitation
		if err := rows.Scan(&inv.ID, &inv.OrgID, &inv.Email, &inv.Role, &inv.InvitedBy, &inv.Status, &inv.CreatedAt); err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

func (r *repository) RevokeInvitation(ctx context.Context, orgID, inviteID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE invitations SET status = $3 WHERE org_id = $1 AND id = $2 AND status = $4`, orgID, inviteID, InviteStatusRevoked, InviteStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) GetPreferences(ctx context.Context, orgID uuid.UUID) (*Preferences, error) {
	var p Preferences
	err := r.db.QueryRow(ctx, `SELECT org_id, locale, timezone, notify_email, notify_digest, updated_at FROM org_preferences WHERE org_id = $1`, orgID).
		Scan(&p.OrgID, &p.Locale, &p.Timezone, &p.NotifyEmail, &p.NotifyDigest, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) PutPreferences(ctx context.Context, prefs Preferences) error {
	_, err := r.db.Exec(ctx, `INSERT INTO org_preferences (org_id, locale, timezone, notify_email, notify_digest, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (org_id) DO UPDATE SET locale = $2, timezone = $3, notify_email = $4, notify_digest = $5, updated_at = NOW()`,
		prefs.OrgID, prefs.Locale, prefs.Timezone, prefs.NotifyEmail, prefs.NotifyDigest)
	return err
}

func (r *repository) Snapshot(ctx context.Context, orgID uuid.UUID) (*Snapshot, error) {
	organization, err := r.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	members, err := r.ListMemberships(ctx, orgID)
	if err != nil {
		return nil, err
	}
	invites, err := r.ListInvitations(ctx, orgID)
	if err != nil {
		return nil, err
	}
	prefs, err := r.GetPreferences(ctx, orgID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return &Snapshot{
		Organization: *organization,
		Memberships:  members,
		Invitations:  invites,
		Preferences:  prefs,
	}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

package deletion

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
	// ErrNoActiveRequest indicates no non-terminal deletion request exists.
	ErrNoActiveRequest = errors.New("deletion: no active request")
	// ErrAlreadyPending indicates a non-terminal request already exists.
	ErrAlreadyPending = errors.New("deletion: request already pending")
)

// FinalizeParams carries the fields written when a request leaves the
// confirmation steps.
type FinalizeParams struct {
	Type                Type
	DataExportRequested bool
	ExportFormat        *string
	Reason              *string
	ScheduledPurgeAt    *time.Time
	NewStatus           Status
}

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	GetOrganizationForUpdate(ctx context.Context, orgID uuid.UUID) (*org.Organization, error)
	GetMembershipRole(ctx context.Context, orgID, userID uuid.UUID) (policy.Role, error)
	SetOrgStatusCAS(ctx context.Context, orgID uuid.UUID, from, to org.Status) error
	// PurgeOrgData removes all org-scoped records: memberships,
	// invitations, preferences. Called in the same transaction that marks
	// the request purged.
	PurgeOrgData(ctx context.Context, orgID uuid.UUID) error
	HasActiveTransfer(ctx context.Context, orgID uuid.UUID, now time.Time) (bool, error)

	GetActive(ctx context.Context, orgID uuid.UUID) (*Request, error)
	Create(ctx context.Context, req Request) error
	MarkPhraseConfirmedCAS(ctx context.Context, requestID uuid.UUID) error
	FinalizeCAS(ctx context.Context, requestID uuid.UUID, params FinalizeParams) error
	SetStatusCAS(ctx context.Context, requestID uuid.UUID, from, to Status) error
	ListDuePurges(ctx context.Context, now time.Time, limit int) ([]Request, error)
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

func (r *repository) SetOrgStatusCAS(ctx context.Context, orgID uuid.UUID, from, to org.Status) error {
	tag, err := r.db.Exec(ctx, `UPDATE organizations SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`, orgID, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStaleState
	}
	return nil
}

func (r *repository) PurgeOrgData(ctx context.Context, orgID uuid.UUID) error {
	for _, query := range []string{
		`DELETE FROM memberships WHERE org_id = $1`,
		`DELETE FROM invitations WHERE org_id = $1`,
		`DELETE FROM org_preferences WHERE org_id = $1`,
	} {
		if _, err := r.db.Exec(ctx, query, orgID); err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) HasActiveTransfer(ctx context.Context, orgID uuid.UUID, now time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM ownership_transfers WHERE org_id = $1 AND status = 'proposed' AND expires_at > $2)`, orgID, now).Scan(&exists)
	return exists, err
}

const requestColumns = `id, org_id, requested_by, deletion_type, name_confirmed, phrase_confirmed,
data_export_requested, export_format, reason, requested_at, scheduled_purge_at, status`

func (r *repository) GetActive(ctx context.Context, orgID uuid.UUID) (*Request, error) {
	row := r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM org_deletion_requests
WHERE org_id = $1 AND status IN ('awaiting_phrase', 'awaiting_finalize', 'pending')`, orgID)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveRequest
		}
		return nil, err
	}
	return req, nil
}

func (r *repository) Create(ctx context.Context, req Request) error {
	_, err := r.db.Exec(ctx, `INSERT INTO org_deletion_requests
(id, org_id, requested_by, deletion_type, name_confirmed, phrase_confirmed, data_export_requested, export_format, reason, requested_at, scheduled_purge_at, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		req.ID, req.OrgID, req.RequestedBy, req.Type, req.NameConfirmed, req.PhraseConfirmed,
		req.DataExportRequested, req.ExportFormat, req.Reason, req.RequestedAt, req.ScheduledPurgeAt, req.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		// The partial unique index on non-terminal requests enforces one
		// active request per organization.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyPending
		}
		return err
	}
	return nil
}

func (r *repository) MarkPhraseConfirmedCAS(ctx context.Context, requestID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE org_deletion_requests
SET status = $3, phrase_confirmed = TRUE WHERE id = $1 AND status = $2`,
		requestID, StatusAwaitingPhrase, StatusAwaitingFinalize)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStaleState
	}
	return nil
}

func (r *repository) FinalizeCAS(ctx context.Context, requestID uuid.UUID, params FinalizeParams) error {
	tag, err := r.db.Exec(ctx, `UPDATE org_deletion_requests
SET status = $3, deletion_type = $4, data_export_requested = $5, export_format = $6, reason = $7, scheduled_purge_at = $8
WHERE id = $1 AND status = $2`,
		requestID, StatusAwaitingFinalize, params.NewStatus, params.Type,
		params.DataExportRequested, params.ExportFormat, params.Reason, toPgTime(params.ScheduledPurgeAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStaleState
	}
	return nil
}

func (r *repository) SetStatusCAS(ctx context.Context, requestID uuid.UUID, from, to Status) error {
	tag, err := r.db.Exec(ctx, `UPDATE org_deletion_requests SET status = $3 WHERE id = $1 AND status = $2`, requestID, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStaleState
	}
	return nil
}

func (r *repository) ListDuePurges(ctx context.Context, now time.Time, limit int) ([]Request, error) {
	rows, err := r.db.Query(ctx, `SELECT `+requestColumns+` FROM org_deletion_requests
WHERE status = $1 AND scheduled_purge_at <= $2 ORDER BY scheduled_purge_at LIMIT $3`, StatusPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, *req)
	}
	return due, rows.Err()
}

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	var exportFormat, reason pgtype.Text
	var purgeAt pgtype.Timestamptz
	err := row.Scan(&req.ID, &req.OrgID, &req.RequestedBy, &req.Type, &req.NameConfirmed, &req.PhraseConfirmed,
		&req.DataExportRequested, &exportFormat, &reason, &req.RequestedAt, &purgeAt, &req.Status)
	if err != nil {
		return nil, err
	}
	if exportFormat.Valid {
		req.ExportFormat = &exportFormat.String
	}
	if reason.Valid {
		req.Reason = &reason.String
	}
	if purgeAt.Valid {
		t := purgeAt.Time
		req.ScheduledPurgeAt = &t
	}
	return &req, nil
}

func toPgTime(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

package deletion

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgdesk/orgdesk/internal/org"
	"github.com/orgdesk/orgdesk/internal/policy"
	"github.com/orgdesk/orgdesk/internal/shared"
)

type memRepo struct {
	orgs           map[uuid.UUID]*org.Organization
	roles          map[uuid.UUID]map[uuid.UUID]policy.Role
	requests       map[uuid.UUID]*Request
	activeTransfer map[uuid.UUID]bool
	purged         map[uuid.UUID]bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		orgs:           map[uuid.UUID]*org.Organization{},
		roles:          map[uuid.UUID]map[uuid.UUID]policy.Role{},
		requests:       map[uuid.UUID]*Request{},
		activeTransfer: map[uuid.UUID]bool{},
		purged:         map[uuid.UUID]bool{},
	}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *memRepo) GetOrganizationForUpdate(_ context.Context, orgID uuid.UUID) (*org.Organization, error) {
	o, ok := r.orgs[orgID]
	if !ok {
		return nil, org.ErrNotFound
	}
	copied := *o
	return &copied, nil
}

func (r *memRepo) GetMembershipRole(_ context.Context, orgID, userID uuid.UUID) (policy.Role, error) {
	role, ok := r.roles[orgID][userID]
	if !ok {
		return "", org.ErrNotFound
	}
	return role, nil
}

func (r *memRepo) SetOrgStatusCAS(_ context.Context, orgID uuid.UUID, from, to org.Status) error {
	o, ok := r.orgs[orgID]
	if !ok || o.Status != from {
		return shared.ErrStaleState
	}
	o.Status = to
	return nil
}

func (r *memRepo) PurgeOrgData(_ context.Context, orgID uuid.UUID) error {
	r.purged[orgID] = true
	return nil
}

func (r *memRepo) HasActiveTransfer(_ context.Context, orgID uuid.UUID, _ time.Time) (bool, error) {
	return r.activeTransfer[orgID], nil
}

func (r *memRepo) GetActive(_ context.Context, orgID uuid.UUID) (*Request, error) {
	for _, req := range r.requests {
		if req.OrgID == orgID && !req.Status.Terminal() {
			copied := *req
			return &copied, nil
		}
	}
	return nil, ErrNoActiveRequest
}

func (r *memRepo) Create(_ context.Context, req Request) error {
	for _, existing := range r.requests {
		if existing.OrgID == req.OrgID && !existing.Status.Terminal() {
			return ErrAlreadyPending
		}
	}
	r.requests[req.ID] = &req
	return nil
}

func (r *memRepo) MarkPhraseConfirmedCAS(_ context.Context, requestID uuid.UUID) error {
	req, ok := r.requests[requestID]
	if !ok || req.Status != StatusAwaitingPhrase {
		return shared.ErrStaleState
	}
	req.Status = StatusAwaitingFinalize
	req.PhraseConfirmed = true
	return nil
}

func (r *memRepo) FinalizeCAS(_ context.Context, requestID uuid.UUID, params FinalizeParams) error {
	req, ok := r.requests[requestID]
	if !ok || req.Status != StatusAwaitingFinalize {
		return shared.ErrStaleState
	}
	req.Type = params.Type
	req.DataExportRequested = params.DataExportRequested
	req.ExportFormat = params.ExportFormat
	req.Reason = params.Reason
	req.ScheduledPurgeAt = params.ScheduledPurgeAt
	req.Status = params.NewStatus
	return nil
}

func (r *memRepo) SetStatusCAS(_ context.Context, requestID uuid.UUID, from, to Status) error {
	req, ok := r.requests[requestID]
	if !ok || req.Status != from {
		return shared.ErrStaleState
	}
	req.Status = to
	return nil
}

func (r *memRepo) ListDuePurges(_ context.Context, now time.Time, limit int) ([]Request, error) {
	var due []Request
	for _, req := range r.requests {
		if req.Status == StatusPending && req.ScheduledPurgeAt != nil && !req.ScheduledPurgeAt.After(now) {
			due = append(due, *req)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

type fakeExporter struct {
	syncCalls  int
	asyncCalls int
	syncErr    error
}

func (f *fakeExporter) ExportNow(_ context.Context, _ uuid.UUID, _ string) (string, error) {
	f.syncCalls++
	if f.syncErr != nil {
		return "", f.syncErr
	}
	return "file:///exports/archive.json", nil
}

func (f *fakeExporter) EnqueueExport(_ context.Context, _ uuid.UUID, _ string) error {
	f.asyncCalls++
	return nil
}

type fixture struct {
	svc      *Service
	repo     *memRepo
	exporter *fakeExporter
	orgID    uuid.UUID
	ownerID  uuid.UUID
	adminID  uuid.UUID
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemRepo(),
		exporter: &fakeExporter{},
		orgID:    uuid.New(),
		ownerID:  uuid.New(),
		adminID:  uuid.New(),
		now:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.repo.orgs[f.orgID] = &org.Organization{ID: f.orgID, Name: "Acme Corp", Slug: "acme", Status: org.StatusActive, OwnerUserID: f.ownerID}
	f.repo.roles[f.orgID] = map[uuid.UUID]policy.Role{
		f.ownerID: policy.RoleOwner,
		f.adminID: policy.RoleAdmin,
	}
	f.svc = NewService(f.repo, f.exporter, nil, nil, slog.Default(), ServiceConfig{})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) confirmThrough(t *testing.T) *Request {
	t.Helper()
	_, err := f.svc.ConfirmName(context.Background(), f.ownerID, f.orgID, "Acme Corp")
	require.NoError(t, err)
	req, err := f.svc.ConfirmPhrase(context.Background(), f.ownerID, f.orgID, ConfirmationPhrase)
	require.NoError(t, err)
	return req
}

func TestConfirmNameMismatchLeavesNoState(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.svc.ConfirmName(context.Background(), f.ownerID, f.orgID, "acme corp")
		assert.ErrorIs(t, err, ErrNameMismatch)
	}
	assert.Empty(t, f.repo.requests, "failed confirmations must not create requests")

	req, err := f.svc.ConfirmName(context.Background(), f.ownerID, f.orgID, "Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingPhrase, req.Status)
	assert.True(t, req.NameConfirmed)
}

func TestConfirmNameRequiresOwner(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ConfirmName(context.Background(), f.adminID, f.orgID, "Acme Corp")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.ConfirmName(context.Background(), uuid.New(), f.orgID, "Acme Corp")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestConfirmNameBlockedByActiveTransfer(t *testing.T) {
	f := newFixture(t)
	f.repo.activeTransfer[f.orgID] = true

	_, err := f.svc.ConfirmName(context.Background(), f.ownerID, f.orgID, "Acme Corp")
	assert.ErrorIs(t, err, ErrTransferPending)
}

func TestConfirmPhraseMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ConfirmName(context.Background(), f.ownerID, f.orgID, "Acme Corp")
	require.NoError(t, err)

	_, err = f.svc.ConfirmPhrase(context.Background(), f.ownerID, f.orgID, "delete organization")
	assert.ErrorIs(t, err, ErrPhraseMismatch)

	active, err := f.repo.GetActive(context.Background(), f.orgID)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingPhrase, active.Status)
}

func TestSoftDeleteAndRestore(t *testing.T) {
	f := newFixture(t)
	f.confirmThrough(t)

	req, err := f.svc.Finalize(context.Background(), f.ownerID, f.orgID, FinalizeRequest{
		DeletionType:        "soft",
		DataExportRequested: true,
		ExportFormat:        "json",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	require.NotNil(t, req.ScheduledPurgeAt)
	assert.Equal(t, f.now.Add(GracePeriod), *req.ScheduledPurgeAt)
	assert.Equal(t, org.StatusPendingDeletion, f.repo.orgs[f.orgID].Status)
	assert.Equal(t, 1, f.exporter.asyncCalls, "soft deletion exports in the background")
	assert.Zero(t, f.exporter.syncCalls)
	assert.False(t, f.repo.purged[f.orgID], "data survives the grace period")

	// 29 days later the owner changes their mind.
	f.now = f.now.Add(29 * 24 * time.Hour)
	require.NoError(t, f.svc.Restore(context.Background(), f.ownerID, f.orgID))
	assert.Equal(t, org.StatusActive, f.repo.orgs[f.orgID].Status)
	_, err = f.repo.GetActive(context.Background(), f.orgID)
	assert.ErrorIs(t, err, ErrNoActiveRequest)
}

func TestRestoreAfterGracePeriodExpires(t *testing.T) {
	f := newFixture(t)
	f.confirmThrough(t)
	_, err := f.svc.Finalize(context.Background(), f.ownerID, f.orgID, FinalizeRequest{DeletionType: "soft"})
	require.NoError(t, err)

	f.now = f.now.Add(GracePeriod)
	err = f.svc.Restore(context.Background(), f.ownerID, f.orgID)
	assert.ErrorIs(t, err, ErrGracePeriodExpired)
	assert.Equal(t, org.StatusPendingDeletion, f.repo.orgs[f.orgID].Status)
}

func TestPermanentDeletionExportsBeforePurge(t *testing.T) {
	f := newFixture(t)
	f.confirmThrough(t)

	req, err := f.svc.Finalize(context.Background(), f.ownerID, f.orgID, FinalizeRequest{
		DeletionType:        "permanent",
		DataExportRequested: true,
		ExportFormat:        "csv",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPurged, req.Status)
	assert.Equal(t, 1, f.exporter.syncCalls)
	assert.Zero(t, f.exporter.asyncCalls)
	assert.True(t, f.repo.purged[f.orgID])
	assert.Equal(t, org.StatusPurged, f.repo.orgs[f.orgID].Status)

	// Nothing comes back from a purge.
	err = f.svc.Restore(context.Background(), f.ownerID, f.orgID)
	assert.Error(t, err)
}

func TestPermanentDeletionAbortsOnExportFailure(t *testing.T) {
	f := newFixture(t)
	f.confirmThrough(t)
	f.exporter.syncErr = errors.New("artifact store unavailable")

	_, err := f.svc.Finalize(context.Background(), f.ownerID, f.orgID, FinalizeRequest{
		DeletionType:        "permanent",
		DataExportRequested: true,
	})
	assert.ErrorIs(t, err, ErrExportFailed)

	assert.Equal(t, org.StatusActive, f.repo.orgs[f.orgID].Status, "deletion must not commit without the export")
	assert.False(t, f.repo.purged[f.orgID])
	active, getErr := f.repo.GetActive(context.Background(), f.orgID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusAwaitingFinalize, active.Status, "caller may retry finalize")
}

func TestFinalizeExportRunsOnlyForAuthorizedCalls(t *testing.T) {
	f := newFixture(t)
	f.confirmThrough(t)

	// Neither an admin nor an outsider can trigger the export.
	for _, caller := range []uuid.UUID{f.adminID, uuid.New()} {
		_, err := f.svc.Finalize(context.Background(), caller, f.orgID, FinalizeRequest{
			DeletionType:        "permanent",
			DataExportRequested: true,
		})
		assert.ErrorIs(t, err, ErrForbidden)
	}
	assert.Zero(t, f.exporter.syncCalls, "export must not run for an unauthorized caller")
}

func TestFinalizeExportWaitsForBothConfirmations(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ConfirmName(context.Background(), f.ownerID, f.orgID, "Acme Corp")
	require.NoError(t, err)

	_, err = f.svc.Finalize(context.Background(), f.ownerID, f.orgID, FinalizeRequest{
		DeletionType:        "permanent",
		DataExportRequested: true,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Zero(t, f.exporter.syncCalls, "export must not run before the phrase step")
}

func TestFinalizeWithoutConfirmations(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Finalize(context.Background(), f.ownerID, f.orgID, FinalizeRequest{DeletionType: "soft"})
	assert.ErrorIs(t, err, ErrNoActiveRequest)

	_, err = f.svc.ConfirmName(context.Background(), f.ownerID, f.orgID, "Acme Corp")
	require.NoError(t, err)
	_, err = f.svc.Finalize(context.Background(), f.ownerID, f.orgID, FinalizeRequest{DeletionType: "soft"})
	assert.ErrorIs(t, err, ErrInvalidTransition, "phrase step cannot be skipped")
}

func TestCancelDuringConfirmation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ConfirmName(context.Background(), f.ownerID, f.orgID, "Acme Corp")
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), f.ownerID, f.orgID))
	_, err = f.repo.GetActive(context.Background(), f.orgID)
	assert.ErrorIs(t, err, ErrNoActiveRequest)

	// A new protocol run starts from scratch.
	req, err := f.svc.ConfirmName(context.Background(), f.ownerID, f.orgID, "Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingPhrase, req.Status)
}

func TestCancelRejectedOncePending(t *testing.T) {
	f := newFixture(t)
	f.confirmThrough(t)
	_, err := f.svc.Finalize(context.Background(), f.ownerID, f.orgID, FinalizeRequest{DeletionType: "soft"})
	require.NoError(t, err)

	err = f.svc.Cancel(context.Background(), f.ownerID, f.orgID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSecondRequestRejectedWhilePending(t *testing.T) {
	f := newFixture(t)
	f.confirmThrough(t)

	_, err := f.svc.ConfirmName(context.Background(), f.ownerID, f.orgID, "Acme Corp")
	assert.ErrorIs(t, err, ErrAlreadyPending)
}

func TestSweepDuePurges(t *testing.T) {
	f := newFixture(t)
	f.confirmThrough(t)
	_, err := f.svc.Finalize(context.Background(), f.ownerID, f.orgID, FinalizeRequest{DeletionType: "soft"})
	require.NoError(t, err)

	// Not yet due.
	n, err := f.svc.SweepDuePurges(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(GracePeriod + time.Minute)
	n, err = f.svc.SweepDuePurges(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.repo.purged[f.orgID])
	assert.Equal(t, org.StatusPurged, f.repo.orgs[f.orgID].Status)

	err = f.svc.Restore(context.Background(), f.ownerID, f.orgID)
	assert.Error(t, err, "restore loses the race once the sweeper committed")
}

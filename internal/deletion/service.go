package deletion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orgdesk/orgdesk/internal/notify"
	"github.com/orgdesk/orgdesk/internal/org"
	"github.com/orgdesk/orgdesk/internal/policy"
	"github.com/orgdesk/orgdesk/internal/shared"
)

var (
	// ErrForbidden covers every policy denial, deliberately generic.
	ErrForbidden = errors.New("deletion: not permitted")
	// ErrNameMismatch reports a failed first confirmation step. Local
	// validation failure: state is unchanged and nothing is logged as a
	// security incident.
	ErrNameMismatch = errors.New("deletion: organization name does not match")
	// ErrPhraseMismatch reports a failed second confirmation step.
	ErrPhraseMismatch = errors.New("deletion: confirmation phrase does not match")
	// ErrGracePeriodExpired rejects a restore attempted after the
	// scheduled purge time. The sweeper is authoritative past that point.
	ErrGracePeriodExpired = errors.New("deletion: grace period has expired")
	// ErrTransferPending blocks starting a deletion while an ownership
	// transfer is in flight.
	ErrTransferPending = errors.New("deletion: ownership transfer in progress")
	// ErrInvalidTransition rejects an operation not valid from the
	// request's current state.
	ErrInvalidTransition = errors.New("deletion: transition not valid from current state")
	// ErrExportFailed marks a pre-purge export failure. Reported
	// distinctly: the permanent deletion did not commit and the caller may
	// retry the export or proceed without it.
	ErrExportFailed = errors.New("deletion: data export failed")
)

// Exporter is the data export collaborator. ExportNow blocks until the
// artifact exists; EnqueueExport schedules it in the background.
type Exporter interface {
	ExportNow(ctx context.Context, orgID uuid.UUID, format string) (string, error)
	EnqueueExport(ctx context.Context, orgID uuid.UUID, format string) error
}

// ServiceConfig carries tunables for the lifecycle manager.
type ServiceConfig struct {
	// ExportTimeout bounds the synchronous pre-purge export. Zero means
	// a 2 minute default.
	ExportTimeout time.Duration
}

// Service owns the organization deletion state machine. Every transition is
// a single transaction that locks the organization row and compare-and-sets
// the request status, so two concurrent transitions cannot both commit.
type Service struct {
	repo     Repository
	exporter Exporter
	events   notify.Dispatcher
	audit    shared.Recorder
	logger   *slog.Logger
	cfg      ServiceConfig
	now      func() time.Time
}

func NewService(repo Repository, exporter Exporter, events notify.Dispatcher, audit shared.Recorder, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = 2 * time.Minute
	}
	return &Service{
		repo:     repo,
		exporter: exporter,
		events:   events,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ConfirmName is the first confirmation step. The typed name must equal the
// organization name exactly, case-sensitive. A mismatch leaves no trace in
// the state machine; repeated mismatches are idempotent.
func (s *Service) ConfirmName(ctx context.Context, userID, orgID uuid.UUID, typedName string) (*Request, error) {
	var created *Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		o, err := repo.GetOrganizationForUpdate(ctx, orgID)
		if err != nil {
			return err
		}
		if err := s.requireOwner(ctx, repo, orgID, userID); err != nil {
			return err
		}
		if o.Status != org.StatusActive {
			return ErrAlreadyPending
		}
		if _, err := repo.GetActive(ctx, orgID); err == nil {
			return ErrAlreadyPending
		} else if !errors.Is(err, ErrNoActiveRequest) {
			return err
		}
		pending, err := repo.HasActiveTransfer(ctx, orgID, s.now())
		if err != nil {
			return err
		}
		if pending {
			return ErrTransferPending
		}
		if typedName != o.Name {
			return ErrNameMismatch
		}

		req := Request{
			ID:            uuid.New(),
			OrgID:         orgID,
			RequestedBy:   userID,
			Type:          TypeSoft,
			NameConfirmed: true,
			RequestedAt:   s.now().UTC(),
			Status:        StatusAwaitingPhrase,
		}
		if err := repo.Create(ctx, req); err != nil {
			return err
		}
		created = &req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, userID.String(), orgID, "deletion.name_confirmed", created.ID.String(), nil)
	return created, nil
}

// ConfirmPhrase is the second confirmation step, requiring the literal
// phrase "DELETE ORGANIZATION".
func (s *Service) ConfirmPhrase(ctx context.Context, userID, orgID uuid.UUID, typedPhrase string) (*Request, error) {
	var req *Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetOrganizationForUpdate(ctx, orgID); err != nil {
			return err
		}
		if err := s.requireOwner(ctx, repo, orgID, userID); err != nil {
			return err
		}
		active, err := repo.GetActive(ctx, orgID)
		if err != nil {
			return err
		}
		if active.Status != StatusAwaitingPhrase {
			return ErrInvalidTransition
		}
		if typedPhrase != ConfirmationPhrase {
			return ErrPhraseMismatch
		}
		if err := repo.MarkPhraseConfirmedCAS(ctx, active.ID); err != nil {
			return err
		}
		active.Status = StatusAwaitingFinalize
		active.PhraseConfirmed = true
		req = active
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, userID.String(), orgID, "deletion.phrase_confirmed", req.ID.String(), nil)
	return req, nil
}

// Finalize completes the confirmation protocol and enters pending deletion.
//
// For a permanent deletion with a requested export, the export runs
// synchronously before anything commits; a failure aborts the deletion so
// data is never lost unexported. A soft deletion exports in the background
// during the grace window.
func (s *Service) Finalize(ctx context.Context, userID, orgID uuid.UUID, params FinalizeRequest) (*Request, error) {
	deletionType := Type(params.DeletionType)

	var exportURL string
	if deletionType == TypePermanent && params.DataExportRequested {
		// The export snapshots the whole organization, so the caller must
		// already hold the right to finalize before it runs. The transaction
		// below re-checks both under the row lock.
		if err := s.requireOwner(ctx, s.repo, orgID, userID); err != nil {
			return nil, err
		}
		active, err := s.repo.GetActive(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if active.Status != StatusAwaitingFinalize {
			return nil, ErrInvalidTransition
		}

		exportCtx, cancel := context.WithTimeout(ctx, s.cfg.ExportTimeout)
		defer cancel()
		url, err := s.exporter.ExportNow(exportCtx, orgID, params.exportFormat())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExportFailed, err)
		}
		exportURL = url
	}

	var req *Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		o, err := repo.GetOrganizationForUpdate(ctx, orgID)
		if err != nil {
			return err
		}
		if err := s.requireOwner(ctx, repo, orgID, userID); err != nil {
			return err
		}
		active, err := repo.GetActive(ctx, orgID)
		if err != nil {
			return err
		}
		if active.Status != StatusAwaitingFinalize {
			return ErrInvalidTransition
		}

		fin := FinalizeParams{
			Type:                deletionType,
			DataExportRequested: params.DataExportRequested,
			ExportFormat:        params.exportFormatPtr(),
			Reason:              params.reasonPtr(),
		}
		switch deletionType {
		case TypeSoft:
			purgeAt := s.now().UTC().Add(GracePeriod)
			fin.ScheduledPurgeAt = &purgeAt
			fin.NewStatus = StatusPending
			if err := repo.FinalizeCAS(ctx, active.ID, fin); err != nil {
				return err
			}
			if err := repo.SetOrgStatusCAS(ctx, orgID, o.Status, org.StatusPendingDeletion); err != nil {
				return err
			}
		case TypePermanent:
			fin.NewStatus = StatusPurged
			if err := repo.FinalizeCAS(ctx, active.ID, fin); err != nil {
				return err
			}
			if err := repo.PurgeOrgData(ctx, orgID); err != nil {
				return err
			}
			if err := repo.SetOrgStatusCAS(ctx, orgID, o.Status, org.StatusPurged); err != nil {
				return err
			}
		default:
			return ErrInvalidTransition
		}

		active.Type = fin.Type
		active.DataExportRequested = fin.DataExportRequested
		active.ExportFormat = fin.ExportFormat
		active.Reason = fin.Reason
		active.ScheduledPurgeAt = fin.ScheduledPurgeAt
		active.Status = fin.NewStatus
		req = active
		return nil
	})
	if err != nil {
		return nil, err
	}

	if deletionType == TypeSoft && params.DataExportRequested {
		if err := s.exporter.EnqueueExport(ctx, orgID, params.exportFormat()); err != nil && s.logger != nil {
			s.logger.Warn("enqueue deletion export", slog.Any("error", err))
		}
	}

	meta := map[string]any{"deletion_type": string(deletionType)}
	if exportURL != "" {
		meta["export_url"] = exportURL
	}
	eventType := notify.EventOrgSoftDeleted
	if deletionType == TypePermanent {
		eventType = notify.EventOrgPurged
	}
	s.dispatch(ctx, notify.Event{Type: eventType, OrgID: orgID, ActorID: userID, Meta: meta, At: s.now().UTC()})
	s.record(ctx, userID.String(), orgID, "deletion.finalized", req.ID.String(), meta)
	return req, nil
}

// Restore reinstates a soft-deleted organization before its scheduled
// purge. The same compare-and-set guard the sweeper uses decides races: if
// the purge already committed, restore observes a terminal state and fails
// cleanly instead of producing a half-purged organization.
func (s *Service) Restore(ctx context.Context, userID, orgID uuid.UUID) error {
	var requestID uuid.UUID
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetOrganizationForUpdate(ctx, orgID); err != nil {
			return err
		}
		if err := s.requireOwner(ctx, repo, orgID, userID); err != nil {
			return err
		}
		active, err := repo.GetActive(ctx, orgID)
		if err != nil {
			if errors.Is(err, ErrNoActiveRequest) {
				return ErrInvalidTransition
			}
			return err
		}
		if active.Status != StatusPending || active.Type != TypeSoft {
			return ErrInvalidTransition
		}
		if active.ScheduledPurgeAt == nil || !s.now().Before(*active.ScheduledPurgeAt) {
			return ErrGracePeriodExpired
		}
		if err := repo.SetStatusCAS(ctx, active.ID, StatusPending, StatusRestored); err != nil {
			return err
		}
		if err := repo.SetOrgStatusCAS(ctx, orgID, org.StatusPendingDeletion, org.StatusActive); err != nil {
			return err
		}
		requestID = active.ID
		return nil
	})
	if err != nil {
		return err
	}

	s.record(ctx, userID.String(), orgID, "deletion.restored", requestID.String(), nil)
	return nil
}

// Cancel abandons a request still inside the confirmation protocol. Once a
// soft deletion is pending the path back is Restore; a permanent deletion
// has no path back at all.
func (s *Service) Cancel(ctx context.Context, userID, orgID uuid.UUID) error {
	var requestID uuid.UUID
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetOrganizationForUpdate(ctx, orgID); err != nil {
			return err
		}
		if err := s.requireOwner(ctx, repo, orgID, userID); err != nil {
			return err
		}
		active, err := repo.GetActive(ctx, orgID)
		if err != nil {
			if errors.Is(err, ErrNoActiveRequest) {
				return ErrInvalidTransition
			}
			return err
		}
		switch active.Status {
		case StatusAwaitingPhrase, StatusAwaitingFinalize:
			if err := repo.SetStatusCAS(ctx, active.ID, active.Status, StatusCancelled); err != nil {
				return err
			}
			requestID = active.ID
			return nil
		case StatusPending:
			return fmt.Errorf("%w: use restore for a pending soft deletion", ErrInvalidTransition)
		default:
			return ErrInvalidTransition
		}
	})
	if err != nil {
		return err
	}

	s.record(ctx, userID.String(), orgID, "deletion.cancelled", requestID.String(), nil)
	return nil
}

// Get returns the active request for the organization, owner only.
func (s *Service) Get(ctx context.Context, userID, orgID uuid.UUID) (*Request, error) {
	if err := s.requireOwner(ctx, s.repo, orgID, userID); err != nil {
		return nil, err
	}
	return s.repo.GetActive(ctx, orgID)
}

// SweepDuePurges executes scheduled purges whose grace period has elapsed.
// Run by the worker; the compare-and-set on status makes the sweeper win
// any race against a concurrent manual restore.
func (s *Service) SweepDuePurges(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.ListDuePurges(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, req := range due {
		err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			if _, err := repo.GetOrganizationForUpdate(ctx, req.OrgID); err != nil {
				return err
			}
			if err := repo.SetStatusCAS(ctx, req.ID, StatusPending, StatusPurged); err != nil {
				return err
			}
			if err := repo.PurgeOrgData(ctx, req.OrgID); err != nil {
				return err
			}
			return repo.SetOrgStatusCAS(ctx, req.OrgID, org.StatusPendingDeletion, org.StatusPurged)
		})
		if err != nil {
			// A restore got there first; skip without failing the sweep.
			if errors.Is(err, shared.ErrStaleState) {
				continue
			}
			return purged, err
		}
		purged++
		s.dispatch(ctx, notify.Event{Type: notify.EventOrgPurged, OrgID: req.OrgID, ActorID: uuid.Nil, At: s.now().UTC()})
		s.record(ctx, "sweeper", req.OrgID, "deletion.purged", req.ID.String(), nil)
	}
	return purged, nil
}

func (s *Service) requireOwner(ctx context.Context, repo Repository, orgID, userID uuid.UUID) error {
	role, err := repo.GetMembershipRole(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, org.ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	if !policy.CanPerform(role, policy.ActionInitiateDeletion, false) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, evt notify.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Dispatch(ctx, evt); err != nil && s.logger != nil {
		s.logger.Warn("dispatch event", slog.String("type", evt.Type), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID string, orgID uuid.UUID, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		OrgID:    orgID.String(),
		Action:   action,
		Entity:   "deletion_request",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now().UTC(),
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

package transfer

import (
	"context"
	"errors"
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
	ErrForbidden = errors.New("transfer: not permitted")
	// ErrNotMember rejects a proposal naming a user outside the organization.
	ErrNotMember = errors.New("transfer: proposed owner is not a member")
	// ErrIneligibleTarget rejects a proposal to a member whose role cannot
	// receive ownership. Only admins and managers qualify.
	ErrIneligibleTarget = errors.New("transfer: proposed owner must be an admin or manager")
	// ErrSelfTransfer rejects proposing a transfer to the current owner.
	ErrSelfTransfer = errors.New("transfer: cannot transfer ownership to yourself")
	// ErrDeletionPending blocks a proposal while a deletion request is active.
	ErrDeletionPending = errors.New("transfer: deletion request in progress")
	// ErrProposalExpired rejects accepting a proposal past its deadline.
	ErrProposalExpired = errors.New("transfer: proposal has expired")
	// ErrInvalidTransition rejects an operation not valid from the
	// proposal's current state.
	ErrInvalidTransition = errors.New("transfer: transition not valid from current state")
)

// Service coordinates ownership transfers. The accept path is the only
// place in the system where the owner role moves between users, and it does
// so in one transaction: demote, promote, repoint the organization row.
type Service struct {
	repo   Repository
	events notify.Dispatcher
	audit  shared.Recorder
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, events notify.Dispatcher, audit shared.Recorder, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		events: events,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// Proposal carries the owner's propose parameters. Message travels to the
// proposed new owner; reason stays in the audit trail.
type Proposal struct {
	ToUserID uuid.UUID
	Message  *string
	Reason   *string
}

// Propose creates a transfer proposal from the current owner to an existing
// admin or manager. The proposal stays acceptable for seven days.
func (s *Service) Propose(ctx context.Context, userID, orgID uuid.UUID, p Proposal) (*Transfer, error) {
	targetUserID := p.ToUserID
	if userID == targetUserID {
		return nil, ErrSelfTransfer
	}

	var created *Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		o, err := repo.GetOrganizationForUpdate(ctx, orgID)
		if err != nil {
			return err
		}
		if err := s.requireOwner(ctx, repo, orgID, userID); err != nil {
			return err
		}
		if o.Status != org.StatusActive {
			return ErrInvalidTransition
		}
		targetRole, err := repo.GetMembershipRole(ctx, orgID, targetUserID)
		if err != nil {
			if errors.Is(err, org.ErrNotFound) {
				return ErrNotMember
			}
			return err
		}
		if targetRole != policy.RoleAdmin && targetRole != policy.RoleManager {
			return ErrIneligibleTarget
		}
		deleting, err := repo.HasActiveDeletion(ctx, orgID)
		if err != nil {
			return err
		}
		if deleting {
			return ErrDeletionPending
		}
		if existing, err := repo.GetActive(ctx, orgID, time.Time{}); err == nil {
			if existing.Live(s.now()) {
				return ErrAlreadyProposed
			}
			// A lapsed row still holds the one-proposal-per-org slot; settle
			// it here instead of waiting for the expiry sweeper.
			if err := repo.SetStatusCAS(ctx, existing.ID, StatusProposed, StatusExpired, s.now().UTC()); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNoActiveTransfer) {
			return err
		}

		now := s.now().UTC()
		t := Transfer{
			ID:         uuid.New(),
			OrgID:      orgID,
			FromUserID: userID,
			ToUserID:   targetUserID,
			Status:     StatusProposed,
			Message:    p.Message,
			Reason:     p.Reason,
			ProposedAt: now,
			ExpiresAt:  now.Add(TTL),
		}
		if err := repo.Create(ctx, t); err != nil {
			return err
		}
		created = &t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, notify.Event{
		Type:    notify.EventTransferProposed,
		OrgID:   orgID,
		ActorID: userID,
		Meta:    map[string]any{"to_user_id": targetUserID.String(), "expires_at": created.ExpiresAt},
		At:      s.now().UTC(),
	})
	meta := map[string]any{"to_user_id": targetUserID.String()}
	if p.Reason != nil {
		meta["reason"] = *p.Reason
	}
	s.record(ctx, userID, orgID, "transfer.proposed", created.ID, meta)
	return created, nil
}

// Accept is called by the proposed new owner. On success the previous owner
// becomes an admin, the acceptor becomes the owner, and any half-confirmed
// deletion request started by the previous owner is cancelled. An expired
// proposal is rejected and the current owner keeps the organization.
func (s *Service) Accept(ctx context.Context, userID, orgID uuid.UUID) (*Transfer, error) {
	var accepted *Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		o, err := repo.GetOrganizationForUpdate(ctx, orgID)
		if err != nil {
			return err
		}
		t, err := repo.GetActive(ctx, orgID, time.Time{})
		if err != nil {
			return err
		}
		if t.ToUserID != userID {
			return ErrForbidden
		}
		now := s.now().UTC()
		if !t.Live(now) {
			// Settle the row while we hold the lock anyway.
			if err := repo.SetStatusCAS(ctx, t.ID, StatusProposed, StatusExpired, now); err != nil && !errors.Is(err, shared.ErrStaleState) {
				return err
			}
			return ErrProposalExpired
		}

		if err := repo.SetStatusCAS(ctx, t.ID, StatusProposed, StatusAccepted, now); err != nil {
			return err
		}
		if err := repo.SetMembershipRole(ctx, orgID, o.OwnerUserID, policy.RoleAdmin); err != nil {
			return err
		}
		if err := repo.SetMembershipRole(ctx, orgID, userID, policy.RoleOwner); err != nil {
			return err
		}
		if err := repo.SetOrgOwner(ctx, orgID, userID); err != nil {
			return err
		}
		if err := repo.CancelDeletionRequests(ctx, orgID); err != nil {
			return err
		}

		t.Status = StatusAccepted
		t.ResolvedAt = &now
		accepted = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, notify.Event{
		Type:    notify.EventTransferAccepted,
		OrgID:   orgID,
		ActorID: userID,
		Meta:    map[string]any{"from_user_id": accepted.FromUserID.String()},
		At:      s.now().UTC(),
	})
	s.record(ctx, userID, orgID, "transfer.accepted", accepted.ID, nil)
	return accepted, nil
}

// Cancel withdraws a live proposal. The proposing owner cancels, the
// proposed new owner declines; both land on the same transition. Cancelling
// a transfer that already completed is a no-op for the parties involved.
func (s *Service) Cancel(ctx context.Context, userID, orgID uuid.UUID) error {
	var transferID uuid.UUID
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetOrganizationForUpdate(ctx, orgID); err != nil {
			return err
		}
		t, err := repo.GetActive(ctx, orgID, s.now())
		if err != nil {
			if !errors.Is(err, ErrNoActiveTransfer) {
				return err
			}
			latest, lerr := repo.GetLatest(ctx, orgID)
			if lerr != nil {
				if errors.Is(lerr, ErrNoActiveTransfer) {
					return ErrInvalidTransition
				}
				return lerr
			}
			if latest.Status == StatusAccepted && (latest.FromUserID == userID || latest.ToUserID == userID) {
				return nil
			}
			return ErrInvalidTransition
		}
		if t.ToUserID != userID {
			if err := s.requireOwner(ctx, repo, orgID, userID); err != nil {
				return err
			}
		}
		if err := repo.SetStatusCAS(ctx, t.ID, StatusProposed, StatusCancelled, s.now().UTC()); err != nil {
			return err
		}
		transferID = t.ID
		return nil
	})
	if err != nil {
		return err
	}
	if transferID == uuid.Nil {
		// No-op path: nothing changed, nothing to record.
		return nil
	}

	s.record(ctx, userID, orgID, "transfer.cancelled", transferID, nil)
	return nil
}

// Get returns the current proposal, visible to the owner and the proposed
// new owner only. A lapsed proposal is reported with status expired, whether
// or not the sweeper has rewritten the row yet.
func (s *Service) Get(ctx context.Context, userID, orgID uuid.UUID) (*Transfer, error) {
	t, err := s.repo.GetActive(ctx, orgID, time.Time{})
	if err != nil {
		return nil, err
	}
	if t.ToUserID != userID && t.FromUserID != userID {
		if err := s.requireOwner(ctx, s.repo, orgID, userID); err != nil {
			return nil, err
		}
	}
	t.Status = t.EffectiveStatus(s.now())
	return t, nil
}

// SweepExpired settles lapsed proposals in storage. Correctness never
// depends on it running; reads already treat lapsed proposals as expired.
func (s *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	return s.repo.MarkExpired(ctx, s.now().UTC(), limit)
}

func (s *Service) requireOwner(ctx context.Context, repo Repository, orgID, userID uuid.UUID) error {
	role, err := repo.GetMembershipRole(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, org.ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	if !policy.CanPerform(role, policy.ActionInitiateOwnershipTransfer, false) {
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

func (s *Service) record(ctx context.Context, actorID, orgID uuid.UUID, action string, transferID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID.String(),
		OrgID:    orgID.String(),
		Action:   action,
		Entity:   "ownership_transfer",
		EntityID: transferID.String(),
		Meta:     meta,
		At:       s.now().UTC(),
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

package org

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/orgdesk/orgdesk/internal/policy"
	"github.com/orgdesk/orgdesk/internal/shared"
)

var (
	// ErrForbidden covers every policy denial. Deliberately generic so a
	// caller cannot probe which rule rejected them.
	ErrForbidden = errors.New("org: not permitted")
	// ErrOwnerRoleChange rejects direct role edits that would move
	// ownership; the transfer coordinator is the only sanctioned path.
	ErrOwnerRoleChange = errors.New("org: ownership moves only through a transfer")
	// ErrInvalidLocale rejects a locale that is not a BCP-47 tag.
	ErrInvalidLocale = errors.New("org: invalid locale")
	// ErrInvalidTimezone rejects an unknown IANA timezone name.
	ErrInvalidTimezone = errors.New("org: invalid timezone")
)

type Service struct {
	repo   Repository
	audit  shared.Recorder
	logger *slog.Logger
}

func NewService(repo Repository, audit shared.Recorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// ResolveActor loads the requesting user's membership in the organization.
// Users without a membership get ErrForbidden, not a role.
func (s *Service) ResolveActor(ctx context.Context, orgID, userID uuid.UUID) (Actor, error) {
	m, err := s.repo.GetMembership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Actor{}, ErrForbidden
		}
		return Actor{}, fmt.Errorf("resolve actor: %w", err)
	}
	return Actor{UserID: m.UserID, Role: m.Role}, nil
}

// Get returns the organization, honoring deletion visibility: while a soft
// deletion is pending the organization is hidden from everyone but the
// owner.
func (s *Service) Get(ctx context.Context, actor Actor, orgID uuid.UUID) (*Organization, error) {
	o, err := s.repo.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusPurged {
		return nil, ErrNotFound
	}
	if o.Status == StatusPendingDeletion && actor.Role != policy.RoleOwner {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *Service) UpdateProfile(ctx context.Context, actor Actor, orgID uuid.UUID, req UpdateOrganizationRequest) (*Organization, error) {
	if !policy.CanPerform(actor.Role, policy.ActionEditOrganizationProfile, false) {
		return nil, ErrForbidden
	}

	updates := make(map[string]interface{})
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Slug != nil {
		updates["slug"] = *req.Slug
	}
	if len(updates) == 0 {
		return s.repo.Get(ctx, orgID)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		o, err := repo.GetForUpdate(ctx, orgID)
		if err != nil {
			return err
		}
		if o.Status != StatusActive {
			return shared.ErrStaleState
		}
		return repo.UpdateProfile(ctx, orgID, updates)
	})
	if err != nil {
		return nil, fmt.Errorf("update organization: %w", err)
	}

	s.record(ctx, actor, orgID, "org.profile_updated", "organization", orgID.String(), map[string]any{"fields": keys(updates)})
	return s.repo.Get(ctx, orgID)
}

func (s *Service) ListMembers(ctx context.Context, actor Actor, orgID uuid.UUID) ([]Membership, error) {
	if !policy.CanPerform(actor.Role, policy.ActionManageMembers, false) {
		return nil, ErrForbidden
	}
	return s.repo.ListMemberships(ctx, orgID)
}

// ChangeMemberRole updates a member's role after policy review. Moves to or
// from owner are rejected outright: the single-owner invariant is preserved
// by routing ownership changes through the transfer coordinator.
func (s *Service) ChangeMemberRole(ctx context.Context, actor Actor, orgID, targetUserID uuid.UUID, newRole policy.Role) error {
	target, err := s.repo.GetMembership(ctx, orgID, targetUserID)
	if err != nil {
		return err
	}
	onSelf := actor.UserID == targetUserID
	if !policy.CanChangeRole(actor.Role, target.Role, newRole, onSelf) {
		return ErrForbidden
	}
	if target.Role == policy.RoleOwner || newRole == policy.RoleOwner {
		return ErrOwnerRoleChange
	}
	if !newRole.Valid() {
		return ErrForbidden
	}

	if err := s.repo.SetMembershipRole(ctx, orgID, targetUserID, newRole); err != nil {
		return fmt.Errorf("change member role: %w", err)
	}
	s.record(ctx, actor, orgID, "org.member_role_changed", "membership", targetUserID.String(), map[string]any{
		"from": string(target.Role),
		"to":   string(newRole),
	})
	return nil
}

func (s *Service) RemoveMember(ctx context.Context, actor Actor, orgID, targetUserID uuid.UUID) error {
	target, err := s.repo.GetMembership(ctx, orgID, targetUserID)
	if err != nil {
		return err
	}
	onSelf := actor.UserID == targetUserID
	if !policy.CanRemoveMember(actor.Role, target.Role, onSelf) {
		return ErrForbidden
	}

	if err := s.repo.DeleteMembership(ctx, orgID, targetUserID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	s.record(ctx, actor, orgID, "org.member_removed", "membership", targetUserID.String(), map[string]any{
		"role": string(target.Role),
	})
	return nil
}

func (s *Service) InviteMember(ctx context.Context, actor Actor, orgID uuid.UUID, req InviteMemberRequest) (*Invitation, error) {
	if !policy.CanPerform(actor.Role, policy.ActionManageInvitations, false) {
		return nil, ErrForbidden
	}
	role := policy.Role(req.Role)
	if !role.Valid() || role == policy.RoleOwner {
		return nil, ErrForbidden
	}

	inv := Invitation{
		ID:        uuid.New(),
		OrgID:     orgID,
		Email:     req.Email,
		Role:      role,
		InvitedBy: actor.UserID,
		Status:    InviteStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateInvitation(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}
	s.record(ctx, actor, orgID, "org.invitation_created", "invitation", inv.ID.String(), map[string]any{"role": req.Role})
	return &inv, nil
}

func (s *Service) ListInvitations(ctx context.Context, actor Actor, orgID uuid.UUID) ([]Invitation, error) {
	if !policy.CanPerform(actor.Role, policy.ActionManageInvitations, false) {
		return nil, ErrForbidden
	}
	return s.repo.ListInvitations(ctx, orgID)
}

func (s *Service) RevokeInvitation(ctx context.Context, actor Actor, orgID, inviteID uuid.UUID) error {
	if !policy.CanPerform(actor.Role, policy.ActionManageInvitations, false) {
		return ErrForbidden
	}
	if err := s.repo.RevokeInvitation(ctx, orgID, inviteID); err != nil {
		return err
	}
	s.record(ctx, actor, orgID, "org.invitation_revoked", "invitation", inviteID.String(), nil)
	return nil
}

func (s *Service) GetPreferences(ctx context.Context, actor Actor, orgID uuid.UUID) (*Preferences, error) {
	if !policy.CanPerform(actor.Role, policy.ActionManageSettings, false) {
		return nil, ErrForbidden
	}
	prefs, err := s.repo.GetPreferences(ctx, orgID)
	if errors.Is(err, ErrNotFound) {
		return &Preferences{OrgID: orgID, Locale: "en", Timezone: "UTC", NotifyEmail: true}, nil
	}
	return prefs, err
}

func (s *Service) UpdatePreferences(ctx context.Context, actor Actor, orgID uuid.UUID, req UpdatePreferencesRequest) (*Preferences, error) {
	if !policy.CanPerform(actor.Role, policy.ActionManageSettings, false) {
		return nil, ErrForbidden
	}

	current, err := s.GetPreferences(ctx, actor, orgID)
	if err != nil {
		return nil, err
	}

	if req.Locale != nil {
		tag, err := language.Parse(*req.Locale)
		if err != nil {
			return nil, ErrInvalidLocale
		}
		current.Locale = tag.String()
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			return nil, ErrInvalidTimezone
		}
		current.Timezone = *req.Timezone
	}
	if req.NotifyEmail != nil {
		current.NotifyEmail = *req.NotifyEmail
	}
	if req.NotifyDigest != nil {
		current.NotifyDigest = *req.NotifyDigest
	}

	if err := s.repo.PutPreferences(ctx, *current); err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	s.record(ctx, actor, orgID, "org.preferences_updated", "preferences", orgID.String(), nil)
	return current, nil
}

func (s *Service) record(ctx context.Context, actor Actor, orgID uuid.UUID, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID.String(),
		OrgID:    orgID.String(),
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       time.Now().UTC(),
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

package org

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgdesk/orgdesk/internal/policy"
	"github.com/orgdesk/orgdesk/internal/shared"
)

type memRepo struct {
	orgs    map[uuid.UUID]*Organization
	members map[uuid.UUID]map[uuid.UUID]*Membership
	invites map[uuid.UUID]*Invitation
	prefs   map[uuid.UUID]*Preferences
}

func newMemRepo() *memRepo {
	return &memRepo{
		orgs:    map[uuid.UUID]*Organization{},
		members: map[uuid.UUID]map[uuid.UUID]*Membership{},
		invites: map[uuid.UUID]*Invitation{},
		prefs:   map[uuid.UUID]*Preferences{},
	}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (*Organization, error) {
	o, ok := r.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *o
	return &copied, nil
}

func (r *memRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return r.Get(ctx, id)
}

func (r *memRepo) UpdateProfile(_ context.Context, id uuid.UUID, updates map[string]interface{}) error {
	o, ok := r.orgs[id]
	if !ok {
		return ErrNotFound
	}
	if v, ok := updates["name"]; ok {
		o.Name = v.(string)
	}
	if v, ok := updates["slug"]; ok {
		o.Slug = v.(string)
	}
	return nil
}

func (r *memRepo) SetStatusCAS(_ context.Context, id uuid.UUID, from, to Status) error {
	o, ok := r.orgs[id]
	if !ok || o.Status != from {
		return shared.ErrStaleState
	}
	o.Status = to
	return nil
}

func (r *memRepo) SetOwner(_ context.Context, id uuid.UUID, owner uuid.UUID) error {
	o, ok := r.orgs[id]
	if !ok {
		return ErrNotFound
	}
	o.OwnerUserID = owner
	return nil
}

func (r *memRepo) GetMembership(_ context.Context, orgID, userID uuid.UUID) (*Membership, error) {
	m, ok := r.members[orgID][userID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *memRepo) ListMemberships(_ context.Context, orgID uuid.UUID) ([]Membership, error) {
	var out []Membership
	for _, m := range r.members[orgID] {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (r *memRepo) SetMembershipRole(_ context.Context, orgID, userID uuid.UUID, role policy.Role) error {
	m, ok := r.members[orgID][userID]
	if !ok {
		return ErrNotFound
	}
	m.Role = role
	return nil
}

func (r *memRepo) DeleteMembership(_ context.Context, orgID, userID uuid.UUID) error {
	if _, ok := r.members[orgID][userID]; !ok {
		return ErrNotFound
	}
	delete(r.members[orgID], userID)
	return nil
}

func (r *memRepo) CreateInvitation(_ context.Context, inv Invitation) error {
	for _, existing := range r.invites {
		if existing.OrgID == inv.OrgID && existing.Email == inv.Email && existing.Status == InviteStatusPending {
			return ErrAlreadyExists
		}
	}
	r.invites[inv.ID] = &inv
	return nil
}

func (r *memRepo) ListInvitations(_ context.Context, orgID uuid.UUID) ([]Invitation, error) {
	var out []Invitation
	for _, inv := range r.invites {
		if inv.OrgID == orgID {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) RevokeInvitation(_ context.Context, orgID, inviteID uuid.UUID) error {
	inv, ok := r.invites[inviteID]
	if !ok || inv.OrgID != orgID || inv.Status != InviteStatusPending {
		return ErrNotFound
	}
	inv.Status = InviteStatusRevoked
	return nil
}

func (r *memRepo) GetPreferences(_ context.Context, orgID uuid.UUID) (*Preferences, error) {
	p, ok := r.prefs[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *memRepo) PutPreferences(_ context.Context, prefs Preferences) error {
	r.prefs[prefs.OrgID] = &prefs
	return nil
}

func (r *memRepo) Snapshot(ctx context.Context, orgID uuid.UUID) (*Snapshot, error) {
	o, err := r.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	members, _ := r.ListMemberships(ctx, orgID)
	invites, _ := r.ListInvitations(ctx, orgID)
	prefs, _ := r.GetPreferences(ctx, orgID)
	return &Snapshot{Organization: *o, Memberships: members, Invitations: invites, Preferences: prefs}, nil
}

type fixture struct {
	svc       *Service
	repo      *memRepo
	orgID     uuid.UUID
	ownerID   uuid.UUID
	adminID   uuid.UUID
	managerID uuid.UUID
	memberID  uuid.UUID
}

func (f *fixture) actor(userID uuid.UUID) Actor {
	return Actor{UserID: userID, Role: f.repo.members[f.orgID][userID].Role}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newMemRepo(),
		orgID:     uuid.New(),
		ownerID:   uuid.New(),
		adminID:   uuid.New(),
		managerID: uuid.New(),
		memberID:  uuid.New(),
	}
	f.repo.orgs[f.orgID] = &Organization{
		ID:          f.orgID,
		Name:        "Acme Corp",
		Slug:        "acme-corp",
		Status:      StatusActive,
		OwnerUserID: f.ownerID,
	}
	joined := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	f.repo.members[f.orgID] = map[uuid.UUID]*Membership{}
	for i, m := range []struct {
		userID uuid.UUID
		role   policy.Role
	}{
		{f.ownerID, policy.RoleOwner},
		{f.adminID, policy.RoleAdmin},
		{f.managerID, policy.RoleManager},
		{f.memberID, policy.RoleMember},
	} {
		f.repo.members[f.orgID][m.userID] = &Membership{
			OrgID:    f.orgID,
			UserID:   m.userID,
			Role:     m.role,
			JoinedAt: joined.Add(time.Duration(i) * time.Hour),
		}
	}
	f.svc = NewService(f.repo, nil, slog.Default())
	return f
}

func TestResolveActor(t *testing.T) {
	f := newFixture(t)

	actor, err := f.svc.ResolveActor(context.Background(), f.orgID, f.managerID)
	require.NoError(t, err)
	assert.Equal(t, policy.RoleManager, actor.Role)

	_, err = f.svc.ResolveActor(context.Background(), f.orgID, uuid.New())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestGetVisibilityDuringDeletion(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.Get(context.Background(), f.actor(f.adminID), f.orgID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", o.Name)

	f.repo.orgs[f.orgID].Status = StatusPendingDeletion
	_, err = f.svc.Get(context.Background(), f.actor(f.adminID), f.orgID)
	assert.ErrorIs(t, err, ErrNotFound, "pending deletion hides the org from non-owners")

	o, err = f.svc.Get(context.Background(), f.actor(f.ownerID), f.orgID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingDeletion, o.Status)

	f.repo.orgs[f.orgID].Status = StatusPurged
	_, err = f.svc.Get(context.Background(), f.actor(f.ownerID), f.orgID)
	assert.ErrorIs(t, err, ErrNotFound, "purged orgs are gone for everyone")
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	name := "Acme Holdings"

	o, err := f.svc.UpdateProfile(context.Background(), f.actor(f.adminID), f.orgID, UpdateOrganizationRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings", o.Name)
	assert.Equal(t, "acme-corp", o.Slug)

	_, err = f.svc.UpdateProfile(context.Background(), f.actor(f.managerID), f.orgID, UpdateOrganizationRequest{Name: &name})
	assert.ErrorIs(t, err, ErrForbidden)

	// No fields set is a read, not a write.
	o, err = f.svc.UpdateProfile(context.Background(), f.actor(f.ownerID), f.orgID, UpdateOrganizationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings", o.Name)
}

func TestUpdateProfileRejectedWhileDeleting(t *testing.T) {
	f := newFixture(t)
	f.repo.orgs[f.orgID].Status = StatusPendingDeletion
	name := "Acme Holdings"

	_, err := f.svc.UpdateProfile(context.Background(), f.actor(f.ownerID), f.orgID, UpdateOrganizationRequest{Name: &name})
	assert.ErrorIs(t, err, shared.ErrStaleState)
	assert.Equal(t, "Acme Corp", f.repo.orgs[f.orgID].Name)
}

func TestChangeMemberRole(t *testing.T) {
	f := newFixture(t)

	err := f.svc.ChangeMemberRole(context.Background(), f.actor(f.adminID), f.orgID, f.memberID, policy.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, policy.RoleManager, f.repo.members[f.orgID][f.memberID].Role)

	// Managers cannot change roles at all.
	err = f.svc.ChangeMemberRole(context.Background(), f.actor(f.managerID), f.orgID, f.memberID, policy.RoleMember)
	assert.ErrorIs(t, err, ErrForbidden)

	// Nobody edits their own role.
	err = f.svc.ChangeMemberRole(context.Background(), f.actor(f.adminID), f.orgID, f.adminID, policy.RoleManager)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestChangeMemberRoleNeverMovesOwnership(t *testing.T) {
	f := newFixture(t)

	// An admin touching the owner fails the policy check outright.
	err := f.svc.ChangeMemberRole(context.Background(), f.actor(f.adminID), f.orgID, f.ownerID, policy.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)

	// Even the owner cannot promote through this path; that is the
	// transfer coordinator's job.
	err = f.svc.ChangeMemberRole(context.Background(), f.actor(f.ownerID), f.orgID, f.adminID, policy.RoleOwner)
	assert.ErrorIs(t, err, ErrOwnerRoleChange)
	assert.Equal(t, policy.RoleAdmin, f.repo.members[f.orgID][f.adminID].Role)

	err = f.svc.ChangeMemberRole(context.Background(), f.actor(f.ownerID), f.orgID, f.ownerID, policy.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden, "owner demoting themself is a self role change")
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(t)

	err := f.svc.RemoveMember(context.Background(), f.actor(f.managerID), f.orgID, f.memberID)
	require.NoError(t, err)
	_, ok := f.repo.members[f.orgID][f.memberID]
	assert.False(t, ok)

	err = f.svc.RemoveMember(context.Background(), f.actor(f.adminID), f.orgID, f.ownerID)
	assert.ErrorIs(t, err, ErrForbidden, "the owner cannot be removed")

	err = f.svc.RemoveMember(context.Background(), f.actor(f.managerID), f.orgID, f.managerID)
	assert.ErrorIs(t, err, ErrForbidden, "leaving is not removal")

	err = f.svc.RemoveMember(context.Background(), f.actor(f.managerID), f.orgID, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvitations(t *testing.T) {
	f := newFixture(t)

	inv, err := f.svc.InviteMember(context.Background(), f.actor(f.managerID), f.orgID, InviteMemberRequest{Email: "dana@example.com", Role: "member"})
	require.NoError(t, err)
	assert.Equal(t, InviteStatusPending, inv.Status)
	assert.Equal(t, f.managerID, inv.InvitedBy)

	_, err = f.svc.InviteMember(context.Background(), f.actor(f.managerID), f.orgID, InviteMemberRequest{Email: "dana@example.com", Role: "admin"})
	assert.ErrorIs(t, err, ErrAlreadyExists, "one live invitation per address")

	_, err = f.svc.InviteMember(context.Background(), f.actor(f.ownerID), f.orgID, InviteMemberRequest{Email: "eve@example.com", Role: "owner"})
	assert.ErrorIs(t, err, ErrForbidden, "nobody is invited as owner")

	_, err = f.svc.InviteMember(context.Background(), f.actor(f.memberID), f.orgID, InviteMemberRequest{Email: "eve@example.com", Role: "member"})
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.svc.RevokeInvitation(context.Background(), f.actor(f.adminID), f.orgID, inv.ID))
	assert.Equal(t, InviteStatusRevoked, f.repo.invites[inv.ID].Status)

	// Revoked invitations free the address for a fresh invite.
	_, err = f.svc.InviteMember(context.Background(), f.actor(f.managerID), f.orgID, InviteMemberRequest{Email: "dana@example.com", Role: "manager"})
	require.NoError(t, err)

	_, err = f.svc.ListInvitations(context.Background(), f.actor(f.memberID), f.orgID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListMembers(t *testing.T) {
	f := newFixture(t)

	members, err := f.svc.ListMembers(context.Background(), f.actor(f.managerID), f.orgID)
	require.NoError(t, err)
	require.Len(t, members, 4)
	assert.Equal(t, f.ownerID, members[0].UserID, "sorted by join time")

	_, err = f.svc.ListMembers(context.Background(), f.actor(f.memberID), f.orgID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestPreferencesDefaults(t *testing.T) {
	f := newFixture(t)

	prefs, err := f.svc.GetPreferences(context.Background(), f.actor(f.adminID), f.orgID)
	require.NoError(t, err)
	assert.Equal(t, "en", prefs.Locale)
	assert.Equal(t, "UTC", prefs.Timezone)
	assert.True(t, prefs.NotifyEmail)
	assert.False(t, prefs.NotifyDigest)

	_, err = f.svc.GetPreferences(context.Background(), f.actor(f.managerID), f.orgID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdatePreferences(t *testing.T) {
	f := newFixture(t)
	locale := "pt-BR"
	tz := "Europe/Berlin"
	digest := true

	prefs, err := f.svc.UpdatePreferences(context.Background(), f.actor(f.ownerID), f.orgID, UpdatePreferencesRequest{
		Locale:       &locale,
		Timezone:     &tz,
		NotifyDigest: &digest,
	})
	require.NoError(t, err)
	assert.Equal(t, "pt-BR", prefs.Locale)
	assert.Equal(t, "Europe/Berlin", prefs.Timezone)
	assert.True(t, prefs.NotifyDigest)
	assert.True(t, prefs.NotifyEmail, "untouched fields keep their defaults")

	stored, err := f.repo.GetPreferences(context.Background(), f.orgID)
	require.NoError(t, err)
	assert.Equal(t, "pt-BR", stored.Locale)

	bad := "no such locale"
	_, err = f.svc.UpdatePreferences(context.Background(), f.actor(f.ownerID), f.orgID, UpdatePreferencesRequest{Locale: &bad})
	assert.ErrorIs(t, err, ErrInvalidLocale)

	badTZ := "Atlantis/Nowhere"
	_, err = f.svc.UpdatePreferences(context.Background(), f.actor(f.ownerID), f.orgID, UpdatePreferencesRequest{Timezone: &badTZ})
	assert.ErrorIs(t, err, ErrInvalidTimezone)
}

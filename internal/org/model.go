package org

import (
	"time"

	"github.com/google/uuid"

	"github.com/orgdesk/orgdesk/internal/policy"
)

// Status tracks where an organization sits in its lifecycle. It is the
// compare-and-set guard shared by the deletion and transfer state machines:
// both update it conditionally inside a transaction holding the row.
type Status string

const (
	StatusActive          Status = "active"
	StatusPendingDeletion Status = "pending_deletion"
	StatusPurged          Status = "purged"
)

type Organization struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Slug        string    `json:"slug" db:"slug"`
	Status      Status    `json:"status" db:"status"`
	OwnerUserID uuid.UUID `json:"owner_user_id" db:"owner_user_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Membership ties a user to an organization with a role. Destroyed when the
// member is removed or the organization is purged.
type Membership struct {
	OrgID    uuid.UUID   `json:"org_id" db:"org_id"`
	UserID   uuid.UUID   `json:"user_id" db:"user_id"`
	Role     policy.Role `json:"role" db:"role"`
	JoinedAt time.Time   `json:"joined_at" db:"joined_at"`
}

// Invitation is a pending offer to join an organization. Org-scoped, so a
// purge removes it along with memberships.
type Invitation struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	OrgID     uuid.UUID   `json:"org_id" db:"org_id"`
	Email     string      `json:"email" db:"email"`
	Role      policy.Role `json:"role" db:"role"`
	InvitedBy uuid.UUID   `json:"invited_by" db:"invited_by"`
	Status    string      `json:"status" db:"status"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

const (
	InviteStatusPending = "pending"
	InviteStatusRevoked = "revoked"
)

// Preferences holds regional and notification settings for an organization.
type Preferences struct {
	OrgID        uuid.UUID `json:"org_id" db:"org_id"`
	Locale       string    `json:"locale" db:"locale"`
	Timezone     string    `json:"timezone" db:"timezone"`
	NotifyEmail  bool      `json:"notify_email" db:"notify_email"`
	NotifyDigest bool      `json:"notify_digest" db:"notify_digest"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Actor identifies the requesting user and their role inside the
// organization being acted on.
type Actor struct {
	UserID uuid.UUID
	Role   policy.Role
}

// Snapshot bundles everything the data export serializes for an
// organization.
type Snapshot struct {
	Organization Organization `json:"organization"`
	Memberships  []Membership `json:"memberships"`
	Invitations  []Invitation `json:"invitations"`
	Preferences  *Preferences `json:"preferences,omitempty"`
}

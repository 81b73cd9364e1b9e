package deletion

import (
	"time"

	"github.com/google/uuid"
)

// ConfirmationPhrase is the literal string an owner must type to pass the
// second confirmation step. Compared exactly, case-sensitive.
const ConfirmationPhrase = "DELETE ORGANIZATION"

// GracePeriod is the window after a soft deletion during which the owner may
// still restore the organization.
const GracePeriod = 30 * 24 * time.Hour

// Type distinguishes a recoverable soft deletion from an immediate purge.
type Type string

const (
	TypeSoft      Type = "soft"
	TypePermanent Type = "permanent"
)

// Status models the confirmation protocol and the terminal outcomes:
//
//	awaiting_phrase -> awaiting_finalize -> pending -> restored | purged
//
// with cancelled reachable from either awaiting step. The two awaiting
// values are the server-side confirmation gates; the browser is never
// trusted to have performed them.
type Status string

const (
	StatusAwaitingPhrase   Status = "awaiting_phrase"
	StatusAwaitingFinalize Status = "awaiting_finalize"
	StatusPending          Status = "pending"
	StatusRestored         Status = "restored"
	StatusPurged           Status = "purged"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusRestored, StatusPurged, StatusCancelled:
		return true
	}
	return false
}

// Request is an organization deletion request. At most one non-terminal
// request exists per organization at any time.
type Request struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	OrgID               uuid.UUID  `json:"org_id" db:"org_id"`
	RequestedBy         uuid.UUID  `json:"requested_by" db:"requested_by"`
	Type                Type       `json:"deletion_type" db:"deletion_type"`
	NameConfirmed       bool       `json:"name_confirmed" db:"name_confirmed"`
	PhraseConfirmed     bool       `json:"phrase_confirmed" db:"phrase_confirmed"`
	DataExportRequested bool       `json:"data_export_requested" db:"data_export_requested"`
	ExportFormat        *string    `json:"export_format,omitempty" db:"export_format"`
	Reason              *string    `json:"reason,omitempty" db:"reason"`
	RequestedAt         time.Time  `json:"requested_at" db:"requested_at"`
	ScheduledPurgeAt    *time.Time `json:"scheduled_purge_at,omitempty" db:"scheduled_purge_at"`
	Status              Status     `json:"status" db:"status"`
}

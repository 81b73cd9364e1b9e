package transfer

import (
	"time"

	"github.com/google/uuid"
)

// TTL is how long a proposal stays acceptable. Expiry is lazy: rows are not
// rewritten the moment the deadline passes, every read applies the deadline
// itself via EffectiveStatus.
const TTL = 7 * 24 * time.Hour

type Status string

const (
	StatusProposed  Status = "proposed"
	StatusAccepted  Status = "accepted"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Transfer is an ownership transfer proposal. At most one proposal per
// organization is live at any time.
type Transfer struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	OrgID      uuid.UUID  `json:"org_id" db:"org_id"`
	FromUserID uuid.UUID  `json:"from_user_id" db:"from_user_id"`
	ToUserID   uuid.UUID  `json:"to_user_id" db:"to_user_id"`
	Status     Status     `json:"status" db:"status"`
	Message    *string    `json:"message,omitempty" db:"message"`
	Reason     *string    `json:"reason,omitempty" db:"reason"`
	ProposedAt time.Time  `json:"proposed_at" db:"proposed_at"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// EffectiveStatus folds the expiry deadline into the stored status.
func (t *Transfer) EffectiveStatus(now time.Time) Status {
	if t.Status == StatusProposed && !now.Before(t.ExpiresAt) {
		return StatusExpired
	}
	return t.Status
}

// Live reports whether the proposal can still be accepted at now.
func (t *Transfer) Live(now time.Time) bool {
	return t.EffectiveStatus(now) == StatusProposed
}

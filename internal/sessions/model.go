// Package sessions tracks every live device session per user and lets a
// user sign other devices out. Session records live in redis next to the
// cookie sessions they describe; revoking a record also deletes the cookie
// key, so the revoked device's next request arrives unauthenticated.
package sessions

import (
	"time"

	"github.com/google/uuid"
)

// Session is the registry's view of one signed-in device.
type Session struct {
	ID         string    `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Device     string    `json:"device"`
	IP         string    `json:"ip"`
	Location   string    `json:"location,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	// Current marks the session serving the listing request. Set on reads,
	// never stored.
	Current bool `json:"current"`
}

// Package notify defines the lifecycle events consumed by the email and
// notification delivery pipeline. Delivery itself is best-effort: emitting
// an event never blocks or fails a state transition.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	EventTransferProposed = "OwnershipTransferProposed"
	EventTransferAccepted = "OwnershipTransferAccepted"
	EventOrgSoftDeleted   = "OrganizationSoftDeleted"
	EventOrgPurged        = "OrganizationPurged"
)

// Event is a lifecycle notification bound for external delivery.
type Event struct {
	Type    string         `json:"type"`
	OrgID   uuid.UUID      `json:"org_id"`
	ActorID uuid.UUID      `json:"actor_id"`
	Meta    map[string]any `json:"meta,omitempty"`
	At      time.Time      `json:"at"`
}

// Dispatcher hands events to a delivery mechanism. The asynq-backed
// implementation lives in the jobs package; tests use fakes.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt Event) error
}

// LogDispatcher writes events to the log. Useful as a fallback when no
// queue is configured, and in tests.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) Dispatch(ctx context.Context, evt Event) error {
	if d.Logger != nil {
		d.Logger.Info("notify event",
			slog.String("type", evt.Type),
			slog.String("org_id", evt.OrgID.String()),
		)
	}
	return nil
}

var _ Dispatcher = LogDispatcher{}

package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orgdesk/orgdesk/internal/notify"
)

// Notifier delivers lifecycle events through the job queue as email tasks.
// Recipients are resolved by the mail handler; the event carries the
// organization and actor.
type Notifier struct {
	client *Client
}

func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

var _ notify.Dispatcher = (*Notifier)(nil)

// Dispatch enqueues the event for delivery. The caller treats failures as
// non-fatal; the enqueue either lands or the event is lost with a log line.
func (n *Notifier) Dispatch(ctx context.Context, evt notify.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = n.client.EnqueueSendEmail(ctx, SendEmailPayload{
		To:      "org:" + evt.OrgID.String(),
		Subject: fmt.Sprintf("[orgdesk] %s", evt.Type),
		Body:    string(body),
	})
	return err
}

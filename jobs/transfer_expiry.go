package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/orgdesk/orgdesk/internal/jobs"
	"github.com/orgdesk/orgdesk/internal/transfer"
)

const (
	// TaskTypeTransferExpiry settles lapsed ownership transfer proposals.
	// Reads already treat lapsed proposals as expired; this keeps the
	// stored rows and the partial unique index tidy.
	TaskTypeTransferExpiry = "org:transfer_expiry"
)

// TransferExpiryPayload bounds one expiry run.
type TransferExpiryPayload struct {
	Limit int `json:"limit"`
}

// NewTransferExpiryTask constructs an Asynq task for the expiry sweeper.
func NewTransferExpiryTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(TransferExpiryPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeTransferExpiry, body, asynq.Queue(QueueDefault)), nil
}

// TransferExpiryJob runs the transfer expiry sweeper on the worker.
type TransferExpiryJob struct {
	Transfers *transfer.Service
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskTypeTransferExpiry tasks.
func (j *TransferExpiryJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload TransferExpiryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = defaultSweepBatch
	}
	tracker := j.Metrics.Track(TaskTypeTransferExpiry)
	expired, err := j.Transfers.SweepExpired(ctx, limit)
	j.Metrics.AddExpiredTransfers(expired)
	if expired > 0 || err != nil {
		j.Logger.Info("transfer expiry sweep", slog.Int("expired", expired), slog.Any("error", err))
	}
	return tracker.End(err)
}

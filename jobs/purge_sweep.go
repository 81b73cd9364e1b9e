package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/orgdesk/orgdesk/internal/deletion"
	jobmetrics "github.com/orgdesk/orgdesk/internal/jobs"
)

const (
	// TaskTypePurgeSweep executes scheduled purges whose grace period has
	// elapsed. The sweep is authoritative: a purge it commits wins over a
	// racing restore.
	TaskTypePurgeSweep = "org:purge_sweep"

	defaultSweepBatch = 100
)

// PurgeSweepPayload bounds one sweep run.
type PurgeSweepPayload struct {
	Limit int `json:"limit"`
}

// NewPurgeSweepTask constructs an Asynq task for the purge sweeper.
func NewPurgeSweepTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(PurgeSweepPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePurgeSweep, body, asynq.Queue(QueueDefault)), nil
}

// PurgeSweepJob runs the deletion sweeper on the worker.
type PurgeSweepJob struct {
	Deletions *deletion.Service
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskTypePurgeSweep tasks.
func (j *PurgeSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload PurgeSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = defaultSweepBatch
	}
	tracker := j.Metrics.Track(TaskTypePurgeSweep)
	purged, err := j.Deletions.SweepDuePurges(ctx, limit)
	j.Metrics.AddPurged(purged)
	if purged > 0 || err != nil {
		j.Logger.Info("purge sweep", slog.Int("purged", purged), slog.Any("error", err))
	}
	return tracker.End(err)
}

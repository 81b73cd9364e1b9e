package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/orgdesk/orgdesk/internal/export"
	jobmetrics "github.com/orgdesk/orgdesk/internal/jobs"
)

const (
	// TaskTypeOrgExport builds a data export archive in the background.
	// Enqueued when a soft deletion requested an export; the artifact is
	// ready well before the grace period ends.
	TaskTypeOrgExport = "org:export"
)

// OrgExportPayload identifies the organization and format to export.
type OrgExportPayload struct {
	OrgID  uuid.UUID `json:"org_id"`
	Format string    `json:"format"`
}

// NewOrgExportTask constructs an Asynq task for a background export.
func NewOrgExportTask(orgID uuid.UUID, format string) (*asynq.Task, error) {
	body, err := json.Marshal(OrgExportPayload{OrgID: orgID, Format: format})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeOrgExport, body, asynq.Queue(QueueDefault)), nil
}

// OrgExportJob runs exports on the worker.
type OrgExportJob struct {
	Exports *export.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskTypeOrgExport tasks.
func (j *OrgExportJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload OrgExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskTypeOrgExport)
	result, err := j.Exports.Export(ctx, payload.OrgID, export.Format(payload.Format), nil)
	if err != nil {
		return tracker.End(err)
	}
	_ = tracker.End(nil)
	j.Logger.Info("background export complete",
		slog.String("org_id", payload.OrgID.String()),
		slog.String("url", result.URL),
	)
	return nil
}

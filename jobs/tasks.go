package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPledgeResync recomputes one pledge's aggregates.
	TaskPledgeResync = "pledge:resync"
	// TaskIntegrityScan resums every pledge, catching drift left by crashed
	// writers or out-of-band edits.
	TaskIntegrityScan = "pledge:integrity_scan"
)

// PledgeResyncPayload identifies the pledge to resync.
type PledgeResyncPayload struct {
	PledgeID int64 `json:"pledge_id"`
}

// NewPledgeResyncTask constructs an Asynq task.
func NewPledgeResyncTask(payload PledgeResyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPledgeResync, data), nil
}

// NewIntegrityScanTask constructs the nightly scan task.
func NewIntegrityScanTask() *asynq.Task {
	return asynq.NewTask(TaskIntegrityScan, nil)
}

// Resyncer recomputes pledge aggregates. Implemented by plans.Service.
type Resyncer interface {
	ResyncPledge(ctx context.Context, pledgeID int64) error
	ListPledgeIDs(ctx context.Context) ([]int64, error)
}

// NewPledgeResyncHandler returns the handler for TaskPledgeResync tasks.
func NewPledgeResyncHandler(resyncer Resyncer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload PledgeResyncPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := resyncer.ResyncPledge(ctx, payload.PledgeID); err != nil {
			logger.Error("pledge resync task", slog.Int64("pledge_id", payload.PledgeID), slog.Any("error", err))
			return err
		}
		return nil
	}
}

// NewIntegrityScanHandler returns the handler for TaskIntegrityScan tasks.
// Failures on individual pledges are logged and skipped so one bad row does
// not starve the rest of the scan.
func NewIntegrityScanHandler(resyncer Resyncer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		ids, err := resyncer.ListPledgeIDs(ctx)
		if err != nil {
			return err
		}
		var failed int
		for _, id := range ids {
			if err := resyncer.ResyncPledge(ctx, id); err != nil {
				failed++
				logger.Error("integrity scan pledge", slog.Int64("pledge_id", id), slog.Any("error", err))
			}
		}
		logger.Info("integrity scan finished", slog.Int("pledges", len(ids)), slog.Int("failed", failed))
		return nil
	}
}

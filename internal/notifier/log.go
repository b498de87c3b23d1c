package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/amishk599/jobflow/internal/model"
)

// Ensure LogNotifier implements model.Notifier.
var _ model.Notifier = (*LogNotifier)(nil)

// LogNotifier writes the run summary to the given logger as structured messages.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that logs each execution via slog.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs one line per execution record.
// Returns nil (stdout logging does not fail).
func (n *LogNotifier) Notify(_ context.Context, records []model.ExecutionRecord) error {
	for _, r := range records {
		args := []any{
			"workflow", r.Workflow,
			"execution_id", r.ID,
			"status", r.Status,
			"listings", r.Listings,
			"inserted", r.Persistence.Inserted,
			"skipped_duplicate", r.Persistence.SkippedDuplicate,
			"duration", r.Duration().Round(time.Millisecond),
		}
		if r.Destination != "" {
			args = append(args, "destination", r.Destination)
		}
		if r.Status == model.StatusSucceeded {
			n.logger.Info("execution finished", args...)
			continue
		}
		args = append(args, "reason", r.Reason)
		if r.FailedStep != "" {
			args = append(args, "step", r.FailedStep, "attempts", r.Attempts)
		}
		if r.Error != "" {
			args = append(args, "error", r.Error)
		}
		n.logger.Warn("execution did not succeed", args...)
	}
	return nil
}

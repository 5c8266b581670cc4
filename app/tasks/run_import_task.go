package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/api-comb/app/database"
	"github.com/lysyi3m/api-comb/app/importer"
	"github.com/lysyi3m/api-comb/app/scheduler"
)

// RunImportTask runs one import through the scheduler. Failed runs are
// retried by the scheduler's own backoff, so the task itself never is.
type RunImportTask struct {
	Task
	Configuration *database.ImportConfiguration
	Trigger       scheduler.Trigger
	runner        ImportRunner
}

func NewRunImportTask(cfg *database.ImportConfiguration, trigger scheduler.Trigger, runner ImportRunner) *RunImportTask {
	task := NewTask(TaskTypeRunImport, cfg.Name)
	task.MaxRetries = 0

	return &RunImportTask{
		Task:          task,
		Configuration: cfg,
		Trigger:       trigger,
		runner:        runner,
	}
}

func (t *RunImportTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := t.runner.Run(ctx, t.Configuration, t.Trigger)
	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		slog.Debug("Import already running, skipping", "import", t.ImportName, "trigger", t.Trigger)
		return nil
	case errors.Is(err, scheduler.ErrNotDue), errors.Is(err, scheduler.ErrInactive):
		slog.Debug("Import no longer due, skipping", "import", t.ImportName, "reason", err)
		return nil
	case errors.Is(err, importer.ErrInvalidConfiguration):
		// Already recorded as a failed run.
		slog.Warn("Import configuration is invalid", "import", t.ImportName, "error", err)
		return nil
	case err != nil:
		return fmt.Errorf("failed to run import: %w", err)
	}

	slog.Info("Task completed",
		"type", "RunImport",
		"import", t.ImportName,
		"trigger", t.Trigger,
		"duration", t.GetDuration(),
		"success", result.Success,
		"imported", result.ItemsImported)

	return nil
}

package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/api-comb/app/database"
	"github.com/lysyi3m/api-comb/app/definitions"
)

type SyncDefinitionTask struct {
	Task
	Definition *definitions.Definition
	store      DefinitionStore
	runner     ImportRunner
}

func NewSyncDefinitionTask(def *definitions.Definition, store DefinitionStore, runner ImportRunner) *SyncDefinitionTask {
	return &SyncDefinitionTask{
		Task:       NewTask(TaskTypeSyncDefinition, def.Name),
		Definition: def,
		store:      store,
		runner:     runner,
	}
}

// Execute writes the definition to the store and seeds the schedule when the
// recurrence or the active flag changed.
func (t *SyncDefinitionTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	res, err := t.store.UpsertDefinition(ctx, t.Definition.Configuration())
	if err != nil {
		slog.Error("Task failed", "type", "SyncDefinition", "import", t.ImportName, "error", err)
		return fmt.Errorf("failed to sync definition to database: %w", err)
	}

	if res.ScheduleChanged && res.Configuration.Active {
		if err := t.runner.InitializeSchedule(ctx, res.Configuration); err != nil {
			return fmt.Errorf("failed to initialize schedule: %w", err)
		}
	}

	slog.Info("Task completed",
		"type", "SyncDefinition",
		"import", t.ImportName,
		"duration", t.GetDuration(),
		"created", res.Created,
		"schedule_changed", res.ScheduleChanged)

	return nil
}

// DeactivateRemoved turns off stored configurations whose definition file is
// gone. Their history is kept.
func DeactivateRemoved(ctx context.Context, store DefinitionStore, cache *definitions.Cache) (int, error) {
	stored, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list import configurations: %w", err)
	}

	deactivated := 0
	for _, cfg := range stored {
		if !cfg.Active || cache.Has(cfg.Name) {
			continue
		}
		if err := store.Deactivate(ctx, cfg.Name); err != nil && !errors.Is(err, database.ErrNotFound) {
			return deactivated, err
		}
		deactivated++
		slog.Info("Import deactivated, definition removed", "import", cfg.Name)
	}

	return deactivated, nil
}

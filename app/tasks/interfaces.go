package tasks

import (
	"context"

	"github.com/lysyi3m/api-comb/app/database"
	"github.com/lysyi3m/api-comb/app/importer"
	"github.com/lysyi3m/api-comb/app/scheduler"
)

// DispatcherInterface is the task queue the API and main use to hand work
// to the worker pool.
type DispatcherInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

// ImportRunner is the part of the scheduler the tasks drive.
type ImportRunner interface {
	GetDueConfigurations(ctx context.Context) ([]*database.ImportConfiguration, error)
	InitializeSchedule(ctx context.Context, cfg *database.ImportConfiguration) error
	Run(ctx context.Context, cfg *database.ImportConfiguration, trigger scheduler.Trigger) (*importer.ImportResult, error)
}

// DefinitionStore is the part of the import repository definition syncing
// needs.
type DefinitionStore interface {
	List(ctx context.Context) ([]*database.ImportConfiguration, error)
	UpsertDefinition(ctx context.Context, def *database.ImportConfiguration) (*database.UpsertResult, error)
	Deactivate(ctx context.Context, name string) error
}

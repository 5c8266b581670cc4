package database

import (
	"context"
	"time"
)

type ImportRepository interface {
	ListDue(ctx context.Context, now time.Time) ([]*ImportConfiguration, error)
	Get(ctx context.Context, id int64) (*ImportConfiguration, error)
	GetByName(ctx context.Context, name string) (*ImportConfiguration, error)
	List(ctx context.Context) ([]*ImportConfiguration, error)
	Save(ctx context.Context, cfg *ImportConfiguration) error

	UpsertDefinition(ctx context.Context, def *ImportConfiguration) (*UpsertResult, error)
	Deactivate(ctx context.Context, name string) error
}

type HistoryRepository interface {
	AppendHistory(ctx context.Context, rec *ImportExecutionHistory) error
	ListHistory(ctx context.Context, configurationID int64, limit int) ([]*ImportExecutionHistory, error)
}

// Package scheduler decides when each import runs, records every run and
// moves configurations through their recurrence and retry states.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/lysyi3m/api-comb/app/database"
	"github.com/lysyi3m/api-comb/app/importer"
	"github.com/lysyi3m/api-comb/app/metrics"
)

var (
	ErrAlreadyRunning = errors.New("import is already running")
	ErrNotDue         = errors.New("import is not due")
	ErrInactive       = errors.New("import is inactive")
)

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

type Store interface {
	ListDue(ctx context.Context, now time.Time) ([]*database.ImportConfiguration, error)
	Get(ctx context.Context, id int64) (*database.ImportConfiguration, error)
	Save(ctx context.Context, cfg *database.ImportConfiguration) error
	AppendHistory(ctx context.Context, rec *database.ImportExecutionHistory) error
}

type Executor interface {
	ExecuteImport(ctx context.Context, cfg *database.ImportConfiguration) (*importer.ImportResult, error)
}

// Notifier is told when a configuration has used up its retries.
type Notifier interface {
	RetriesExhausted(ctx context.Context, cfg *database.ImportConfiguration)
}

type LogNotifier struct{}

func (LogNotifier) RetriesExhausted(ctx context.Context, cfg *database.ImportConfiguration) {
	slog.Warn("Import retries exhausted",
		"import", cfg.Name,
		"failures", cfg.ConsecutiveFailures,
		"max_retries", cfg.MaxRetries,
		"last_error", cfg.LastImportError,
		"next_run_at", cfg.NextScheduledRunAt)
}

type Scheduler struct {
	store    Store
	executor Executor
	notifier Notifier
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

func NewScheduler(store Store, executor Executor, notifier Notifier) *Scheduler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		notifier: notifier,
		now:      time.Now,
		inFlight: make(map[int64]struct{}),
	}
}

func (s *Scheduler) State(cfg *database.ImportConfiguration) State {
	return StateOf(cfg)
}

// GetDueConfigurations returns the configurations to run now, nearest due
// time first.
func (s *Scheduler) GetDueConfigurations(ctx context.Context) ([]*database.ImportConfiguration, error) {
	now := s.now()

	candidates, err := s.store.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due configurations: %w", err)
	}

	due := candidates[:0]
	for _, cfg := range candidates {
		if isDue(cfg, now) {
			due = append(due, cfg)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return dueKey(due[i]).Before(dueKey(due[j]))
	})

	metrics.SchedulerDueConfigurations.Set(float64(len(due)))
	return due, nil
}

// InitializeSchedule seeds the first run of a newly activated configuration
// and clears its retry state.
func (s *Scheduler) InitializeSchedule(ctx context.Context, cfg *database.ImportConfiguration) error {
	next := CalculateNextRunTime(cfg, s.now())
	cfg.NextScheduledRunAt = &next
	cfg.ConsecutiveFailures = 0
	cfg.NextRetryAt = nil

	if err := s.store.Save(ctx, cfg); err != nil {
		return fmt.Errorf("failed to initialize schedule of %q: %w", cfg.Name, err)
	}

	slog.Debug("Import schedule initialized", "import", cfg.Name, "frequency", cfg.Frequency, "next_run_at", next)
	return nil
}

// UpdateConfigurationAfterExecution applies the outcome of a run to the
// recurrence and retry state and saves the configuration.
func (s *Scheduler) UpdateConfigurationAfterExecution(ctx context.Context, cfg *database.ImportConfiguration, success bool, errorMessage string, itemCount int) error {
	exhausted := s.applyOutcome(cfg, success, errorMessage, itemCount)

	if err := s.store.Save(ctx, cfg); err != nil {
		return fmt.Errorf("failed to update configuration %q after execution: %w", cfg.Name, err)
	}

	if exhausted {
		metrics.ImportRetriesExhausted.WithLabelValues(cfg.Name).Inc()
		s.notifier.RetriesExhausted(ctx, cfg)
	}
	return nil
}

// applyOutcome mutates cfg and reports whether retries were exhausted.
func (s *Scheduler) applyOutcome(cfg *database.ImportConfiguration, success bool, errorMessage string, itemCount int) bool {
	now := s.now()
	cfg.LastImportAt = &now
	cfg.LastImportSuccess = &success
	cfg.LastImportItemCount = itemCount

	if success {
		next := CalculateNextRunTime(cfg, now)
		cfg.ConsecutiveFailures = 0
		cfg.NextRetryAt = nil
		cfg.LastImportError = ""
		cfg.NextScheduledRunAt = &next
		return false
	}

	cfg.ConsecutiveFailures++
	cfg.LastImportError = errorMessage

	// The slot that triggered this run is spent either way.
	if cfg.NextScheduledRunAt == nil || !cfg.NextScheduledRunAt.After(now) {
		next := CalculateNextRunTime(cfg, now)
		cfg.NextScheduledRunAt = &next
	}

	if cfg.Frequency == database.FrequencyNone {
		cfg.NextRetryAt = nil
		return false
	}

	if cfg.ConsecutiveFailures < cfg.MaxRetries {
		retryAt := now.Add(CalculateRetryDelay(cfg.ConsecutiveFailures))
		cfg.NextRetryAt = &retryAt
		return false
	}

	next := CalculateNextRunTime(cfg, now)
	cfg.NextRetryAt = nil
	cfg.NextScheduledRunAt = &next
	return true
}

// RecordExecution appends one history row for a finished run.
func (s *Scheduler) RecordExecution(ctx context.Context, configID int64, result *importer.ImportResult, wasRetry bool, retryAttempt int, wasScheduled bool) error {
	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to encode warnings: %w", err)
	}

	rec := &database.ImportExecutionHistory{
		ConfigurationID: configID,
		ExecutedAt:      s.now().Add(-result.Duration),
		Success:         result.Success,
		ItemsReceived:   result.ItemsReceived,
		ItemsImported:   result.ItemsImported,
		ItemsSkipped:    result.ItemsSkipped,
		ItemsFailed:     result.ItemsFailed,
		DurationMs:      result.Duration.Milliseconds(),
		ErrorMessage:    result.ErrorMessage(),
		Warnings:        string(warningsJSON),
		WasRetry:        wasRetry,
		WasScheduled:    wasScheduled,
		RetryAttempt:    retryAttempt,
		JobToken:        result.JobToken,
	}

	if err := s.store.AppendHistory(ctx, rec); err != nil {
		return fmt.Errorf("failed to record execution of configuration %d: %w", configID, err)
	}
	return nil
}

// Run executes one import while holding the configuration's token. Only one
// run per configuration is in flight in this process.
func (s *Scheduler) Run(ctx context.Context, target *database.ImportConfiguration, trigger Trigger) (*importer.ImportResult, error) {
	if !s.acquire(target.ID) {
		return nil, ErrAlreadyRunning
	}
	defer s.release(target.ID)

	// Work on the stored state; target may be stale.
	cfg, err := s.store.Get(ctx, target.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration %q: %w", target.Name, err)
	}

	now := s.now()
	if trigger == TriggerScheduled {
		if !cfg.Active {
			return nil, ErrInactive
		}
		if !isDue(cfg, now) {
			return nil, ErrNotDue
		}
	}

	wasRetry := cfg.NextRetryAt != nil && !cfg.NextRetryAt.After(now)
	retryAttempt := 0
	if wasRetry {
		retryAttempt = cfg.ConsecutiveFailures
	}

	metrics.ImportsInFlight.Inc()
	result, execErr := s.executor.ExecuteImport(ctx, cfg)
	metrics.ImportsInFlight.Dec()

	if execErr != nil {
		result = importer.FailedResult(execErr.Error())
	}

	if err := s.RecordExecution(ctx, cfg.ID, result, wasRetry, retryAttempt, trigger == TriggerScheduled); err != nil {
		slog.Error("Failed to record import execution", "import", cfg.Name, "error", err)
	}

	if err := s.updateWithReload(ctx, cfg, result); err != nil {
		slog.Error("Failed to update import state", "import", cfg.Name, "error", err)
	}

	metrics.RecordRun(cfg.Name, string(trigger), result.Success, result.Duration,
		result.ItemsReceived, result.ItemsImported, result.ItemsSkipped, result.ItemsFailed)

	if result.Success {
		slog.Info("Import completed",
			"import", cfg.Name,
			"trigger", trigger,
			"duration", result.Duration,
			"received", result.ItemsReceived,
			"imported", result.ItemsImported,
			"skipped", result.ItemsSkipped,
			"warnings", len(result.Warnings),
			"job", result.JobToken)
	} else {
		slog.Warn("Import failed",
			"import", cfg.Name,
			"trigger", trigger,
			"retry", wasRetry,
			"failures", cfg.ConsecutiveFailures,
			"error", result.ErrorMessage())
	}

	return result, execErr
}

// updateWithReload applies the run outcome, reloading once if the
// configuration was saved by someone else in the meantime.
func (s *Scheduler) updateWithReload(ctx context.Context, cfg *database.ImportConfiguration, result *importer.ImportResult) error {
	err := s.UpdateConfigurationAfterExecution(ctx, cfg, result.Success, result.ErrorMessage(), result.ItemsImported)
	if !errors.Is(err, database.ErrVersionConflict) {
		return err
	}

	fresh, getErr := s.store.Get(ctx, cfg.ID)
	if getErr != nil {
		return fmt.Errorf("failed to reload configuration %q: %w", cfg.Name, getErr)
	}
	*cfg = *fresh
	return s.UpdateConfigurationAfterExecution(ctx, cfg, result.Success, result.ErrorMessage(), result.ItemsImported)
}

func (s *Scheduler) acquire(configID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.inFlight[configID]; running {
		return false
	}
	s.inFlight[configID] = struct{}{}
	return true
}

func (s *Scheduler) release(configID int64) {
	s.mu.Lock()
	delete(s.inFlight, configID)
	s.mu.Unlock()
}

// IsRunning reports whether a run of the configuration is in flight.
func (s *Scheduler) IsRunning(configID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.inFlight[configID]
	return running
}

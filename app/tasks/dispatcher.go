package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/api-comb/app/definitions"
	"github.com/lysyi3m/api-comb/app/metrics"
	"github.com/lysyi3m/api-comb/app/scheduler"
)

var _ DispatcherInterface = (*Dispatcher)(nil)

const (
	queueSize   = 300
	taskTimeout = 5 * time.Minute
	maxBackoff  = 30 * time.Second
)

// Dispatcher feeds due imports and definition syncs to a fixed pool of
// workers on every tick.
type Dispatcher struct {
	definitions *definitions.Cache
	store       DefinitionStore
	runner      ImportRunner
	interval    time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface
}

func NewDispatcher(definitions *definitions.Cache, store DefinitionStore, runner ImportRunner,
	interval time.Duration, workerCount int) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		definitions: definitions,
		store:       store,
		runner:      runner,
		interval:    interval,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, queueSize),
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		d.enqueueStartupTasks()

		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				d.enqueueDueImports()
			}
		}
	}()
}

// Stop waits for running tasks to finish. Queued tasks are dropped; their
// imports are still due on the next start. The queue is never closed;
// EnqueueTask after Stop returns the context error.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) EnqueueTask(task TaskInterface) error {
	if err := d.ctx.Err(); err != nil {
		return err
	}

	select {
	case d.taskQueue <- task:
		metrics.TaskQueueDepth.Set(float64(len(d.taskQueue)))
		return nil
	case <-d.ctx.Done():
		return d.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (d *Dispatcher) enqueueStartupTasks() {
	defs := d.definitions.All()
	if len(defs) == 0 {
		slog.Debug("No import definitions found")
	}

	slog.Debug("Syncing import definitions", "count", len(defs))

	for _, def := range defs {
		syncTask := NewSyncDefinitionTask(def, d.store, d.runner)
		if err := d.EnqueueTask(syncTask); err != nil {
			slog.Warn("Failed to enqueue SyncDefinitionTask", "import", def.Name, "error", err)
		}
	}

	if _, err := DeactivateRemoved(d.ctx, d.store, d.definitions); err != nil {
		slog.Error("Failed to deactivate removed imports", "error", err)
	}
}

func (d *Dispatcher) enqueueDueImports() {
	due, err := d.runner.GetDueConfigurations(d.ctx)
	if err != nil {
		slog.Error("Failed to get due imports", "error", err)
		return
	}
	if len(due) == 0 {
		slog.Debug("No imports due")
		return
	}

	slog.Debug("Enqueueing due imports", "count", len(due))

	for _, cfg := range due {
		task := NewRunImportTask(cfg, scheduler.TriggerScheduled, d.runner)
		if err := d.EnqueueTask(task); err != nil {
			slog.Warn("Failed to enqueue RunImportTask", "import", cfg.Name, "error", err)
		}
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for {
		select {
		case task, ok := <-d.taskQueue:
			if !ok {
				return
			}
			metrics.TaskQueueDepth.Set(float64(len(d.taskQueue)))
			d.executeTask(id, task)

		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) executeTask(workerID int, task TaskInterface) {
	task.Start()

	// A running import is not interrupted by shutdown.
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(d.ctx), taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		return
	}

	task.IncrementRetryCount()
	retryDelay := min(time.Duration(1<<uint(task.GetRetryCount()-1))*time.Second, maxBackoff)

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "import", task.GetImportName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	go func() {
		select {
		case <-d.ctx.Done():
			slog.Debug("Dispatcher stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
		case <-time.After(retryDelay):
			if retryErr := d.EnqueueTask(task); retryErr != nil {
				slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
			}
		}
	}()
}

// Package daemon polls the task source and runs recovery for each pending
// task until stopped.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"hlsrescue/internal/recovery"
	"hlsrescue/internal/task"
)

// Recoverer runs one recovery invocation per task.
type Recoverer interface {
	Recover(ctx context.Context, identifier, rawURL string) recovery.Result
}

// Summary is a snapshot of the daemon's work since it started.
type Summary struct {
	StartedAt      time.Time `json:"started_at"`
	TasksProcessed int       `json:"tasks_processed"`
	TasksComplete  int       `json:"tasks_complete"`
	TasksFailed    int       `json:"tasks_failed"`
	LastIdentifier string    `json:"last_identifier,omitempty"`
	LastReason     string    `json:"last_reason,omitempty"`
}

// Daemon pulls pending tasks in small batches and recovers them one at a
// time. Tasks are processed sequentially; parallelism lives inside the
// fetch pipeline, not across assets.
type Daemon struct {
	source        task.Source
	recoverer     Recoverer
	logger        hclog.Logger
	checkInterval time.Duration
	cooldown      time.Duration
	batchSize     int

	mu      sync.Mutex
	summary Summary
}

// New creates a daemon polling source every checkInterval, pausing cooldown
// between tasks, pulling batchSize tasks per poll.
func New(source task.Source, recoverer Recoverer, logger hclog.Logger, checkInterval, cooldown time.Duration, batchSize int) *Daemon {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Daemon{
		source:        source,
		recoverer:     recoverer,
		logger:        logger,
		checkInterval: checkInterval,
		cooldown:      cooldown,
		batchSize:     batchSize,
	}
}

// Summary returns a snapshot of the daemon's counters.
func (d *Daemon) Summary() Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.summary
}

// Run polls until ctx is canceled. It returns ctx.Err() on shutdown; task
// failures are recorded in the source, never returned.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	d.summary.StartedAt = time.Now()
	d.mu.Unlock()

	d.logger.Info("daemon started",
		"check_interval", d.checkInterval,
		"cooldown", d.cooldown,
		"batch_size", d.batchSize,
	)
	defer func() {
		s := d.Summary()
		d.logger.Info("daemon stopped",
			"processed", s.TasksProcessed,
			"complete", s.TasksComplete,
			"failed", s.TasksFailed,
		)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		d.logQueueStats(ctx)

		tasks, err := d.source.ListPending(ctx, d.batchSize)
		if err != nil {
			d.logger.Error("list pending tasks", "error", err)
			if err := sleep(ctx, d.checkInterval); err != nil {
				return err
			}
			continue
		}

		if len(tasks) == 0 {
			d.logger.Debug("no pending tasks", "next_check", d.checkInterval)
			if err := sleep(ctx, d.checkInterval); err != nil {
				return err
			}
			continue
		}

		for _, t := range tasks {
			if err := ctx.Err(); err != nil {
				return err
			}
			d.process(ctx, t)
			if err := sleep(ctx, d.cooldown); err != nil {
				return err
			}
		}
	}
}

// process runs one recovery invocation and records the outcome.
func (d *Daemon) process(ctx context.Context, t task.Task) {
	d.logger.Info("processing task", "id", t.ID, "asset", t.Identifier)
	started := time.Now()

	result := d.recoverer.Recover(ctx, t.Identifier, t.URL)

	status := task.StatusFailed
	if result.Complete {
		status = task.StatusComplete
	}
	detail := fmt.Sprintf("%s after %d rounds", result.Reason, result.RoundsUsed)
	if err := d.source.MarkResult(ctx, t.ID, status, detail); err != nil {
		d.logger.Error("record task result", "id", t.ID, "error", err)
	}

	d.mu.Lock()
	d.summary.TasksProcessed++
	if result.Complete {
		d.summary.TasksComplete++
	} else {
		d.summary.TasksFailed++
	}
	d.summary.LastIdentifier = t.Identifier
	d.summary.LastReason = string(result.Reason)
	d.mu.Unlock()

	d.logger.Info("task finished",
		"id", t.ID,
		"asset", t.Identifier,
		"status", status,
		"reason", result.Reason,
		"rounds", result.RoundsUsed,
		"duration", time.Since(started),
	)
}

func (d *Daemon) logQueueStats(ctx context.Context) {
	stats, err := d.source.Statistics(ctx)
	if err != nil {
		d.logger.Warn("queue statistics unavailable", "error", err)
		return
	}
	d.logger.Info("queue status",
		"pending", stats.Pending,
		"complete", stats.Complete,
		"failed", stats.Failed,
	)
}

// sleep waits for the duration or until ctx is canceled.
func sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

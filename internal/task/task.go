// Package task defines the recovery work queue: tasks pairing an asset
// identifier with a playlist URL, and the source they are pulled from.
package task

import "context"

// Status is the lifecycle state of a recovery task.
type Status int

const (
	// StatusPending means the task has not been recovered yet.
	StatusPending Status = 0
	// StatusComplete means a recovery invocation converged.
	StatusComplete Status = 1
	// StatusFailed means the last recovery invocation ended incomplete.
	StatusFailed Status = 2
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Task is one unit of recovery work.
type Task struct {
	ID         int64
	Identifier string
	URL        string
	Status     Status
	Detail     string
}

// Stats summarizes the queue by status.
type Stats struct {
	Pending  int `json:"pending"`
	Complete int `json:"complete"`
	Failed   int `json:"failed"`
}

// Total returns the number of tasks in the queue.
func (s Stats) Total() int { return s.Pending + s.Complete + s.Failed }

// Source is a task queue backend. The daemon only needs these three
// operations; anything else the backend offers stays behind the adapter.
type Source interface {
	// ListPending returns up to limit pending tasks, oldest first.
	ListPending(ctx context.Context, limit int) ([]Task, error)

	// MarkResult records the terminal status of a finished task. Detail
	// carries a short human-readable outcome summary.
	MarkResult(ctx context.Context, id int64, status Status, detail string) error

	// Statistics reports queue counts by status.
	Statistics(ctx context.Context) (Stats, error)
}

// ABOUTME: TaskStore interface and query types for the task journal
// ABOUTME: Implemented by SQLiteStore for production and MockStore for tests

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/anf-daemon/internal/task"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// RecoveredError is the error text written on tasks interrupted by a restart.
const RecoveredError = "daemon restarted before the task finished"

// TaskQuery filters ListTasks. Zero fields match everything.
type TaskQuery struct {
	AgentID string
	Status  task.Status
	Limit   int // most recent N when positive
}

// TaskStore persists task snapshots.
type TaskStore interface {
	// SaveTask inserts or advances the journal entry for t.ID. A snapshot
	// older in the lifecycle than the stored one is ignored.
	SaveTask(ctx context.Context, t task.Task) error
	GetTask(ctx context.Context, id string) (task.Task, error)
	// ListTasks returns matching entries in creation order.
	ListTasks(ctx context.Context, q TaskQuery) ([]task.Task, error)

	// RecoverTasks marks non-terminal entries as cancelled at time at.
	RecoverTasks(ctx context.Context, at time.Time) (int64, error)
	// PruneTasks deletes terminal entries completed before cutoff.
	PruneTasks(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

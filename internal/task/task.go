// ABOUTME: Task record and status state machine
// ABOUTME: Defines allowed transitions and deep-copy snapshots

package task

import (
	"maps"
	"time"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	}
	return false
}

// Task is one unit of submitted work.
type Task struct {
	ID          string            `json:"id"`
	AgentID     string            `json:"agent_id"`
	Type        string            `json:"task_type"`
	Prompt      string            `json:"prompt"`
	Context     map[string]string `json:"context,omitempty"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Result      string            `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`

	// Seq is the ledger-wide creation order.
	Seq uint64 `json:"seq"`
}

// Clone returns a deep copy of t.
func (t *Task) Clone() Task {
	c := *t
	c.Context = maps.Clone(t.Context)
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}

// Spec carries the caller-supplied fields of a new task.
type Spec struct {
	AgentID string
	Type    string
	Prompt  string
	Context map[string]string
}

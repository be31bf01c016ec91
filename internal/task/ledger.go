// ABOUTME: Ledger owns every task record and is the single choke point for status changes
// ABOUTME: Assigns unique ids and sequence numbers; reads return deep copies

package task

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTaskNotFound indicates no task exists with the given id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition indicates a status change outside the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTerminal indicates the task already reached a terminal status.
	ErrTerminal = errors.New("task already finished")

	// ErrDuplicateTask indicates a restored record collides with an existing id.
	ErrDuplicateTask = errors.New("task already exists")
)

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	AgentID string
	Status  Status
	Limit   int
}

// Ledger is the lifecycle store for submitted tasks.
type Ledger struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	seq   uint64
	now   func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates an empty Ledger.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		tasks: make(map[string]*Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Create stores a new queued task built from spec and returns a snapshot.
func (l *Ledger) Create(spec Spec) Task {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.New().String()
	for _, exists := l.tasks[id]; exists; _, exists = l.tasks[id] {
		id = uuid.New().String()
	}

	l.seq++
	t := &Task{
		ID:        id,
		AgentID:   spec.AgentID,
		Type:      spec.Type,
		Prompt:    spec.Prompt,
		Context:   spec.Context,
		Status:    StatusQueued,
		CreatedAt: l.now(),
		Seq:       l.seq,
	}
	if t.Context == nil {
		t.Context = map[string]string{}
	}
	snap := t.Clone()
	l.tasks[id] = t
	return snap
}

// Restore inserts a finished record, typically replayed from the journal.
// Only terminal records are accepted.
func (l *Ledger) Restore(t Task) error {
	if !t.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot restore %s task %s", ErrInvalidTransition, t.Status, t.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.tasks[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}
	c := t.Clone()
	if c.Seq > l.seq {
		l.seq = c.Seq
	}
	l.tasks[c.ID] = &c
	return nil
}

// Get returns a snapshot of the task.
func (l *Ledger) Get(id string) (Task, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	t, ok := l.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.Clone(), true
}

// TransitionOption sets outcome fields alongside a status change.
type TransitionOption func(*Task)

// WithResult records the executor's output.
func WithResult(result string) TransitionOption {
	return func(t *Task) { t.Result = result }
}

// WithError records a failure or cancellation reason.
func WithError(msg string) TransitionOption {
	return func(t *Task) { t.Error = msg }
}

// Transition moves a task to status to. It returns ErrTaskNotFound,
// ErrTerminal when the task already finished, or ErrInvalidTransition for
// any other move outside the lifecycle. On success it returns the updated
// snapshot.
func (l *Ledger) Transition(id string, to Status, opts ...TransitionOption) (Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status.IsTerminal() {
		return t.Clone(), fmt.Errorf("%w: %s is %s", ErrTerminal, id, t.Status)
	}
	if !CanTransition(t.Status, to) {
		return t.Clone(), fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	now := l.now()
	switch {
	case to == StatusRunning:
		start := latest(now, t.CreatedAt)
		t.StartedAt = &start
	case to.IsTerminal():
		floor := t.CreatedAt
		if t.StartedAt != nil {
			floor = *t.StartedAt
		}
		done := latest(now, floor)
		t.CompletedAt = &done
	}

	t.Status = to
	for _, opt := range opts {
		opt(t)
	}
	return t.Clone(), nil
}

// List returns snapshots matching f in creation order.
func (l *Ledger) List(f Filter) []Task {
	l.mu.RLock()
	out := make([]Task, 0, len(l.tasks))
	for _, t := range l.tasks {
		if f.AgentID != "" && t.AgentID != f.AgentID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t.Clone())
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Counts returns the number of tasks in each status.
func (l *Ledger) Counts() map[Status]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[Status]int)
	for _, t := range l.tasks {
		counts[t.Status]++
	}
	return counts
}

// Len returns the number of stored tasks.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tasks)
}

func latest(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}

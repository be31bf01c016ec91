// ABOUTME: Mock TaskStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/2389/anf-daemon/internal/task"
)

// MockStore is an in-memory TaskStore implementation for testing.
type MockStore struct {
	mu    sync.RWMutex
	tasks map[string]task.Task
	saves int

	// SaveErr, when set, is returned by every SaveTask call.
	SaveErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{tasks: make(map[string]task.Task)}
}

// SaveTask stores a copy of t unless it would move the entry backwards.
func (m *MockStore) SaveTask(ctx context.Context, t task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	if prev, ok := m.tasks[t.ID]; ok && rank(prev.Status) >= rank(t.Status) {
		return nil
	}
	m.tasks[t.ID] = t.Clone()
	m.saves++
	return nil
}

// GetTask retrieves a task by ID.
func (m *MockStore) GetTask(ctx context.Context, id string) (task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return task.Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

// ListTasks returns matching tasks ordered by Seq.
func (m *MockStore) ListTasks(ctx context.Context, q TaskQuery) ([]task.Task, error) {
	m.mu.RLock()
	var out []task.Task
	for _, t := range m.tasks {
		if q.AgentID != "" && t.AgentID != q.AgentID {
			continue
		}
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		out = append(out, t.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

// RecoverTasks cancels non-terminal tasks.
func (m *MockStore) RecoverTasks(ctx context.Context, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, t := range m.tasks {
		if t.Status.IsTerminal() {
			continue
		}
		ts := at
		t.Status = task.StatusCancelled
		t.CompletedAt = &ts
		t.Error = RecoveredError
		m.tasks[id] = t
		n++
	}
	return n, nil
}

// PruneTasks deletes terminal tasks completed before cutoff.
func (m *MockStore) PruneTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, t := range m.tasks {
		if t.Status.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
			n++
		}
	}
	return n, nil
}

// Saves returns how many successful SaveTask calls were made.
func (m *MockStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

var _ TaskStore = (*MockStore)(nil)

func rank(s task.Status) int {
	switch s {
	case task.StatusQueued:
		return 0
	case task.StatusRunning:
		return 1
	}
	return 2
}

// ABOUTME: Executor abstraction the dispatcher hands admitted tasks to
// ABOUTME: Provides the simulated executor and a function adapter

package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/anf-daemon/internal/task"
)

// Executor runs one task. It must return promptly once ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, t task.Task) (result string, err error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, t task.Task) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, t task.Task) (string, error) {
	return f(ctx, t)
}

// SimulatedExecutor stands in for real agent work: it waits Delay and
// reports success.
type SimulatedExecutor struct {
	Delay time.Duration
}

// Execute waits for Delay or until ctx is done.
func (s SimulatedExecutor) Execute(ctx context.Context, t task.Task) (string, error) {
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return fmt.Sprintf("task %s processed by %s", t.ID, t.AgentID), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

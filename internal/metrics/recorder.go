// ABOUTME: Recorder interface through which components report activity
// ABOUTME: Includes a no-op implementation used when metrics are disabled

package metrics

import "time"

// Recorder receives activity reports from the dispatcher, router and bridge.
type Recorder interface {
	// TaskSubmitted counts a task accepted into the ledger.
	TaskSubmitted(agentID string)
	// TaskStarted records how long an admitted task waited in the queue.
	TaskStarted(agentID string, wait time.Duration)
	// TaskFinished records a terminal transition and the time spent running.
	TaskFinished(agentID, status string, runtime time.Duration)
	// SetRunning reports the current number of running tasks for an agent.
	SetRunning(agentID string, n int)
	// SetQueueDepth reports the number of pending tasks.
	SetQueueDepth(n int)

	// RequestHandled counts a routed request; code is "ok" on success.
	RequestHandled(action, code string)
	// DelegationObserved records one forwarded request.
	DelegationObserved(action, outcome string, d time.Duration)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a recorder that discards everything.
func Nop() Recorder {
	return NoopRecorder{}
}

func (NoopRecorder) TaskSubmitted(string) {}
func (NoopRecorder) TaskStarted(string, time.Duration) {}
func (NoopRecorder) TaskFinished(string, string, time.Duration) {}
func (NoopRecorder) SetRunning(string, int) {}
func (NoopRecorder) SetQueueDepth(int) {}
func (NoopRecorder) RequestHandled(string, string) {}
func (NoopRecorder) DelegationObserved(string, string, time.Duration) {}

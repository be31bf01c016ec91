// Package dispatch admits queued tasks to execution under per-agent limits.
//
// # Admission
//
// Submitted tasks wait in a priority queue ordered by the agent's priority
// (highest first), then submission order, then task id. A background loop
// started with Run repeatedly scans that queue and starts every task whose
// agent still has a free slot; an agent never has more running tasks than
// its MaxConcurrentTasks. Tasks for an agent at capacity are skipped, not
// blocking tasks for other agents behind them.
//
// The loop sleeps until a submission or completion wakes it, or for at most
// PollInterval, so it never spins.
//
// # Execution
//
// Each admitted task runs in its own goroutine with a cancellable context,
// outside every lock. The Executor decides what running a task means; the
// daemon uses SimulatedExecutor, which only waits.
//
// # Cancellation
//
// Cancel removes a queued task immediately. For a running task it records
// the cancellation, frees the agent's slot and cancels the task's context;
// whatever the executor returns afterwards is discarded.
//
// # Side effects
//
// Every transition is published to the events broadcaster, written to the
// journal when one is configured, and reported to the metrics recorder.
package dispatch

// Package task defines submitted units of work and the Ledger that owns them.
//
// # Lifecycle
//
//	queued --admit--> running --ok--> completed
//	                          --err-> failed
//	queued  --cancel--> cancelled
//	running --cancel--> cancelled
//
// queued and running are the only non-terminal states. A record enters
// running at most once and reaches exactly one terminal state, after which it
// never changes.
//
// # Ledger
//
// The Ledger stores every Task by id. Ledger.Transition is the only way to
// change a task's status; it validates the move against the lifecycle above
// and stamps StartedAt/CompletedAt so that CreatedAt <= StartedAt <=
// CompletedAt always holds. Every read returns a deep copy.
//
// Each task also gets a ledger-wide sequence number at creation. Schedulers
// use it as the enqueue order, which stays total even when two tasks share a
// wall-clock timestamp.
package task

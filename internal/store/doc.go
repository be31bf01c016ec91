// Package store provides the task journal: a persistent history of task
// records that survives daemon restarts.
//
// # Architecture
//
// The dispatcher owns live task state in memory. Every status change it
// records is also written here through the TaskStore interface, so the
// journal always holds the latest snapshot of each task:
//
//   - SQLiteStore: the production journal on modernc.org/sqlite (cgo-free)
//   - MockStore: an in-memory TaskStore for tests
//
// # Recovery
//
// On startup the daemon calls RecoverTasks, which marks every task that was
// still queued or running when the previous process stopped as cancelled,
// then replays terminal records into the ledger. Work is never resumed
// across restarts.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode and a single connection:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as fixed-width RFC 3339 text in UTC; the task
// context map is stored as a JSON object.
//
// # Error Handling
//
//   - ErrNotFound: no journal entry for the requested task id
package store

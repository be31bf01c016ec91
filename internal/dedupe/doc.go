// Package dedupe makes task submission idempotent.
//
// Clients may attach a request_id to submit_task. The first submission
// carrying a given id creates a task; a retry with the same id inside the
// TTL window gets the original task id back instead of a second task.
//
// # Bounds
//
// The cache is bounded both in time (entries older than the TTL are ignored
// and periodically swept) and in size (the oldest entry is evicted when the
// cache is full). Both limits come from the dedupe section of the daemon
// configuration.
package dedupe

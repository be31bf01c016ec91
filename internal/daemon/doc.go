// Package daemon assembles the coordination daemon from its parts.
//
// A Daemon is an explicitly constructed context owning the agent registry,
// the task ledger, the dispatcher, the command router, the delegation
// bridge and the socket listener. Nothing is global, so tests can run
// several isolated daemons in one process.
//
// # Startup
//
// New loads the built-in catalog (a corrupt catalog is fatal), merges
// descriptor files from the custom agent directory, opens the task journal
// and replays its history into the ledger. Tasks the journal shows as queued
// or running belonged to a previous process; they are recorded as cancelled
// before replay.
//
// # Lifecycle
//
// Run binds the socket, starts the admission loop and, when enabled, the
// HTTP server for /health, /health/ready and metrics. When the context is
// cancelled the listener stops accepting and drains in-flight exchanges,
// then the dispatcher cancels running tasks, then the journal is closed.
package daemon

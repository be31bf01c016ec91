// Package events fans task lifecycle changes out to in-process listeners.
//
// Every ledger transition performed by the dispatcher is published as an
// Event. Subscribers pick a topic: a single task id, or TopicAll to see
// every task. The router's wait_task action subscribes to one task id and
// returns as soon as that task reaches a terminal status.
//
// # Delivery
//
// Publish never blocks. Each subscriber owns a buffered channel and events
// are dropped for subscribers whose buffer is full. Subscriptions end when
// their context is cancelled, on Unsubscribe, or on Close; in every case the
// channel is closed.
package events

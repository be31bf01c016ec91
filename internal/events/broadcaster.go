// ABOUTME: In-memory fan-out of task lifecycle events keyed by task id
// ABOUTME: Non-blocking publish; slow subscribers lose events instead of stalling the dispatcher

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/anf-daemon/internal/task"
)

const (
	// TopicAll receives every published event regardless of task id.
	TopicAll = "*"

	subscriberBufferSize = 64
)

// Event is a snapshot of a task taken right after a status change.
type Event struct {
	Task task.Task
	At   time.Time
}

// Terminal reports whether the event ends the task's lifecycle.
func (e Event) Terminal() bool { return e.Task.Status.IsTerminal() }

// Broadcaster is an in-process pub/sub for task events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // topic -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers for events on topic (a task id or TopicAll). The
// subscription is removed and the channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, topic string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan Event)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish delivers ev to subscribers of its task id and of TopicAll.
func (b *Broadcaster) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	// Sends are non-blocking, so holding the read lock keeps Unsubscribe
	// from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, topic := range [2]string{ev.Task.ID, TopicAll} {
		for _, ch := range b.subscribers[topic] {
			select {
			case ch <- ev:
			default:
				b.logger.Debug("dropped event for slow subscriber",
					"topic", topic,
					"task_id", ev.Task.ID,
					"status", ev.Task.Status)
			}
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Broadcaster) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Close closes every subscriber channel. Later subscriptions are closed immediately.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}

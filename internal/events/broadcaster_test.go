// ABOUTME: Tests for the task event broadcaster
// ABOUTME: Covers topic routing, TopicAll, slow consumers, cancellation and Close

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/anf-daemon/internal/task"
)

func makeEvent(taskID string, status task.Status) Event {
	return Event{Task: task.Task{ID: taskID, AgentID: "agent-1", Status: status}}
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func assertSilent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for %s", ev.Task.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_TaskTopic(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	mine, _ := b.Subscribe(t.Context(), "task-1")
	other, _ := b.Subscribe(t.Context(), "task-2")

	b.Publish(makeEvent("task-1", task.StatusRunning))

	ev := receive(t, mine)
	assert.Equal(t, "task-1", ev.Task.ID)
	assert.False(t, ev.At.IsZero(), "publish stamps the event time")
	assert.False(t, ev.Terminal())
	assertSilent(t, other)
}

func TestBroadcaster_TopicAllSeesEverything(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	all, _ := b.Subscribe(t.Context(), TopicAll)

	b.Publish(makeEvent("task-1", task.StatusRunning))
	b.Publish(makeEvent("task-2", task.StatusCompleted))

	assert.Equal(t, "task-1", receive(t, all).Task.ID)
	last := receive(t, all)
	assert.Equal(t, "task-2", last.Task.ID)
	assert.True(t, last.Terminal())
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, _ = b.Subscribe(t.Context(), TopicAll) // never drained
	fast, _ := b.Subscribe(t.Context(), "task-1")

	done := make(chan struct{})
	go func() {
		for range 3 * subscriberBufferSize {
			b.Publish(makeEvent("task-1", task.StatusRunning))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	assert.Equal(t, "task-1", receive(t, fast).Task.ID)
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "task-1")
	assert.Equal(t, 1, b.Subscribers("task-1"))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
	assert.Equal(t, 0, b.Subscribers("task-1"))
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "task-1")
	b.Unsubscribe("task-1", subID)
	b.Unsubscribe("task-1", subID)

	_, ok := <-ch
	assert.False(t, ok)

	b.Publish(makeEvent("task-1", task.StatusCompleted))
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(t.Context(), "task-1")
	ch2, _ := b.Subscribe(t.Context(), TopicAll)

	b.Close()

	for i, ch := range []<-chan Event{ch1, ch2} {
		_, ok := <-ch
		assert.False(t, ok, "channel %d should be closed", i)
	}

	late, _ := b.Subscribe(t.Context(), "task-1")
	_, ok := <-late
	assert.False(t, ok, "subscribing after Close yields a closed channel")
}

func TestBroadcaster_ConcurrentPublishUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			ctx, cancel := context.WithCancel(t.Context())
			ch, _ := b.Subscribe(ctx, "task-1")
			select {
			case <-ch:
			case <-time.After(20 * time.Millisecond):
			}
			cancel()
		})
	}
	wg.Go(func() {
		for range 500 {
			b.Publish(makeEvent("task-1", task.StatusRunning))
		}
	})
	wg.Wait()
}

// ABOUTME: Tests for the command router over a real registry and dispatcher
// ABOUTME: Uses a fake delegator to simulate healthy, unreachable and broken peers

package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/anf-daemon/internal/bridge"
	"github.com/2389/anf-daemon/internal/dedupe"
	"github.com/2389/anf-daemon/internal/dispatch"
	"github.com/2389/anf-daemon/internal/events"
	"github.com/2389/anf-daemon/internal/protocol"
	"github.com/2389/anf-daemon/internal/registry"
	"github.com/2389/anf-daemon/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type forwardCall struct {
	action string
	params map[string]any
}

type fakeDelegator struct {
	mu    sync.Mutex
	calls []forwardCall
	resp  protocol.Response
	err   error
	panic bool
}

func (f *fakeDelegator) Forward(_ context.Context, action string, params map[string]any) (protocol.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panic {
		panic("peer exploded")
	}
	f.calls = append(f.calls, forwardCall{action: action, params: params})
	return f.resp, f.err
}

func (f *fakeDelegator) Calls() []forwardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]forwardCall(nil), f.calls...)
}

type harness struct {
	router     *Router
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	ledger     *task.Ledger
	delegator  *fakeDelegator
	release    chan struct{}
}

// newHarness builds a router whose executor blocks until release is closed.
func newHarness(t *testing.T) *harness {
	t.Helper()

	reg := registry.New(testLogger())
	require.NoError(t, reg.Load(
		registry.BuiltinSource(),
		registry.StaticSource{Label: "test", Agents: []registry.AgentDescriptor{
			{ID: "a1", Name: "A1", Type: "test", MaxConcurrentTasks: 1, Priority: 5},
		}},
	))

	release := make(chan struct{})
	ledger := task.NewLedger()
	bus := events.NewBroadcaster(testLogger())
	t.Cleanup(bus.Close)

	d, err := dispatch.New(dispatch.Config{
		Agents: reg,
		Ledger: ledger,
		Executor: dispatch.ExecutorFunc(func(ctx context.Context, tk task.Task) (string, error) {
			select {
			case <-release:
				return "done: " + tk.Prompt, nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}),
		PollInterval: 10 * time.Millisecond,
		Events:       bus,
		Logger:       testLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	cache := dedupe.New(time.Minute, 100)
	t.Cleanup(cache.Close)

	del := &fakeDelegator{resp: protocol.Success(map[string]any{"swarm_id": "swarm_1"})}
	r, err := New(Config{
		Agents:    reg,
		Tasks:     d,
		Delegator: del,
		Dedupe:    cache,
		Events:    bus,
		Logger:    testLogger(),
	})
	require.NoError(t, err)

	return &harness{router: r, registry: reg, dispatcher: d, ledger: ledger, delegator: del, release: release}
}

func (h *harness) call(t *testing.T, action string, params map[string]any) protocol.Response {
	t.Helper()
	resp := h.router.Handle(context.Background(), protocol.Request{Action: action, Params: params})
	require.NotNil(t, resp)
	require.True(t, resp.WellFormed(), "response %v", resp)
	return resp
}

func (h *harness) raw(t *testing.T, line string) protocol.Response {
	t.Helper()
	resp := h.router.HandleRaw(context.Background(), []byte(line))
	require.NotNil(t, resp)
	require.True(t, resp.WellFormed(), "response %v", resp)
	return resp
}

func TestSpawnAgent(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "spawn_agent", map[string]any{"agent_id": "rust-pro"})
	assert.True(t, resp.OK())
	assert.Equal(t, "rust-pro", resp["agent_id"])
	assert.Equal(t, "Agent rust-pro spawned successfully", resp["message"])

	resp = h.call(t, "spawn_agent", map[string]any{"agent_id": "ghost"})
	assert.Equal(t, protocol.CodeInvalidAgent, resp.Code())

	resp = h.call(t, "spawn_agent", nil)
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Code())

	resp = h.call(t, "spawn_agent", map[string]any{"agent_id": 42})
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Code())
}

func TestLegacySpawnMatchesStructured(t *testing.T) {
	h := newHarness(t)

	structured := h.call(t, "spawn_agent", map[string]any{"agent_id": "coder"})
	legacy := h.raw(t, `"spawn:coder"`)
	bare := h.raw(t, `spawn:coder`)

	assert.Equal(t, structured["agent_id"], legacy["agent_id"])
	assert.Equal(t, structured["message"], legacy["message"])
	assert.Equal(t, structured["message"], bare["message"])
}

func TestListAgents(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "list_agents", nil)
	require.True(t, resp.OK())
	assert.Equal(t, 6, resp["total"])
	assert.Nil(t, resp["filtered_by"])
	agents := resp["agents"].([]registry.AgentDescriptor)
	assert.Equal(t, "performance-optimizer", agents[0].ID, "highest priority first")

	resp = h.raw(t, "list:sparc")
	require.True(t, resp.OK())
	assert.Equal(t, 2, resp["total"])
	assert.Equal(t, "sparc", resp["filtered_by"])
}

func TestListAgents_ByCapability(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "list_agents", map[string]any{"capability": "performance"})
	require.True(t, resp.OK())
	assert.Equal(t, 2, resp["total"])
	assert.Equal(t, "performance", resp["capability"])
	agents := resp["agents"].([]registry.AgentDescriptor)
	assert.Equal(t, "performance-optimizer", agents[0].ID)
	assert.Equal(t, "rust-pro", agents[1].ID)

	resp = h.call(t, "list_agents", map[string]any{"category": "optimization", "capability": "rust"})
	require.True(t, resp.OK())
	assert.Equal(t, 0, resp["total"])
}

func TestAgentStatus(t *testing.T) {
	h := newHarness(t)

	submit := h.call(t, "submit_task", map[string]any{"agent_id": "a1", "prompt": "one"})
	require.True(t, submit.OK())
	h.call(t, "submit_task", map[string]any{"agent_id": "a1", "prompt": "two"})

	require.Eventually(t, func() bool { return h.dispatcher.Running("a1") == 1 }, time.Second, 5*time.Millisecond)

	resp := h.call(t, "agent_status", map[string]any{"agent_id": "a1"})
	require.True(t, resp.OK())
	assert.Equal(t, 1, resp["running"])
	assert.Equal(t, 1, resp["queued"])
	assert.Equal(t, 1, resp["max_concurrent_tasks"])
	assert.Equal(t, "saturated", resp["state"])

	resp = h.call(t, "agent_status", map[string]any{"agent_id": "ghost"})
	assert.Equal(t, protocol.CodeInvalidAgent, resp.Code())
}

func TestRegisterAgent(t *testing.T) {
	h := newHarness(t)

	resp := h.raw(t, `{"action":"register_agent","params":{"agent":{"id":"tester","type":"qa","max_concurrent_tasks":2,"priority":3}}}`)
	require.True(t, resp.OK(), "%v", resp)

	got, ok := h.registry.Get("tester")
	require.True(t, ok)
	assert.Equal(t, 2, got.MaxConcurrentTasks)
	assert.Equal(t, registry.SourceCustom, got.Source)

	resp = h.call(t, "spawn_agent", map[string]any{"agent_id": "tester"})
	assert.True(t, resp.OK())

	resp = h.call(t, "register_agent", map[string]any{"agent": map[string]any{"id": "bad", "max_concurrent_tasks": 0}})
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Code())

	resp = h.call(t, "register_agent", map[string]any{"agent": "nope"})
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Code())
}

func TestSubmitTask_UnknownAgentLeavesNoTrace(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "submit_task", map[string]any{"agent_id": "ghost", "prompt": "hi"})
	assert.Equal(t, protocol.CodeInvalidAgent, resp.Code())
	assert.Equal(t, 0, h.ledger.Len())
}

func TestSubmitTask_Validation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		params map[string]any
	}{
		{"missing prompt", map[string]any{"agent_id": "a1"}},
		{"missing agent", map[string]any{"prompt": "hi"}},
		{"non-string prompt", map[string]any{"agent_id": "a1", "prompt": []any{"x"}}},
		{"nested context", map[string]any{"agent_id": "a1", "prompt": "hi", "context": map[string]any{"k": map[string]any{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.call(t, "submit_task", tt.params)
			assert.Equal(t, protocol.CodeInvalidRequest, resp.Code())
		})
	}
	assert.Equal(t, 0, h.ledger.Len())
}

func TestSubmitStatusWait(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "submit_task", map[string]any{
		"agent_id": "coder",
		"prompt":   "write tests",
		"context":  map[string]any{"repo": "anf", "attempt": 2},
	})
	require.True(t, resp.OK())
	id := resp["task_id"].(string)
	assert.Equal(t, task.StatusQueued, resp["status"])

	status := h.call(t, "task_status", map[string]any{"task_id": id})
	require.True(t, status.OK())
	tk := status["task"].(task.Task)
	assert.Equal(t, "general", tk.Type)
	assert.Equal(t, map[string]string{"repo": "anf", "attempt": "2"}, tk.Context)

	close(h.release)
	waited := h.call(t, "wait_task", map[string]any{"task_id": id, "timeout_ms": 2000})
	require.True(t, waited.OK())
	assert.Equal(t, true, waited["done"])
	final := waited["task"].(task.Task)
	assert.Equal(t, task.StatusCompleted, final.Status)
	assert.Equal(t, "done: write tests", final.Result)
}

func TestWaitTask_TimesOut(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "submit_task", map[string]any{"agent_id": "a1", "prompt": "slow"})
	id := resp["task_id"].(string)

	start := time.Now()
	waited := h.call(t, "wait_task", map[string]any{"task_id": id, "timeout_ms": 50})
	require.True(t, waited.OK())
	assert.Equal(t, false, waited["done"])
	assert.Less(t, time.Since(start), time.Second)

	missing := h.call(t, "wait_task", map[string]any{"task_id": "nope", "timeout_ms": 10})
	assert.Equal(t, protocol.CodeTaskNotFound, missing.Code())
}

func TestWaitTask_HugeTimeoutIsCapped(t *testing.T) {
	h := newHarness(t)
	h.router.maxWait = 100 * time.Millisecond

	resp := h.call(t, "submit_task", map[string]any{"agent_id": "a1", "prompt": "slow"})
	id := resp["task_id"].(string)

	// Large enough that converting it to a Duration would overflow.
	start := time.Now()
	waited := h.call(t, "wait_task", map[string]any{"task_id": id, "timeout_ms": 10_000_000_000_000})
	elapsed := time.Since(start)
	require.True(t, waited.OK())
	assert.Equal(t, false, waited["done"])
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond, "must wait instead of returning at once")
	assert.Less(t, elapsed, 2*time.Second)

	huge := h.call(t, "wait_task", map[string]any{"task_id": id, "timeout_ms": 1e300})
	assert.Equal(t, protocol.CodeInvalidRequest, huge.Code())
}

func TestSubmitTask_PromptKeptVerbatim(t *testing.T) {
	h := newHarness(t)
	prompt := "  indented\n    code block\n\n"

	resp := h.call(t, "submit_task", map[string]any{"agent_id": "a1", "prompt": prompt})
	require.True(t, resp.OK())

	status := h.call(t, "task_status", map[string]any{"task_id": resp["task_id"]})
	require.True(t, status.OK())
	assert.Equal(t, prompt, status["task"].(task.Task).Prompt)

	blank := h.call(t, "submit_task", map[string]any{"agent_id": "a1", "prompt": "  \n\t"})
	assert.Equal(t, protocol.CodeInvalidRequest, blank.Code())
}

func TestTaskStatusAndCancel_NotFound(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, protocol.CodeTaskNotFound, h.call(t, "task_status", map[string]any{"task_id": "nope"}).Code())
	assert.Equal(t, protocol.CodeTaskNotFound, h.call(t, "cancel_task", map[string]any{"task_id": "nope"}).Code())
	assert.Equal(t, protocol.CodeInvalidRequest, h.call(t, "cancel_task", nil).Code())
}

func TestCancelTask_Idempotent(t *testing.T) {
	h := newHarness(t)

	first := h.call(t, "submit_task", map[string]any{"agent_id": "a1", "prompt": "one"})
	second := h.call(t, "submit_task", map[string]any{"agent_id": "a1", "prompt": "two"})
	queuedID := second["task_id"].(string)
	require.Eventually(t, func() bool { return h.dispatcher.Running("a1") == 1 }, time.Second, 5*time.Millisecond)

	resp := h.call(t, "cancel_task", map[string]any{"task_id": queuedID})
	require.True(t, resp.OK())
	assert.Equal(t, true, resp["cancelled"])
	assert.Equal(t, task.StatusCancelled, resp["task"].(task.Task).Status)

	again := h.call(t, "cancel_task", map[string]any{"task_id": queuedID})
	require.True(t, again.OK(), "cancelling a finished task is a no-op")
	assert.Equal(t, task.StatusCancelled, again["task"].(task.Task).Status)

	running := h.call(t, "cancel_task", map[string]any{"task_id": first["task_id"]})
	require.True(t, running.OK())
	assert.Equal(t, 0, h.dispatcher.Running("a1"))
}

func TestSubmitTask_RequestIDDeduplicates(t *testing.T) {
	h := newHarness(t)
	params := map[string]any{"agent_id": "coder", "prompt": "once", "request_id": "req-1"}

	first := h.call(t, "submit_task", params)
	second := h.call(t, "submit_task", params)
	require.True(t, first.OK())
	require.True(t, second.OK())

	assert.Equal(t, first["task_id"], second["task_id"])
	assert.Equal(t, false, first["deduplicated"])
	assert.Equal(t, true, second["deduplicated"])
	assert.Equal(t, 1, h.ledger.Len())

	other := h.call(t, "submit_task", map[string]any{"agent_id": "coder", "prompt": "once", "request_id": "req-2"})
	assert.NotEqual(t, first["task_id"], other["task_id"])
}

func TestSubmitTask_RequestIDConcurrent(t *testing.T) {
	h := newHarness(t)

	const n = 16
	ids := make(chan any, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := h.router.Handle(context.Background(), protocol.Request{
				Action: "submit_task",
				Params: map[string]any{"agent_id": "coder", "prompt": "p", "request_id": "same"},
			})
			ids <- resp["task_id"]
		}()
	}
	wg.Wait()
	close(ids)

	var first any
	for id := range ids {
		if first == nil {
			first = id
		}
		assert.Equal(t, first, id)
	}
	assert.Equal(t, 1, h.ledger.Len())
}

func TestLegacyAsk(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		line       string
		wantAgent  string
		wantPrompt string
	}{
		{"ask:how do I sort a slice", DefaultAgent, "how do I sort a slice"},
		{"ask:reviewer:check my diff", "reviewer", "check my diff"},
		{"ask:time is 10:30", DefaultAgent, "time is 10:30"},
		{`"ask:rust-pro: borrow checker help"`, "rust-pro", "borrow checker help"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			resp := h.raw(t, tt.line)
			require.True(t, resp.OK(), "%v", resp)
			tk, ok := h.dispatcher.Status(resp["task_id"].(string))
			require.True(t, ok)
			assert.Equal(t, tt.wantAgent, tk.AgentID)
			assert.Equal(t, tt.wantPrompt, tk.Prompt)
			assert.Equal(t, "ask", tk.Type)
		})
	}

	assert.Equal(t, protocol.CodeInvalidRequest, h.raw(t, "ask:").Code())
}

func TestListTasks(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 3; i++ {
		h.call(t, "submit_task", map[string]any{"agent_id": "a1", "prompt": fmt.Sprint(i)})
	}
	h.call(t, "submit_task", map[string]any{"agent_id": "coder", "prompt": "x"})

	resp := h.call(t, "list_tasks", map[string]any{"agent_id": "a1"})
	require.True(t, resp.OK())
	assert.Equal(t, 3, resp["total"])

	resp = h.call(t, "list_tasks", map[string]any{"limit": 2})
	assert.Equal(t, 2, resp["total"])

	assert.Equal(t, protocol.CodeInvalidRequest, h.call(t, "list_tasks", map[string]any{"status": "zombie"}).Code())
	assert.Equal(t, protocol.CodeInvalidRequest, h.call(t, "list_tasks", map[string]any{"limit": -1}).Code())
}

func TestRemoteActions_ForwardedVerbatim(t *testing.T) {
	h := newHarness(t)

	params := map[string]any{"topology": "mesh", "agents": []any{"coder"}}
	resp := h.call(t, "swarm_create", params)
	require.True(t, resp.OK())
	assert.Equal(t, "swarm_1", resp["swarm_id"])

	calls := h.delegator.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "swarm_create", calls[0].action)
	assert.Equal(t, params, calls[0].params)
}

func TestRemoteActions_PeerErrorEnvelopeUnmodified(t *testing.T) {
	h := newHarness(t)
	h.delegator.resp = protocol.Response{"error": "Hive not initialized"}

	resp := h.call(t, "hive_decide", map[string]any{"question": "q"})
	assert.Equal(t, protocol.Response{"error": "Hive not initialized"}, resp)
}

func TestRemoteActions_PeerDownLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	h.delegator.err = fmt.Errorf("%w: dial unix /tmp/x.sock: no such file", bridge.ErrPeerUnreachable)
	agentsBefore := h.registry.Len()

	resp := h.call(t, "hive_init", map[string]any{"topology": "hierarchical"})
	assert.Equal(t, protocol.CodePeerUnreachable, resp.Code())
	assert.Equal(t, agentsBefore, h.registry.Len())
	assert.Equal(t, 0, h.ledger.Len())
}

func TestRemoteActions_PeerProtocolError(t *testing.T) {
	h := newHarness(t)
	h.delegator.err = fmt.Errorf("%w: reply has neither success nor error", bridge.ErrPeerProtocolError)

	resp := h.call(t, "collaborate", nil)
	assert.Equal(t, protocol.CodePeerProtocolError, resp.Code())
}

func TestRemoteActions_NoDelegator(t *testing.T) {
	h := newHarness(t)
	r, err := New(Config{Agents: h.registry, Tasks: h.dispatcher, Logger: testLogger()})
	require.NoError(t, err)

	resp := r.Handle(context.Background(), protocol.Request{Action: "swarm_list"})
	assert.Equal(t, protocol.CodePeerUnreachable, resp.Code())
}

func TestUnknownAndMalformed(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		line string
		code protocol.Code
	}{
		{`{"action":"agent_list","params":{}}`, protocol.CodeUnknownCommand},
		{`{"action":"launch_missiles"}`, protocol.CodeUnknownCommand},
		{`dance:now`, protocol.CodeUnknownCommand},
		{`{"action":`, protocol.CodeInvalidRequest},
		{`{"params":{}}`, protocol.CodeInvalidRequest},
		{`[]`, protocol.CodeInvalidRequest},
		{`   `, protocol.CodeInvalidRequest},
		{`:arg`, protocol.CodeInvalidRequest},
		{`spawn:`, protocol.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.code, h.raw(t, tt.line).Code())
		})
	}
	assert.Empty(t, h.delegator.Calls(), "only listed actions are delegated")
}

func TestUnknownActionMessage(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "frobnicate", nil)
	assert.Equal(t, "Unknown action: frobnicate", resp.Error())
}

func TestPanicBecomesInternalError(t *testing.T) {
	h := newHarness(t)
	h.delegator.panic = true

	resp := h.call(t, "swarm_status", nil)
	assert.Equal(t, protocol.CodeInternal, resp.Code())

	h.delegator.panic = false
	assert.True(t, h.call(t, "ping", nil).OK(), "router keeps serving after a panic")
}

func TestNew_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := New(Config{Tasks: h.dispatcher})
	assert.Error(t, err)

	_, err = New(Config{Agents: h.registry})
	assert.Error(t, err)

	_, err = New(Config{Agents: h.registry, Tasks: h.dispatcher, RemoteActions: []string{"submit_task"}})
	assert.Error(t, err)
}

func TestIsRemote(t *testing.T) {
	h := newHarness(t)

	for _, action := range bridge.RemoteActions {
		assert.True(t, h.router.IsRemote(action), action)
	}
	assert.False(t, h.router.IsRemote("submit_task"))
	assert.False(t, h.router.IsRemote("agent_info"))
}

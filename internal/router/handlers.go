// ABOUTME: Local action handlers backed by the agent registry and the dispatcher
// ABOUTME: Each handler validates params and returns a payload or a sentinel-wrapped error

package router

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/2389/anf-daemon/internal/events"
	"github.com/2389/anf-daemon/internal/protocol"
	"github.com/2389/anf-daemon/internal/registry"
	"github.com/2389/anf-daemon/internal/task"
)

const (
	defaultWait  = 30 * time.Second
	waitRecheck  = 250 * time.Millisecond
	maxListLimit = 1000
)

func (r *Router) spawnAgent(_ context.Context, req protocol.Request) (protocol.Response, error) {
	agentID, err := req.RequiredString("agent_id")
	if err != nil {
		return nil, err
	}
	desc, ok := r.agents.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: agent %s not found", registry.ErrAgentNotFound, agentID)
	}

	r.logger.Info("spawning agent", "agent_id", desc.ID, "name", desc.Name)
	return protocol.Success(map[string]any{
		"agent_id": desc.ID,
		"agent":    desc,
		"message":  fmt.Sprintf("Agent %s spawned successfully", desc.ID),
	}), nil
}

func (r *Router) listAgents(_ context.Context, req protocol.Request) (protocol.Response, error) {
	category, err := req.OptionalString("category")
	if err != nil {
		return nil, err
	}
	capability, err := req.OptionalString("capability")
	if err != nil {
		return nil, err
	}

	agents := r.agents.List(category)
	if capability != "" {
		agents = slices.DeleteFunc(agents, func(d registry.AgentDescriptor) bool {
			return !d.HasCapability(capability)
		})
	}
	var filteredBy any
	if category != "" {
		filteredBy = category
	}
	resp := protocol.Success(map[string]any{
		"agents":      agents,
		"total":       len(agents),
		"filtered_by": filteredBy,
	})
	if capability != "" {
		resp["capability"] = capability
	}
	return resp, nil
}

func (r *Router) agentStatus(_ context.Context, req protocol.Request) (protocol.Response, error) {
	agentID, err := req.RequiredString("agent_id")
	if err != nil {
		return nil, err
	}
	desc, ok := r.agents.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: agent %s not found", registry.ErrAgentNotFound, agentID)
	}

	running := r.tasks.Running(agentID)
	state := "idle"
	switch {
	case running >= desc.MaxConcurrentTasks:
		state = "saturated"
	case running > 0:
		state = "busy"
	}
	return protocol.Success(map[string]any{
		"agent":                desc,
		"state":                state,
		"running":              running,
		"queued":               r.tasks.Queued(agentID),
		"max_concurrent_tasks": desc.MaxConcurrentTasks,
	}), nil
}

func (r *Router) registerAgent(_ context.Context, req protocol.Request) (protocol.Response, error) {
	raw, ok := req.Params["agent"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: parameter \"agent\" must be an object", protocol.ErrInvalidRequest)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidRequest, err)
	}
	var desc registry.AgentDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("%w: agent: %v", protocol.ErrInvalidRequest, err)
	}

	stored, err := r.agents.Register(desc)
	if err != nil {
		return nil, err
	}
	return protocol.Success(map[string]any{
		"agent":   stored,
		"message": fmt.Sprintf("Agent %s registered", stored.ID),
	}), nil
}

func (r *Router) submitTask(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	agentID, err := req.OptionalString("agent_id")
	if err != nil {
		return nil, err
	}
	prompt, err := req.RequiredText("prompt")
	if err != nil {
		return nil, err
	}
	if req.Legacy && agentID == "" {
		agentID, prompt = r.resolveAsk(prompt)
	}
	if agentID == "" {
		return nil, fmt.Errorf("%w: missing required parameter %q", protocol.ErrInvalidRequest, "agent_id")
	}
	taskType, err := req.OptionalString("task_type")
	if err != nil {
		return nil, err
	}
	if taskType == "" {
		taskType = defaultTaskType
	}
	taskCtx, err := req.StringMap("context")
	if err != nil {
		return nil, err
	}
	requestID, err := req.OptionalString("request_id")
	if err != nil {
		return nil, err
	}

	spec := task.Spec{AgentID: agentID, Type: taskType, Prompt: prompt, Context: taskCtx}

	if requestID == "" || r.dedupe == nil {
		t, err := r.tasks.Submit(ctx, spec)
		if err != nil {
			return nil, err
		}
		return submitted(t, false), nil
	}

	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	if id, ok := r.dedupe.Lookup(requestID); ok {
		if t, ok := r.tasks.Status(id); ok {
			r.logger.Debug("duplicate submit", "request_id", requestID, "task_id", id)
			return submitted(t, true), nil
		}
		r.dedupe.Forget(requestID)
	}

	t, err := r.tasks.Submit(ctx, spec)
	if err != nil {
		return nil, err
	}
	r.dedupe.Store(requestID, t.ID)
	return submitted(t, false), nil
}

func submitted(t task.Task, duplicate bool) protocol.Response {
	return protocol.Success(map[string]any{
		"task_id":      t.ID,
		"agent_id":     t.AgentID,
		"status":       t.Status,
		"deduplicated": duplicate,
	})
}

func (r *Router) taskStatus(_ context.Context, req protocol.Request) (protocol.Response, error) {
	id, err := req.RequiredString("task_id")
	if err != nil {
		return nil, err
	}
	t, ok := r.tasks.Status(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	return protocol.Success(map[string]any{"task": t}), nil
}

func (r *Router) cancelTask(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	id, err := req.RequiredString("task_id")
	if err != nil {
		return nil, err
	}
	t, err := r.tasks.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	return protocol.Success(map[string]any{
		"task":      t,
		"cancelled": t.Status == task.StatusCancelled,
	}), nil
}

func (r *Router) listTasks(_ context.Context, req protocol.Request) (protocol.Response, error) {
	agentID, err := req.OptionalString("agent_id")
	if err != nil {
		return nil, err
	}
	status, err := req.OptionalString("status")
	if err != nil {
		return nil, err
	}
	if status != "" && !task.Status(status).Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", protocol.ErrInvalidRequest, status)
	}
	limit, err := req.OptionalInt("limit", 0)
	if err != nil {
		return nil, err
	}
	if limit < 0 || limit > maxListLimit {
		return nil, fmt.Errorf("%w: limit must be between 0 and %d", protocol.ErrInvalidRequest, maxListLimit)
	}

	tasks := r.tasks.List(task.Filter{AgentID: agentID, Status: task.Status(status), Limit: limit})
	return protocol.Success(map[string]any{
		"tasks": tasks,
		"total": len(tasks),
	}), nil
}

// waitTask blocks until the task is terminal or the timeout elapses. The
// subscription is taken before the first status read so a transition in
// between is not missed.
func (r *Router) waitTask(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	id, err := req.RequiredString("task_id")
	if err != nil {
		return nil, err
	}
	ms, err := req.OptionalInt("timeout_ms", int(defaultWait/time.Millisecond))
	if err != nil {
		return nil, err
	}
	if ms < 0 {
		return nil, fmt.Errorf("%w: timeout_ms must not be negative", protocol.ErrInvalidRequest)
	}
	timeout := r.maxWait
	if int64(ms) < int64(r.maxWait/time.Millisecond) {
		timeout = time.Duration(ms) * time.Millisecond
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var updates <-chan events.Event
	if r.events != nil {
		updates, _ = r.events.Subscribe(wctx, id)
	}

	t, ok := r.tasks.Status(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}

	recheck := time.NewTicker(waitRecheck)
	defer recheck.Stop()

	for !t.Status.IsTerminal() {
		select {
		case _, open := <-updates:
			if !open {
				updates = nil
			}
		case <-recheck.C:
		case <-wctx.Done():
			t, _ = r.tasks.Status(id)
			return waited(t), nil
		}
		t, _ = r.tasks.Status(id)
	}
	return waited(t), nil
}

func waited(t task.Task) protocol.Response {
	return protocol.Success(map[string]any{
		"task": t,
		"done": t.Status.IsTerminal(),
	})
}

func (r *Router) ping(_ context.Context, _ protocol.Request) (protocol.Response, error) {
	return protocol.Success(map[string]any{
		"pong": true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	}), nil
}

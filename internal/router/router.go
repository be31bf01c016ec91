// ABOUTME: Command router: normalises requests, dispatches local handlers, delegates remote actions
// ABOUTME: Converts every handler error into a coded error envelope

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/anf-daemon/internal/bridge"
	"github.com/2389/anf-daemon/internal/dedupe"
	"github.com/2389/anf-daemon/internal/dispatch"
	"github.com/2389/anf-daemon/internal/events"
	"github.com/2389/anf-daemon/internal/metrics"
	"github.com/2389/anf-daemon/internal/protocol"
	"github.com/2389/anf-daemon/internal/registry"
	"github.com/2389/anf-daemon/internal/task"
)

const (
	// DefaultAgent receives legacy ask commands that do not name an agent.
	DefaultAgent = "coder"

	// DefaultMaxWait caps wait_task timeouts.
	DefaultMaxWait = 5 * time.Minute

	defaultTaskType = "general"
)

// Agents is the registry surface the router needs. *registry.Registry satisfies it.
type Agents interface {
	Get(id string) (registry.AgentDescriptor, bool)
	List(category string) []registry.AgentDescriptor
	Register(d registry.AgentDescriptor) (registry.AgentDescriptor, error)
}

// Tasks is the dispatcher surface the router needs. *dispatch.Dispatcher satisfies it.
type Tasks interface {
	Submit(ctx context.Context, spec task.Spec) (task.Task, error)
	Cancel(ctx context.Context, id string) (task.Task, error)
	Status(id string) (task.Task, bool)
	List(f task.Filter) []task.Task
	Running(agentID string) int
	Queued(agentID string) int
}

// Delegator forwards remote actions. *bridge.Bridge satisfies it.
type Delegator interface {
	Forward(ctx context.Context, action string, params map[string]any) (protocol.Response, error)
}

// Subscriber streams task events. *events.Broadcaster satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan events.Event, string)
}

// Config holds the router's collaborators.
type Config struct {
	Agents    Agents
	Tasks     Tasks
	Delegator Delegator

	// Optional.
	Dedupe        *dedupe.Cache
	Events        Subscriber
	Metrics       metrics.Recorder
	Logger        *slog.Logger
	DefaultAgent  string
	RemoteActions []string
	MaxWait       time.Duration
}

type handlerFunc func(ctx context.Context, req protocol.Request) (protocol.Response, error)

// Router handles one request at a time; it is safe for concurrent use.
type Router struct {
	agents       Agents
	tasks        Tasks
	delegator    Delegator
	dedupe       *dedupe.Cache
	events       Subscriber
	metrics      metrics.Recorder
	logger       *slog.Logger
	defaultAgent string
	maxWait      time.Duration

	local  map[string]handlerFunc
	remote map[string]bool

	// submitMu serialises submits that carry a request_id.
	submitMu sync.Mutex
}

// New creates a Router. Agents and Tasks are required.
func New(cfg Config) (*Router, error) {
	if cfg.Agents == nil {
		return nil, errors.New("router: agent registry is required")
	}
	if cfg.Tasks == nil {
		return nil, errors.New("router: dispatcher is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultAgent == "" {
		cfg.DefaultAgent = DefaultAgent
	}
	if cfg.RemoteActions == nil {
		cfg.RemoteActions = bridge.RemoteActions
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}

	r := &Router{
		agents:       cfg.Agents,
		tasks:        cfg.Tasks,
		delegator:    cfg.Delegator,
		dedupe:       cfg.Dedupe,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With("component", "router"),
		defaultAgent: cfg.DefaultAgent,
		maxWait:      cfg.MaxWait,
		remote:       make(map[string]bool, len(cfg.RemoteActions)),
	}
	r.local = map[string]handlerFunc{
		protocol.ActionSpawnAgent:    r.spawnAgent,
		protocol.ActionListAgents:    r.listAgents,
		protocol.ActionAgentStatus:   r.agentStatus,
		protocol.ActionRegisterAgent: r.registerAgent,
		protocol.ActionSubmitTask:    r.submitTask,
		protocol.ActionTaskStatus:    r.taskStatus,
		protocol.ActionCancelTask:    r.cancelTask,
		protocol.ActionListTasks:     r.listTasks,
		protocol.ActionWaitTask:      r.waitTask,
		protocol.ActionPing:          r.ping,
	}
	for _, action := range cfg.RemoteActions {
		if _, clash := r.local[action]; clash {
			return nil, fmt.Errorf("router: remote action %q shadows a local action", action)
		}
		r.remote[action] = true
	}
	return r, nil
}

// IsRemote reports whether action is delegated.
func (r *Router) IsRemote(action string) bool { return r.remote[action] }

// HandleRaw normalises one framed message and handles it.
func (r *Router) HandleRaw(ctx context.Context, data []byte) protocol.Response {
	req, err := protocol.Normalize(data)
	if err != nil {
		resp := r.failure(err)
		r.metrics.RequestHandled("invalid", string(resp.Code()))
		r.logger.Debug("rejected request", "error", err)
		return resp
	}
	return r.Handle(ctx, req)
}

// Handle routes a normalised request. It never returns nil and never panics.
func (r *Router) Handle(ctx context.Context, req protocol.Request) (resp protocol.Response) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panic", "action", req.Action, "panic", p)
			resp = protocol.Failure(protocol.CodeInternal, "internal error")
		}
		code := "ok"
		if !resp.OK() {
			code = string(resp.Code())
			if code == "" {
				code = "peer_error"
			}
		}
		r.metrics.RequestHandled(metricAction(req.Action, r.local, r.remote), code)
		r.logger.Debug("request handled",
			"action", req.Action,
			"legacy", req.Legacy,
			"code", code,
			"duration", time.Since(start),
		)
	}()

	if req.Params == nil {
		req.Params = map[string]any{}
	}

	if h, ok := r.local[req.Action]; ok {
		out, err := h(ctx, req)
		if err != nil {
			return r.failure(err)
		}
		return out
	}

	if r.remote[req.Action] {
		return r.delegate(ctx, req)
	}

	return protocol.Failuref(protocol.CodeUnknownCommand, "Unknown action: %s", req.Action)
}

// delegate forwards a remote action. The peer's reply is returned as is,
// including peer-side error envelopes.
func (r *Router) delegate(ctx context.Context, req protocol.Request) protocol.Response {
	if r.delegator == nil {
		return r.failure(fmt.Errorf("%w: %s", bridge.ErrDisabled, req.Action))
	}
	resp, err := r.delegator.Forward(ctx, req.Action, req.Params)
	if err != nil {
		return r.failure(err)
	}
	return resp
}

func (r *Router) failure(err error) protocol.Response {
	code := codeFor(err)
	if code == protocol.CodeInternal {
		r.logger.Error("request failed", "error", err)
	}
	return protocol.Failure(code, err.Error())
}

// codeFor maps a handler error to its protocol code.
func codeFor(err error) protocol.Code {
	switch {
	case errors.Is(err, protocol.ErrInvalidRequest),
		errors.Is(err, registry.ErrInvalidDescriptor):
		return protocol.CodeInvalidRequest
	case errors.Is(err, dispatch.ErrInvalidAgent),
		errors.Is(err, registry.ErrAgentNotFound):
		return protocol.CodeInvalidAgent
	case errors.Is(err, protocol.ErrUnknownCommand):
		return protocol.CodeUnknownCommand
	case errors.Is(err, bridge.ErrPeerUnreachable),
		errors.Is(err, bridge.ErrDisabled):
		return protocol.CodePeerUnreachable
	case errors.Is(err, bridge.ErrPeerProtocolError):
		return protocol.CodePeerProtocolError
	case errors.Is(err, task.ErrTaskNotFound):
		return protocol.CodeTaskNotFound
	default:
		return protocol.CodeInternal
	}
}

// metricAction keeps label cardinality bounded to known actions.
func metricAction(action string, local map[string]handlerFunc, remote map[string]bool) string {
	if _, ok := local[action]; ok || remote[action] {
		return action
	}
	return "unknown"
}

// resolveAsk splits a legacy ask argument into agent and prompt.
func (r *Router) resolveAsk(prompt string) (agentID, rest string) {
	head, tail, found := strings.Cut(prompt, ":")
	head = strings.TrimSpace(head)
	tail = strings.TrimSpace(tail)
	if found && head != "" && tail != "" {
		if _, ok := r.agents.Get(head); ok {
			return head, tail
		}
	}
	return r.defaultAgent, prompt
}

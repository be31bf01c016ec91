// ABOUTME: Dispatcher queues submitted tasks and admits them under per-agent concurrency limits
// ABOUTME: Runs executors outside the lock and owns every queued/running transition

package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/anf-daemon/internal/events"
	"github.com/2389/anf-daemon/internal/metrics"
	"github.com/2389/anf-daemon/internal/registry"
	"github.com/2389/anf-daemon/internal/task"
)

// DefaultPollInterval bounds how long an idle loop sleeps between passes.
const DefaultPollInterval = 100 * time.Millisecond

const journalTimeout = 5 * time.Second

var (
	// ErrInvalidAgent indicates the submission named an unregistered agent.
	ErrInvalidAgent = errors.New("unknown agent")

	// ErrTaskNotFound indicates no task exists with the given id.
	ErrTaskNotFound = task.ErrTaskNotFound
)

// Cancellation reasons recorded on the task's Error field.
const (
	reasonCancelled = "cancelled by request"
	reasonShutdown  = "daemon shutting down"
)

// AgentLookup resolves agent descriptors. *registry.Registry satisfies it.
type AgentLookup interface {
	Get(id string) (registry.AgentDescriptor, bool)
}

// Journal persists task snapshots. SaveTask must ignore a snapshot older in
// the lifecycle than the stored one, since writes for one task may arrive out
// of order. *store.SQLiteStore satisfies it.
type Journal interface {
	SaveTask(ctx context.Context, t task.Task) error
}

// Publisher receives task events. *events.Broadcaster satisfies it.
type Publisher interface {
	Publish(ev events.Event)
}

// Config holds the dispatcher's collaborators.
type Config struct {
	Agents       AgentLookup
	Ledger       *task.Ledger
	Executor     Executor
	PollInterval time.Duration

	// Optional.
	Journal Journal
	Events  Publisher
	Metrics metrics.Recorder
	Logger  *slog.Logger
}

type inflight struct {
	agentID string
	cancel  context.CancelFunc
}

type admission struct {
	task task.Task
	ctx  context.Context
}

// Stats is a point-in-time view of the dispatcher's load.
type Stats struct {
	Queued  int            `json:"queued"`
	Running int            `json:"running"`
	ByAgent map[string]int `json:"running_by_agent"`
}

// Dispatcher owns the pending queue and the running set.
type Dispatcher struct {
	agents   AgentLookup
	ledger   *task.Ledger
	executor Executor
	poll     time.Duration
	journal  Journal
	events   Publisher
	metrics  metrics.Recorder
	logger   *slog.Logger

	mu       sync.Mutex
	pending  pendingQueue
	queued   map[string]*entry // task id -> pending entry
	running  map[string]int    // agent id -> running count
	inflight map[string]*inflight

	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a Dispatcher. Agents, Ledger and Executor are required.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Agents == nil {
		return nil, errors.New("dispatch: agent lookup is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("dispatch: ledger is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("dispatch: executor is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Dispatcher{
		agents:   cfg.Agents,
		ledger:   cfg.Ledger,
		executor: cfg.Executor,
		poll:     cfg.PollInterval,
		journal:  cfg.Journal,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "dispatcher"),
		queued:   make(map[string]*entry),
		running:  make(map[string]int),
		inflight: make(map[string]*inflight),
		wake:     make(chan struct{}, 1),
	}, nil
}

// Submit validates the agent, records a queued task and enqueues it.
// Unknown agents return ErrInvalidAgent and leave no trace in the ledger.
func (d *Dispatcher) Submit(ctx context.Context, spec task.Spec) (task.Task, error) {
	desc, ok := d.agents.Get(spec.AgentID)
	if !ok {
		return task.Task{}, fmt.Errorf("%w: %q", ErrInvalidAgent, spec.AgentID)
	}

	d.mu.Lock()
	t := d.ledger.Create(spec)
	e := &entry{taskID: t.ID, agentID: t.AgentID, priority: desc.Priority, seq: t.Seq}
	heap.Push(&d.pending, e)
	d.queued[t.ID] = e
	depth := d.pending.Len()
	d.publish(t)
	d.mu.Unlock()

	d.persist(ctx, t)
	d.metrics.TaskSubmitted(t.AgentID)
	d.metrics.SetQueueDepth(depth)
	d.logger.Debug("task queued", "task_id", t.ID, "agent_id", t.AgentID, "priority", desc.Priority)

	d.signal()
	return t, nil
}

// Run drives the admission loop until ctx is cancelled, then cancels
// in-flight tasks and waits for their executors to return.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "poll_interval", d.poll)

	timer := time.NewTimer(d.poll)
	defer timer.Stop()

	for {
		d.admit(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d.poll)

		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping", "in_flight", d.inFlight())
			d.wg.Wait()
			return nil
		case <-d.wake:
		case <-timer.C:
		}
	}
}

// admit starts every queued task whose agent has a free slot.
func (d *Dispatcher) admit(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	var started []admission
	var skipped []*entry

	d.mu.Lock()
	d.reprioritize()
	for d.pending.Len() > 0 {
		e := heap.Pop(&d.pending).(*entry)

		if d.running[e.agentID] >= d.limit(e.agentID) {
			skipped = append(skipped, e)
			continue
		}

		delete(d.queued, e.taskID)
		t, err := d.ledger.Transition(e.taskID, task.StatusRunning)
		if err != nil {
			// Cancelled between enqueue and admission.
			d.logger.Debug("skipping task no longer queued", "task_id", e.taskID, "error", err)
			continue
		}

		taskCtx, cancel := context.WithCancel(ctx)
		d.running[e.agentID]++
		d.inflight[e.taskID] = &inflight{agentID: e.agentID, cancel: cancel}
		d.publish(t)
		started = append(started, admission{task: t, ctx: taskCtx})
	}
	for _, e := range skipped {
		heap.Push(&d.pending, e)
	}
	depth := d.pending.Len()
	counts := make(map[string]int, len(started))
	for _, a := range started {
		counts[a.task.AgentID] = d.running[a.task.AgentID]
	}
	d.mu.Unlock()

	if len(started) == 0 {
		return
	}

	d.metrics.SetQueueDepth(depth)
	for agentID, n := range counts {
		d.metrics.SetRunning(agentID, n)
	}
	for _, a := range started {
		d.metrics.TaskStarted(a.task.AgentID, startedAfter(a.task))
		d.logger.Info("task started", "task_id", a.task.ID, "agent_id", a.task.AgentID)

		d.wg.Add(1)
		go d.execute(a)
	}
}

// reprioritize re-keys pending entries with each agent's current priority
// so a runtime re-registration moves all of that agent's tasks together.
// Caller holds d.mu.
func (d *Dispatcher) reprioritize() {
	current := make(map[string]int)
	changed := false
	for _, e := range d.pending {
		p, seen := current[e.agentID]
		if !seen {
			p = e.priority
			if desc, ok := d.agents.Get(e.agentID); ok {
				p = desc.Priority
			}
			current[e.agentID] = p
		}
		if e.priority != p {
			e.priority = p
			changed = true
		}
	}
	if changed {
		heap.Init(&d.pending)
	}
}

// limit returns the agent's current admission limit. Descriptors can be
// replaced at runtime, so it is read on every pass.
func (d *Dispatcher) limit(agentID string) int {
	desc, ok := d.agents.Get(agentID)
	if !ok || desc.MaxConcurrentTasks <= 0 {
		return 1
	}
	return desc.MaxConcurrentTasks
}

func (d *Dispatcher) execute(a admission) {
	defer d.wg.Done()

	// Journal upserts never move an entry backwards, so this write may safely
	// land after the terminal one.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.persist(a.ctx, a.task)
	}()

	result, err := d.runExecutor(a)
	d.finish(a, result, err)
}

func (d *Dispatcher) runExecutor(a admission) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("executor panicked", "task_id", a.task.ID, "panic", r)
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return d.executor.Execute(a.ctx, a.task)
}

// finish records the executor outcome unless the task was cancelled while
// running, in which case its slot was already released.
func (d *Dispatcher) finish(a admission, result string, execErr error) {
	id := a.task.ID

	d.mu.Lock()
	inf, live := d.inflight[id]
	if !live {
		d.mu.Unlock()
		d.logger.Debug("discarding result of cancelled task", "task_id", id)
		return
	}
	delete(d.inflight, id)
	d.running[inf.agentID]--
	running := d.running[inf.agentID]

	to, opts := outcome(a.ctx, result, execErr)
	t, err := d.ledger.Transition(id, to, opts...)
	if err == nil {
		d.publish(t)
	}
	d.mu.Unlock()

	inf.cancel()
	d.metrics.SetRunning(inf.agentID, running)
	if err != nil {
		d.logger.Error("recording task outcome", "task_id", id, "error", err)
	} else {
		// Shutdown has cancelled a.ctx; the journal write must still land.
		d.persist(context.Background(), t)
		d.metrics.TaskFinished(t.AgentID, string(t.Status), ranFor(t))
		d.logger.Info("task finished", "task_id", id, "agent_id", t.AgentID, "status", t.Status)
	}
	d.signal()
}

func outcome(ctx context.Context, result string, err error) (task.Status, []task.TransitionOption) {
	switch {
	case err == nil:
		return task.StatusCompleted, []task.TransitionOption{task.WithResult(result)}
	case ctx.Err() != nil:
		return task.StatusCancelled, []task.TransitionOption{task.WithError(reasonShutdown)}
	default:
		return task.StatusFailed, []task.TransitionOption{task.WithError(err.Error())}
	}
}

// Cancel stops a task. Queued tasks leave the queue; running tasks are
// marked cancelled, their slot is freed and their context cancelled.
// Cancelling a finished task is a no-op that returns its snapshot.
func (d *Dispatcher) Cancel(ctx context.Context, id string) (task.Task, error) {
	d.mu.Lock()

	if e, ok := d.queued[id]; ok {
		heap.Remove(&d.pending, e.index)
		delete(d.queued, id)
	}

	inf, running := d.inflight[id]
	if running {
		delete(d.inflight, id)
		d.running[inf.agentID]--
	}

	t, err := d.ledger.Transition(id, task.StatusCancelled, task.WithError(reasonCancelled))
	switch {
	case err == nil:
		d.publish(t)
	case errors.Is(err, task.ErrTerminal):
		d.mu.Unlock()
		return t, nil
	default:
		d.mu.Unlock()
		return task.Task{}, err
	}
	depth := d.pending.Len()
	var nowRunning int
	if running {
		nowRunning = d.running[inf.agentID]
	}
	d.mu.Unlock()

	if running {
		inf.cancel()
		d.metrics.SetRunning(inf.agentID, nowRunning)
		d.signal()
	}
	d.metrics.SetQueueDepth(depth)
	d.metrics.TaskFinished(t.AgentID, string(t.Status), ranFor(t))
	d.persist(ctx, t)
	d.logger.Info("task cancelled", "task_id", id, "agent_id", t.AgentID, "was_running", running)
	return t, nil
}

// Status returns a snapshot of the task.
func (d *Dispatcher) Status(id string) (task.Task, bool) {
	return d.ledger.Get(id)
}

// List returns task snapshots matching f.
func (d *Dispatcher) List(f task.Filter) []task.Task {
	return d.ledger.List(f)
}

// Running returns the number of running tasks for agentID.
func (d *Dispatcher) Running(agentID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[agentID]
}

// Queued returns the number of pending tasks for agentID.
func (d *Dispatcher) Queued(agentID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, e := range d.pending {
		if e.agentID == agentID {
			n++
		}
	}
	return n
}

// QueueLen returns the number of pending tasks.
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending.Len()
}

// Stats returns a snapshot of queue depth and running counts.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{Queued: d.pending.Len(), ByAgent: make(map[string]int)}
	for agentID, n := range d.running {
		if n > 0 {
			s.ByAgent[agentID] = n
			s.Running += n
		}
	}
	return s
}

func (d *Dispatcher) inFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// publish must be called with mu held so events leave in transition order.
func (d *Dispatcher) publish(t task.Task) {
	if d.events != nil {
		d.events.Publish(events.Event{Task: t})
	}
}

func (d *Dispatcher) persist(ctx context.Context, t task.Task) {
	if d.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	if err := d.journal.SaveTask(ctx, t); err != nil {
		d.logger.Warn("journal write failed", "task_id", t.ID, "status", t.Status, "error", err)
	}
}

func startedAfter(t task.Task) time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return t.StartedAt.Sub(t.CreatedAt)
}

func ranFor(t task.Task) time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

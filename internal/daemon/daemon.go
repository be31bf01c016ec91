// ABOUTME: Daemon wires registry, ledger, dispatcher, router, bridge and listener together
// ABOUTME: Owns startup recovery from the journal and the ordered shutdown sequence

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/anf-daemon/internal/bridge"
	"github.com/2389/anf-daemon/internal/config"
	"github.com/2389/anf-daemon/internal/dedupe"
	"github.com/2389/anf-daemon/internal/dispatch"
	"github.com/2389/anf-daemon/internal/events"
	"github.com/2389/anf-daemon/internal/listener"
	"github.com/2389/anf-daemon/internal/metrics"
	"github.com/2389/anf-daemon/internal/registry"
	"github.com/2389/anf-daemon/internal/router"
	"github.com/2389/anf-daemon/internal/store"
	"github.com/2389/anf-daemon/internal/task"
)

const (
	shutdownTimeout = 5 * time.Second
	startupTimeout  = 30 * time.Second

	// historyLimit bounds how many journal entries are replayed at startup.
	historyLimit = 10000
)

// Daemon is one running coordination daemon.
type Daemon struct {
	config     *config.Config
	registry   *registry.Registry
	ledger     *task.Ledger
	journal    store.TaskStore
	events     *events.Broadcaster
	dedupe     *dedupe.Cache
	metrics    metrics.Recorder
	prom       *metrics.PrometheusRecorder
	dispatcher *dispatch.Dispatcher
	bridge     *bridge.Bridge
	router     *router.Router
	listener   *listener.Listener
	httpServer *http.Server
	logger     *slog.Logger

	executor dispatch.Executor
	ready    atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// Option customises a Daemon.
type Option func(*Daemon)

// WithExecutor replaces the simulated executor.
func WithExecutor(e dispatch.Executor) Option {
	return func(d *Daemon) { d.executor = e }
}

// WithJournal supplies a task store instead of opening database.path.
func WithJournal(s store.TaskStore) Option {
	return func(d *Daemon) { d.journal = s }
}

// New creates a Daemon from cfg. Only a corrupt built-in catalog or an
// unusable journal make it fail.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		config:  cfg,
		logger:  logger.With("component", "daemon"),
		metrics: metrics.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if cfg.Metrics.Enabled {
		d.prom = metrics.NewPrometheusRecorder()
		d.metrics = d.prom
	}

	d.registry = registry.New(logger.With("component", "registry"))
	sources := []registry.Source{registry.BuiltinSource()}
	if cfg.Agents.CustomDir != "" {
		sources = append(sources, registry.NewDirSource(cfg.Agents.CustomDir))
	}
	if err := d.registry.Load(sources...); err != nil {
		return nil, fmt.Errorf("loading agent registry: %w", err)
	}

	d.ledger = task.NewLedger()
	if err := d.openJournal(); err != nil {
		return nil, err
	}

	d.events = events.NewBroadcaster(logger)
	d.dedupe = dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries)

	if d.executor == nil {
		d.executor = dispatch.SimulatedExecutor{Delay: cfg.Dispatcher.ExecutorDelay}
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Agents:       d.registry,
		Ledger:       d.ledger,
		Executor:     d.executor,
		PollInterval: cfg.Dispatcher.PollInterval,
		Journal:      d.journal,
		Events:       d.events,
		Metrics:      d.metrics,
		Logger:       logger,
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	d.dispatcher = dispatcher

	bridgeOpts := []bridge.Option{bridge.WithMetrics(d.metrics)}
	if !cfg.Delegate.Enabled {
		bridgeOpts = append(bridgeOpts, bridge.WithDisabled())
	}
	d.bridge = bridge.New(cfg.Delegate.SocketPath, logger, bridgeOpts...)

	rt, err := router.New(router.Config{
		Agents:       d.registry,
		Tasks:        d.dispatcher,
		Delegator:    d.bridge,
		Dedupe:       d.dedupe,
		Events:       d.events,
		Metrics:      d.metrics,
		Logger:       logger,
		DefaultAgent: cfg.Agents.DefaultAgent,
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("creating router: %w", err)
	}
	d.router = rt

	d.listener = listener.New(cfg.Daemon.SocketPath, d.router, logger,
		listener.WithReadTimeout(cfg.Daemon.ReadTimeout),
		listener.WithWriteTimeout(cfg.Daemon.WriteTimeout),
	)

	if cfg.Metrics.Enabled {
		d.httpServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           d.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	d.logger.Info("daemon initialised",
		"agents", d.registry.Len(),
		"restored_tasks", d.ledger.Len(),
		"socket", cfg.Daemon.SocketPath,
		"delegate", cfg.Delegate.SocketPath,
		"delegate_enabled", cfg.Delegate.Enabled,
	)
	return d, nil
}

// openJournal opens the task store and replays its history.
func (d *Daemon) openJournal() error {
	if d.journal == nil {
		if d.config.Database.Path == "" {
			return nil
		}
		s, err := store.NewSQLiteStore(d.config.Database.Path)
		if err != nil {
			return fmt.Errorf("opening task journal: %w", err)
		}
		d.journal = s
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	if err := d.restoreHistory(ctx); err != nil {
		_ = d.journal.Close()
		return err
	}
	return nil
}

func (d *Daemon) restoreHistory(ctx context.Context) error {
	now := time.Now().UTC()
	if _, err := d.journal.RecoverTasks(ctx, now); err != nil {
		return fmt.Errorf("recovering task journal: %w", err)
	}
	if retention := d.config.Database.Retention; retention > 0 {
		pruned, err := d.journal.PruneTasks(ctx, now.Add(-retention))
		if err != nil {
			return fmt.Errorf("pruning task journal: %w", err)
		}
		if pruned > 0 {
			d.logger.Info("pruned task history", "count", pruned, "retention", retention)
		}
	}

	history, err := d.journal.ListTasks(ctx, store.TaskQuery{Limit: historyLimit})
	if err != nil {
		return fmt.Errorf("reading task journal: %w", err)
	}
	for _, t := range history {
		if err := d.ledger.Restore(t); err != nil {
			d.logger.Warn("skipping journal entry", "task_id", t.ID, "error", err)
		}
	}
	return nil
}

// Router returns the command router, for in-process callers.
func (d *Daemon) Router() *router.Router { return d.router }

// Registry returns the agent registry.
func (d *Daemon) Registry() *registry.Registry { return d.registry }

// Dispatcher returns the dispatcher.
func (d *Daemon) Dispatcher() *dispatch.Dispatcher { return d.dispatcher }

// SocketPath returns the command socket path.
func (d *Daemon) SocketPath() string { return d.listener.SocketPath() }

// Ready is closed once the command socket accepts connections.
func (d *Daemon) Ready() <-chan struct{} { return d.listener.Ready() }

// Handler returns the HTTP handler serving health and metrics endpoints.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/health/ready", d.handleReady)
	if d.prom != nil {
		mux.Handle(d.config.Metrics.Path, d.prom.Handler())
	}
	return mux
}

// Run serves until ctx is cancelled or a server fails, then shuts down in
// order: listener, dispatcher, journal.
func (d *Daemon) Run(ctx context.Context) error {
	var httpLn net.Listener
	if d.httpServer != nil {
		ln, err := net.Listen("tcp", d.httpServer.Addr)
		if err != nil {
			d.Close()
			return fmt.Errorf("HTTP listener: %w", err)
		}
		httpLn = ln
	}

	// The dispatcher outlives the listener so drained requests can still
	// reach it; it stops only after the listener has returned.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()
	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- d.dispatcher.Run(dispatchCtx) }()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.listener.Serve(gctx); err != nil {
			return fmt.Errorf("command socket: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-d.listener.Ready():
			d.ready.Store(true)
			d.logger.Info("daemon ready", "socket", d.listener.SocketPath())
		case <-gctx.Done():
		}
		return nil
	})

	if httpLn != nil {
		g.Go(func() error {
			d.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
			if err := d.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return d.httpServer.Shutdown(shutdownCtx)
		})
	}

	serveErr := g.Wait()
	d.ready.Store(false)
	d.logger.Info("listener stopped, stopping dispatcher")

	stopDispatch()
	<-dispatchDone

	closeErr := d.Close()
	if serveErr != nil {
		return serveErr
	}
	return closeErr
}

// Close releases the journal and background helpers. It is safe to call
// more than once and is called by Run on exit.
func (d *Daemon) Close() error {
	d.closeOnce.Do(func() {
		if d.dedupe != nil {
			d.dedupe.Close()
		}
		if d.events != nil {
			d.events.Close()
		}
		if d.journal != nil {
			if err := d.journal.Close(); err != nil {
				d.closeErr = fmt.Errorf("journal close: %w", err)
			}
		}
		d.logger.Info("daemon stopped")
	})
	return d.closeErr
}

// handleHealth returns 200 OK while the process is alive.
func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 once the registry is loaded and the socket is bound.
// The body summarises load and finished work.
func (d *Daemon) handleReady(w http.ResponseWriter, r *http.Request) {
	if !d.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("command socket not bound"))
		return
	}
	stats := d.dispatcher.Stats()
	counts := d.ledger.Counts()
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents, %d queued, %d running, %d completed, %d failed)",
		d.registry.Len(), stats.Queued, stats.Running,
		counts[task.StatusCompleted], counts[task.StatusFailed])
}

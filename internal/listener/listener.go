// ABOUTME: Unix socket server: one framed request and one framed response per connection
// ABOUTME: Removes stale sockets, serves each connection in its own goroutine, drains on shutdown

package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/2389/anf-daemon/internal/protocol"
)

const (
	// DefaultReadTimeout bounds how long a client may take to send its request.
	DefaultReadTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds writing the response.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultSocketMode restricts the socket to its owner.
	DefaultSocketMode fs.FileMode = 0o600

	staleProbeTimeout = 500 * time.Millisecond
)

// ErrInUse means another process is serving on the socket path.
var ErrInUse = errors.New("socket already in use")

// Handler answers one raw request. *router.Router satisfies it.
type Handler interface {
	HandleRaw(ctx context.Context, data []byte) protocol.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, data []byte) protocol.Response

// HandleRaw implements Handler.
func (f HandlerFunc) HandleRaw(ctx context.Context, data []byte) protocol.Response {
	return f(ctx, data)
}

// Listener accepts connections on a Unix socket.
type Listener struct {
	socketPath   string
	handler      Handler
	logger       *slog.Logger
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxFrame     int
	mode         fs.FileMode

	ready     chan struct{}
	readyOnce sync.Once

	// active tracks in-flight exchanges so Serve can drain them.
	active sync.WaitGroup
}

// Option configures a Listener.
type Option func(*Listener)

// WithReadTimeout overrides DefaultReadTimeout.
func WithReadTimeout(d time.Duration) Option {
	return func(l *Listener) { l.readTimeout = d }
}

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Listener) { l.writeTimeout = d }
}

// WithMaxFrame overrides protocol.MaxFrameSize for requests.
func WithMaxFrame(n int) Option {
	return func(l *Listener) { l.maxFrame = n }
}

// WithSocketMode sets the permission bits applied after bind.
func WithSocketMode(mode fs.FileMode) Option {
	return func(l *Listener) { l.mode = mode }
}

// New creates a Listener for socketPath.
func New(socketPath string, h Handler, logger *slog.Logger, opts ...Option) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		socketPath:   socketPath,
		handler:      h,
		logger:       logger.With("component", "listener"),
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		maxFrame:     protocol.MaxFrameSize,
		mode:         DefaultSocketMode,
		ready:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SocketPath returns the path the listener binds.
func (l *Listener) SocketPath() string { return l.socketPath }

// Ready is closed once the socket is bound and accepting.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Serve binds the socket and accepts connections until ctx is cancelled.
// It returns an error only when the socket cannot be bound.
func (l *Listener) Serve(ctx context.Context) error {
	if err := l.removeStale(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.socketPath), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}

	ln, err := net.Listen("unix", l.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", l.socketPath, err)
	}
	defer func() {
		ln.Close()
		os.Remove(l.socketPath)
	}()

	if err := os.Chmod(l.socketPath, l.mode); err != nil {
		return fmt.Errorf("setting socket permissions: %w", err)
	}

	// Unblock Accept when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	l.readyOnce.Do(func() { close(l.ready) })
	l.logger.Info("listening", "socket", l.socketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			l.logger.Error("accept failed", "error", err)
			continue
		}

		l.active.Add(1)
		go func() {
			defer l.active.Done()
			l.serveConn(ctx, conn)
		}()
	}

	l.active.Wait()
	l.logger.Info("listener stopped", "socket", l.socketPath)
	return nil
}

// removeStale deletes a leftover socket file. A live socket or a path that
// is not a socket is left alone.
func (l *Listener) removeStale() error {
	info, err := os.Lstat(l.socketPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking socket path: %w", err)
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", l.socketPath)
	}

	if conn, err := net.DialTimeout("unix", l.socketPath, staleProbeTimeout); err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrInUse, l.socketPath)
	}

	if err := os.Remove(l.socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", l.socketPath, err)
	}
	l.logger.Debug("removed stale socket", "socket", l.socketPath)
	return nil
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("connection handler panic", "panic", p)
		}
	}()

	if l.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(l.readTimeout))
	}

	frame, err := protocol.ReadFrame(conn, l.maxFrame)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		// Connected and sent nothing.
		return
	case errors.Is(err, protocol.ErrFrameTooLarge):
		l.logger.Warn("request too large", "limit", l.maxFrame)
		l.write(conn, protocol.Failuref(protocol.CodeInvalidRequest, "request exceeds %d bytes", l.maxFrame))
		return
	default:
		l.logger.Debug("dropping connection", "error", err)
		return
	}

	resp := l.handler.HandleRaw(ctx, frame)
	if resp == nil {
		resp = protocol.Failure(protocol.CodeInternal, "no response")
	}
	l.write(conn, resp)
}

func (l *Listener) write(conn net.Conn, resp protocol.Response) {
	if l.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	if err := protocol.WriteFrame(conn, resp); err != nil {
		l.logger.Debug("failed to write response", "error", err)
	}
}

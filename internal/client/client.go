// ABOUTME: Unix socket client: one framed request and one framed response per connection
// ABOUTME: Shared by the CLI and the delegation bridge

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/2389/anf-daemon/internal/protocol"
)

var (
	// ErrUnreachable means the socket could not be dialed.
	ErrUnreachable = errors.New("endpoint unreachable")

	// ErrBadResponse means no well-formed response was received.
	ErrBadResponse = errors.New("malformed response")
)

// Client sends requests to one Unix socket endpoint.
type Client struct {
	socketPath string
	timeout    time.Duration
	maxFrame   int
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every exchange. Zero means no bound beyond the context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxFrame overrides the largest accepted response.
func WithMaxFrame(n int) Option {
	return func(c *Client) { c.maxFrame = n }
}

// New creates a Client for socketPath.
func New(socketPath string, opts ...Option) *Client {
	c := &Client{socketPath: socketPath, maxFrame: protocol.MaxFrameSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SocketPath returns the endpoint this client dials.
func (c *Client) SocketPath() string { return c.socketPath }

// Call sends a structured request.
func (c *Client) Call(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if req.Params == nil {
		req.Params = map[string]any{}
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return c.roundTrip(ctx, data)
}

// Send sends a legacy text command such as "spawn:coder" as a JSON string.
func (c *Client) Send(ctx context.Context, text string) (protocol.Response, error) {
	data, err := json.Marshal(text)
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}
	return c.roundTrip(ctx, data)
}

// SendRaw writes line verbatim, for tools that already hold an encoded request.
func (c *Client) SendRaw(ctx context.Context, line []byte) (protocol.Response, error) {
	return c.roundTrip(ctx, line)
}

func (c *Client) roundTrip(ctx context.Context, payload []byte) (protocol.Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, c.socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock pending I/O when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	line := append(append([]byte(nil), payload...), '\n')
	if _, err := conn.Write(line); err != nil {
		return nil, c.ioError(ctx, "writing request", err)
	}

	frame, err := protocol.ReadFrame(conn, c.maxFrame)
	if err != nil {
		return nil, c.ioError(ctx, "reading response", err)
	}

	resp, err := protocol.DecodeResponse(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if !resp.WellFormed() {
		return nil, fmt.Errorf("%w: reply has neither success nor error", ErrBadResponse)
	}
	return resp, nil
}

func (c *Client) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	// The connection deadline can fire a moment before the context timer.
	if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	}
	return fmt.Errorf("%w: %s: %v", ErrBadResponse, op, err)
}

// ABOUTME: Delegation bridge: one connection per forwarded remote action
// ABOUTME: Maps client failures onto peer-unreachable and peer-protocol errors

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/anf-daemon/internal/client"
	"github.com/2389/anf-daemon/internal/metrics"
	"github.com/2389/anf-daemon/internal/protocol"
)

var (
	// ErrPeerUnreachable means the delegate socket could not be dialed.
	ErrPeerUnreachable = errors.New("delegate peer unreachable")

	// ErrPeerProtocolError means the delegate answered with something that is
	// not a response.
	ErrPeerProtocolError = errors.New("delegate peer protocol error")

	// ErrDisabled means delegation is turned off in configuration.
	ErrDisabled = errors.New("delegation disabled")
)

// Remote action names served by the delegate peer.
const (
	ActionSwarmCreate   = "swarm_create"
	ActionSwarmExecute  = "swarm_execute"
	ActionSwarmStatus   = "swarm_status"
	ActionSwarmDissolve = "swarm_dissolve"
	ActionSwarmList     = "swarm_list"
	ActionHiveInit      = "hive_init"
	ActionHiveDecide    = "hive_decide"
	ActionHiveRemember  = "hive_remember"
	ActionHiveRecall    = "hive_recall"
	ActionHiveStatus    = "hive_status"
	ActionCollaborate   = "collaborate"
)

// RemoteActions is the closed list of actions the router delegates.
var RemoteActions = []string{
	ActionSwarmCreate,
	ActionSwarmExecute,
	ActionSwarmStatus,
	ActionSwarmDissolve,
	ActionSwarmList,
	ActionHiveInit,
	ActionHiveDecide,
	ActionHiveRemember,
	ActionHiveRecall,
	ActionHiveStatus,
	ActionCollaborate,
}

// Outcome labels for the delegation metric.
const (
	outcomeOK          = "ok"
	outcomeUnreachable = "unreachable"
	outcomeProtocol    = "protocol_error"
	outcomeCancelled   = "cancelled"
)

// Bridge forwards requests to the delegate peer.
type Bridge struct {
	client  *client.Client
	enabled bool
	metrics metrics.Recorder
	logger  *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithMetrics records every forward's outcome and latency.
func WithMetrics(m metrics.Recorder) Option {
	return func(b *Bridge) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithDisabled makes every forward fail with ErrDisabled.
func WithDisabled() Option {
	return func(b *Bridge) { b.enabled = false }
}

// New creates a Bridge for the peer listening on socketPath.
func New(socketPath string, logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		client:  client.New(socketPath),
		enabled: true,
		metrics: metrics.Nop(),
		logger:  logger.With("component", "bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SocketPath returns the peer endpoint.
func (b *Bridge) SocketPath() string { return b.client.SocketPath() }

// Forward sends action with params to the peer and returns its reply
// unmodified. An error envelope from the peer is a reply, not an error.
func (b *Bridge) Forward(ctx context.Context, action string, params map[string]any) (protocol.Response, error) {
	if !b.enabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, action)
	}

	start := time.Now()
	resp, err := b.client.Call(ctx, protocol.Request{Action: action, Params: params})
	elapsed := time.Since(start)

	if err == nil {
		b.metrics.DelegationObserved(action, outcomeOK, elapsed)
		b.logger.Debug("forwarded", "action", action, "success", resp.OK(), "duration", elapsed)
		return resp, nil
	}

	var outcome string
	switch {
	case errors.Is(err, client.ErrUnreachable):
		outcome = outcomeUnreachable
		err = fmt.Errorf("%w at %s: %v", ErrPeerUnreachable, b.client.SocketPath(), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = outcomeCancelled
		err = fmt.Errorf("%w: %s: %w", ErrPeerProtocolError, action, err)
	default:
		outcome = outcomeProtocol
		err = fmt.Errorf("%w: %s: %v", ErrPeerProtocolError, action, err)
	}
	b.metrics.DelegationObserved(action, outcome, elapsed)
	b.logger.Warn("delegation failed", "action", action, "outcome", outcome, "error", err)
	return nil, err
}

// ABOUTME: Tests for the delegation bridge against fake delegate peers
// ABOUTME: Covers verbatim forwarding, peer down, malformed replies, slow peers and metrics

package bridge

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/anf-daemon/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func shortSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "anfb")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "peer.sock")
}

// fakePeer serves one scripted reply per connection and records what it saw.
type fakePeer struct {
	mu    sync.Mutex
	seen  []string
	reply func(frame []byte) []byte
}

func startPeer(t *testing.T, reply func(frame []byte) []byte) (*fakePeer, string) {
	t.Helper()
	path := shortSocket(t)
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	p := &fakePeer{reply: reply}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				frame, err := protocol.ReadFrame(conn, 0)
				if err != nil {
					return
				}
				p.mu.Lock()
				p.seen = append(p.seen, string(frame))
				p.mu.Unlock()
				if out := p.reply(frame); out != nil {
					_, _ = conn.Write(out)
				}
			}()
		}
	}()
	return p, path
}

func (p *fakePeer) requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

// recorder captures delegation observations.
type recorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recorder) TaskSubmitted(string) {}
func (r *recorder) TaskStarted(string, time.Duration) {}
func (r *recorder) TaskFinished(string, string, time.Duration) {}
func (r *recorder) SetRunning(string, int) {}
func (r *recorder) SetQueueDepth(int) {}
func (r *recorder) RequestHandled(string, string) {}
func (r *recorder) DelegationObserved(action, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, action+"="+outcome)
}

func TestForward_ReturnsPeerReplyVerbatim(t *testing.T) {
	peer, path := startPeer(t, func([]byte) []byte {
		return []byte(`{"success":true,"swarm_id":"swarm_1","topology":"mesh","agents":["coder","reviewer"]}` + "\n")
	})
	rec := &recorder{}
	b := New(path, testLogger(), WithMetrics(rec))

	resp, err := b.Forward(context.Background(), ActionSwarmCreate, map[string]any{
		"topology": "mesh",
		"agents":   []any{"coder", "reviewer"},
	})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "swarm_1", resp["swarm_id"])
	assert.Equal(t, []any{"coder", "reviewer"}, resp["agents"])

	seen := peer.requests()
	require.Len(t, seen, 1)
	assert.JSONEq(t, `{"action":"swarm_create","params":{"topology":"mesh","agents":["coder","reviewer"]}}`, seen[0])
	assert.Equal(t, []string{"swarm_create=ok"}, rec.outcomes)
}

func TestForward_PeerErrorEnvelopePassesThrough(t *testing.T) {
	_, path := startPeer(t, func([]byte) []byte {
		return []byte(`{"error":"Swarm not found"}` + "\n")
	})

	resp, err := New(path, testLogger()).Forward(context.Background(), ActionSwarmStatus, map[string]any{"swarm_id": "nope"})
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, "Swarm not found", resp.Error())
}

func TestForward_PeerDown(t *testing.T) {
	rec := &recorder{}
	b := New(filepath.Join(t.TempDir(), "absent.sock"), testLogger(), WithMetrics(rec))

	_, err := b.Forward(context.Background(), ActionHiveStatus, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPeerUnreachable)
	assert.NotErrorIs(t, err, ErrPeerProtocolError)
	assert.Equal(t, []string{"hive_status=unreachable"}, rec.outcomes)
}

func TestForward_MalformedReplies(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"garbage", "<html>nope</html>\n"},
		{"no verdict", `{"result":"maybe"}` + "\n"},
		{"closed mid message", `{"success":tr`},
		{"closed without reply", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, path := startPeer(t, func([]byte) []byte { return []byte(tt.reply) })

			_, err := New(path, testLogger()).Forward(context.Background(), ActionCollaborate, map[string]any{"task": "x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPeerProtocolError)
		})
	}
}

func TestForward_NoRetry(t *testing.T) {
	peer, path := startPeer(t, func([]byte) []byte { return []byte("bogus\n") })

	_, err := New(path, testLogger()).Forward(context.Background(), ActionSwarmList, nil)
	require.Error(t, err)
	// Give a stray second attempt time to land.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, peer.requests(), 1)
}

func TestForward_SlowPeerHonoursCallerDeadline(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	_, path := startPeer(t, func([]byte) []byte {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := New(path, testLogger()).Forward(ctx, ActionHiveDecide, map[string]any{"question": "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPeerProtocolError)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestForward_SlowPeerWithoutDeadlineWaits(t *testing.T) {
	_, path := startPeer(t, func([]byte) []byte {
		time.Sleep(150 * time.Millisecond)
		return []byte(`{"success":true}` + "\n")
	})

	resp, err := New(path, testLogger()).Forward(context.Background(), ActionHiveRecall, map[string]any{"query": "q"})
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestForward_Disabled(t *testing.T) {
	b := New("/nonexistent.sock", testLogger(), WithDisabled())

	_, err := b.Forward(context.Background(), ActionSwarmCreate, nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestRemoteActions_ClosedList(t *testing.T) {
	assert.Len(t, RemoteActions, 11)
	seen := map[string]bool{}
	for _, a := range RemoteActions {
		assert.False(t, seen[a], "duplicate %s", a)
		seen[a] = true
	}
	assert.True(t, seen["collaborate"])
	assert.False(t, seen["agent_list"], "peer-only introspection actions are not delegated")
}

// Package bridge forwards remote coordination actions to the delegate peer.
//
// The delegate is a separate process listening on its own Unix socket and
// speaking the same newline framed JSON protocol as the daemon. Swarm, hive
// and collaboration actions are never interpreted locally: the bridge writes
// the action and params verbatim and returns whatever the peer answers.
//
// # Failure model
//
// Every forward is a single attempt on a fresh connection:
//
//   - a dial failure is ErrPeerUnreachable
//   - a reply that cannot be read or parsed, or that carries neither
//     "success" nor "error", is ErrPeerProtocolError
//
// There are no retries. A deadline applies only when the caller's context
// carries one.
package bridge

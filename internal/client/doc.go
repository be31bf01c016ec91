// Package client speaks the daemon socket protocol from the calling side.
//
// # Overview
//
// A Client dials a Unix socket, writes one newline-terminated request,
// reads one newline-terminated response and closes the connection. The
// daemon CLI uses it to talk to the daemon and the delegation bridge uses
// it to talk to the delegate peer.
//
// # Deadlines
//
// The client applies no timeout of its own unless WithTimeout is set. A
// deadline on the context passed to Call or Send bounds the whole exchange,
// and cancelling the context aborts a blocked read or write.
//
// # Errors
//
//   - ErrUnreachable: the socket could not be dialed
//   - ErrBadResponse: the reply was missing, truncated or not a response object
//
// I/O failures after the connection was established are returned wrapped
// with ErrBadResponse, since the peer did not deliver a usable reply.
//
// # Usage
//
//	c := client.New("/tmp/anf.sock")
//	resp, err := c.Call(ctx, protocol.Request{Action: "list_agents"})
package client

// Package listener serves the daemon protocol on a Unix socket.
//
// Each connection carries exactly one exchange: the client writes one
// newline-terminated request, the listener hands it to the Handler, writes
// the newline-terminated response and closes the connection. Connections
// are served concurrently, one goroutine each.
//
// A connection that ends mid-message, stalls past the read deadline or
// sends an oversized frame is dropped without affecting any other
// connection. Only failing to bind the socket is fatal.
//
// On shutdown the listener stops accepting, waits for in-flight exchanges
// and removes the socket file.
package listener

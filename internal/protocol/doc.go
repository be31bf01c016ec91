// Package protocol defines the wire format spoken on the daemon's Unix socket
// and on the delegate peer's socket.
//
// # Framing
//
// Each connection carries exactly one request and one response. A message is
// a single line of UTF-8 JSON terminated by a newline byte:
//
//	{"action":"submit_task","params":{"agent_id":"coder","prompt":"..."}}\n
//
// JSON encoding escapes embedded newlines, so the first newline on the stream
// always ends the message. A stream that closes before the newline is an
// incomplete frame and the connection is dropped.
//
// # Requests
//
// A Request names an action and carries a free-form parameter mapping. The
// older positional text form is still accepted for three verbs:
//
//	spawn:<agent_id>        -> spawn_agent{agent_id}
//	list  / list:<category> -> list_agents{category}
//	ask:<prompt>            -> submit_task{prompt}
//
// Normalize turns either form into a Request before anything else looks at it.
//
// # Responses
//
// A Response is a flat JSON object. Success responses carry "success": true
// next to their payload keys; failures carry "error" and a machine readable
// "code":
//
//	{"success":true,"task_id":"...","status":"queued"}
//	{"error":"agent \"nope\" not found","code":"invalid_agent"}
package protocol

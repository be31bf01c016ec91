// Package router turns decoded requests into responses.
//
// Every request, structured or legacy, is first normalised into a
// protocol.Request. The router then looks the action up in two places:
//
//   - a table of local handlers backed by the agent registry and the
//     dispatcher (spawn_agent, list_agents, agent_status, submit_task,
//     task_status, cancel_task plus register_agent, list_tasks, wait_task
//     and ping)
//   - a closed set of remote actions forwarded verbatim to the delegate
//
// Anything else is an unknown command. Handlers return Go errors; a single
// table maps sentinel errors to protocol codes so that every failure leaves
// the router as an error envelope and never as a dropped connection.
//
// # Legacy ask
//
// The text form "ask:<prompt>" submits to the configured default agent.
// "ask:<agent>:<prompt>" targets <agent> when the first segment names a
// registered agent; otherwise the whole argument is the prompt.
package router

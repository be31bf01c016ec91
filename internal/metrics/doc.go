// Package metrics records daemon activity as Prometheus metrics.
//
// Components depend on the Recorder interface. The daemon passes a
// PrometheusRecorder when metrics are enabled and Nop otherwise, so no
// component needs to check whether metrics are on.
//
// # Registry
//
// PrometheusRecorder registers its collectors on a private registry rather
// than the global default, which lets tests and multiple daemons in one
// process each own an isolated set. Handler serves that registry in the
// Prometheus text format; the daemon mounts it on the metrics HTTP server
// next to the health endpoints.
//
// # Metrics
//
//   - anf_tasks_submitted_total{agent_id}
//   - anf_tasks_finished_total{agent_id,status}
//   - anf_task_queue_wait_seconds{agent_id}
//   - anf_task_run_seconds{agent_id,status}
//   - anf_agent_running_tasks{agent_id}
//   - anf_queue_depth
//   - anf_requests_total{action,code}
//   - anf_delegations_total{action,outcome}
//   - anf_delegation_duration_seconds{action}
package metrics

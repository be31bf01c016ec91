// ABOUTME: Prometheus-backed Recorder on a private registry
// ABOUTME: Exposes the registry over HTTP in the Prometheus text format

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "anf"

// PrometheusRecorder implements Recorder using Prometheus collectors.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	tasksSubmitted     *prometheus.CounterVec
	tasksFinished      *prometheus.CounterVec
	queueWait          *prometheus.HistogramVec
	runTime            *prometheus.HistogramVec
	runningTasks       *prometheus.GaugeVec
	queueDepth         prometheus.Gauge
	requestsTotal      *prometheus.CounterVec
	delegationsTotal   *prometheus.CounterVec
	delegationDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with its own registry, which also
// carries the standard Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		tasksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_submitted_total",
				Help:      "Tasks accepted into the ledger by agent",
			},
			[]string{"agent_id"},
		),
		tasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finished_total",
				Help:      "Tasks that reached a terminal status by agent and status",
			},
			[]string{"agent_id", "status"},
		),
		queueWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_queue_wait_seconds",
				Help:      "Time between submission and admission",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"agent_id"},
		),
		runTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_run_seconds",
				Help:      "Time between admission and the terminal transition",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"agent_id", "status"},
		),
		runningTasks: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "agent_running_tasks",
				Help:      "Tasks currently running per agent",
			},
			[]string{"agent_id"},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Tasks waiting for admission",
			},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests handled by action and result code",
			},
			[]string{"action", "code"},
		),
		delegationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delegations_total",
				Help:      "Requests forwarded to the delegate peer by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		delegationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delegation_duration_seconds",
				Help:      "Round trip time to the delegate peer",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
	}
}

func (p *PrometheusRecorder) TaskSubmitted(agentID string) {
	p.tasksSubmitted.WithLabelValues(agentID).Inc()
}

func (p *PrometheusRecorder) TaskStarted(agentID string, wait time.Duration) {
	p.queueWait.WithLabelValues(agentID).Observe(wait.Seconds())
}

func (p *PrometheusRecorder) TaskFinished(agentID, status string, runtime time.Duration) {
	p.tasksFinished.WithLabelValues(agentID, status).Inc()
	p.runTime.WithLabelValues(agentID, status).Observe(runtime.Seconds())
}

func (p *PrometheusRecorder) SetRunning(agentID string, n int) {
	p.runningTasks.WithLabelValues(agentID).Set(float64(n))
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) RequestHandled(action, code string) {
	p.requestsTotal.WithLabelValues(action, code).Inc()
}

func (p *PrometheusRecorder) DelegationObserved(action, outcome string, d time.Duration) {
	p.delegationsTotal.WithLabelValues(action, outcome).Inc()
	p.delegationDuration.WithLabelValues(action).Observe(d.Seconds())
}

// Registry returns the private registry holding every collector.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

var _ Recorder = (*PrometheusRecorder)(nil)

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Control-plane entity gauges
	AgentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentctl_agents_total",
			Help: "Total number of registered agents",
		},
	)

	DeploymentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentctl_deployments_total",
			Help: "Total number of deployments by status",
		},
		[]string{"status"},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentctl_nodes_total",
			Help: "Total number of worker nodes by status",
		},
		[]string{"status"},
	)

	RunsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentctl_runs_total",
			Help: "Total number of runs by status",
		},
		[]string{"status"},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentctl_scheduling_latency_seconds",
			Help:    "Time taken to place a run on a node",
			Buckets: prometheus.DefBuckets,
		},
	)

	RunsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentctl_runs_scheduled_total",
			Help: "Total number of runs successfully placed on a node",
		},
	)

	RunsUnplaceable = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentctl_runs_unplaceable_total",
			Help: "Total number of scheduling cycles that found no eligible node",
		},
	)

	NodeLoadPct = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentctl_node_load_pct",
			Help: "Per-node fraction of capacity slots in use",
		},
		[]string{"node_id"},
	)

	// Lease manager metrics
	LeaseAcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentctl_lease_acquire_total",
			Help: "Total lease acquire attempts by outcome",
		},
		[]string{"outcome"},
	)

	LeaseExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentctl_lease_expired_total",
			Help: "Total leases reclaimed by the liveness reaper after TTL expiry",
		},
	)

	// gRPC lease service metrics
	PullStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentctl_pull_streams_active",
			Help: "Number of currently open worker Pull streams",
		},
	)

	DispatchTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentctl_dispatch_tick_duration_seconds",
			Help:    "Time taken for one dispatch tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Worker / executor metrics
	ExecutorDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentctl_executor_duration_seconds",
			Help:    "Wall-clock duration of a child-process agent execution",
			Buckets: []float64{.25, .5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	ExecutorTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentctl_executor_timeouts_total",
			Help: "Total number of executions killed for exceeding their duration budget",
		},
	)

	RunCostUSD = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentctl_run_cost_usd",
			Help:    "Estimated USD cost per completed run",
			Buckets: []float64{.001, .01, .05, .1, .5, 1, 5},
		},
	)

	// Connector / delivery metrics
	MessagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentctl_messages_processed_total",
			Help: "Total input messages processed by outcome",
		},
		[]string{"outcome"},
	)

	DeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentctl_dead_lettered_total",
			Help: "Total messages routed to the dead-letter queue by reason",
		},
		[]string{"reason"},
	)

	OutputDeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentctl_output_delivery_duration_seconds",
			Help:    "Time taken to deliver a run result to the output sink, including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutputDeliveryRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentctl_output_delivery_retries_total",
			Help: "Total retry attempts made against the output sink",
		},
	)

	// REST API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentctl_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentctl_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentctl_reconciliation_duration_seconds",
			Help:    "Time taken for a deployment status reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentctl_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	// Worker runtime metrics
	WorkerActiveLeases = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentctl_worker_active_leases",
			Help: "Number of leases currently being processed by this worker",
		},
	)

	WorkerAvailableSlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentctl_worker_available_slots",
			Help: "Number of free concurrency slots on this worker",
		},
	)

	WorkerReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentctl_worker_pull_stream_reconnects_total",
			Help: "Total number of times the worker had to reconnect its pull stream",
		},
	)

	// Retention job metrics
	RunsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentctl_runs_pruned_total",
			Help: "Total number of terminal runs deleted by the retention job",
		},
	)

	// LogEventsTotal counts every log line emitted through pkg/log, by level
	// and component, so a noisy component or an uptick in warn/error volume
	// shows up on the same dashboards as the rest of the domain metrics.
	LogEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentctl_log_events_total",
			Help: "Total number of log events emitted, by level and component",
		},
		[]string{"level", "component"},
	)

	// EventsDroppedTotal counts run-lifecycle events the broker could not
	// deliver because a subscriber's buffer was full, by event type.
	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentctl_events_dropped_total",
			Help: "Total number of lifecycle events dropped due to a full subscriber buffer, by event type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		AgentsTotal,
		DeploymentsTotal,
		NodesTotal,
		RunsTotal,
		SchedulingLatency,
		RunsScheduled,
		RunsUnplaceable,
		NodeLoadPct,
		LeaseAcquireTotal,
		LeaseExpiredTotal,
		PullStreamsActive,
		DispatchTickDuration,
		ExecutorDuration,
		ExecutorTimeoutsTotal,
		RunCostUSD,
		LogEventsTotal,
		EventsDroppedTotal,
		MessagesProcessedTotal,
		DeadLetteredTotal,
		OutputDeliveryDuration,
		OutputDeliveryRetriesTotal,
		APIRequestsTotal,
		APIRequestDuration,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		WorkerActiveLeases,
		WorkerAvailableSlots,
		WorkerReconnectsTotal,
		RunsPrunedTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Closed-loop metrics
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mend_closed_loop_signals_total",
			Help: "Total number of signals received by the closed-loop controller",
		},
		[]string{"kind", "result"}, // result: accepted | dropped_queue_full
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mend_closed_loop_actions_total",
			Help: "Total number of actions executed by the closed-loop controller",
		},
		[]string{"type", "status", "verification"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mend_closed_loop_retries_total",
			Help: "Total number of retries scheduled by the closed-loop controller",
		},
		[]string{"type"},
	)

	GuardrailBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mend_closed_loop_guardrail_blocks_total",
			Help: "Number of times guardrails blocked an action before execution",
		},
		[]string{"type", "reason"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mend_closed_loop_queue_depth",
			Help: "Current depth of the closed-loop processing queue",
		},
	)

	ClosedLoopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mend_closed_loop_duration_seconds",
			Help:    "End-to-end latency from signal enqueue to terminal outcome",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	ActionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mend_closed_loop_action_duration_seconds",
			Help:    "Duration of action execution plus verification per signal",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// Evaluator metrics
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mend_policy_evaluations_total",
			Help: "Total number of policy evaluations by decision and guardrail reason",
		},
		[]string{"decision", "reason"},
	)

	PoliciesLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mend_policies_loaded",
			Help: "Number of policies in the active rule set",
		},
	)

	PolicyReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mend_policy_reloads_total",
			Help: "Total number of policy reload attempts by result",
		},
		[]string{"result"}, // success | error
	)

	// Cluster client metrics
	ClusterCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mend_cluster_calls_total",
			Help: "Total cluster client operations by verb and result",
		},
		[]string{"verb", "result"},
	)

	WorkloadDesiredReplicas = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mend_workload_desired_replicas",
			Help: "Desired replicas per workload (last observed)",
		},
		[]string{"namespace", "workload"},
	)

	WorkloadReadyReplicas = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mend_workload_ready_replicas",
			Help: "Ready replicas per workload (last observed)",
		},
		[]string{"namespace", "workload"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mend_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mend_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SignalsTotal)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(GuardrailBlocksTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ClosedLoopDuration)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(EvaluationsTotal)
	prometheus.MustRegister(PoliciesLoaded)
	prometheus.MustRegister(PolicyReloadsTotal)
	prometheus.MustRegister(ClusterCallsTotal)
	prometheus.MustRegister(WorkloadDesiredReplicas)
	prometheus.MustRegister(WorkloadReadyReplicas)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

/*
Package metrics provides Prometheus metrics collection and exposition for Mend.

All metrics are defined as package variables and registered against the
default registry at init, following Prometheus client conventions. The
/metrics endpoint exposes them via promhttp for scraping.

Metric categories:

	Closed loop: signals, actions, retries, guardrail blocks, queue depth,
	             end-to-end and per-action latency histograms
	Evaluator:   evaluation counts by decision/reason, loaded policy gauge,
	             reload results
	Cluster:     client call counts, per-workload desired/ready replica gauges
	API:         request counts and duration by route

The Timer helper wraps a start timestamp for histogram observations:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ClosedLoopDuration)
*/
package metrics

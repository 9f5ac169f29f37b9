/*
Package metrics exposes Prometheus metrics for the container lifecycle.

Collectors are package-level variables registered in init() and observed
directly by the containerizer: launch counts and durations, per-stage launch
failures, destroys, termination outcomes, recovery re-attachments and orphan
detections. Handler() returns the HTTP handler for the /metrics endpoint.

Typical use:

	timer := metrics.NewTimer()
	// ... launch the container ...
	timer.ObserveDuration(metrics.LaunchDuration)
	metrics.LaunchesTotal.Inc()
*/
package metrics

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Container lifecycle metrics
	ContainersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stevedore_containers_active",
			Help: "Number of containers currently tracked by the registry",
		},
	)

	LaunchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stevedore_launches_total",
			Help: "Total number of container launch requests accepted",
		},
	)

	LaunchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stevedore_launch_failures_total",
			Help: "Total number of failed launches by pipeline stage",
		},
		[]string{"stage"},
	)

	LaunchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stevedore_launch_duration_seconds",
			Help:    "Time from launch request to running container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DestroysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stevedore_destroys_total",
			Help: "Total number of destroy requests accepted",
		},
	)

	TerminationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stevedore_terminations_total",
			Help: "Total number of observed container terminations by state",
		},
		[]string{"state"},
	)

	// Recovery metrics
	RecoveredContainersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stevedore_recovered_containers_total",
			Help: "Total number of containers re-attached during recovery",
		},
	)

	OrphanedContainersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stevedore_orphaned_containers_total",
			Help: "Total number of orphaned containers detected during recovery",
		},
	)

	// Resource update metrics
	UpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stevedore_updates_total",
			Help: "Total number of container resource updates applied",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ContainersActive)
	prometheus.MustRegister(LaunchesTotal)
	prometheus.MustRegister(LaunchFailuresTotal)
	prometheus.MustRegister(LaunchDuration)
	prometheus.MustRegister(DestroysTotal)
	prometheus.MustRegister(TerminationsTotal)
	prometheus.MustRegister(RecoveredContainersTotal)
	prometheus.MustRegister(OrphanedContainersTotal)
	prometheus.MustRegister(UpdatesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

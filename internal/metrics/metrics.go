// Package metrics exposes run and record counters on the controller-runtime
// metrics registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
)

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ykddns_runs_total",
		Help: "Number of update runs by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ykddns_run_duration_seconds",
		Help:    "Duration of update runs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})

	recordOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ykddns_record_operations_total",
		Help: "Record store mutations by operation and result.",
	}, []string{"operation", "result"})

	desiredAddresses = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ykddns_desired_addresses",
		Help: "Size of the desired address set of the most recent run.",
	})
)

func init() {
	crmetrics.Registry.MustRegister(runsTotal, runDuration, recordOperations, desiredAddresses)
}

// ObserveRun records the outcome and duration of one run.
func ObserveRun(trigger, outcome string, d time.Duration) {
	runsTotal.WithLabelValues(trigger, outcome).Inc()
	runDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// ObserveRecordOp counts one create or delete against the record store.
func ObserveRecordOp(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	recordOperations.WithLabelValues(operation, result).Inc()
}

// SetDesiredAddresses publishes the size of the latest desired set.
func SetDesiredAddresses(n int) {
	desiredAddresses.Set(float64(n))
}

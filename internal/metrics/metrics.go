// Package metrics registers the process's prometheus collectors. They are
// served by the status endpoint's /metrics handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_cycles_started_total",
		Help: "Decision cycles started.",
	})

	CyclesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_cycles_skipped_total",
		Help: "Scheduler ticks that did not start a cycle, by reason.",
	}, []string{"reason"})

	CycleInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_cycle_inflight",
		Help: "Decision cycles currently in flight (0 or 1).",
	})

	GatewayFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_gateway_failures_total",
		Help: "Decision gateway calls that failed or returned garbage.",
	})

	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_actions_total",
		Help: "Executed actions by kind and outcome.",
	}, []string{"kind", "outcome"})

	ObservedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_observed_messages_total",
		Help: "Messages ingested from observers, by platform.",
	}, []string{"platform"})
)

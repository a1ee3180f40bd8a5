// Package metrics declares the prometheus instruments shared by the
// ingress and runner processes. Both register into the default registry;
// each process exposes only its own listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values for the outcome dimension.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeClaimRace = "claim_race"
)

var (
	// EventsTotal counts inbound Slack payloads by kind
	// (slash_command, app_mention, message, challenge, rejected, duplicate).
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_ingress_events_total",
		Help: "Inbound Slack payloads handled by the ingress, by kind.",
	}, []string{"kind"})

	// EnqueueTotal counts task records written to the queue by outcome.
	EnqueueTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_enqueue_total",
		Help: "Task enqueue attempts, by outcome.",
	}, []string{"outcome"})

	// TasksTotal counts runner task completions by outcome.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_tasks_total",
		Help: "Tasks processed by the runner, by outcome.",
	}, []string{"outcome"})

	// PollCycles counts runner poll-loop iterations.
	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_poll_cycles_total",
		Help: "Runner poll cycles completed.",
	})

	// ExecutionSeconds observes wall-clock executor durations.
	ExecutionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "courier_execution_seconds",
		Help:    "Wall-clock duration of executor invocations.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~8.5m
	})
)

// Handler returns the scrape endpoint for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "atendente"

var (
	// Turns counts conversation turns by outcome: completed, queued,
	// timeout, failed, malformed, error.
	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Conversation turns by outcome.",
	}, []string{"outcome"})

	// TurnDuration observes wall time of turns that reached the backend.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_duration_seconds",
		Help:      "Wall time of a conversation turn from lock to reply.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
	})

	// ToolCalls counts tool executions by tool name and outcome (ok, error).
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool executions by tool and outcome.",
	}, []string{"tool", "outcome"})

	// LockContention counts turns that found the run lock held.
	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "run_lock_contention_total",
		Help:      "Turns that found the thread's run lock held.",
	})

	// StaleLocks counts stale run locks taken over.
	StaleLocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "run_lock_stale_overrides_total",
		Help:      "Abandoned run locks overridden after the staleness threshold.",
	})

	// DebounceFlushes counts coalesced flushes and the messages they carried.
	DebounceFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "debounce_flushes_total",
		Help:      "Coalesced message batches turned into a single turn.",
	})
	DebounceMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "debounce_messages_total",
		Help:      "Messages delivered through debounce flushes.",
	})

	// TrackingCache counts tracking lookups by result: hit, miss.
	TrackingCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracking_cache_total",
		Help:      "Tracking lookups by cache result.",
	}, []string{"result"})

	// Notifications counts finance notices by kind and outcome.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "finance_notifications_total",
		Help:      "Finance notices by kind and outcome.",
	}, []string{"kind", "outcome"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Outcome maps an error to the "ok"/"error" label pair used by counters.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

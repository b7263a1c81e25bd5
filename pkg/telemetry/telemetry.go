// Package telemetry exposes prometheus instrumentation for the bot.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Mutations counts chain state transitions by operation
	// (create, reply, share, toggle_public, mark_anonymous, end).
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainbot_chain_mutations_total",
		Help: "Chain state transitions by operation.",
	}, []string{"op"})

	// Publishes counts surface publish attempts by outcome
	// (ok, rate_limited, not_found, error).
	Publishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainbot_publishes_total",
		Help: "Surface publish attempts by outcome.",
	}, []string{"outcome"})

	// Updates counts inbound transport events by kind
	// (message, inline_query, callback_query, chosen_inline_result).
	Updates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainbot_updates_total",
		Help: "Inbound bot updates by kind.",
	}, []string{"kind"})

	// SweepRuns counts retention sweep executions.
	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainbot_sweep_runs_total",
		Help: "Retention sweep executions.",
	})

	// SweepFinalized counts chains auto-finalized by sweeps.
	SweepFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainbot_sweep_finalized_total",
		Help: "Chains finalized by retention sweeps.",
	})

	// ActiveChains tracks the registry working-set size.
	ActiveChains = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainbot_active_chains",
		Help: "Chains currently in the active working set.",
	})

	// PersistQueueDepth tracks pending durable writes.
	PersistQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainbot_persist_queue_depth",
		Help: "Pending writes in the persistence queue.",
	})

	// PersistFailures counts failed durable writes; the next successful
	// sweep supersedes them.
	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainbot_persist_failures_total",
		Help: "Failed durable writes.",
	})
)

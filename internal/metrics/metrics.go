// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerMutations counts committed balance changes by transaction type and direction.
var LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "earnhub",
	Subsystem: "ledger",
	Name:      "mutations_total",
	Help:      "Total committed ledger mutations.",
}, []string{"type", "direction"})

// LedgerRetries counts transactions retried after a serialization failure or deadlock.
var LedgerRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "earnhub",
	Subsystem: "ledger",
	Name:      "retries_total",
	Help:      "Total ledger transactions retried after a transient conflict.",
})

var SettlementOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "earnhub",
	Subsystem: "settlement",
	Name:      "outcomes_total",
	Help:      "Reward settlement attempts by event kind and outcome.",
}, []string{"kind", "outcome"})

var RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "earnhub",
	Subsystem: "ratelimit",
	Name:      "denials_total",
	Help:      "Throttled actions denied by scope (cooldown or quota).",
}, []string{"action", "scope"})

var RequestDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "earnhub",
	Subsystem: "requests",
	Name:      "decisions_total",
	Help:      "Withdrawal and loan resolutions by kind and decision.",
}, []string{"kind", "decision"})

// ReconcileMismatches is the number of users whose stored balance
// disagreed with their completed transactions at the last run.
var ReconcileMismatches = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "earnhub",
	Subsystem: "reconcile",
	Name:      "mismatched_users",
	Help:      "Users whose balance differs from the sum of completed transactions.",
})

var PayoutsQueued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "earnhub",
	Subsystem: "payouts",
	Name:      "queued_total",
	Help:      "Payout instructions pushed to the payout queue.",
})

var PayoutsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "earnhub",
	Subsystem: "payouts",
	Name:      "dispatched_total",
	Help:      "Payout instructions drained from the queue by result.",
}, []string{"result"})

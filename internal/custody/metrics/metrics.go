// Package metrics provides prometheus instrumentation for the custody core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProposalsTotal counts proposals by type.
	ProposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "covault",
		Name:      "proposals_total",
		Help:      "Number of transaction proposals created",
	}, []string{"type"})

	// SignaturesTotal counts accepted signatures.
	SignaturesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "covault",
		Name:      "signatures_total",
		Help:      "Number of signatures accepted",
	})

	// TransitionsTotal counts transaction state transitions.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "covault",
		Name:      "transitions_total",
		Help:      "Number of transaction state transitions",
	}, []string{"from", "to"})

	// ExecutionDuration observes ledger gateway submission latency.
	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "covault",
		Name:      "execution_duration_seconds",
		Help:      "Ledger gateway submission latency",
		Buckets:   prometheus.DefBuckets,
	})

	// DepositsConfirmedTotal counts confirmed deposits.
	DepositsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "covault",
		Name:      "deposits_confirmed_total",
		Help:      "Number of deposits confirmed",
	})

	// SplitEvaluationsTotal counts fund split evaluations by outcome.
	SplitEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "covault",
		Name:      "split_evaluations_total",
		Help:      "Number of fund split rule evaluations",
	}, []string{"outcome"})
)

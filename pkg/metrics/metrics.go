// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lensmod_actions_total",
			Help: "Total number of module entry point calls",
		},
		[]string{"module", "action", "status"},
	)

	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lensmod_action_duration_seconds",
			Help:    "Duration of module entry point calls",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		},
		[]string{"module", "action"},
	)

	SettledAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lensmod_settled_amount_total",
			Help: "Sum of settled amounts in smallest currency units",
		},
		[]string{"module", "leg"},
	)

	DrawsRequested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lensmod_draws_requested_total",
			Help: "Total number of raffle randomness requests",
		},
		[]string{"module"},
	)

	DrawsFulfilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lensmod_draws_fulfilled_total",
			Help: "Total number of raffle payouts",
		},
		[]string{"module"},
	)

	PendingDraws = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lensmod_pending_draws",
			Help: "Number of outstanding randomness requests",
		},
		[]string{"module"},
	)
)

// Status maps an entry point result to a label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

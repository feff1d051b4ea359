// Package telemetry holds the process-wide prometheus collectors.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whalescope_collector_ticks_total",
		Help: "Collector ticks by source and outcome.",
	}, []string{"source", "outcome"})

	TradesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whalescope_trades_ingested_total",
		Help: "Normalized trades written by source.",
	}, []string{"source"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whalescope_decode_errors_total",
		Help: "Source records skipped because they could not be parsed.",
	}, []string{"source"})

	BroadcastDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalescope_broadcast_delivered_total",
		Help: "Live events delivered to subscriber sinks.",
	})

	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalescope_broadcast_dropped_total",
		Help: "Live events dropped because a subscriber backlog overflowed.",
	})

	RebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whalescope_metric_rebuilds_total",
		Help: "Wallet metric rebuilds by trigger.",
	}, []string{"trigger"})

	PriceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whalescope_price_lookups_total",
		Help: "Price oracle lookups by result (hit, miss, upstream, unknown).",
	}, []string{"result"})
)

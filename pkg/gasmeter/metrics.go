// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package gasmeter

import (
	"github.com/LeeDigitalWorks/gasmeter/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsDrainedTotal tracks cost events folded into a running total
	EventsDrainedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gasmeter",
		Subsystem: "meter",
		Name:      "events_drained_total",
		Help:      "Total number of cost events drained into meters",
	})

	// GasDrainedTotal tracks the sum of gas drained across all meters
	GasDrainedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gasmeter",
		Subsystem: "meter",
		Name:      "gas_drained_total",
		Help:      "Total gas drained into meters",
	})

	// ResetsTotal tracks explicit Reset calls
	ResetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gasmeter",
		Subsystem: "meter",
		Name:      "resets_total",
		Help:      "Total number of meter resets",
	})

	// MetersActive tracks meters whose drain worker is running
	MetersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gasmeter",
		Subsystem: "meter",
		Name:      "active",
		Help:      "Number of meters with a running drain worker",
	})

	// WorkerFailuresTotal tracks drain workers that terminated abnormally
	WorkerFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gasmeter",
		Subsystem: "meter",
		Name:      "worker_failures_total",
		Help:      "Total number of drain workers that terminated with an error",
	})

	// ReportsTotal tracks cost events reported through a Registry
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gasmeter",
		Subsystem: "registry",
		Name:      "reports_total",
		Help:      "Total number of cost events reported to registries",
	})

	// SinksPrunedTotal tracks senders dropped because their meter is gone
	SinksPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gasmeter",
		Subsystem: "registry",
		Name:      "sinks_pruned_total",
		Help:      "Total number of disconnected sinks removed from registries",
	})
)

func init() {
	debug.Registry().MustRegister(
		EventsDrainedTotal,
		GasDrainedTotal,
		ResetsTotal,
		MetersActive,
		WorkerFailuresTotal,
		ReportsTotal,
		SinksPrunedTotal,
	)
}

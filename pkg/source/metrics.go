// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"github.com/LeeDigitalWorks/gasmeter/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MessagesReceivedTotal tracks broker messages seen, by source ("redis", "kafka")
	MessagesReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gasmeter",
		Subsystem: "source",
		Name:      "messages_received_total",
		Help:      "Total number of messages received from gas sources",
	}, []string{"source"})

	// MessagesMalformedTotal tracks messages whose payload was not a gas value
	MessagesMalformedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gasmeter",
		Subsystem: "source",
		Name:      "messages_malformed_total",
		Help:      "Total number of messages dropped because the payload did not parse",
	}, []string{"source"})

	GasReportedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gasmeter",
		Subsystem: "source",
		Name:      "gas_reported_total",
		Help:      "Total gas reported from sources",
	}, []string{"source"})

	// ConsumerErrorsTotal tracks broker-side errors surfaced while consuming
	ConsumerErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gasmeter",
		Subsystem: "source",
		Name:      "consumer_errors_total",
		Help:      "Total number of errors reported by source consumers",
	}, []string{"source"})
)

func init() {
	debug.Registry().MustRegister(
		MessagesReceivedTotal,
		MessagesMalformedTotal,
		GasReportedTotal,
		ConsumerErrorsTotal,
	)
}

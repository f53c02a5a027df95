// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package source feeds gas meters from external brokers. Each source
// subscribes to a broker, parses every message into a cost and hands it to a
// Reporter, usually a gasmeter.Registry.
package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/LeeDigitalWorks/gasmeter/pkg/gasmeter"
)

var (
	ErrEmptyPayload   = errors.New("source: empty payload")
	ErrInvalidPayload = errors.New("source: invalid gas payload")
	ErrAlreadyStarted = errors.New("source: already started")
)

// Reporter receives parsed costs.
type Reporter interface {
	Report(gas gasmeter.Gas)
}

type gasEnvelope struct {
	Gas *uint64 `json:"gas"`
}

// ParseGas decodes a message payload. It accepts a bare base-10 integer or a
// JSON object of the form {"gas": N}.
func ParseGas(payload []byte) (gasmeter.Gas, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return 0, ErrEmptyPayload
	}

	if payload[0] == '{' {
		var env gasEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if env.Gas == nil {
			return 0, fmt.Errorf("%w: missing gas field", ErrInvalidPayload)
		}
		return gasmeter.Gas(*env.Gas), nil
	}

	n, err := strconv.ParseUint(string(payload), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return gasmeter.Gas(n), nil
}

// deliver parses payload and reports it, counting the outcome under the
// source's label.
func deliver(name string, r Reporter, payload []byte) error {
	MessagesReceivedTotal.WithLabelValues(name).Inc()

	gas, err := ParseGas(payload)
	if err != nil {
		MessagesMalformedTotal.WithLabelValues(name).Inc()
		return err
	}

	r.Report(gas)
	GasReportedTotal.WithLabelValues(name).Add(float64(gas))
	return nil
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package gasmeter

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/gasmeter/pkg/logger"

	"github.com/google/uuid"
)

// Registrar accepts the producer end of a meter's channel. Whoever implements
// it decides when, and for which operations, cost events are sent.
type Registrar interface {
	Register(s *Sender)
}

// Meter keeps a running total of the gas reported through its registrar.
// A dedicated goroutine drains the channel into a lock-guarded accumulator;
// Elapsed and Reset only ever touch the accumulator.
//
// Every Meter must be closed exactly once, typically with defer.
type Meter struct {
	id  string
	cfg Config
	acc *accumulator
	rx  *Receiver

	// daemon is the one-shot join token for the drain goroutine. Close takes
	// it; a nil token means the meter was already closed.
	daemon atomic.Pointer[joinToken]

	// wake nudges a parked worker after Close sets the close flag.
	wake chan struct{}
}

type joinToken struct {
	result <-chan error
}

// Start creates a meter with the default config, registers its sender with
// reg and starts the drain goroutine. It does not block.
func Start(reg Registrar) *Meter {
	return StartWithConfig(DefaultConfig(), reg)
}

// StartWithConfig is Start with explicit drain settings.
func StartWithConfig(cfg Config, reg Registrar) *Meter {
	cfg.Validate()

	tx, rx := NewChannel()
	reg.Register(tx)

	m := &Meter{
		id:   uuid.NewString(),
		cfg:  cfg,
		acc:  &accumulator{},
		rx:   rx,
		wake: make(chan struct{}, 1),
	}

	result := make(chan error, 1)
	m.daemon.Store(&joinToken{result: result})

	MetersActive.Inc()
	go m.drain(rx, result)

	logger.Debug().
		Str("meter_id", m.id).
		Str("poll_mode", string(cfg.PollMode)).
		Dur("wake_interval", cfg.WakeInterval).
		Msg("gas meter started")

	return m
}

// ID returns the meter's unique identifier.
func (m *Meter) ID() string {
	return m.id
}

// Elapsed returns the total gas drained since start or the last Reset.
// Events still queued in the channel are not included yet.
func (m *Meter) Elapsed() (Gas, error) {
	if m.daemon.Load() == nil {
		return 0, ErrMeterClosed
	}

	var gas Gas
	if err := m.acc.with(func(a *accumulator) {
		gas = a.elapsed
	}); err != nil {
		return 0, err
	}
	return gas, nil
}

// Pending returns the number of reported events not yet folded into the
// total. A value dequeued by the worker is added under the same lock that
// Elapsed and Reset take, so once Pending reports zero, the next Elapsed or
// Reset observes every earlier event.
func (m *Meter) Pending() int {
	return m.rx.Len()
}

// Reset sets the total back to zero. A drain in flight lands either entirely
// before or entirely after the reset.
func (m *Meter) Reset() error {
	if m.daemon.Load() == nil {
		return ErrMeterClosed
	}

	if err := m.acc.with(func(a *accumulator) {
		a.elapsed = 0
	}); err != nil {
		return err
	}

	ResetsTotal.Inc()
	logger.Debug().Str("meter_id", m.id).Msg("gas meter reset")
	return nil
}

// Close stops the drain goroutine and waits for it to exit. Everything sent
// before Close is drained first; the total is discarded.
//
// A second call returns ErrMeterClosed. If the worker died, the returned
// error wraps ErrWorkerJoinFailed and the worker's own error.
func (m *Meter) Close() error {
	token := m.daemon.Swap(nil)
	if token == nil {
		return ErrMeterClosed
	}

	// The lock is released before waiting so the worker can finish draining.
	lockErr := m.acc.with(func(a *accumulator) {
		a.close = true
		a.elapsed = 0
	})

	select {
	case m.wake <- struct{}{}:
	default:
	}

	if err := <-token.result; err != nil {
		return fmt.Errorf("%w: %w", ErrWorkerJoinFailed, err)
	}
	if lockErr != nil {
		return lockErr
	}

	logger.Debug().Str("meter_id", m.id).Msg("gas meter closed")
	return nil
}

// drain is the worker goroutine. It reports exactly one result on the join
// token, including for panics outside the accumulator lock.
func (m *Meter) drain(rx *Receiver, result chan<- error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("drain worker panic: %v", r)
		}

		rx.Close()
		MetersActive.Dec()

		if err != nil {
			WorkerFailuresTotal.Inc()
			logger.Error().Err(err).Str("meter_id", m.id).Msg("gas meter worker terminated")
		}
		result <- err
	}()

	err = m.run(rx)
}

func (m *Meter) run(rx *Receiver) error {
	var timer *time.Timer
	if m.cfg.PollMode == PollWait {
		timer = time.NewTimer(m.cfg.WakeInterval)
		defer timer.Stop()
	}

	for {
		var (
			gas    Gas
			status RecvStatus
			stop   bool
		)

		// Close is only honored once the channel is observed empty, so
		// nothing sent before Close is lost.
		err := m.acc.with(func(a *accumulator) {
			gas, status = rx.TryRecv()
			switch status {
			case RecvOK:
				a.add(gas)
			case RecvEmpty:
				stop = a.close
			case RecvDisconnected:
				stop = true
			}
		})
		if err != nil {
			return err
		}

		if status == RecvOK {
			EventsDrainedTotal.Inc()
			GasDrainedTotal.Add(float64(gas))
		}
		if stop {
			return nil
		}

		if status == RecvEmpty && timer != nil {
			m.park(rx, timer)
		}
	}
}

// park blocks a wait-mode worker until a send, a close request or the next
// wake interval.
func (m *Meter) park(rx *Receiver, timer *time.Timer) {
	timer.Reset(m.cfg.WakeInterval)
	select {
	case <-rx.Ready():
	case <-m.wake:
	case <-timer.C:
	}
}

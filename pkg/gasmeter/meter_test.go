// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package gasmeter

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	prometheusgo "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureRegistrar hands the meter's sender back to the test.
type captureRegistrar struct {
	sender *Sender
}

func (c *captureRegistrar) Register(s *Sender) {
	c.sender = s
}

func requireElapsed(t *testing.T, m *Meter, want Gas) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := m.Elapsed()
		return err == nil && got == want
	}, 2*time.Second, time.Millisecond, "elapsed never reached %d", want)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m prometheusgo.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func pollModes() []Config {
	spin := DefaultConfig()
	spin.PollMode = PollSpin
	return []Config{DefaultConfig(), spin}
}

func TestMeter_StartRegistersSender(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := Start(reg)

	assert.Equal(t, 1, reg.Len())
	assert.NotEmpty(t, m.ID())

	gas, err := m.Elapsed()
	require.NoError(t, err)
	assert.Equal(t, Gas(0), gas)

	require.NoError(t, m.Close())
}

func TestMeter_UniqueIDs(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := Start(reg)
	b := Start(reg)
	defer a.Close()
	defer b.Close()

	assert.NotEqual(t, a.ID(), b.ID())
}

func TestMeter_SingleProducerSum(t *testing.T) {
	t.Parallel()

	for _, cfg := range pollModes() {
		t.Run(string(cfg.PollMode), func(t *testing.T) {
			t.Parallel()

			reg := NewRegistry()
			m := StartWithConfig(cfg, reg)
			defer m.Close()

			for _, g := range []Gas{100, 250, 650} {
				reg.Report(g)
			}

			requireElapsed(t, m, 1000)
		})
	}
}

func TestMeter_ResetThenReport(t *testing.T) {
	t.Parallel()

	for _, cfg := range pollModes() {
		t.Run(string(cfg.PollMode), func(t *testing.T) {
			t.Parallel()

			reg := NewRegistry()
			m := StartWithConfig(cfg, reg)
			defer m.Close()

			reg.Report(100)
			requireElapsed(t, m, 100)

			require.NoError(t, m.Reset())
			reg.Report(5)

			requireElapsed(t, m, 5)
		})
	}
}

func TestMeter_ResetWithNoEventsIsZero(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := Start(reg)
	defer m.Close()

	reg.Report(42)
	requireElapsed(t, m, 42)

	require.NoError(t, m.Reset())
	gas, err := m.Elapsed()
	require.NoError(t, err)
	assert.Equal(t, Gas(0), gas)
}

func TestMeter_TwoProducersConcurrent(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := Start(reg)
	defer m.Close()

	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				reg.Report(1)
			}
		}()
	}
	wg.Wait()

	requireElapsed(t, m, 1000)
}

func TestMeter_ClonedSendersConcurrent(t *testing.T) {
	t.Parallel()

	capture := &captureRegistrar{}
	m := Start(capture)
	defer m.Close()

	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(tx *Sender) {
			defer wg.Done()
			defer tx.Close()
			for i := 0; i < 500; i++ {
				tx.Send(1)
			}
		}(capture.sender.Clone())
	}
	wg.Wait()

	requireElapsed(t, m, 1000)
	capture.sender.Close()
}

func TestMeter_SumMatchesAcrossProducers(t *testing.T) {
	t.Parallel()

	const producers = 16
	const perProducer = 250

	reg := NewRegistry()
	m := Start(reg)
	defer m.Close()

	var (
		mu   sync.Mutex
		want Gas
		wg   sync.WaitGroup
	)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var sent Gas
			for i := 0; i < perProducer; i++ {
				g := Gas(rand.IntN(10_000))
				reg.Report(g)
				sent += g
			}
			mu.Lock()
			want += sent
			mu.Unlock()
		}()
	}
	wg.Wait()

	requireElapsed(t, m, want)
}

func TestMeter_ElapsedIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := Start(reg)
	defer m.Close()

	reg.Report(300)
	requireElapsed(t, m, 300)

	for i := 0; i < 10; i++ {
		gas, err := m.Elapsed()
		require.NoError(t, err)
		assert.Equal(t, Gas(300), gas)
	}
}

func TestMeter_ResetWhileInFlight(t *testing.T) {
	t.Parallel()

	const events = 2000

	reg := NewRegistry()
	m := Start(reg)
	defer m.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < events; i++ {
			reg.Report(1)
		}
	}()

	for i := 0; i < 20; i++ {
		require.NoError(t, m.Reset())
		gas, err := m.Elapsed()
		require.NoError(t, err)
		assert.LessOrEqual(t, gas, Gas(events))
	}
	<-done
	require.Eventually(t, func() bool {
		return m.Pending() == 0
	}, 2*time.Second, time.Millisecond)

	// Once quiet, the total only reflects what was drained after the last reset.
	require.NoError(t, m.Reset())
	reg.Report(3)
	requireElapsed(t, m, 3)
}

func TestMeter_DoubleCloseIsContractViolation(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := Start(reg)

	reg.Report(10)
	requireElapsed(t, m, 10)

	require.NoError(t, m.Close())

	err := m.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMeterClosed)
}

func TestMeter_UseAfterClose(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := Start(reg)
	require.NoError(t, m.Close())

	_, err := m.Elapsed()
	assert.ErrorIs(t, err, ErrMeterClosed)
	assert.ErrorIs(t, m.Reset(), ErrMeterClosed)

	// The registry keeps working for producers.
	assert.NotPanics(t, func() {
		reg.Report(1)
	})
}

func TestMeter_CloseWithoutEvents(t *testing.T) {
	t.Parallel()

	for _, cfg := range pollModes() {
		t.Run(string(cfg.PollMode), func(t *testing.T) {
			t.Parallel()

			m := StartWithConfig(cfg, NewRegistry())
			require.NoError(t, m.Close())
		})
	}
}

func TestMeter_CloseWakesWaitingWorkerPromptly(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.WakeInterval = time.Hour
	m := StartWithConfig(cfg, NewRegistry())

	start := time.Now()
	require.NoError(t, m.Close())
	assert.Less(t, time.Since(start), 5*time.Second)
}

// Not parallel: reads package-level counters.
func TestMeter_CloseDrainsPendingEvents(t *testing.T) {
	const events = 5000

	cfg := DefaultConfig()
	cfg.WakeInterval = time.Hour

	capture := &captureRegistrar{}
	m := StartWithConfig(cfg, capture)

	before := counterValue(t, EventsDrainedTotal)
	for i := 0; i < events; i++ {
		capture.sender.Send(1)
	}
	require.NoError(t, m.Close())
	after := counterValue(t, EventsDrainedTotal)

	assert.Equal(t, float64(events), after-before, "every event sent before Close must be drained")
	assert.False(t, capture.sender.Connected())
	capture.sender.Close()
}

func TestMeter_PendingDrainsToZero(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := Start(reg)
	defer m.Close()

	for i := 0; i < 100; i++ {
		reg.Report(2)
	}
	require.Eventually(t, func() bool {
		return m.Pending() == 0
	}, 2*time.Second, time.Millisecond)

	gas, err := m.Elapsed()
	require.NoError(t, err)
	assert.Equal(t, Gas(200), gas)
}

func TestMeter_DisconnectStopsWorker(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := Start(reg)

	reg.Report(7)
	reg.Close()

	// Buffered values still land before the worker stops.
	requireElapsed(t, m, 7)
	require.NoError(t, m.Close())
}

func TestMeter_StartOnClosedRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Close()

	m := Start(reg)
	assert.Equal(t, 0, reg.Len())
	require.NoError(t, m.Close())
}

func TestMeter_OverflowPoisonsLock(t *testing.T) {
	t.Parallel()

	capture := &captureRegistrar{}
	m := Start(capture)
	defer capture.sender.Close()

	capture.sender.Send(Gas(math.MaxUint64))
	capture.sender.Send(1)

	var err error
	require.Eventually(t, func() bool {
		_, err = m.Elapsed()
		return err != nil
	}, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, err, ErrLockPoisoned)

	// Never reads as zero once poisoned.
	gas, err := m.Elapsed()
	assert.ErrorIs(t, err, ErrLockPoisoned)
	assert.Equal(t, Gas(0), gas)
	assert.ErrorIs(t, m.Reset(), ErrLockPoisoned)

	err = m.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkerJoinFailed)
	assert.ErrorIs(t, err, ErrLockPoisoned)

	assert.ErrorIs(t, m.Close(), ErrMeterClosed)
}

func TestAccumulator_WithRecoversPanic(t *testing.T) {
	t.Parallel()

	acc := &accumulator{}
	err := acc.with(func(a *accumulator) {
		a.elapsed = 5
		panic("boom")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockPoisoned))
	assert.Contains(t, err.Error(), "boom")

	called := false
	err = acc.with(func(a *accumulator) {
		called = true
	})
	assert.ErrorIs(t, err, ErrLockPoisoned)
	assert.False(t, called, "poisoned accumulator must not run fn")
}

func TestAccumulator_Add(t *testing.T) {
	t.Parallel()

	acc := &accumulator{}
	require.NoError(t, acc.with(func(a *accumulator) {
		a.add(1)
		a.add(math.MaxUint64 - 1)
	}))
	assert.Equal(t, Gas(math.MaxUint64), acc.elapsed)

	err := acc.with(func(a *accumulator) {
		a.add(1)
	})
	assert.ErrorIs(t, err, ErrLockPoisoned)
	assert.Contains(t, err.Error(), "overflow")
}

package gasmeter

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMeter_WaitMode_Synctest checks that a parked worker is woken by sends
// and by Close, not by the wake interval.
func TestMeter_WaitMode_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.WakeInterval = time.Hour

		reg := NewRegistry()
		m := StartWithConfig(cfg, reg)
		start := time.Now()

		reg.Report(100)
		reg.Report(250)
		reg.Report(650)

		// Worker drains everything and parks again.
		synctest.Wait()

		gas, err := m.Elapsed()
		require.NoError(t, err)
		assert.Equal(t, Gas(1000), gas)
		assert.Equal(t, 0, m.Pending())
		assert.Equal(t, time.Duration(0), time.Since(start), "draining must not wait for the wake interval")

		require.NoError(t, m.Close())
		assert.Equal(t, time.Duration(0), time.Since(start), "close must not wait for the wake interval")
	})
}

// TestMeter_WaitMode_PeriodicWake_Synctest checks that an idle worker keeps
// polling on the configured interval.
func TestMeter_WaitMode_PeriodicWake_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.WakeInterval = time.Minute

		reg := NewRegistry()
		m := StartWithConfig(cfg, reg)

		synctest.Wait()
		time.Sleep(10 * time.Minute)
		synctest.Wait()

		reg.Report(5)
		synctest.Wait()

		gas, err := m.Elapsed()
		require.NoError(t, err)
		assert.Equal(t, Gas(5), gas)

		require.NoError(t, m.Close())
	})
}

// TestMeter_DisconnectWhileParked_Synctest checks that closing the last
// sender wakes a parked worker and ends it.
func TestMeter_DisconnectWhileParked_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.WakeInterval = time.Hour

		capture := &captureRegistrar{}
		m := StartWithConfig(cfg, capture)
		synctest.Wait()

		capture.sender.Send(9)
		capture.sender.Close()
		synctest.Wait()

		gas, err := m.Elapsed()
		require.NoError(t, err)
		assert.Equal(t, Gas(9), gas)

		start := time.Now()
		require.NoError(t, m.Close())
		assert.Equal(t, time.Duration(0), time.Since(start))
	})
}

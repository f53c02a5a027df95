// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"math/bits"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/gasmeter/pkg/gasmeter"
	"github.com/LeeDigitalWorks/gasmeter/pkg/logger"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

// SimulateOpts configures a local load run against a single meter.
type SimulateOpts struct {
	Producers int
	Events    int
	MaxGas    uint64
	// Rate is events per second per producer; 0 means unlimited.
	Rate    float64
	Timeout time.Duration
	Meter   gasmeter.Config
}

// SimulationResult summarizes a run.
type SimulationResult struct {
	Sent     gasmeter.Gas
	Elapsed  gasmeter.Gas
	Events   int
	Duration time.Duration
}

func (r SimulationResult) Matches() bool {
	return r.Sent == r.Elapsed
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a meter with concurrent producers and verify the total",
	Long: `Start an in-process meter, report random costs from several producers
(optionally rate limited) and check that the drained total equals the sum
that was sent.
`,
	Run: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	meter := gasmeter.DefaultConfig()

	f := simulateCmd.Flags()
	f.Int("producers", 4, "Number of concurrent producers")
	f.Int("events", 10000, "Events sent by each producer")
	f.Uint64("max_gas", 1000, "Upper bound (exclusive) for a single event's gas")
	f.Float64("rate", 0, "Events per second per producer (0 = unlimited)")
	f.Duration("timeout", time.Minute, "Upper bound for the whole run")
	f.String("poll_mode", string(meter.PollMode), "Drain worker poll mode (wait, spin)")
	f.Duration("wake_interval", meter.WakeInterval, "Wait-mode periodic wake interval")

	viper.BindPFlags(f)
}

func loadSimulateOpts(cmd *cobra.Command) SimulateOpts {
	f := NewFlagLoader(cmd)
	return SimulateOpts{
		Producers: f.Int("producers"),
		Events:    f.Int("events"),
		MaxGas:    f.Uint64("max_gas"),
		Rate:      f.Float64("rate"),
		Timeout:   f.Duration("timeout"),
		Meter: gasmeter.Config{
			PollMode:     gasmeter.PollMode(f.String("poll_mode")),
			WakeInterval: f.Duration("wake_interval"),
		},
	}
}

func runSimulate(cmd *cobra.Command, args []string) {
	opts := loadSimulateOpts(cmd)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	result, err := runSimulation(ctx, opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("simulation failed")
	}

	printSimulation(cmd.OutOrStdout(), opts, result)
	if !result.Matches() {
		logger.Fatal().
			Uint64("sent", uint64(result.Sent)).
			Uint64("elapsed", uint64(result.Elapsed)).
			Msg("drained total does not match the gas sent")
	}
}

func runSimulation(ctx context.Context, opts SimulateOpts) (SimulationResult, error) {
	if opts.Producers <= 0 || opts.Events < 0 {
		return SimulationResult{}, fmt.Errorf("producers must be positive and events non-negative")
	}
	if opts.MaxGas == 0 {
		opts.MaxGas = 1
	}
	if err := checkSimulationBound(opts); err != nil {
		return SimulationResult{}, err
	}

	reg := gasmeter.NewRegistry()
	m := gasmeter.StartWithConfig(opts.Meter, reg)
	defer m.Close()

	start := time.Now()

	var (
		mu   sync.Mutex
		sent gasmeter.Gas
		sum  int
		wg   sync.WaitGroup
		errs = make(chan error, opts.Producers)
	)
	for p := 0; p < opts.Producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var limiter *rate.Limiter
			if opts.Rate > 0 {
				limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
			}

			var local gasmeter.Gas
			n := 0
			for ; n < opts.Events; n++ {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						errs <- err
						break
					}
				}
				g := gasmeter.Gas(rand.Uint64N(opts.MaxGas))
				reg.Report(g)
				local += g
			}

			mu.Lock()
			sent += local
			sum += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)

	result := SimulationResult{Sent: sent, Events: sum}
	if err := <-errs; err != nil {
		return result, fmt.Errorf("producer stopped early: %w", err)
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for m.Pending() > 0 {
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("waiting for drain: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	elapsed, err := m.Elapsed()
	if err != nil {
		return result, err
	}
	result.Elapsed = elapsed
	result.Duration = time.Since(start)
	return result, nil
}

// ErrSimulationOverflow means the largest possible total of a run does not
// fit in a gas counter.
var ErrSimulationOverflow = errors.New("simulate: total gas could overflow")

// checkSimulationBound rejects runs whose worst case,
// producers * events * (max_gas - 1), does not fit in uint64.
func checkSimulationBound(opts SimulateOpts) error {
	hi, perProducer := bits.Mul64(uint64(opts.Events), opts.MaxGas-1)
	if hi != 0 {
		return fmt.Errorf("%w: %d events x max_gas %d", ErrSimulationOverflow, opts.Events, opts.MaxGas)
	}
	if hi, _ = bits.Mul64(perProducer, uint64(opts.Producers)); hi != 0 {
		return fmt.Errorf("%w: %d producers x %d events x max_gas %d",
			ErrSimulationOverflow, opts.Producers, opts.Events, opts.MaxGas)
	}
	return nil
}

func printSimulation(w io.Writer, opts SimulateOpts, r SimulationResult) {
	perSec := 0.0
	if r.Duration > 0 {
		perSec = float64(r.Events) / r.Duration.Seconds()
	}

	fmt.Fprintf(w, "Producers:   %d (%s events each)\n", opts.Producers, humanize.Comma(int64(opts.Events)))
	fmt.Fprintf(w, "Poll mode:   %s\n", opts.Meter.PollMode)
	fmt.Fprintf(w, "Events:      %s in %s (%s/s)\n", humanize.Comma(int64(r.Events)), r.Duration.Round(time.Millisecond), humanize.CommafWithDigits(perSec, 0))
	fmt.Fprintf(w, "Gas sent:    %s\n", humanize.BigComma(new(big.Int).SetUint64(uint64(r.Sent))))
	fmt.Fprintf(w, "Gas metered: %s\n", humanize.BigComma(new(big.Int).SetUint64(uint64(r.Elapsed))))
	if r.Matches() {
		fmt.Fprintln(w, "Result:      OK")
	} else {
		fmt.Fprintln(w, "Result:      MISMATCH")
	}
}

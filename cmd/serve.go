// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/gasmeter/pkg/admin"
	"github.com/LeeDigitalWorks/gasmeter/pkg/debug"
	"github.com/LeeDigitalWorks/gasmeter/pkg/gasmeter"
	"github.com/LeeDigitalWorks/gasmeter/pkg/logger"
	"github.com/LeeDigitalWorks/gasmeter/pkg/source"
	"github.com/LeeDigitalWorks/gasmeter/pkg/utils"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ServeOpts holds configuration for the metering daemon.
//
// Flat keys (ip, admin_port, poll_mode, ...) come from flags, GASMETER_*
// env vars or the top level of gasmeter.yaml. Broker credentials and other
// source details live under the "sources" section of the config file.
type ServeOpts struct {
	IP              string
	AdminPort       int
	DebugPort       int
	ShutdownTimeout time.Duration

	Meter   gasmeter.Config
	Sources source.Config
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the metering daemon",
	Long: `Start a gas meter and feed it from the admin API and any enabled
Redis or Kafka sources. The running total is served on /v1/gas, metrics
and pprof on the debug port.
`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	meter := gasmeter.DefaultConfig()
	sources := source.DefaultConfig()

	f := serveCmd.Flags()
	f.String("ip", "0.0.0.0", "IP address to bind to")
	f.Int("admin_port", 8090, "Admin HTTP port (gas API)")
	f.Int("debug_port", 8095, "Debug HTTP port (metrics, pprof)")
	f.Duration("shutdown_timeout", 10*time.Second, "Time allowed to drain pending gas on shutdown")
	f.String("poll_mode", string(meter.PollMode), "Drain worker poll mode (wait, spin)")
	f.Duration("wake_interval", meter.WakeInterval, "Wait-mode periodic wake interval")

	f.Bool("redis_enabled", false, "Consume gas from Redis Pub/Sub")
	f.String("redis_addr", sources.Redis.Addr, "Redis server address")
	f.StringSlice("redis_channels", sources.Redis.Channels, "Redis channels carrying gas payloads")

	f.Bool("kafka_enabled", false, "Consume gas from Kafka")
	f.StringSlice("kafka_brokers", sources.Kafka.Brokers, "Kafka broker addresses")
	f.String("kafka_topic", sources.Kafka.Topic, "Kafka topic carrying gas payloads")
	f.String("kafka_initial_offset", sources.Kafka.InitialOffset, "Kafka initial offset (newest, oldest)")

	viper.BindPFlags(f)
}

func loadServeOpts(cmd *cobra.Command) (ServeOpts, error) {
	f := NewFlagLoader(cmd)

	opts := ServeOpts{
		IP:              f.String("ip"),
		AdminPort:       f.Int("admin_port"),
		DebugPort:       f.Int("debug_port"),
		ShutdownTimeout: f.Duration("shutdown_timeout"),
		Meter: gasmeter.Config{
			PollMode:     gasmeter.PollMode(f.String("poll_mode")),
			WakeInterval: f.Duration("wake_interval"),
		},
		Sources: source.DefaultConfig(),
	}

	if err := utils.UnmarshalSection(f.v, "sources", &opts.Sources); err != nil {
		return opts, err
	}

	// Flat keys override the sources section only when set explicitly.
	if f.IsSet("redis_enabled") {
		opts.Sources.Redis.Enabled = f.Bool("redis_enabled")
	}
	if f.IsSet("redis_addr") {
		opts.Sources.Redis.Addr = f.String("redis_addr")
	}
	if f.IsSet("redis_channels") {
		opts.Sources.Redis.Channels = f.StringSlice("redis_channels")
	}
	if f.IsSet("kafka_enabled") {
		opts.Sources.Kafka.Enabled = f.Bool("kafka_enabled")
	}
	if f.IsSet("kafka_brokers") {
		opts.Sources.Kafka.Brokers = f.StringSlice("kafka_brokers")
	}
	if f.IsSet("kafka_topic") {
		opts.Sources.Kafka.Topic = f.String("kafka_topic")
	}
	if f.IsSet("kafka_initial_offset") {
		opts.Sources.Kafka.InitialOffset = f.String("kafka_initial_offset")
	}

	opts.Meter.Validate()
	if err := opts.Sources.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// gasSource is a running broker subscription.
type gasSource interface {
	Name() string
	Start(ctx context.Context) error
	Close() error
}

func openSources(cfg source.Config, r source.Reporter) ([]gasSource, error) {
	var sources []gasSource
	if cfg.Redis.Enabled {
		s, err := source.NewRedisSource(cfg.Redis, r)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	if cfg.Kafka.Enabled {
		s, err := source.NewKafkaSource(cfg.Kafka, r)
		if err != nil {
			closeSources(sources)
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, nil
}

func closeSources(sources []gasSource) {
	for _, s := range sources {
		if err := s.Close(); err != nil {
			logger.Warn().Err(err).Str("source", s.Name()).Msg("failed to close gas source")
		}
	}
}

func runServe(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("gasmeter", false)
	opts, err := loadServeOpts(cmd)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	configureGin()
	debug.SetNotReady()

	reg := gasmeter.NewRegistry()
	meter := gasmeter.StartWithConfig(opts.Meter, reg)
	debug.AddReadyCheck("meter", func() error {
		_, err := meter.Elapsed()
		return err
	})

	logger.Info().
		Str("meter_id", meter.ID()).
		Str("poll_mode", string(opts.Meter.PollMode)).
		Dur("wake_interval", opts.Meter.WakeInterval).
		Bool("redis", opts.Sources.Redis.Enabled).
		Bool("kafka", opts.Sources.Kafka.Enabled).
		Msg("Starting gas meter daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sources, err := openSources(opts.Sources, reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open gas sources")
	}
	for _, s := range sources {
		if err := s.Start(ctx); err != nil {
			logger.Fatal().Err(err).Str("source", s.Name()).Msg("failed to start gas source")
		}
	}

	debugServer := startHTTPServer("debug", debug.GetMux(), opts.IP, opts.DebugPort)
	adminServer := startHTTPServer("admin", admin.NewHandler(meter, reg), opts.IP, opts.AdminPort)

	debug.SetReady()

	sig := waitForShutdown()
	logger.Info().Str("signal", sig.String()).Msg("Shutting down gas meter daemon")
	debug.SetNotReady()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer shutdownCancel()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("admin server shutdown")
	}
	cancel()
	closeSources(sources)

	total, err := drainAndClose(shutdownCtx, meter, reg)
	if err != nil {
		sentry.CaptureException(err)
		logger.Error().Err(err).Str("meter_id", meter.ID()).Msg("gas meter did not shut down cleanly")
	} else {
		logger.Info().Str("meter_id", meter.ID()).Uint64("elapsed", uint64(total)).Msg("gas meter stopped")
	}

	debug.RemoveReadyCheck("meter")
	if err := debugServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("debug server shutdown")
	}
}

// drainAndClose disconnects every producer, waits until the meter has folded
// in what was already sent, reads the final total and closes the meter.
func drainAndClose(ctx context.Context, m *gasmeter.Meter, reg *gasmeter.Registry) (gasmeter.Gas, error) {
	reg.Close()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	var waitErr error
	for m.Pending() > 0 && waitErr == nil {
		select {
		case <-ctx.Done():
			waitErr = ctx.Err()
		case <-ticker.C:
		}
	}

	total, elapsedErr := m.Elapsed()
	closeErr := m.Close()
	if err := errors.Join(waitErr, elapsedErr, closeErr); err != nil {
		return total, err
	}
	return total, nil
}

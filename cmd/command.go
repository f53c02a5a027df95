// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/LeeDigitalWorks/gasmeter/pkg/logger"
	"github.com/LeeDigitalWorks/gasmeter/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gasmeter",
	Short: "gasmeter - a usage metering daemon",
	Long: `gasmeter keeps a running total of gas (abstract cost units) reported
by any number of producers. Costs arrive in-process, over the admin API, or
from Redis and Kafka sources, and are folded into the total by a background
drain worker.`,
	PersistentPreRun: initializeLogging,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	rootCmd.PersistentFlags().String("log_level", "", "Log level (trace, debug, info, warn, error); overrides LOG_LEVEL")
}

func initializeLogging(cmd *cobra.Command, args []string) {
	levelStr, _ := cmd.Flags().GetString("log_level")
	if levelStr == "" {
		return
	}
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		logger.Warn().Err(err).Str("log_level", levelStr).Msg("ignoring invalid log level")
		return
	}
	logger.SetLevel(level)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/LeeDigitalWorks/gasmeter/pkg/logger"

	"github.com/spf13/viper"
)

var (
	ConfigurationFileDirectory string
)

// LoadConfiguration merges configFileName from the usual search paths into
// the global viper instance. It reports whether a file was found. A missing
// required file is fatal.
func LoadConfiguration(configFileName string, required bool) bool {
	viper.SetConfigName(configFileName)
	if ConfigurationFileDirectory != "" {
		viper.AddConfigPath(ResolvePath(ConfigurationFileDirectory))
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.gasmeter")
	viper.AddConfigPath("/usr/local/etc/gasmeter/")
	viper.AddConfigPath("/etc/gasmeter/")
	viper.SetEnvPrefix("gasmeter")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if required {
				logger.Fatal().Msgf("Config file not found: %s", configFileName)
			}
			logger.Info().Msgf("Config file not found: %s", configFileName)
			return false
		}

		if required {
			logger.Fatal().Err(err).Msgf("Failed to load required config file: %s", configFileName)
		}
		logger.Warn().Err(err).Msgf("Failed to load config file: %s", configFileName)
		return false
	}
	logger.Info().Msgf("Loaded config file: %s", viper.ConfigFileUsed())

	return true
}

// UnmarshalSection decodes the viper subtree at key into out, which should
// already hold defaults. Keys absent from the config keep their defaults.
func UnmarshalSection(v *viper.Viper, key string, out any) error {
	if !v.IsSet(key) {
		return nil
	}
	return v.UnmarshalKey(key, out)
}

// ResolvePath expands a leading ~ and returns an absolute path.
func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

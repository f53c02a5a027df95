// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"sync"

	"github.com/spf13/viper"
)

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

var (
	Env string

	once sync.Once
)

func IsLocal() bool {
	return Env == Local
}

func IsProduction() bool {
	return Env == Production
}

func IsTesting() bool {
	return Env == Testing
}

// Load resolves the deployment environment from GASMETER_ENV, falling back to
// ENV and then to Local.
func Load() string {
	v := viper.New()
	v.SetEnvPrefix("gasmeter")
	_ = v.BindEnv("env")
	_ = v.BindEnv("fallback", "ENV")

	e := v.GetString("env")
	if e == "" {
		e = v.GetString("fallback")
	}
	if e == "" {
		e = Local
	}
	return e
}

func init() {
	once.Do(func() {
		Env = Load()
	})
}

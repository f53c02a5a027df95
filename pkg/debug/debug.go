// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package debug

import (
	"net/http"
	"net/http/pprof"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ready atomic.Bool

	customHandlersMu sync.RWMutex
	customHandlers   = make(map[string]http.Handler)

	readyChecksMu sync.RWMutex
	readyChecks   = make(map[string]func() error)

	// Global registry for gas meter and source metrics
	globalRegistry = prometheus.NewRegistry()
)

func SetReady() {
	ready.Store(true)
}

func SetNotReady() {
	ready.Store(false)
}

// AddReadyCheck registers a named readiness check. /ready fails while any
// check returns an error. Registering the same name again replaces the check.
func AddReadyCheck(name string, check func() error) {
	readyChecksMu.Lock()
	defer readyChecksMu.Unlock()
	readyChecks[name] = check
}

// RemoveReadyCheck drops a check registered with AddReadyCheck.
func RemoveReadyCheck(name string) {
	readyChecksMu.Lock()
	defer readyChecksMu.Unlock()
	delete(readyChecks, name)
}

// FailingChecks returns the sorted names of readiness checks that currently fail.
func FailingChecks() []string {
	readyChecksMu.RLock()
	defer readyChecksMu.RUnlock()

	var failing []string
	for name, check := range readyChecks {
		if err := check(); err != nil {
			failing = append(failing, name)
		}
	}
	slices.Sort(failing)
	return failing
}

func IsReady() bool {
	if !ready.Load() {
		return false
	}
	return len(FailingChecks()) == 0
}

// RegisterHandler registers a custom handler on the debug mux.
// Must be called before GetMux() to be included.
func RegisterHandler(pattern string, handler http.Handler) {
	customHandlersMu.Lock()
	defer customHandlersMu.Unlock()
	customHandlers[pattern] = handler
}

// Registry returns the Prometheus registry for registering custom metrics.
// Metrics registered here will be exported on /metrics alongside default metrics.
func Registry() prometheus.Registerer {
	return globalRegistry
}

// Gatherer returns the registry behind Registry.
func Gatherer() prometheus.Gatherer {
	return globalRegistry
}

func GetMux() *http.ServeMux {
	mux := http.NewServeMux()

	gatherers := prometheus.Gatherers{
		prometheus.DefaultGatherer,
		globalRegistry,
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	mux.Handle("/debug/", http.HandlerFunc(pprof.Index))
	mux.Handle("/debug/goroutine/", pprof.Handler("goroutine"))
	mux.Handle("/debug/heap/", pprof.Handler("heap"))
	mux.Handle("/debug/mutex/", pprof.Handler("mutex"))
	mux.Handle("/debug/profile", http.HandlerFunc(pprof.Profile))
	mux.Handle("/debug/trace", http.HandlerFunc(pprof.Trace))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if failing := FailingChecks(); len(failing) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			for _, name := range failing {
				_, _ = w.Write([]byte(name + "\n"))
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	customHandlersMu.RLock()
	defer customHandlersMu.RUnlock()
	for pattern, handler := range customHandlers {
		mux.Handle(pattern, handler)
	}

	return mux
}

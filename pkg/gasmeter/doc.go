// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package gasmeter meters the gas consumed by concurrently executing
// operations.
//
// Producers report gas through a Registry. Each Meter started against the
// registry owns the receiving end of an unbounded channel and a goroutine
// that folds every value into a running total:
//
//	reg := gasmeter.NewRegistry()
//	meter := gasmeter.Start(reg)
//	defer meter.Close()
//
//	reg.Report(100)
//	reg.Report(250)
//
//	total, err := meter.Elapsed()
//
// Elapsed observes the total as of the last drained event, so a value reported
// an instant ago may not be visible yet. Close drains everything reported
// before it and then joins the goroutine.
package gasmeter

// Gas is a count of consumed units reported by one operation.
type Gas uint64

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package gasmeter

import (
	"fmt"
	"math/bits"
	"sync"
)

// accumulator is the state shared between a Meter and its drain goroutine.
// Every field is read and written under mu, through with.
type accumulator struct {
	mu sync.Mutex

	// poisoned is set when a holder of mu panicked. Once set it never clears.
	poisoned error

	close   bool
	elapsed Gas
}

// with runs fn while holding the lock. A panic inside fn poisons the
// accumulator; the panic is not propagated, every later call returns the
// poisoning error instead.
func (a *accumulator) with(fn func(a *accumulator)) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.poisoned != nil {
		return a.poisoned
	}

	defer func() {
		if r := recover(); r != nil {
			a.poisoned = fmt.Errorf("%w: %v", ErrLockPoisoned, r)
			err = a.poisoned
		}
	}()

	fn(a)
	return nil
}

// add folds gas into the total. Overflow leaves the true total unknowable,
// so it panics and poisons the accumulator like any other failed holder.
func (a *accumulator) add(gas Gas) {
	sum, carry := bits.Add64(uint64(a.elapsed), uint64(gas), 0)
	if carry != 0 {
		panic(fmt.Sprintf("gas total overflow: %d + %d", a.elapsed, gas))
	}
	a.elapsed = Gas(sum)
}

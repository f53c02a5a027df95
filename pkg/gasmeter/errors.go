package gasmeter

import "errors"

var (
	// ErrLockPoisoned is returned when a previous holder of the accumulator
	// lock panicked. The running total is unknowable from then on.
	ErrLockPoisoned = errors.New("gasmeter: accumulator lock poisoned")

	// ErrWorkerJoinFailed is returned by Close when the drain goroutine
	// terminated abnormally.
	ErrWorkerJoinFailed = errors.New("gasmeter: drain worker failed")

	// ErrMeterClosed is returned when a meter is used after Close, including a
	// second call to Close.
	ErrMeterClosed = errors.New("gasmeter: meter already closed")
)

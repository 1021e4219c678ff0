package store

import "time"

// Backoff delays after the nth failed attempt (indexed by attempt-1).
var backoffDelays = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	8 * time.Minute,
	32 * time.Minute,
	2 * time.Hour,
}

// BackoffDelay returns the delay to wait after attemptCount attempts have
// been consumed. attemptCount is 1-indexed and clamped to the table.
func BackoffDelay(attemptCount int) time.Duration {
	index := attemptCount - 1

	if index < 0 {
		index = 0
	}
	if index >= len(backoffDelays) {
		index = len(backoffDelays) - 1
	}

	return backoffDelays[index]
}

// Package retry holds the backoff and retry-eligibility policy for queued
// remediation runs. All functions are pure; the queue layer owns persistence.
package retry

import (
	"math"
	"time"
)

// DelaySeconds computes the exponential backoff delay for a failed attempt.
// attempt is 1-indexed: the attempt number that just failed. The delay is
// base*2^(attempt-1), capped at cap. An attempt count large enough to
// overflow the power term still caps: +Inf exceeds any finite cap. Invalid
// inputs fall back to baseSeconds so a corrupt counter can never produce a
// negative or unbounded delay.
func DelaySeconds(attempt int, baseSeconds, capSeconds float64) float64 {
	if baseSeconds <= 0 || math.IsNaN(baseSeconds) || math.IsInf(baseSeconds, 0) {
		baseSeconds = 15
	}
	if capSeconds <= 0 || math.IsNaN(capSeconds) || math.IsInf(capSeconds, 0) {
		capSeconds = baseSeconds
	}
	if attempt < 1 {
		return baseSeconds
	}

	delay := baseSeconds * math.Pow(2, float64(attempt-1))
	if math.IsNaN(delay) || delay < 0 {
		return baseSeconds
	}
	if delay > capSeconds {
		return capSeconds
	}
	return delay
}

// ShouldRetry reports whether a run with the given attempt counters gets
// another try. At attempts == maxAttempts the run must dead-letter instead.
func ShouldRetry(attempts, maxAttempts int) bool {
	return attempts < maxAttempts
}

// NextAttemptAt returns the earliest time the next attempt may run,
// normalized to UTC so stored timestamps compare across hosts.
func NextAttemptAt(now time.Time, delaySeconds float64) time.Time {
	return now.UTC().Add(time.Duration(delaySeconds * float64(time.Second)))
}

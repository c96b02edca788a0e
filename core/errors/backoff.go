package errors

import (
	"math"
	"math/rand"
	"time"
)

// CalculateDelay returns the backoff delay for a retry attempt:
// initial * multiplier^attempt, capped at the policy's MaxDelay. A nil
// policy backs off not at all.
func CalculateDelay(attempt int, policy *RetryPolicy) time.Duration {
	if policy == nil {
		return 0
	}
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := time.Duration(float64(policy.InitialDelay) * math.Pow(multiplier, float64(attempt)))
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// AddJitter spreads a delay by up to jitterPercent in either direction
// so concurrent ingests retrying against the same store do not land on
// it at the same instant. The result never drops below a millisecond.
func AddJitter(delay time.Duration, jitterPercent float64) time.Duration {
	if jitterPercent <= 0 {
		return delay
	}
	spread := float64(delay) * jitterPercent
	jittered := time.Duration(float64(delay) + (rand.Float64()*2-1)*spread)
	if jittered < time.Millisecond {
		return time.Millisecond
	}
	return jittered
}

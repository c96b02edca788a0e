package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTieredErrorWrapping(t *testing.T) {
	underlying := fmt.Errorf("disk I/O error")
	err := WrapWithTier(TierTransient, "failed to persist record", underlying)

	if !errors.Is(err, underlying) {
		t.Error("wrapped error lost its underlying cause")
	}
	if GetTier(err) != TierTransient {
		t.Errorf("GetTier = %s, want transient", GetTier(err))
	}
}

func TestWrapPreservesExistingTier(t *testing.T) {
	inner := WrapWithTier(TierTransient, "store unreachable", ErrStoreUnavailable)
	outer := WrapWithTier(TierPermanent, "ingest failed", inner)

	if GetTier(outer) != TierTransient {
		t.Errorf("GetTier = %s, want transient (inner tier preserved)", GetTier(outer))
	}
	if !errors.Is(outer, ErrStoreUnavailable) {
		t.Error("sentinel not matchable through wrapping")
	}
}

func TestSentinelTiers(t *testing.T) {
	cases := []struct {
		err  error
		tier ErrorTier
	}{
		{ErrExtractionInput, TierPermanent},
		{ErrStoreUnavailable, TierTransient},
		{ErrWriteConflict, TierTransient},
		{ErrGraphQuery, TierDegrading},
		{ErrVectorQuery, TierDegrading},
		{ErrFullFailure, TierDegrading},
		{ErrMissingConfig, TierUserFixable},
	}
	for _, tc := range cases {
		if GetTier(tc.err) != tc.tier {
			t.Errorf("%v: tier = %s, want %s", tc.err, GetTier(tc.err), tc.tier)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrStoreUnavailable) {
		t.Error("store unavailability should be retryable")
	}
	if IsRetryable(ErrExtractionInput) {
		t.Error("malformed input should never be retryable")
	}
	if IsRetryable(fmt.Errorf("unclassified")) {
		t.Error("unclassified errors default to permanent, not retryable")
	}
}

func TestExecuteRetriesTransient(t *testing.T) {
	executor := NewRetryExecutor(map[ErrorTier]*RetryPolicy{
		TierTransient: {MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0},
	})

	attempts := 0
	err := executor.Execute(context.Background(), TierTransient, func() error {
		attempts++
		if attempts < 3 {
			return ErrStoreUnavailable
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestExecuteClassifiedStopsOnPermanent(t *testing.T) {
	executor := NewRetryExecutor(map[ErrorTier]*RetryPolicy{
		TierTransient: {MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0},
	})

	attempts := 0
	err := executor.ExecuteClassified(context.Background(), func() error {
		attempts++
		if attempts == 1 {
			return ErrStoreUnavailable
		}
		return ErrExtractionInput
	})
	if !errors.Is(err, ErrExtractionInput) {
		t.Fatalf("err = %v, want ErrExtractionInput", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (permanent error stops the loop)", attempts)
	}
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	executor := NewRetryExecutor(map[ErrorTier]*RetryPolicy{
		TierTransient: {MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := executor.Execute(ctx, TierTransient, func() error {
		attempts++
		return ErrStoreUnavailable
	})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want last attempt error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (cancelled before any retry wait)", attempts)
	}
}

func TestCalculateDelayExponential(t *testing.T) {
	policy := &RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}

	if d := CalculateDelay(0, policy); d != 100*time.Millisecond {
		t.Errorf("attempt 0 delay = %v, want 100ms", d)
	}
	if d := CalculateDelay(2, policy); d != 400*time.Millisecond {
		t.Errorf("attempt 2 delay = %v, want 400ms", d)
	}
	if d := CalculateDelay(10, policy); d != time.Second {
		t.Errorf("attempt 10 delay = %v, want cap of 1s", d)
	}
}

func TestAddJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := AddJitter(base, 0.1)
		if d < 90*time.Millisecond || d > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±10%% of %v", d, base)
		}
	}
	if AddJitter(base, 0) != base {
		t.Error("zero jitter should leave delay unchanged")
	}
}

func TestRetryAfterOverridesBackoff(t *testing.T) {
	executor := NewRetryExecutor(map[ErrorTier]*RetryPolicy{
		TierTransient: {MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0, UseRetryAfter: true},
	})

	hint := NewTieredError(TierTransient, "busy", nil).WithRetryAfter(20 * time.Millisecond)
	start := time.Now()
	attempts := 0
	executor.Execute(context.Background(), TierTransient, func() error {
		attempts++
		if attempts == 1 {
			return hint
		}
		return nil
	})
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("elapsed = %v, want at least the 20ms retry-after hint", elapsed)
	}
}

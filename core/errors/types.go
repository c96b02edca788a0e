// Package errors implements a tiered error taxonomy with classification and retry behavior.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorTier represents the classification tier for errors.
// Each tier has defined retry and surfacing behavior.
type ErrorTier int

const (
	// TierTransient indicates temporary errors that should be silently retried.
	// Examples: store unavailability, write conflicts under contention.
	TierTransient ErrorTier = iota

	// TierPermanent indicates errors that will not resolve with retry.
	// Examples: malformed records, unknown component ids.
	TierPermanent

	// TierUserFixable indicates errors that require caller intervention.
	// Examples: missing configuration, bad store paths.
	TierUserFixable

	// TierDegrading indicates a backing store answering slowly or partially.
	// Examples: graph query timeouts, vector search failures.
	TierDegrading
)

var tierNames = map[ErrorTier]string{
	TierTransient:   "transient",
	TierPermanent:   "permanent",
	TierUserFixable: "user_fixable",
	TierDegrading:   "degrading",
}

func (t ErrorTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// TierBehavior defines the handling behavior for an error tier.
type TierBehavior struct {
	// ShouldRetry indicates whether errors of this tier should be retried.
	ShouldRetry bool

	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int

	// BaseBackoff is the initial backoff duration.
	BaseBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// ShouldNotify indicates whether to surface the error to the caller.
	ShouldNotify bool
}

// DefaultBehaviors returns the default behavior for each error tier.
func DefaultBehaviors() map[ErrorTier]TierBehavior {
	return map[ErrorTier]TierBehavior{
		TierTransient: {
			ShouldRetry:  true,
			MaxRetries:   3,
			BaseBackoff:  100 * time.Millisecond,
			MaxBackoff:   5 * time.Second,
			ShouldNotify: false,
		},
		TierPermanent: {
			ShouldRetry:  false,
			ShouldNotify: true,
		},
		TierUserFixable: {
			ShouldRetry:  false,
			ShouldNotify: true,
		},
		TierDegrading: {
			ShouldRetry:  true,
			MaxRetries:   2,
			BaseBackoff:  200 * time.Millisecond,
			MaxBackoff:   2 * time.Second,
			ShouldNotify: true,
		},
	}
}

// TieredError wraps an error with tier classification.
type TieredError struct {
	Tier       ErrorTier
	Message    string
	Underlying error
	RetryAfter time.Duration
	Context    map[string]string
}

// Error implements the error interface.
func (e *TieredError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Tier, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Tier, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TieredError) Unwrap() error {
	return e.Underlying
}

// Is checks if the target error matches this TieredError's tier.
func (e *TieredError) Is(target error) bool {
	var te *TieredError
	if errors.As(target, &te) {
		return e.Tier == te.Tier && e.Message == te.Message
	}
	return false
}

// NewTieredError creates a new TieredError with the given tier and message.
func NewTieredError(tier ErrorTier, message string, underlying error) *TieredError {
	return &TieredError{
		Tier:       tier,
		Message:    message,
		Underlying: underlying,
		Context:    make(map[string]string),
	}
}

// WithRetryAfter adds a retry-after duration to the error.
func (e *TieredError) WithRetryAfter(d time.Duration) *TieredError {
	e.RetryAfter = d
	return e
}

// WithContext adds context key-value pairs to the error.
func (e *TieredError) WithContext(key, value string) *TieredError {
	e.Context[key] = value
	return e
}

// GetTier extracts the ErrorTier from an error, defaulting to Permanent.
func GetTier(err error) ErrorTier {
	var te *TieredError
	if errors.As(err, &te) {
		return te.Tier
	}
	return TierPermanent
}

// GetBehavior returns the behavior for an error's tier.
func GetBehavior(err error) TierBehavior {
	return DefaultBehaviors()[GetTier(err)]
}

// IsRetryable checks if an error should be retried based on its tier.
func IsRetryable(err error) bool {
	return GetBehavior(err).ShouldRetry
}

// Sentinel errors for the ingestion and query taxonomy.
var (
	// ErrExtractionInput marks a structurally invalid component record.
	// Retrying the same input cannot succeed.
	ErrExtractionInput = NewTieredError(TierPermanent, "extraction input invalid", nil)

	// ErrStoreUnavailable marks a backing store that could not be
	// reached. The write is retried and, past the attempt budget,
	// deferred rather than dropped.
	ErrStoreUnavailable = NewTieredError(TierTransient, "store unavailable", nil)

	// ErrWriteConflict marks a lost optimistic-concurrency race on a
	// component row.
	ErrWriteConflict = NewTieredError(TierTransient, "graph write conflict", nil)

	// ErrGraphQuery marks a failed or timed-out graph phase.
	ErrGraphQuery = NewTieredError(TierDegrading, "graph query failed", nil)

	// ErrVectorQuery marks a failed or timed-out vector phase.
	ErrVectorQuery = NewTieredError(TierDegrading, "vector query failed", nil)

	// ErrFullFailure marks a query for which both retrieval phases
	// failed. It is always surfaced, never an empty success.
	ErrFullFailure = NewTieredError(TierDegrading, "all retrieval paths failed", nil)

	// ErrMissingConfig marks configuration the operator must supply.
	ErrMissingConfig = NewTieredError(TierUserFixable, "missing configuration", nil)
)

// WrapWithTier wraps an error with a tier classification.
func WrapWithTier(tier ErrorTier, message string, err error) error {
	if err == nil {
		return nil
	}

	// Don't double-wrap TieredErrors
	var te *TieredError
	if errors.As(err, &te) {
		return &TieredError{
			Tier:       te.Tier,
			Message:    message,
			Underlying: err,
			RetryAfter: te.RetryAfter,
			Context:    te.Context,
		}
	}

	return NewTieredError(tier, message, err)
}

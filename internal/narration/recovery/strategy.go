package recovery

import (
	"math"
	"time"

	"github.com/vietddude/narrator/internal/core/domain"
)

// FailureCategory tells whether a failed item is worth retrying automatically.
type FailureCategory int

const (
	CategoryTransient FailureCategory = iota
	CategoryPermanent
)

// Classifier categorizes a failed item status.
type Classifier func(st domain.ItemStatus) FailureCategory

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay for the given attempt (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if we should retry based on the status and attempt count.
	ShouldRetry(st domain.ItemStatus, attempt int) bool
}

// ExponentialBackoff implements a standard backoff strategy.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Classifier   Classifier
}

// ClassifyByRetryAt treats failures carrying a retry time as transient.
// Failures without one were not caused by rate limits and will not heal on their own.
func ClassifyByRetryAt(st domain.ItemStatus) FailureCategory {
	if st.RetryAt.IsZero() {
		return CategoryPermanent
	}
	return CategoryTransient
}

// DefaultBackoff returns defaults for rate-limited items.
// 5s, 10s, 20s, 40s, 80s (Max 5m)
func DefaultBackoff(classifier Classifier) *ExponentialBackoff {
	if classifier == nil {
		classifier = ClassifyByRetryAt
	}
	return &ExponentialBackoff{
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Minute,
		MaxAttempts:  5,
		Classifier:   classifier,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if the failure is transient and max attempts not exceeded.
func (s *ExponentialBackoff) ShouldRetry(st domain.ItemStatus, attempt int) bool {
	if attempt >= s.MaxAttempts {
		return false
	}
	return s.Classifier(st) == CategoryTransient
}

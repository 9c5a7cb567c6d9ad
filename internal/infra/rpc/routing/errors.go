package routing

import (
	"fmt"
	"time"
)

// ErrorKind is the taxonomy of failures leaving the executor.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindRateLimited
	KindInvalidCredential
	KindNoCredentialAvailable
	KindRetriesExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindNoCredentialAvailable:
		return "no_credential_available"
	case KindRetriesExhausted:
		return "retries_exhausted"
	default:
		return "other"
	}
}

// Error is a classified executor failure.
type Error struct {
	Kind    ErrorKind
	Message string
	// RetryAfter is the last retry interval reported by the remote side, if any.
	RetryAfter time.Duration
	Attempts   int
	// Err is the last underlying failure.
	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRetriesExhausted:
		return fmt.Sprintf("retries exhausted after %d attempts: %s", e.Attempts, e.Message)
	case KindNoCredentialAvailable:
		if e.Message != "" {
			return "no credential available: " + e.Message
		}
		return "no credential available"
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Package routing classifies remote failures and runs calls through the credential
// pool with bounded retries.
//
// This package contains:
//   - Classify: maps a remote failure to rate limited / invalid credential / other
//   - Executor: retry loop that prefers rotating credentials over waiting
//   - Decide: the pure transition function of the executor state machine
package routing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/narrator/internal/core/domain"
	"github.com/vietddude/narrator/internal/infra/rpc/keypool"
)

// DefaultMaxWait bounds a single rate-limit sleep.
const DefaultMaxWait = 10 * time.Second

// WorkFunc is one remote call made with the given credential.
type WorkFunc func(ctx context.Context, sel keypool.Selection) (*domain.Artifact, error)

// Step is a state of the executor loop.
type Step int

const (
	StepAttempt Step = iota
	StepSuccess
	StepRotate      // rate limited, another credential is usable now
	StepWait        // rate limited, nothing usable, bounded sleep
	StepNextAttempt // invalid credential, re-select
	StepFatal       // not retryable
)

func (s Step) String() string {
	switch s {
	case StepAttempt:
		return "attempting"
	case StepSuccess:
		return "success"
	case StepRotate:
		return "rate_limited_rotate"
	case StepWait:
		return "rate_limited_wait"
	case StepNextAttempt:
		return "invalid_next_attempt"
	default:
		return "fatal"
	}
}

// Decide returns the next step after a failed attempt made with credential from.
// rotateTo is the result of a rotation scan after the failure was recorded.
func Decide(c Classification, from, rotateTo int) Step {
	switch c.Kind {
	case FailureRateLimited:
		if rotateTo != from {
			return StepRotate
		}
		return StepWait
	case FailureInvalidCredential:
		return StepNextAttempt
	default:
		return StepFatal
	}
}

// Observer receives executor events. Implementations must be safe for concurrent use.
type Observer interface {
	OnAttempt(position int)
	OnRateLimited(position int, retryAfter time.Duration)
	OnRotate(from, to int)
	OnInvalid(position int)
	OnResult(outcome string, latency time.Duration)
}

type nopObserver struct{}

func (nopObserver) OnAttempt(int)                    {}
func (nopObserver) OnRateLimited(int, time.Duration) {}
func (nopObserver) OnRotate(int, int)                {}
func (nopObserver) OnInvalid(int)                    {}
func (nopObserver) OnResult(string, time.Duration)   {}

type multiObserver []Observer

// Observers fans events out to every observer in order.
func Observers(obs ...Observer) Observer {
	return multiObserver(obs)
}

func (m multiObserver) OnAttempt(position int) {
	for _, o := range m {
		o.OnAttempt(position)
	}
}

func (m multiObserver) OnRateLimited(position int, retryAfter time.Duration) {
	for _, o := range m {
		o.OnRateLimited(position, retryAfter)
	}
}

func (m multiObserver) OnRotate(from, to int) {
	for _, o := range m {
		o.OnRotate(from, to)
	}
}

func (m multiObserver) OnInvalid(position int) {
	for _, o := range m {
		o.OnInvalid(position)
	}
}

func (m multiObserver) OnResult(outcome string, latency time.Duration) {
	for _, o := range m {
		o.OnResult(outcome, latency)
	}
}

// Executor runs work through the credential pool.
type Executor struct {
	pool     *keypool.Pool
	maxWait  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	classify func(error) Classification
	observer Observer
	log      *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMaxWait bounds each rate-limit sleep.
func WithMaxWait(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.maxWait = d
		}
	}
}

// WithSleeper replaces the context-aware sleep, mainly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = fn }
}

// WithClassifier replaces Classify.
func WithClassifier(fn func(error) Classification) ExecutorOption {
	return func(e *Executor) { e.classify = fn }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

// NewExecutor creates an executor bound to pool.
func NewExecutor(pool *keypool.Pool, opts ...ExecutorOption) *Executor {
	e := &Executor{
		pool:     pool,
		maxWait:  DefaultMaxWait,
		sleep:    SleepWithContext,
		classify: Classify,
		observer: nopObserver{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs work with up to maxRetries retries (maxRetries+1 attempts in total).
// Every failure leaving Execute is a *Error.
func (e *Executor) Execute(ctx context.Context, work WorkFunc, maxRetries int) (*domain.Artifact, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var (
		lastErr    error
		lastClass  Classification
		retryAfter time.Duration
		next       *keypool.Selection
	)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Kind: KindOther, Message: err.Error(), Attempts: attempt, Err: err}
		}

		var sel keypool.Selection
		if next != nil {
			sel, next = *next, nil
		} else {
			var err error
			sel, err = e.pool.SelectAvailable()
			if err != nil {
				return nil, e.noCredential(lastErr, lastClass, retryAfter, attempt)
			}
		}

		e.observer.OnAttempt(sel.Index)
		start := time.Now()
		artifact, err := work(ctx, sel)
		latency := time.Since(start)
		if err == nil {
			e.observer.OnResult(StepSuccess.String(), latency)
			return artifact, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			e.observer.OnResult("cancelled", latency)
			return nil, &Error{Kind: KindOther, Message: ctxErr.Error(), Attempts: attempt + 1, Err: err}
		}

		class := e.classify(err)
		lastErr, lastClass = err, class

		rotated := sel
		switch class.Kind {
		case FailureRateLimited:
			retryAfter = class.RetryAfter
			e.pool.MarkRateLimitedAt(sel.Index, class.RetryAfter)
			e.observer.OnRateLimited(sel.Index, class.RetryAfter)
			rotated = e.pool.Rotate(sel.Index)
		case FailureInvalidCredential:
			e.pool.MarkInvalidAt(sel.Index)
			e.observer.OnInvalid(sel.Index)
		}

		step := Decide(class, sel.Index, rotated.Index)
		e.observer.OnResult(step.String(), latency)
		e.log.Debug("Attempt failed",
			"attempt", attempt+1,
			"position", sel.Index,
			"step", step.String(),
			"error", class.Message,
		)

		switch step {
		case StepFatal:
			return nil, &Error{
				Kind:     KindOther,
				Message:  class.Message,
				Attempts: attempt + 1,
				Err:      err,
			}

		case StepRotate:
			e.observer.OnRotate(sel.Index, rotated.Index)
			next = &rotated

		case StepWait:
			// no sleep once the budget is spent
			if attempt < maxRetries {
				wait := min(class.RetryAfter, e.maxWait)
				e.log.Info("All credentials rate limited, waiting", "wait", wait)
				if err := e.sleep(ctx, wait); err != nil {
					return nil, &Error{Kind: KindOther, Message: err.Error(), Attempts: attempt + 1, Err: err}
				}
			}
		}
	}

	return nil, &Error{
		Kind:       KindRetriesExhausted,
		Message:    lastClass.Message,
		RetryAfter: retryAfter,
		Attempts:   maxRetries + 1,
		Err:        lastErr,
	}
}

func (e *Executor) noCredential(lastErr error, lastClass Classification, retryAfter time.Duration, attempts int) *Error {
	err := lastErr
	if err == nil {
		err = keypool.ErrNoCredentialAvailable
	}
	return &Error{
		Kind:       KindNoCredentialAvailable,
		Message:    lastClass.Message,
		RetryAfter: retryAfter,
		Attempts:   attempts,
		Err:        err,
	}
}

// SleepWithContext blocks for d, returning early if ctx is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

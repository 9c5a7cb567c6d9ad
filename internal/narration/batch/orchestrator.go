// Package batch drives a narration script through the resilient executor,
// one line at a time, keeping an independent status per line.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/narrator/internal/core/domain"
	"github.com/vietddude/narrator/internal/infra/rpc/keypool"
	"github.com/vietddude/narrator/internal/infra/rpc/provider"
	"github.com/vietddude/narrator/internal/infra/rpc/routing"
)

var (
	ErrNoRun           = errors.New("no active run")
	ErrIndexOutOfRange = errors.New("item index out of range")
	ErrEmptyLine       = errors.New("line has no text")
	// ErrSuperseded is returned by RunAll when a newer run replaced its board.
	ErrSuperseded = errors.New("run superseded by a newer run")
)

// Executor runs one unit of work through the credential pool.
type Executor interface {
	Execute(ctx context.Context, work routing.WorkFunc, maxRetries int) (*domain.Artifact, error)
}

// Pool is the part of the credential pool the orchestrator reads.
type Pool interface {
	SecondsUntilNextAvailable() int
}

// ItemCallback is invoked after every committed state change of an item.
type ItemCallback func(runID string, index int, line domain.ScriptLine, st domain.ItemStatus)

// RunCallback is invoked once a new run has reset the board, before any item starts.
type RunCallback func(run domain.Run)

// Config holds orchestrator settings.
type Config struct {
	MaxRetries int
	Pacing     time.Duration
	Params     provider.Params
}

// Orchestrator owns the board of the current run.
type Orchestrator struct {
	exec  Executor
	pool  Pool
	synth provider.Synthesizer
	cfg   Config

	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	log      *slog.Logger
	callback ItemCallback
	onRun    RunCallback

	mu        sync.Mutex
	runID     string
	lines     []domain.ScriptLine
	slots     map[int]*slot
	nextToken uint64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleeper replaces the pacing sleep.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithClock sets the time source used for timestamps and retry times.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithItemCallback registers a callback for item state changes.
func WithItemCallback(cb ItemCallback) Option {
	return func(o *Orchestrator) { o.callback = cb }
}

// WithRunCallback registers a callback for new runs.
func WithRunCallback(cb RunCallback) Option {
	return func(o *Orchestrator) { o.onRun = cb }
}

// New creates an orchestrator.
func New(exec Executor, pool Pool, synth provider.Synthesizer, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		exec:  exec,
		pool:  pool,
		synth: synth,
		cfg:   cfg,
		sleep: routing.SleepWithContext,
		now:   time.Now,
		log:   slog.Default(),
		slots: make(map[int]*slot),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunAll resets the board and processes every non-empty line in order.
// A failed line never stops the loop. On cancellation the partial summary
// is returned together with ctx.Err().
func (o *Orchestrator) RunAll(ctx context.Context, lines []domain.ScriptLine) (domain.Summary, error) {
	runID := o.reset(lines)
	o.log.Info("Starting run", "run_id", runID, "lines", len(lines))
	if o.onRun != nil {
		o.onRun(domain.Run{ID: runID, CreatedAt: o.now(), Lines: lines})
	}

	last := -1
	for i, l := range lines {
		if !l.IsEmpty() {
			last = i
		}
	}

	for i, line := range lines {
		if line.IsEmpty() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return o.Summary(), err
		}

		st, err := o.process(ctx, runID, i)
		if errors.Is(err, ErrSuperseded) {
			return o.Summary(), err
		}
		if err != nil {
			o.log.Info("Run cancelled", "run_id", runID, "index", i)
			return o.Summary(), err
		}

		if st.State == domain.ItemSucceeded && i < last && o.cfg.Pacing > 0 {
			if err := o.sleep(ctx, o.cfg.Pacing); err != nil {
				return o.Summary(), err
			}
		}
	}

	s := o.Summary()
	o.log.Info("Run finished",
		"run_id", runID,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"skipped", s.Skipped,
	)
	return s, nil
}

// RetryOne re-runs a single item of the current run. Other items are untouched.
// The returned error covers invalid requests and cancellation; a failed
// synthesis is reported through the returned status.
func (o *Orchestrator) RetryOne(ctx context.Context, index int) (domain.ItemStatus, error) {
	o.mu.Lock()
	runID := o.runID
	if runID == "" {
		o.mu.Unlock()
		return domain.ItemStatus{}, ErrNoRun
	}
	if index < 0 || index >= len(o.lines) {
		o.mu.Unlock()
		return domain.ItemStatus{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if _, ok := o.slots[index]; !ok {
		o.mu.Unlock()
		return domain.ItemStatus{}, fmt.Errorf("%w: %d", ErrEmptyLine, index)
	}
	o.mu.Unlock()

	o.log.Debug("Retrying item", "run_id", runID, "index", index)
	return o.process(ctx, runID, index)
}

// process runs one item and commits the outcome if it still holds the latest token.
func (o *Orchestrator) process(ctx context.Context, runID string, index int) (domain.ItemStatus, error) {
	line, token, ok := o.begin(runID, index)
	if !ok {
		return domain.ItemStatus{}, ErrSuperseded
	}

	work := func(ctx context.Context, sel keypool.Selection) (*domain.Artifact, error) {
		return o.synth.Synthesize(ctx, sel.Secret, line, o.cfg.Params)
	}
	artifact, err := o.exec.Execute(ctx, work, o.cfg.MaxRetries)

	now := o.now()
	var st domain.ItemStatus
	switch {
	case err == nil:
		st = domain.ItemStatus{State: domain.ItemSucceeded, Artifact: artifact, UpdatedAt: now}
	case ctx.Err() != nil:
		st = domain.ItemStatus{State: domain.ItemIdle, UpdatedAt: now}
		o.commit(runID, index, token, st)
		return st, ctx.Err()
	default:
		st = domain.ItemStatus{
			State:     domain.ItemFailed,
			Message:   err.Error(),
			RetryAt:   o.retryAt(now, err),
			UpdatedAt: now,
		}
		o.log.Warn("Item failed", "run_id", runID, "index", index, "error", err)
	}

	if !o.commit(runID, index, token, st) {
		o.log.Debug("Discarding stale result", "run_id", runID, "index", index)
		if o.RunID() != runID {
			return st, ErrSuperseded
		}
		if cur, ok := o.Status(index); ok {
			return cur, nil
		}
	}
	return st, nil
}

// retryAt is zero for failures that waiting cannot fix.
func (o *Orchestrator) retryAt(now time.Time, err error) time.Time {
	var rerr *routing.Error
	if !errors.As(err, &rerr) || rerr.Kind == routing.KindOther {
		return time.Time{}
	}
	if s := o.pool.SecondsUntilNextAvailable(); s > 0 {
		return now.Add(time.Duration(s) * time.Second)
	}
	if rerr.RetryAfter > 0 {
		return now.Add(rerr.RetryAfter)
	}
	return time.Time{}
}

func (o *Orchestrator) reset(lines []domain.ScriptLine) string {
	runID := uuid.NewString()
	now := o.now()

	o.mu.Lock()
	o.runID = runID
	o.lines = append([]domain.ScriptLine(nil), lines...)
	o.slots = make(map[int]*slot, len(lines))
	for i, l := range o.lines {
		if l.IsEmpty() {
			continue
		}
		o.slots[i] = &slot{
			line:   l,
			status: domain.ItemStatus{State: domain.ItemIdle, UpdatedAt: now},
		}
	}
	o.mu.Unlock()

	return runID
}

// begin marks the item Loading and hands out a fresh token.
func (o *Orchestrator) begin(runID string, index int) (domain.ScriptLine, uint64, bool) {
	o.mu.Lock()
	if o.runID != runID {
		o.mu.Unlock()
		return domain.ScriptLine{}, 0, false
	}
	sl := o.slots[index]
	o.nextToken++
	sl.token = o.nextToken
	sl.status = domain.ItemStatus{
		State:     domain.ItemLoading,
		Artifact:  sl.status.Artifact,
		UpdatedAt: o.now(),
	}
	line, token, st := sl.line, sl.token, sl.status
	o.mu.Unlock()

	o.notify(runID, index, line, st)
	return line, token, true
}

// commit writes st only when token is still the latest for the item.
func (o *Orchestrator) commit(runID string, index int, token uint64, st domain.ItemStatus) bool {
	o.mu.Lock()
	if o.runID != runID {
		o.mu.Unlock()
		return false
	}
	sl := o.slots[index]
	if sl.token != token {
		o.mu.Unlock()
		return false
	}
	if st.State == domain.ItemIdle {
		st.Artifact = sl.status.Artifact
	}
	sl.status = st
	line := sl.line
	o.mu.Unlock()

	o.notify(runID, index, line, st)
	return true
}

func (o *Orchestrator) notify(runID string, index int, line domain.ScriptLine, st domain.ItemStatus) {
	if o.callback != nil {
		o.callback(runID, index, line, st)
	}
}

// Status returns the status of item index; ok is false for empty lines
// and indices outside the current run.
func (o *Orchestrator) Status(index int) (domain.ItemStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sl, ok := o.slots[index]
	if !ok {
		return domain.ItemStatus{}, false
	}
	return sl.status, true
}

// Line returns the script line at index of the current run.
func (o *Orchestrator) Line(index int) (domain.ScriptLine, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if index < 0 || index >= len(o.lines) {
		return domain.ScriptLine{}, false
	}
	return o.lines[index], true
}

// Snapshot copies the board.
func (o *Orchestrator) Snapshot() Board {
	o.mu.Lock()
	defer o.mu.Unlock()

	b := Board{
		RunID:   o.runID,
		Items:   make([]Item, 0, len(o.slots)),
		Summary: summarize(o.lines, o.slots),
	}
	for i := range o.lines {
		sl, ok := o.slots[i]
		if !ok {
			continue
		}
		b.Items = append(b.Items, Item{Index: i, Line: sl.line, Status: sl.status})
	}
	return b
}

// Summary counts the outcomes of the current run.
func (o *Orchestrator) Summary() domain.Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return summarize(o.lines, o.slots)
}

// RunID returns the ID of the current run, empty before the first RunAll.
func (o *Orchestrator) RunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID
}

// Package keypool holds the API credentials used for outbound synthesis calls.
//
// Selection is advisory: callers receive a Selection value (index + secret) and
// report failures back by index or identity. Cooldowns and permanent blocks are
// kept on the pool records, which are never removed.
package keypool

import (
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/narrator/internal/core/domain"
)

// ErrNoCredentialAvailable is returned when the pool is empty or every credential is blocked.
var ErrNoCredentialAvailable = errors.New("no credential available")

// PlaceholderSecret stands in when no credential was configured. Calls made with it fail at the remote side.
const PlaceholderSecret = "missing-api-key"

// DefaultIdentityPrefix is the minimum identity length accepted for prefix matching.
const DefaultIdentityPrefix = 8

// Selection identifies a credential chosen for one call.
type Selection struct {
	Index  int
	Secret string
}

// Pool manages a fixed, ordered set of credentials.
type Pool struct {
	mu sync.Mutex

	creds   []domain.Credential
	current int

	prefixLen int
	now       func() time.Time
	log       *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithIdentityPrefix sets the minimum identity length for truncated lookups.
func WithIdentityPrefix(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.prefixLen = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// New creates a pool from the configured secrets, keeping their order.
func New(secrets []string, opts ...Option) *Pool {
	p := &Pool{
		prefixLen: DefaultIdentityPrefix,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.creds = make([]domain.Credential, 0, len(secrets))
	for _, s := range secrets {
		p.creds = append(p.creds, domain.Credential{Secret: s})
	}

	if len(p.creds) == 0 {
		p.log.Warn("No API credentials configured, calls will fail until keys are provided")
		p.creds = append(p.creds, domain.Credential{Secret: PlaceholderSecret})
	}

	return p
}

// Len returns the number of credentials, blocked ones included.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// SelectAvailable returns the first usable credential in pool order. When none is
// usable it falls back to the non-blocked credential that recovers soonest, which may
// still be rate limited.
func (p *Pool) SelectAvailable() (Selection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for i, c := range p.creds {
		if c.UsableAt(now) {
			p.current = i
			return Selection{Index: i, Secret: c.Secret}, nil
		}
	}

	best := -1
	for i, c := range p.creds {
		if c.Blocked {
			continue
		}
		if best < 0 || c.AvailableAt.Before(p.creds[best].AvailableAt) {
			best = i
		}
	}
	if best < 0 {
		return Selection{}, ErrNoCredentialAvailable
	}

	p.current = best
	return Selection{Index: best, Secret: p.creds[best].Secret}, nil
}

// Rotate scans forward cyclically from the credential after from and returns the first
// usable one. If the whole cycle yields nothing, the credential at from is returned.
func (p *Pool) Rotate(from int) Selection {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.creds)
	if n == 0 {
		return Selection{Index: from}
	}
	if from < 0 || from >= n {
		from = 0
	}

	now := p.now()
	for step := 1; step <= n; step++ {
		i := (from + step) % n
		if p.creds[i].UsableAt(now) {
			p.current = i
			return Selection{Index: i, Secret: p.creds[i].Secret}
		}
	}

	return Selection{Index: from, Secret: p.creds[from].Secret}
}

// MarkRateLimited puts the credential matching identity into cooldown. The identity may
// be a truncated prefix of the secret. Returns false when no unique match exists.
func (p *Pool) MarkRateLimited(identity string, retryAfter time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.lookup(identity)
	if i < 0 {
		p.log.Warn("Rate limit reported for unknown credential", "identity", redact(identity))
		return false
	}
	p.coolDown(i, retryAfter)
	return true
}

// MarkRateLimitedAt puts the credential at index into cooldown.
func (p *Pool) MarkRateLimitedAt(index int, retryAfter time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.creds) {
		p.log.Warn("Rate limit reported for out of range credential", "position", index)
		return
	}
	p.coolDown(index, retryAfter)
}

// MarkInvalid permanently blocks the credential matching identity.
func (p *Pool) MarkInvalid(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.lookup(identity)
	if i < 0 {
		p.log.Warn("Invalid credential reported for unknown identity", "identity", redact(identity))
		return false
	}
	p.block(i)
	return true
}

// MarkInvalidAt permanently blocks the credential at index.
func (p *Pool) MarkInvalidAt(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.creds) {
		p.log.Warn("Invalid credential reported for out of range position", "position", index)
		return
	}
	p.block(index)
}

// ResetErrors clears error counters. Blocked credentials stay blocked.
func (p *Pool) ResetErrors() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.creds {
		p.creds[i].ErrorCount = 0
	}
}

// HasAvailable reports whether any credential is usable right now.
func (p *Pool) HasAvailable() bool {
	return p.AvailableCount() > 0
}

// AvailableCount returns the number of credentials usable right now.
func (p *Pool) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	count := 0
	for _, c := range p.creds {
		if c.UsableAt(now) {
			count++
		}
	}
	return count
}

// SecondsUntilNextAvailable returns 0 when a credential is usable now, otherwise the
// rounded-up wait until the first cooling credential recovers.
func (p *Pool) SecondsUntilNextAvailable() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var minWait time.Duration = -1
	for _, c := range p.creds {
		if c.Blocked {
			continue
		}
		if c.UsableAt(now) {
			return 0
		}
		wait := c.AvailableAt.Sub(now)
		if minWait < 0 || wait < minWait {
			minWait = wait
		}
	}
	if minWait < 0 {
		return 0
	}
	return ceilSeconds(minWait)
}

func (p *Pool) coolDown(i int, retryAfter time.Duration) {
	if retryAfter < 0 {
		retryAfter = 0
	}
	p.creds[i].AvailableAt = p.now().Add(retryAfter)
	p.creds[i].ErrorCount++
	p.log.Warn("Credential rate limited", "position", i, "retry_after", retryAfter)
}

func (p *Pool) block(i int) {
	p.creds[i].Blocked = true
	p.creds[i].ErrorCount++
	p.log.Error("Credential blocked as invalid", "position", i)
}

// lookup finds a credential by exact secret, then by unique prefix.
func (p *Pool) lookup(identity string) int {
	identity = strings.TrimSpace(identity)
	identity = strings.TrimSuffix(identity, "...")
	identity = strings.TrimSuffix(identity, "…")
	if identity == "" {
		return -1
	}

	for i, c := range p.creds {
		if c.Secret == identity {
			return i
		}
	}

	if len(identity) < p.prefixLen {
		return -1
	}

	match := -1
	for i, c := range p.creds {
		if strings.HasPrefix(c.Secret, identity) {
			if match >= 0 {
				return -1
			}
			match = i
		}
	}
	return match
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// redact keeps only a short prefix of a secret for logs.
func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "..."
}

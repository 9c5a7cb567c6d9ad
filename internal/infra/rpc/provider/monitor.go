package provider

import (
	"sync"
	"time"
)

// MonitorStatus represents the health state of the speech model as seen by this client.
type MonitorStatus string

const (
	MonitorHealthy   MonitorStatus = "healthy"   // calls are working normally
	MonitorDegraded  MonitorStatus = "degraded"  // calls are slow but working
	MonitorThrottled MonitorStatus = "throttled" // recent calls are being rate limited
)

// MonitorStats holds monitoring statistics for remote calls.
type MonitorStats struct {
	Status              MonitorStatus `json:"status"`
	AverageLatency      time.Duration `json:"average_latency"`
	RateLimited         int           `json:"rate_limited"`
	InvalidCredentials  int           `json:"invalid_credentials"`
	Rotations           int           `json:"rotations"`
	RequestsLast1Hour   int           `json:"requests_last_1h"`
	RequestsLast24Hours int           `json:"requests_last_24h"`
	LastRetryAfter      time.Duration `json:"last_retry_after"`
}

// Monitor tracks remote call latency and rate limiting. It receives executor
// events and is safe for concurrent use.
type Monitor struct {
	mu sync.RWMutex

	// Response time tracking
	recentLatencies  []time.Duration
	maxLatencyWindow int

	// Error tracking
	rateLimited      int
	invalid          int
	rotations        int
	lastThrottleTime time.Time
	lastRetryAfter   time.Duration

	// Sliding window
	requestTimestamps []time.Time
	windowDuration    time.Duration

	// Thresholds
	slowResponseThreshold time.Duration

	now func() time.Time
}

// NewMonitor creates a new monitor with default settings.
func NewMonitor() *Monitor {
	return &Monitor{
		recentLatencies:       make([]time.Duration, 0, 100),
		maxLatencyWindow:      100,
		windowDuration:        24 * time.Hour,
		slowResponseThreshold: 20 * time.Second,
		now:                   time.Now,
	}
}

// OnAttempt records that a call was made.
func (m *Monitor) OnAttempt(int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.requestTimestamps = append(m.requestTimestamps, now)

	// Clean old timestamps outside window
	cutoff := now.Add(-m.windowDuration)
	i := 0
	for i < len(m.requestTimestamps) && !m.requestTimestamps[i].After(cutoff) {
		i++
	}
	m.requestTimestamps = m.requestTimestamps[i:]
}

// OnRateLimited records a rate-limited response.
func (m *Monitor) OnRateLimited(_ int, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited++
	m.lastThrottleTime = m.now()
	m.lastRetryAfter = retryAfter
}

// OnRotate records a credential rotation.
func (m *Monitor) OnRotate(int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotations++
}

// OnInvalid records a rejected credential.
func (m *Monitor) OnInvalid(int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalid++
}

// OnResult records the latency of a finished call.
func (m *Monitor) OnResult(_ string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}
}

// Stats returns current monitoring statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	stats := MonitorStats{
		Status:              MonitorHealthy,
		AverageLatency:      m.averageLatency(),
		RateLimited:         m.rateLimited,
		InvalidCredentials:  m.invalid,
		Rotations:           m.rotations,
		RequestsLast1Hour:   m.countSince(now.Add(-time.Hour)),
		RequestsLast24Hours: m.countSince(now.Add(-m.windowDuration)),
		LastRetryAfter:      m.lastRetryAfter,
	}

	switch {
	case !m.lastThrottleTime.IsZero() && now.Sub(m.lastThrottleTime) < m.lastRetryAfter:
		stats.Status = MonitorThrottled
	case len(m.recentLatencies) > 10 && stats.AverageLatency > m.slowResponseThreshold:
		stats.Status = MonitorDegraded
	}
	return stats
}

func (m *Monitor) averageLatency() time.Duration {
	if len(m.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range m.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(m.recentLatencies))
}

func (m *Monitor) countSince(cutoff time.Time) int {
	count := 0
	for _, t := range m.requestTimestamps {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

package metrics

import (
	"strconv"
	"time"

	"github.com/vietddude/narrator/internal/core/domain"
)

// Observer records executor events. Credentials are labelled by position only.
type Observer struct{}

func (Observer) OnAttempt(int) {}

func (Observer) OnRateLimited(position int, retryAfter time.Duration) {
	RateLimitsTotal.WithLabelValues(strconv.Itoa(position)).Inc()
	RateLimitRetryAfter.Observe(retryAfter.Seconds())
}

func (Observer) OnRotate(int, int) {
	RotationsTotal.Inc()
}

func (Observer) OnInvalid(position int) {
	CredentialsBlocked.WithLabelValues(strconv.Itoa(position)).Inc()
}

func (Observer) OnResult(outcome string, latency time.Duration) {
	RemoteCallsTotal.WithLabelValues(outcome).Inc()
	RemoteCallLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// RecordItem counts an item state change.
func RecordItem(st domain.ItemStatus) {
	ItemsByState.WithLabelValues(string(st.State)).Inc()
}

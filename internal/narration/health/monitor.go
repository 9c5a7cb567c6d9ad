package health

import (
	"context"
	"log/slog"

	"github.com/vietddude/narrator/internal/infra/rpc/keypool"
	"github.com/vietddude/narrator/internal/infra/rpc/provider"
	"github.com/vietddude/narrator/internal/narration/batch"
	"github.com/vietddude/narrator/internal/narration/metrics"
)

// CredentialSource exposes the credential pool state.
type CredentialSource interface {
	Status() []keypool.CredentialStatus
	SecondsUntilNextAvailable() int
}

// BoardSource exposes the current batch board.
type BoardSource interface {
	Snapshot() batch.Board
}

// QueueCounter counts failed items waiting for recovery.
type QueueCounter interface {
	Count(ctx context.Context) (int, error)
}

// RemoteStats exposes remote call statistics.
type RemoteStats interface {
	Stats() provider.MonitorStats
}

// Monitor aggregates health status from the pool, the board and the failed queue.
type Monitor struct {
	creds  CredentialSource
	board  BoardSource
	queue  QueueCounter
	remote RemoteStats
	log    *slog.Logger
}

// NewMonitor creates a new health monitor. board and queue may be nil.
func NewMonitor(creds CredentialSource, board BoardSource, queue QueueCounter) *Monitor {
	return &Monitor{
		creds: creds,
		board: board,
		queue: queue,
		log:   slog.Default(),
	}
}

// SetRemoteStats adds remote call statistics to detailed reports.
func (m *Monitor) SetRemoteStats(src RemoteStats) {
	m.remote = src
}

// CheckHealth builds a report.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	creds := m.creds.Status()
	report := Report{
		Status:         Evaluate(creds),
		Credentials:    creds,
		NextAvailableS: m.creds.SecondsUntilNextAvailable(),
	}
	for _, c := range creds {
		if c.Available {
			report.Available++
		}
	}
	metrics.CredentialsAvailable.Set(float64(report.Available))

	if m.board != nil {
		b := m.board.Snapshot()
		report.RunID = b.RunID
		report.Summary = b.Summary
	}

	if m.queue != nil {
		n, err := m.queue.Count(ctx)
		if err != nil {
			m.log.Warn("Failed to count failed items", "error", err)
		} else {
			report.FailedQueue = n
			metrics.FailedQueueSize.Set(float64(n))
		}
	}

	if m.remote != nil {
		stats := m.remote.Stats()
		report.Remote = &stats
	}

	return report
}

// Board returns the current board, empty when no board source is set.
func (m *Monitor) Board() batch.Board {
	if m.board == nil {
		return batch.Board{}
	}
	return m.board.Snapshot()
}

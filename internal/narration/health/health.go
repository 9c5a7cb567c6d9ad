// Package health provides system health monitoring and status reporting.
package health

import (
	"github.com/vietddude/narrator/internal/core/domain"
	"github.com/vietddude/narrator/internal/infra/rpc/keypool"
	"github.com/vietddude/narrator/internal/infra/rpc/provider"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Report contains the full system health report.
type Report struct {
	Status         SystemStatus               `json:"status"`
	Available      int                        `json:"available"`
	NextAvailableS int                        `json:"next_available_in_seconds"`
	Credentials    []keypool.CredentialStatus `json:"credentials"`
	RunID          string                     `json:"run_id,omitempty"`
	Summary        domain.Summary             `json:"summary"`
	FailedQueue    int                        `json:"failed_queue"`
	Remote         *provider.MonitorStats     `json:"remote,omitempty"`
}

// Evaluate derives the status from credential states.
// Nothing usable now is degraded; every credential blocked is critical.
func Evaluate(creds []keypool.CredentialStatus) SystemStatus {
	if len(creds) == 0 {
		return StatusCritical
	}
	blocked := 0
	for _, c := range creds {
		if c.Available {
			return StatusHealthy
		}
		if c.Blocked {
			blocked++
		}
	}
	if blocked == len(creds) {
		return StatusCritical
	}
	return StatusDegraded
}

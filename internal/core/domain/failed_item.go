package domain

import (
	"strconv"
	"time"
)

// FailedItem represents a script line whose synthesis failed and awaits retry.
type FailedItem struct {
	ID         string           `json:"id"`
	RunID      string           `json:"run_id"`
	Index      int              `json:"index"`
	Text       string           `json:"text"`
	Error      string           `json:"error_msg"`
	RetryAt    time.Time        `json:"retry_at"`
	RetryCount int              `json:"retry_count"`
	Status     FailedItemStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
}

type FailedItemStatus string

const (
	FailedItemStatusPending  FailedItemStatus = "pending"
	FailedItemStatusResolved FailedItemStatus = "resolved"
	FailedItemStatusIgnored  FailedItemStatus = "ignored"
)

// FailedItemID derives the queue identifier of an item within a run.
func FailedItemID(runID string, index int) string {
	return runID + ":" + strconv.Itoa(index)
}

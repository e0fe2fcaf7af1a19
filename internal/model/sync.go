package model

import "time"

// SyncStatus tracks the lifecycle of a CRM mirror pass.
type SyncStatus string

const (
	SyncStatusRunning  SyncStatus = "running"
	SyncStatusComplete SyncStatus = "complete"
	SyncStatusFailed   SyncStatus = "failed"
)

// SyncRun records one mirror pass against the CRM: what was pulled,
// when, and whether it finished.
type SyncRun struct {
	ID          string     `json:"id"`
	Status      SyncStatus `json:"status"`
	DealCount   int        `json:"deal_count"`
	OwnerCount  int        `json:"owner_count"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

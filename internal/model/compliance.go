package model

import "time"

// CommitmentStatus is the persisted lifecycle state of a hygiene
// commitment. Fulfilment is written by CRM-side automation, never by
// this engine.
type CommitmentStatus string

const (
	CommitmentPending   CommitmentStatus = "pending"
	CommitmentFulfilled CommitmentStatus = "fulfilled"
	CommitmentExpired   CommitmentStatus = "expired"
)

// HygieneCommitment records an AE's promise to fix a deal's hygiene
// gap by a specific date.
type HygieneCommitment struct {
	DealID         string           `json:"deal_id"`
	CommitmentDate time.Time        `json:"commitment_date"`
	Status         CommitmentStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at,omitempty"`
}

// HygieneStatus is the engine's verdict on a deal's hygiene
// compliance as of a given date.
type HygieneStatus string

const (
	HygieneCompliant HygieneStatus = "compliant"
	HygienePending   HygieneStatus = "pending"
	HygieneEscalated HygieneStatus = "escalated"
)

// NextStepCompliance is the stateless next-step check result.
type NextStepCompliance string

const (
	NextStepCompliant NextStepCompliance = "compliant"
	NextStepMissing   NextStepCompliance = "missing"
	NextStepOverdue   NextStepCompliance = "overdue"
)

// OverdueTaskResult summarizes the open tasks whose due timestamps
// have passed.
type OverdueTaskResult struct {
	Overdue           []Task `json:"overdue"`
	OverdueCount      int    `json:"overdue_count"`
	OldestOverdueDays int    `json:"oldest_overdue_days"`
}

// Package model defines the typed records exchanged between the CRM
// mirror, the risk/forecast engine, and dashboard consumers.
package model

import (
	"strings"
	"time"
)

// NextStepStatus describes how the AI extractor resolved a deal's
// free-text next step into a structured due date.
type NextStepStatus string

const (
	NextStepDateFound        NextStepStatus = "date-found"
	NextStepDateInferred     NextStepStatus = "date-inferred"
	NextStepNoDate           NextStepStatus = "no-date"
	NextStepDateUnclear      NextStepStatus = "date-unclear"
	NextStepAwaitingExternal NextStepStatus = "awaiting-external"
	NextStepEmpty            NextStepStatus = "empty"
	NextStepUnparseable      NextStepStatus = "unparseable"
)

// Committed reports whether the status represents a due date the AE
// actually committed to, as opposed to a vague or externally-blocked one.
func (s NextStepStatus) Committed() bool {
	return s == NextStepDateFound || s == NextStepDateInferred
}

// NextStepExtraction is the structured output of the next-step text
// extractor. The engine only ever consumes this shape; it never calls
// the extractor itself.
type NextStepExtraction struct {
	DueDate        *time.Time     `json:"due_date,omitempty"`
	Status         NextStepStatus `json:"status"`
	Confidence     float64        `json:"confidence"`
	DisplayMessage string         `json:"display_message,omitempty"`
}

// DealSnapshot is one deal as mirrored from the CRM, immutable for the
// duration of an engine call. Every field other than ID, StageID and
// CreatedAt may legitimately be absent; absence suppresses the
// corresponding signal rather than producing an error.
type DealSnapshot struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	Amount         *float64   `json:"amount,omitempty"`
	StageID        string     `json:"stage_id"`
	PipelineID     string     `json:"pipeline_id,omitempty"`
	CloseDate      *time.Time `json:"close_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	NextActivityAt *time.Time `json:"next_activity_at,omitempty"`

	NextStep           string             `json:"next_step,omitempty"`
	NextStepExtraction NextStepExtraction `json:"next_step_extraction"`

	// StageEnteredAt maps a stage id to the timestamp the deal entered
	// that stage (e.g. "sql", "demo_scheduled", "closed_won").
	StageEnteredAt map[string]time.Time `json:"stage_entered_at,omitempty"`

	OwnerID string `json:"owner_id,omitempty"`

	// Hygiene fields. Empty means the AE has not filled them in yet.
	Product      string `json:"product,omitempty"`
	LeadSource   string `json:"lead_source,omitempty"`
	Collaborator string `json:"collaborator,omitempty"`

	SyncedAt time.Time `json:"synced_at,omitempty"`
}

// HasNextStep reports whether the deal carries a non-blank next step.
func (d DealSnapshot) HasNextStep() bool {
	return strings.TrimSpace(d.NextStep) != ""
}

// CurrentStageEnteredAt returns the timestamp the deal entered its
// current stage, falling back to the creation date when no per-stage
// timestamp was mirrored.
func (d DealSnapshot) CurrentStageEnteredAt() time.Time {
	if t, ok := d.StageEnteredAt[d.StageID]; ok && !t.IsZero() {
		return t
	}
	return d.CreatedAt
}

// AmountOrZero returns the deal amount, treating absence as zero.
func (d DealSnapshot) AmountOrZero() float64 {
	if d.Amount == nil {
		return 0
	}
	return *d.Amount
}

// Owner is a deal owner (account executive) mirrored from the CRM.
type Owner struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email,omitempty"`
	Quota    float64   `json:"quota,omitempty"`
	IsActive bool      `json:"is_active"`
	SyncedAt time.Time `json:"synced_at,omitempty"`
}

// Task is a CRM activity with a due timestamp, used for overdue-task
// detection.
type Task struct {
	ID      string     `json:"id"`
	DealID  string     `json:"deal_id,omitempty"`
	Subject string     `json:"subject"`
	Status  string     `json:"status"`
	DueAt   *time.Time `json:"due_at,omitempty"`
}

// TaskStatusComplete is the CRM status marking a task done. Any other
// status counts as open for overdue detection.
const TaskStatusComplete = "complete"

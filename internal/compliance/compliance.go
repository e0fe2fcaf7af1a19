// Package compliance tracks deal hygiene commitments and stateless
// next-step/task compliance checks.
package compliance

import (
	"time"

	"github.com/sells-group/revops-dashboard/internal/calendar"
	"github.com/sells-group/revops-dashboard/internal/config"
	"github.com/sells-group/revops-dashboard/internal/model"
)

// Tracker evaluates hygiene and next-step compliance. It only reads
// commitment state; fulfilment and expiry writes happen outside the
// engine.
type Tracker struct {
	policy config.Policy
}

// NewTracker creates a Tracker with the given policy.
func NewTracker(policy config.Policy) *Tracker {
	return &Tracker{policy: policy}
}

// MissingHygieneFields returns which required hygiene fields the deal
// has not filled in, in policy order.
func (t *Tracker) MissingHygieneFields(deal model.DealSnapshot) []string {
	values := map[string]string{
		"product":      deal.Product,
		"lead_source":  deal.LeadSource,
		"collaborator": deal.Collaborator,
	}

	var missing []string
	for _, f := range t.policy.RequiredHygieneFields {
		if values[f] == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// DetermineHygieneStatus runs the hygiene state machine for one deal:
//
//	no gap                                      -> compliant
//	gap, no commitment, older than grace period -> escalated
//	gap, pending commitment past its date       -> escalated
//	otherwise                                   -> pending
//
// commitment may be nil, meaning no commitment was ever made.
func (t *Tracker) DetermineHygieneStatus(deal model.DealSnapshot, commitment *model.HygieneCommitment, asOf time.Time) model.HygieneStatus {
	if len(t.MissingHygieneFields(deal)) == 0 {
		return model.HygieneCompliant
	}

	if commitment == nil || commitment.Status == model.CommitmentFulfilled {
		// Grace period is calendar days from deal creation.
		age := -calendar.DaysUntil(deal.CreatedAt, asOf)
		if age > t.policy.HygieneGraceDays {
			return model.HygieneEscalated
		}
		return model.HygienePending
	}

	if commitment.Status != model.CommitmentFulfilled && calendar.IsInPast(commitment.CommitmentDate, asOf) {
		return model.HygieneEscalated
	}

	return model.HygienePending
}

// CheckNextStepCompliance is the stateless next-step check: overdue
// when a committed due date has passed, missing when the text is
// blank, compliant otherwise.
func (t *Tracker) CheckNextStepCompliance(deal model.DealSnapshot, asOf time.Time) model.NextStepCompliance {
	ext := deal.NextStepExtraction
	if ext.DueDate != nil && ext.Status.Committed() && calendar.IsInPast(*ext.DueDate, asOf) {
		return model.NextStepOverdue
	}
	if !deal.HasNextStep() {
		return model.NextStepMissing
	}
	return model.NextStepCompliant
}

// CheckOverdueTasks returns the open tasks whose due timestamps have
// passed, with the count and the age in days of the oldest one.
func (t *Tracker) CheckOverdueTasks(tasks []model.Task, asOf time.Time) model.OverdueTaskResult {
	var result model.OverdueTaskResult

	for _, task := range tasks {
		if task.Status == model.TaskStatusComplete || task.DueAt == nil {
			continue
		}
		if !calendar.IsInPast(*task.DueAt, asOf) {
			continue
		}
		result.Overdue = append(result.Overdue, task)
		if days := -calendar.DaysUntil(*task.DueAt, asOf); days > result.OldestOverdueDays {
			result.OldestOverdueDays = days
		}
	}

	result.OverdueCount = len(result.Overdue)
	return result
}

// IsTaskSituationCritical reports whether the oldest overdue task has
// been open long enough to warrant the critical severity tier.
func (t *Tracker) IsTaskSituationCritical(result model.OverdueTaskResult) bool {
	return result.OldestOverdueDays > t.policy.TaskCriticalDays
}

// CommitmentExpired reports whether a pending commitment's date has
// passed as of the given date. The engine never writes the resulting
// expired status; callers persist it.
func CommitmentExpired(commitment model.HygieneCommitment, asOf time.Time) bool {
	return commitment.Status == model.CommitmentPending &&
		calendar.IsInPast(commitment.CommitmentDate, asOf)
}

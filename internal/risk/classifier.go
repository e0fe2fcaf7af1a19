// Package risk classifies per-deal risk from overlapping temporal
// signals: next-step hygiene, close-date slippage, activity droughts
// and stage dwell time.
package risk

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/revops-dashboard/internal/calendar"
	"github.com/sells-group/revops-dashboard/internal/config"
	"github.com/sells-group/revops-dashboard/internal/model"
	"github.com/sells-group/revops-dashboard/internal/registry"
)

// factorRank orders factors most actionable first, so a UI can show
// only the top reason without re-deriving priority.
var factorRank = map[model.FactorKind]int{
	model.FactorOverdueNextStep: 0,
	model.FactorPastCloseDate:   1,
	model.FactorNoNextStep:      2,
	model.FactorActivityDrought: 3,
	model.FactorStageAge:        4,
}

// Classifier computes RiskAssessments. It holds no per-call state;
// Assess is a pure function of (deal, asOf).
type Classifier struct {
	registry *registry.StageRegistry
	policy   config.Policy
}

// NewClassifier creates a Classifier using the given stage registry
// and policy thresholds.
func NewClassifier(reg *registry.StageRegistry, policy config.Policy) *Classifier {
	return &Classifier{registry: reg, policy: policy}
}

// Assess classifies one deal as of the given date. It never fails:
// absent fields simply suppress the corresponding factor.
func (c *Classifier) Assess(deal model.DealSnapshot, asOf time.Time) model.RiskAssessment {
	// Last activity, with deal age as the proxy for never-touched.
	activityRef := deal.CreatedAt
	if deal.LastActivityAt != nil && !deal.LastActivityAt.IsZero() {
		activityRef = *deal.LastActivityAt
	}
	daysSinceActivity := calendar.BusinessDaysSince(activityRef, asOf)
	daysInStage := calendar.BusinessDaysSince(deal.CurrentStageEnteredAt(), asOf)

	var factors []model.RiskFactor
	severe := false

	// Factors are evaluated independently; a deal may accumulate
	// several.
	if !deal.HasNextStep() {
		factors = append(factors, model.RiskFactor{
			Kind:    model.FactorNoNextStep,
			Message: "No next step recorded",
		})
	}

	if f, ok := c.overdueNextStep(deal, asOf); ok {
		factors = append(factors, f)
		if f.Days >= c.policy.OverdueSevereDays {
			severe = true
		}
	}

	if deal.CloseDate != nil && calendar.IsInPast(*deal.CloseDate, asOf) {
		days := -calendar.DaysUntil(*deal.CloseDate, asOf)
		factors = append(factors, model.RiskFactor{
			Kind:    model.FactorPastCloseDate,
			Message: fmt.Sprintf("Close date passed %d days ago", days),
			Days:    days,
		})
		if float64(days) >= float64(c.policy.DroughtExceptionDays)*c.policy.SevereFactorMultiplier {
			severe = true
		}
	}

	if daysSinceActivity >= c.policy.DroughtExceptionDays {
		factors = append(factors, model.RiskFactor{
			Kind:    model.FactorActivityDrought,
			Message: fmt.Sprintf("No activity for %d business days", daysSinceActivity),
			Days:    daysSinceActivity,
		})
		if float64(daysSinceActivity) >= float64(c.policy.DroughtExceptionDays)*c.policy.SevereFactorMultiplier {
			severe = true
		}
	}

	if maxDays := c.stageMaxDays(deal.StageID); daysInStage > maxDays {
		factors = append(factors, model.RiskFactor{
			Kind: model.FactorStageAge,
			Message: fmt.Sprintf("In %s for %d business days (expected %d)",
				c.registry.DisplayName(deal.StageID), daysInStage, maxDays),
			Days: daysInStage,
		})
		if float64(daysInStage) >= float64(maxDays)*c.policy.SevereFactorMultiplier {
			severe = true
		}
	}

	sort.SliceStable(factors, func(i, j int) bool {
		return factorRank[factors[i].Kind] < factorRank[factors[j].Kind]
	})

	return model.RiskAssessment{
		Level:             c.level(factors, severe, daysSinceActivity),
		DaysSinceActivity: daysSinceActivity,
		DaysInStage:       daysInStage,
		Factors:           factors,
	}
}

// overdueNextStep fires only when the extracted due date is a
// committed signal (date-found or date-inferred), not a vague or
// externally-blocked one.
func (c *Classifier) overdueNextStep(deal model.DealSnapshot, asOf time.Time) (model.RiskFactor, bool) {
	ext := deal.NextStepExtraction
	if ext.DueDate == nil || !ext.Status.Committed() {
		return model.RiskFactor{}, false
	}
	if !calendar.IsInPast(*ext.DueDate, asOf) {
		return model.RiskFactor{}, false
	}

	days := calendar.BusinessDaysSince(*ext.DueDate, asOf)
	return model.RiskFactor{
		Kind:    model.FactorOverdueNextStep,
		Message: fmt.Sprintf("Next step overdue by %d business days", days),
		Days:    days,
	}, true
}

// stageMaxDays looks up the expected dwell time for a stage.
func (c *Classifier) stageMaxDays(stageID string) int {
	if d, ok := c.policy.StageMaxDays[strings.ToLower(stageID)]; ok {
		return d
	}
	return c.policy.StageMaxDaysDefault
}

// level decides the overall risk level, most severe first: stale on
// two or more factors or one unusually severe factor; at_risk on one
// moderate factor, or on a drought past the at-risk threshold that
// has not yet reached factor strength.
func (c *Classifier) level(factors []model.RiskFactor, severe bool, daysSinceActivity int) model.RiskLevel {
	switch {
	case len(factors) >= 2 || severe:
		return model.RiskStale
	case len(factors) == 1:
		return model.RiskAtRisk
	case daysSinceActivity >= c.policy.DroughtAtRiskDays:
		return model.RiskAtRisk
	default:
		return model.RiskHealthy
	}
}

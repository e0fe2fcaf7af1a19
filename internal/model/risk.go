package model

// RiskLevel is the overall risk classification of a deal.
type RiskLevel string

const (
	RiskHealthy RiskLevel = "healthy"
	RiskAtRisk  RiskLevel = "at_risk"
	RiskStale   RiskLevel = "stale"
)

// FactorKind identifies one temporal signal contributing to a deal's
// risk assessment.
type FactorKind string

const (
	FactorNoNextStep      FactorKind = "no_next_step"
	FactorOverdueNextStep FactorKind = "overdue_next_step"
	FactorPastCloseDate   FactorKind = "past_close_date"
	FactorActivityDrought FactorKind = "activity_drought"
	FactorStageAge        FactorKind = "stage_age"
)

// RiskFactor is a single contributing signal. Days carries the
// magnitude (days overdue or days stale) where the signal has one.
type RiskFactor struct {
	Kind    FactorKind `json:"kind"`
	Message string     `json:"message"`
	Days    int        `json:"days,omitempty"`
}

// RiskAssessment is the per-deal output of the risk classifier,
// recomputed fresh on every call and never persisted as the source of
// truth. Factors are ordered most actionable first so a UI can show
// only the top reason.
type RiskAssessment struct {
	Level             RiskLevel    `json:"level"`
	DaysSinceActivity int          `json:"days_since_activity"`
	DaysInStage       int          `json:"days_in_stage"`
	Factors           []RiskFactor `json:"factors"`
}

// HasFactor reports whether the assessment contains a factor of the
// given kind.
func (a RiskAssessment) HasFactor(kind FactorKind) bool {
	for _, f := range a.Factors {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// Factor returns the factor of the given kind, if present.
func (a RiskAssessment) Factor(kind FactorKind) (RiskFactor, bool) {
	for _, f := range a.Factors {
		if f.Kind == kind {
			return f, true
		}
	}
	return RiskFactor{}, false
}

package model

// ExceptionType identifies the kind of exception surfaced for a deal.
type ExceptionType string

const (
	ExceptionOverdueNextStep ExceptionType = "overdue_next_step"
	ExceptionPastCloseDate   ExceptionType = "past_close_date"
	ExceptionActivityDrought ExceptionType = "activity_drought"
	ExceptionHighValueAtRisk ExceptionType = "high_value_at_risk"
	ExceptionNoNextStep      ExceptionType = "no_next_step"
	ExceptionStaleStage      ExceptionType = "stale_stage"
)

// ExceptionRecord is one actionable finding for a deal. A deal may
// produce several records; the aggregator deduplicates semantically
// overlapping ones. ID is the deal id except for high_value_at_risk
// records, which carry a synthetic identity so they coexist with the
// deal's other entries.
type ExceptionRecord struct {
	ID       string        `json:"id"`
	DealID   string        `json:"deal_id"`
	DealName string        `json:"deal_name,omitempty"`
	OwnerID  string        `json:"owner_id,omitempty"`
	Type     ExceptionType `json:"exception_type"`
	Detail   string        `json:"detail"`
	Priority int           `json:"priority"`
	Amount   float64       `json:"amount,omitempty"`
}

// RollupStatus is the red/amber/green health of one owner's book.
type RollupStatus string

const (
	RollupGreen RollupStatus = "green"
	RollupAmber RollupStatus = "amber"
	RollupRed   RollupStatus = "red"
)

// AEStatusRollup is a pure reduction over one owner's deals,
// recomputed on every call. OverdueCount, StaleCount, AtRiskCount and
// HealthyCount partition TotalDeals: a deal with an overdue next step
// lands in OverdueCount regardless of its risk level.
type AEStatusRollup struct {
	OwnerID      string       `json:"owner_id"`
	OverdueCount int          `json:"overdue_count"`
	StaleCount   int          `json:"stale_count"`
	AtRiskCount  int          `json:"at_risk_count"`
	HealthyCount int          `json:"healthy_count"`
	TotalDeals   int          `json:"total_deals"`
	Status       RollupStatus `json:"status"`
}

package model

// ForecastWeek is one weekly bucket of a 13-week quarter ramp.
// CumulativeTarget is monotonically non-decreasing across weeks and
// reaches the full target at week 13.
type ForecastWeek struct {
	WeekNumber       int     `json:"week_number"`
	WeeklyTarget     float64 `json:"weekly_target"`
	CumulativeTarget float64 `json:"cumulative_target"`
}

// PaceStatus classifies actual-vs-target variance.
type PaceStatus string

const (
	PaceAhead  PaceStatus = "ahead"
	PaceOnPace PaceStatus = "on_pace"
	PaceBehind PaceStatus = "behind"
)

// VarianceResult compares closed revenue against the cumulative
// target for the current week.
type VarianceResult struct {
	Variance          float64    `json:"variance"`
	PercentOfForecast float64    `json:"percent_of_forecast"`
	Status            PaceStatus `json:"status"`
}

// FunnelLine is one downstream-funnel requirement: how many of a
// given stage outcome are needed this quarter, spread over the same
// 13-week ramp as revenue targets.
type FunnelLine struct {
	Needed float64        `json:"needed"`
	Weeks  []ForecastWeek `json:"weeks"`
}

// StageForecast back-calculates funnel volume targets from a revenue
// target and average deal size via per-stage conversion rates.
type StageForecast struct {
	Deals     FunnelLine `json:"deals"`
	Proposals FunnelLine `json:"proposals"`
	Demos     FunnelLine `json:"demos"`
	SQLs      FunnelLine `json:"sqls"`
}

// PipelineForecast is the blended quarter-end projection handed to
// dashboards: closed-won so far plus the probability-weighted open
// pipeline, with coverage against the remaining quota.
type PipelineForecast struct {
	ClosedWon        float64 `json:"closed_won"`
	WeightedPipeline float64 `json:"weighted_pipeline"`
	Projected        float64 `json:"projected"`
	Quota            float64 `json:"quota"`
	RemainingQuota   float64 `json:"remaining_quota"`
	CoverageRatio    float64 `json:"coverage_ratio"`
}

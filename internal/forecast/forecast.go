// Package forecast converts quarterly quota targets into weekly
// ramps, computes pacing variance, and produces stage-weighted
// pipeline projections.
package forecast

import (
	"math"

	"github.com/sells-group/revops-dashboard/internal/calendar"
	"github.com/sells-group/revops-dashboard/internal/config"
	"github.com/sells-group/revops-dashboard/internal/model"
	"github.com/sells-group/revops-dashboard/internal/registry"
)

// Engine computes quota forecasts. Pure: every method takes its
// inputs explicitly and touches no clock or store.
type Engine struct {
	registry *registry.StageRegistry
	policy   config.Policy
}

// NewEngine creates a forecast Engine.
func NewEngine(reg *registry.StageRegistry, policy config.Policy) *Engine {
	return &Engine{registry: reg, policy: policy}
}

// WeeklyForecast spreads a target amount over the quarter's 13 weekly
// buckets on a linear ramp. Rounding drift is absorbed by the final
// week so the cumulative target lands exactly on the full amount.
func (e *Engine) WeeklyForecast(target float64, window calendar.QuarterWindow) []model.ForecastWeek {
	weeks := make([]model.ForecastWeek, calendar.WeeksPerQuarter)

	perWeek := round2(target / calendar.WeeksPerQuarter)
	cumulative := 0.0

	for i := range weeks {
		weekly := perWeek
		if i == calendar.WeeksPerQuarter-1 {
			weekly = round2(target - cumulative)
		}
		cumulative = round2(cumulative + weekly)

		weeks[i] = model.ForecastWeek{
			WeekNumber:       i + 1,
			WeeklyTarget:     weekly,
			CumulativeTarget: cumulative,
		}
	}

	return weeks
}

// StageForecast back-calculates downstream-funnel volume targets from
// a revenue target and average deal size, each line spread across the
// same 13-week ramp as revenue.
func (e *Engine) StageForecast(target, avgDealSize float64, window calendar.QuarterWindow) model.StageForecast {
	var deals float64
	if avgDealSize > 0 {
		deals = target / avgDealSize
	}

	proposals := safeDiv(deals, e.policy.ProposalWinRate)
	demos := safeDiv(proposals, e.policy.DemoToProposal)
	sqls := safeDiv(demos, e.policy.SQLToDemo)

	return model.StageForecast{
		Deals:     e.funnelLine(deals, window),
		Proposals: e.funnelLine(proposals, window),
		Demos:     e.funnelLine(demos, window),
		SQLs:      e.funnelLine(sqls, window),
	}
}

func (e *Engine) funnelLine(needed float64, window calendar.QuarterWindow) model.FunnelLine {
	return model.FunnelLine{
		Needed: round2(needed),
		Weeks:  e.WeeklyForecast(round2(needed), window),
	}
}

// Variance compares actual closed revenue to the target for the same
// point in the quarter.
func (e *Engine) Variance(actual, target float64) model.VarianceResult {
	result := model.VarianceResult{
		Variance: round2(actual - target),
	}

	if target > 0 {
		result.PercentOfForecast = round2(actual / target * 100)
	}

	switch {
	case result.PercentOfForecast >= 100:
		result.Status = model.PaceAhead
	case result.PercentOfForecast < e.policy.BehindCutoffPct:
		result.Status = model.PaceBehind
	default:
		result.Status = model.PaceOnPace
	}

	return result
}

// WeightedPipelineValue sums amount x stage weight over the open
// (non-closed, non-excluded) deals closing inside the window.
func (e *Engine) WeightedPipelineValue(deals []model.DealSnapshot, window calendar.QuarterWindow) float64 {
	total := 0.0
	for _, d := range deals {
		if !e.registry.IsOpenPipeline(d.StageID, d.CloseDate, window) {
			continue
		}
		total += d.AmountOrZero() * e.registry.Weight(d.StageID)
	}
	return round2(total)
}

// ClosedWonValue sums the amounts of deals won inside the window.
func (e *Engine) ClosedWonValue(deals []model.DealSnapshot, window calendar.QuarterWindow) float64 {
	total := 0.0
	for _, d := range deals {
		if !e.registry.IsClosedWon(d.StageID) {
			continue
		}
		if d.CloseDate != nil && !window.Contains(*d.CloseDate) {
			continue
		}
		total += d.AmountOrZero()
	}
	return round2(total)
}

// CoverageRatio divides open pipeline value by remaining quota.
// Coverage is undefined once quota is already met: the policy
// sentinel stands in when open pipeline remains, zero when nothing is
// open. Never divides by zero.
func (e *Engine) CoverageRatio(openPipelineValue, remainingQuota float64) float64 {
	if remainingQuota > 0 {
		return round2(openPipelineValue / remainingQuota)
	}
	if openPipelineValue > 0 {
		return e.policy.CoverageSentinel
	}
	return 0
}

// PipelineForecast assembles the blended quarter-end projection for a
// quota: closed-won so far plus the probability-weighted open
// pipeline.
func (e *Engine) PipelineForecast(deals []model.DealSnapshot, quota float64, window calendar.QuarterWindow) model.PipelineForecast {
	if quota <= 0 {
		quota = e.policy.DefaultQuota
	}

	closedWon := e.ClosedWonValue(deals, window)
	weighted := e.WeightedPipelineValue(deals, window)
	remaining := math.Max(0, quota-closedWon)

	return model.PipelineForecast{
		ClosedWon:        closedWon,
		WeightedPipeline: weighted,
		Projected:        round2(closedWon + weighted),
		Quota:            quota,
		RemainingQuota:   remaining,
		CoverageRatio:    e.CoverageRatio(weighted, remaining),
	}
}

func safeDiv(v, rate float64) float64 {
	if rate <= 0 {
		return 0
	}
	return v / rate
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

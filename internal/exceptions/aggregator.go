// Package exceptions runs the risk and compliance classifiers across
// a deal set, deduplicates overlapping findings per deal, and rolls
// them up into per-owner red/amber/green statuses.
package exceptions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/revops-dashboard/internal/compliance"
	"github.com/sells-group/revops-dashboard/internal/config"
	"github.com/sells-group/revops-dashboard/internal/model"
	"github.com/sells-group/revops-dashboard/internal/risk"
)

// Result is the aggregate output for one deal set.
type Result struct {
	Exceptions  []model.ExceptionRecord         `json:"exceptions"`
	PerOwner    map[string]model.AEStatusRollup `json:"per_owner"`
	Assessments map[string]model.RiskAssessment `json:"assessments,omitempty"`
}

// Aggregator maps the classifiers over deals and reduces the
// findings. Per-deal classification is independent, so the map step
// runs on a bounded worker pool; the reduction and final sort are
// sequential and deterministic.
type Aggregator struct {
	classifier *risk.Classifier
	tracker    *compliance.Tracker
	policy     config.Policy
	workers    int
}

// NewAggregator creates an Aggregator. workers <= 0 falls back to a
// serial pass.
func NewAggregator(classifier *risk.Classifier, tracker *compliance.Tracker, policy config.Policy, workers int) *Aggregator {
	if workers <= 0 {
		workers = 1
	}
	return &Aggregator{
		classifier: classifier,
		tracker:    tracker,
		policy:     policy,
		workers:    workers,
	}
}

// dealFindings is the per-deal map output, reduced after the pool
// drains.
type dealFindings struct {
	deal       model.DealSnapshot
	assessment model.RiskAssessment
	nextStep   model.NextStepCompliance
	records    []model.ExceptionRecord
}

// Aggregate classifies every deal as of the given date and returns
// the deduplicated exception list plus per-owner rollups. The only
// error source is context cancellation; bad business data never
// faults.
func (a *Aggregator) Aggregate(ctx context.Context, deals []model.DealSnapshot, asOf time.Time) (*Result, error) {
	findings := make([]dealFindings, len(deals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for i, deal := range deals {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			assessment := a.classifier.Assess(deal, asOf)
			nextStep := a.tracker.CheckNextStepCompliance(deal, asOf)
			findings[i] = dealFindings{
				deal:       deal,
				assessment: assessment,
				nextStep:   nextStep,
				records:    a.dealExceptions(deal, assessment, nextStep),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		PerOwner:    make(map[string]model.AEStatusRollup),
		Assessments: make(map[string]model.RiskAssessment, len(deals)),
	}

	for _, f := range findings {
		result.Exceptions = append(result.Exceptions, f.records...)
		result.Assessments[f.deal.ID] = f.assessment
		a.accumulate(result.PerOwner, f)
	}

	for ownerID, rollup := range result.PerOwner {
		rollup.Status = a.rollupStatus(rollup)
		result.PerOwner[ownerID] = rollup
	}

	sortExceptions(result.Exceptions)
	for i := range result.Exceptions {
		result.Exceptions[i].Priority = i + 1
	}

	return result, nil
}

// dealExceptions derives zero or more exception records from one
// deal's assessment, applying the dedup precedence: activity_drought
// is suppressed when the same deal already surfaced an overdue next
// step, keeping one canonical first reason; past_close_date is
// emitted independently because it needs independent remediation. A
// high-value stale deal additionally produces a high_value_at_risk
// record under a synthetic identity so it coexists with the deal's
// other entries and is never deduplicated away.
func (a *Aggregator) dealExceptions(deal model.DealSnapshot, assessment model.RiskAssessment, nextStep model.NextStepCompliance) []model.ExceptionRecord {
	var records []model.ExceptionRecord

	emit := func(t model.ExceptionType, detail string) {
		records = append(records, model.ExceptionRecord{
			ID:       deal.ID,
			DealID:   deal.ID,
			DealName: deal.Name,
			OwnerID:  deal.OwnerID,
			Type:     t,
			Detail:   detail,
			Amount:   deal.AmountOrZero(),
		})
	}

	overdue := nextStep == model.NextStepOverdue

	for _, f := range assessment.Factors {
		switch f.Kind {
		case model.FactorOverdueNextStep:
			emit(model.ExceptionOverdueNextStep, f.Message)
		case model.FactorPastCloseDate:
			emit(model.ExceptionPastCloseDate, f.Message)
		case model.FactorNoNextStep:
			emit(model.ExceptionNoNextStep, f.Message)
		case model.FactorActivityDrought:
			if !overdue {
				emit(model.ExceptionActivityDrought, f.Message)
			}
		case model.FactorStageAge:
			emit(model.ExceptionStaleStage, f.Message)
		}
	}

	if assessment.Level == model.RiskStale && deal.AmountOrZero() >= a.policy.HighValueThreshold {
		records = append(records, model.ExceptionRecord{
			ID:       uuid.NewString(),
			DealID:   deal.ID,
			DealName: deal.Name,
			OwnerID:  deal.OwnerID,
			Type:     model.ExceptionHighValueAtRisk,
			Detail:   fmt.Sprintf("High-value deal (%.0f) is stale", deal.AmountOrZero()),
			Amount:   deal.AmountOrZero(),
		})
	}

	return records
}

// accumulate folds one deal into its owner's rollup. The four counts
// partition the owner's deals: overdue next step takes precedence
// over the risk level bucket. Deals without an owner id are not
// rolled up.
func (a *Aggregator) accumulate(perOwner map[string]model.AEStatusRollup, f dealFindings) {
	if f.deal.OwnerID == "" {
		return
	}

	rollup := perOwner[f.deal.OwnerID]
	rollup.OwnerID = f.deal.OwnerID
	rollup.TotalDeals++

	switch {
	case f.nextStep == model.NextStepOverdue:
		rollup.OverdueCount++
	case f.assessment.Level == model.RiskStale:
		rollup.StaleCount++
	case f.assessment.Level == model.RiskAtRisk:
		rollup.AtRiskCount++
	default:
		rollup.HealthyCount++
	}

	perOwner[f.deal.OwnerID] = rollup
}

// rollupStatus applies the fixed red/amber thresholds.
func (a *Aggregator) rollupStatus(r model.AEStatusRollup) model.RollupStatus {
	switch {
	case r.OverdueCount >= a.policy.RedOverdueCount || r.StaleCount >= a.policy.RedStaleCount:
		return model.RollupRed
	case r.OverdueCount >= a.policy.AmberOverdueCount || r.StaleCount >= a.policy.AmberStaleCount:
		return model.RollupAmber
	default:
		return model.RollupGreen
	}
}

// typeRank orders exception types for the final sort.
func typeRank(t model.ExceptionType) int {
	switch t {
	case model.ExceptionHighValueAtRisk:
		return 0
	case model.ExceptionOverdueNextStep:
		return 1
	default:
		return 2
	}
}

// sortExceptions applies the canonical ordering: high_value_at_risk
// first, then overdue_next_step, then by amount descending, with deal
// id and type as deterministic tie-breaks.
func sortExceptions(records []model.ExceptionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := typeRank(records[i].Type), typeRank(records[j].Type)
		if ri != rj {
			return ri < rj
		}
		if records[i].Amount != records[j].Amount {
			return records[i].Amount > records[j].Amount
		}
		if records[i].DealID != records[j].DealID {
			return records[i].DealID < records[j].DealID
		}
		return records[i].Type < records[j].Type
	})
}

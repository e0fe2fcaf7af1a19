// Package digest assembles the weekly revenue digest: a team-wide
// forecast rollup plus per-owner variance and exception highlights.
// Delivery is external; the assembler hands a rendered payload to a
// webhook or a Notion page and does nothing else with it.
package digest

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/revops-dashboard/internal/calendar"
	"github.com/sells-group/revops-dashboard/internal/compliance"
	"github.com/sells-group/revops-dashboard/internal/config"
	"github.com/sells-group/revops-dashboard/internal/exceptions"
	"github.com/sells-group/revops-dashboard/internal/forecast"
	"github.com/sells-group/revops-dashboard/internal/model"
	"github.com/sells-group/revops-dashboard/internal/registry"
	"github.com/sells-group/revops-dashboard/internal/risk"
	"github.com/sells-group/revops-dashboard/internal/store"
)

const defaultWorkers = 4

// OwnerSection is one AE's slice of the digest.
type OwnerSection struct {
	OwnerID       string                 `json:"owner_id"`
	OwnerName     string                 `json:"owner_name"`
	Quota         float64                `json:"quota"`
	Forecast      model.PipelineForecast `json:"forecast"`
	Variance      model.VarianceResult   `json:"variance"`
	Rollup        model.AEStatusRollup   `json:"rollup"`
	TopExceptions []model.ExceptionRecord `json:"top_exceptions,omitempty"`
}

// Digest is the assembled weekly summary.
type Digest struct {
	GeneratedAt     time.Time              `json:"generated_at"`
	Quarter         string                 `json:"quarter"`
	Week            int                    `json:"week"`
	Team            model.PipelineForecast `json:"team"`
	TeamVariance    model.VarianceResult   `json:"team_variance"`
	TeamStatus      model.RollupStatus     `json:"team_status"`
	TotalExceptions int                    `json:"total_exceptions"`
	RedOwners       int                    `json:"red_owners"`
	Owners          []OwnerSection         `json:"owners"`

	// Lines is the rendered plain-text body handed to delivery.
	Lines []string `json:"lines"`
}

// Assembler loads the mirrored book from the store and reduces it to
// a Digest. All engine components are rebuilt per call from the
// stored pipeline metadata, so a digest always reflects the most
// recent sync.
type Assembler struct {
	store  store.Store
	policy config.Policy
	cfg    config.DigestConfig
	now    func() time.Time
}

// Option customizes an Assembler.
type Option func(*Assembler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// New creates an Assembler.
func New(st store.Store, policy config.Policy, cfg config.DigestConfig, opts ...Option) *Assembler {
	a := &Assembler{
		store:  st,
		policy: policy,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build assembles the digest for the quarter containing the current
// date. Owners with no open deals and no quota are omitted.
func (a *Assembler) Build(ctx context.Context) (*Digest, error) {
	asOf := a.now().UTC()
	window := calendar.QuarterOf(asOf)

	deals, err := a.store.ListDeals(ctx, store.DealFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "digest: list deals")
	}
	owners, err := a.store.ListOwners(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "digest: list owners")
	}
	pipelines, err := a.store.ListPipelines(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "digest: list pipelines")
	}

	reg := registry.New(pipelines, a.policy)
	engine := forecast.NewEngine(reg, a.policy)
	agg := exceptions.NewAggregator(
		risk.NewClassifier(reg, a.policy),
		compliance.NewTracker(a.policy),
		a.policy,
		defaultWorkers,
	)

	// Exceptions are only meaningful for deals still in flight.
	open := make([]model.DealSnapshot, 0, len(deals))
	for _, deal := range deals {
		info := reg.Info(deal.StageID)
		if info.IsClosedWon || info.IsClosedLost {
			continue
		}
		open = append(open, deal)
	}

	result, err := agg.Aggregate(ctx, open, asOf)
	if err != nil {
		return nil, eris.Wrap(err, "digest: aggregate exceptions")
	}

	week := calendar.WeekNumberInQuarter(asOf, window.Start)
	d := &Digest{
		GeneratedAt:     asOf,
		Quarter:         window.Label,
		Week:            week,
		TotalExceptions: len(result.Exceptions),
	}

	byOwner := dealsByOwner(deals)
	teamQuota := 0.0

	for _, owner := range owners {
		quota := owner.Quota
		if quota <= 0 {
			quota = a.policy.DefaultQuota
		}
		ownerDeals := byOwner[owner.ID]
		if len(ownerDeals) == 0 && owner.Quota <= 0 {
			continue
		}
		teamQuota += quota

		fc := engine.PipelineForecast(ownerDeals, quota, window)
		ramp := engine.WeeklyForecast(quota, window)
		section := OwnerSection{
			OwnerID:       owner.ID,
			OwnerName:     owner.Name,
			Quota:         quota,
			Forecast:      fc,
			Variance:      engine.Variance(fc.ClosedWon, ramp[week-1].CumulativeTarget),
			Rollup:        result.PerOwner[owner.ID],
			TopExceptions: topExceptions(result.Exceptions, owner.ID, a.cfg.TopExceptions),
		}
		if section.Rollup.Status == model.RollupRed {
			d.RedOwners++
		}
		d.Owners = append(d.Owners, section)
	}

	// Behind owners first, then by projected gap to quota.
	sort.SliceStable(d.Owners, func(i, j int) bool {
		oi, oj := d.Owners[i], d.Owners[j]
		if oi.Variance.Status != oj.Variance.Status {
			return statusRank(oi.Variance.Status) < statusRank(oj.Variance.Status)
		}
		return oi.Forecast.Projected-oi.Quota < oj.Forecast.Projected-oj.Quota
	})

	d.Team = engine.PipelineForecast(deals, teamQuota, window)
	teamRamp := engine.WeeklyForecast(teamQuota, window)
	d.TeamVariance = engine.Variance(d.Team.ClosedWon, teamRamp[week-1].CumulativeTarget)
	d.TeamStatus = teamStatus(result.PerOwner)
	d.Lines = render(d)

	zap.L().Info("digest assembled",
		zap.String("component", "digest"),
		zap.String("quarter", d.Quarter),
		zap.Int("week", d.Week),
		zap.Int("owners", len(d.Owners)),
		zap.Int("exceptions", d.TotalExceptions),
		zap.Int("red_owners", d.RedOwners),
	)
	return d, nil
}

func dealsByOwner(deals []model.DealSnapshot) map[string][]model.DealSnapshot {
	byOwner := make(map[string][]model.DealSnapshot)
	for _, d := range deals {
		if d.OwnerID == "" {
			continue
		}
		byOwner[d.OwnerID] = append(byOwner[d.OwnerID], d)
	}
	return byOwner
}

// topExceptions returns the owner's findings in aggregator order,
// capped at limit. The aggregator already sorts by priority.
func topExceptions(records []model.ExceptionRecord, ownerID string, limit int) []model.ExceptionRecord {
	if limit <= 0 {
		return nil
	}
	var out []model.ExceptionRecord
	for _, r := range records {
		if r.OwnerID != ownerID {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out
}

func statusRank(s model.PaceStatus) int {
	switch s {
	case model.PaceBehind:
		return 0
	case model.PaceOnPace:
		return 1
	default:
		return 2
	}
}

// teamStatus is the worst per-owner rollup status.
func teamStatus(perOwner map[string]model.AEStatusRollup) model.RollupStatus {
	status := model.RollupGreen
	for _, rollup := range perOwner {
		switch rollup.Status {
		case model.RollupRed:
			return model.RollupRed
		case model.RollupAmber:
			status = model.RollupAmber
		}
	}
	return status
}

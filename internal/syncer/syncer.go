// Package syncer mirrors Salesforce opportunities, users and stage
// metadata into the local store. Each pass is recorded as a sync run
// so dashboard consumers can tell how fresh the mirror is.
package syncer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/revops-dashboard/internal/resilience"
	"github.com/sells-group/revops-dashboard/internal/store"
	"github.com/sells-group/revops-dashboard/pkg/salesforce"
)

// Syncer pulls CRM records and writes them to the store.
type Syncer struct {
	sf    salesforce.Client
	store store.Store
	retry resilience.RetryConfig
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithRetryConfig overrides the default retry policy for Salesforce calls.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(s *Syncer) {
		s.retry = cfg
	}
}

// New creates a Syncer.
func New(sf salesforce.Client, st store.Store, opts ...Option) *Syncer {
	s := &Syncer{
		sf:    sf,
		store: st,
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result summarizes one completed sync pass.
type Result struct {
	RunID      string        `json:"run_id"`
	DealCount  int           `json:"deal_count"`
	OwnerCount int           `json:"owner_count"`
	StageCount int           `json:"stage_count"`
	Duration   time.Duration `json:"duration"`
}

// Run executes one mirror pass: open opportunities (plus closed ones
// on or after since, when given), active users, and stage metadata,
// fetched concurrently, then stage history for the pulled deals. The
// pass is recorded in sync_runs; a failed pass is marked failed with
// its cause before the error is returned.
func (s *Syncer) Run(ctx context.Context, since *time.Time) (*Result, error) {
	log := zap.L().With(zap.String("component", "syncer"))
	start := time.Now()

	run, err := s.store.StartSyncRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "syncer: start sync run")
	}
	log.Info("sync started", zap.String("run_id", run.ID))

	result, err := s.mirror(ctx, since)
	if err != nil {
		if failErr := s.store.FailSyncRun(ctx, run.ID, err.Error()); failErr != nil {
			log.Error("failed to mark sync run failed", zap.Error(failErr))
		}
		return nil, err
	}

	if err := s.store.CompleteSyncRun(ctx, run.ID, result.DealCount, result.OwnerCount); err != nil {
		return nil, eris.Wrap(err, "syncer: complete sync run")
	}

	result.RunID = run.ID
	result.Duration = time.Since(start)
	log.Info("sync complete",
		zap.String("run_id", run.ID),
		zap.Int("deals", result.DealCount),
		zap.Int("owners", result.OwnerCount),
		zap.Int("stages", result.StageCount),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// mirror performs the fetch and upsert work of a pass.
func (s *Syncer) mirror(ctx context.Context, since *time.Time) (*Result, error) {
	var (
		opps   []salesforce.Opportunity
		users  []salesforce.User
		stages []salesforce.OpportunityStage
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fetched, err := resilience.DoVal(gctx, s.retryFor("fetch_opportunities"),
			func(ctx context.Context) ([]salesforce.Opportunity, error) {
				return salesforce.FetchOpenOpportunities(ctx, s.sf)
			})
		if err != nil {
			return eris.Wrap(err, "syncer: fetch open opportunities")
		}
		opps = fetched

		if since != nil {
			closed, err := resilience.DoVal(gctx, s.retryFor("fetch_closed_opportunities"),
				func(ctx context.Context) ([]salesforce.Opportunity, error) {
					return salesforce.FetchClosedOpportunitiesSince(ctx, s.sf, *since)
				})
			if err != nil {
				return eris.Wrap(err, "syncer: fetch closed opportunities")
			}
			opps = append(opps, closed...)
		}
		return nil
	})

	g.Go(func() error {
		fetched, err := resilience.DoVal(gctx, s.retryFor("fetch_users"),
			func(ctx context.Context) ([]salesforce.User, error) {
				return salesforce.FetchActiveUsers(ctx, s.sf)
			})
		if err != nil {
			return eris.Wrap(err, "syncer: fetch active users")
		}
		users = fetched
		return nil
	})

	g.Go(func() error {
		fetched, err := resilience.DoVal(gctx, s.retryFor("fetch_stages"),
			func(ctx context.Context) ([]salesforce.OpportunityStage, error) {
				return salesforce.FetchOpportunityStages(ctx, s.sf)
			})
		if err != nil {
			return eris.Wrap(err, "syncer: fetch opportunity stages")
		}
		stages = fetched
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Stage history needs the pulled ids, so it runs after the fan-out.
	ids := make([]string, 0, len(opps))
	for _, o := range opps {
		ids = append(ids, o.ID)
	}
	history, err := resilience.DoVal(ctx, s.retryFor("fetch_stage_history"),
		func(ctx context.Context) ([]salesforce.StageHistoryEntry, error) {
			return salesforce.FetchStageHistory(ctx, s.sf, ids)
		})
	if err != nil {
		return nil, eris.Wrap(err, "syncer: fetch stage history")
	}

	syncedAt := time.Now().UTC()
	deals := mapOpportunities(opps, buildStageEntered(history), syncedAt)
	owners := mapUsers(users, syncedAt)
	pipelines := buildPipelines(stages)

	dealCount, err := s.store.UpsertDeals(ctx, deals)
	if err != nil {
		return nil, eris.Wrap(err, "syncer: upsert deals")
	}
	ownerCount, err := s.store.UpsertOwners(ctx, owners)
	if err != nil {
		return nil, eris.Wrap(err, "syncer: upsert owners")
	}
	if err := s.store.SavePipelines(ctx, pipelines); err != nil {
		return nil, eris.Wrap(err, "syncer: save pipelines")
	}

	return &Result{
		DealCount:  dealCount,
		OwnerCount: ownerCount,
		StageCount: len(stages),
	}, nil
}

func (s *Syncer) retryFor(operation string) resilience.RetryConfig {
	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger("salesforce", operation)
	return cfg
}

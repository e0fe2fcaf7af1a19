// Package extractor resolves free-text deal next steps into the
// structured {due date, status, confidence, display message} shape the
// risk engine consumes. The engine itself never calls this package; it
// only reads the extraction stored on the deal.
package extractor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/revops-dashboard/internal/config"
	"github.com/sells-group/revops-dashboard/internal/model"
	"github.com/sells-group/revops-dashboard/internal/resilience"
	"github.com/sells-group/revops-dashboard/internal/store"
	"github.com/sells-group/revops-dashboard/pkg/anthropic"
	"github.com/sells-group/revops-dashboard/pkg/salesforce"
)

// maxDirectConcurrency limits concurrent CreateMessage calls in direct mode.
const maxDirectConcurrency = 10

// smallBatchThreshold is the deal count below which direct calls beat
// the Batch API's submission and polling overhead.
const smallBatchThreshold = 20

// nextActivityField is the custom Opportunity field that receives
// extracted due dates on write-back.
const nextActivityField = "Next_Activity_Date__c"

// Extractor runs next-step extraction over mirrored deals.
type Extractor struct {
	ai      anthropic.Client
	store   store.Store
	cfg     config.AnthropicConfig
	sf      salesforce.Client
	breaker *resilience.Breaker
	now     func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock overrides the wall clock used to anchor relative dates in
// prompts. Tests use this to pin "today".
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// WithWriteBack enables writing committed due dates back to the CRM's
// next-activity field after extraction.
func WithWriteBack(sf salesforce.Client) Option {
	return func(e *Extractor) {
		e.sf = sf
	}
}

// New creates an Extractor.
func New(ai anthropic.Client, st store.Store, cfg config.AnthropicConfig, opts ...Option) *Extractor {
	e := &Extractor{
		ai:    ai,
		store: st,
		cfg:   cfg,
		breaker: resilience.NewBreaker(resilience.FromBreakerConfig(
			"anthropic", cfg.BreakerFailures, cfg.BreakerCooldownSecs)),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result summarizes one extraction pass.
type Result struct {
	Processed   int `json:"processed"`
	Committed   int `json:"committed"`
	Failed      int `json:"failed"`
	WrittenBack int `json:"written_back"`
}

// Run extracts next-step due dates for every mirrored deal that has
// free text but no extraction yet. Deals with a blank next step are
// stamped "empty" without an API call.
func (e *Extractor) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("component", "extractor"))

	deals, err := e.store.ListDeals(ctx, store.DealFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "extractor: list deals")
	}

	var pending []model.DealSnapshot
	result := &Result{}
	for _, d := range deals {
		if d.NextStepExtraction.Status != "" {
			continue
		}
		if !d.HasNextStep() {
			ext := model.NextStepExtraction{Status: model.NextStepEmpty, Confidence: 1.0}
			if err := e.store.UpdateNextStepExtraction(ctx, d.ID, ext); err != nil {
				return nil, eris.Wrap(err, "extractor: stamp empty next step")
			}
			result.Processed++
			continue
		}
		pending = append(pending, d)
	}

	if len(pending) == 0 {
		log.Info("nothing to extract", zap.Int("stamped_empty", result.Processed))
		return result, nil
	}

	log.Info("extraction started", zap.Int("deals", len(pending)))

	var extractions map[string]model.NextStepExtraction
	if len(pending) <= smallBatchThreshold {
		extractions = e.extractDirect(ctx, pending)
	} else {
		extractions, err = e.extractBatch(ctx, pending)
		if err != nil {
			return nil, err
		}
	}

	var updates []salesforce.OpportunityUpdate
	for _, d := range pending {
		ext, ok := extractions[d.ID]
		if !ok {
			result.Failed++
			continue
		}
		if err := e.store.UpdateNextStepExtraction(ctx, d.ID, ext); err != nil {
			return nil, eris.Wrap(err, "extractor: save extraction")
		}
		result.Processed++
		if ext.Status.Committed() {
			result.Committed++
			if e.sf != nil && ext.DueDate != nil {
				updates = append(updates, salesforce.OpportunityUpdate{
					ID: d.ID,
					Fields: map[string]any{
						nextActivityField: ext.DueDate.Format("2006-01-02"),
					},
				})
			}
		}
	}

	if len(updates) > 0 {
		ok, err := salesforce.FieldUpdateable(ctx, e.sf, nextActivityField)
		if err != nil {
			return nil, eris.Wrap(err, "extractor: check write-back field")
		}
		if !ok {
			return nil, eris.Errorf("extractor: %s is missing or read-only in the org", nextActivityField)
		}

		results, err := salesforce.BulkUpdateOpportunities(ctx, e.sf, updates)
		if err != nil {
			return nil, eris.Wrap(err, "extractor: write back due dates")
		}
		for _, r := range results {
			if r.Success {
				result.WrittenBack++
			} else {
				log.Warn("due date write-back rejected", zap.String("deal_id", r.ID))
			}
		}
	}

	log.Info("extraction complete",
		zap.Int("processed", result.Processed),
		zap.Int("committed", result.Committed),
		zap.Int("failed", result.Failed),
		zap.Int("written_back", result.WrittenBack),
	)
	return result, nil
}

// extractDirect runs concurrent CreateMessage calls, one per deal.
// Individual failures are logged and skipped rather than failing the pass.
func (e *Extractor) extractDirect(ctx context.Context, deals []model.DealSnapshot) map[string]model.NextStepExtraction {
	asOf := e.now().UTC()
	systemBlocks := anthropic.BuildCachedSystemBlocks(systemText)

	var mu sync.Mutex
	var usage anthropic.TokenUsage
	out := make(map[string]model.NextStepExtraction, len(deals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDirectConcurrency)

	for _, d := range deals {
		g.Go(func() error {
			resp, err := resilience.BreakerDo(gctx, e.breaker,
				func(ctx context.Context) (*anthropic.MessageResponse, error) {
					return e.ai.CreateMessage(ctx, anthropic.MessageRequest{
						Model:     e.cfg.Model,
						MaxTokens: e.maxTokens(),
						System:    systemBlocks,
						Messages: []anthropic.Message{
							{Role: "user", Content: buildPrompt(d, asOf)},
						},
					})
				})
			if err != nil {
				zap.L().Warn("extractor: message failed",
					zap.String("deal_id", d.ID),
					zap.Error(err),
				)
				return nil
			}

			ext := parseExtraction(extractText(resp))
			mu.Lock()
			out[d.ID] = ext
			usage.Add(resp.Usage)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	usage.LogCost(e.cfg.Model, "direct")
	return out
}

// extractBatch submits one Batch API request for the whole pass and
// polls it to completion.
func (e *Extractor) extractBatch(ctx context.Context, deals []model.DealSnapshot) (map[string]model.NextStepExtraction, error) {
	asOf := e.now().UTC()
	systemBlocks := anthropic.BuildCachedSystemBlocks(systemText)

	items := make([]anthropic.BatchRequestItem, 0, len(deals))
	for _, d := range deals {
		items = append(items, anthropic.BatchRequestItem{
			CustomID: fmt.Sprintf("nextstep-%s", d.ID),
			Params: anthropic.MessageRequest{
				Model:     e.cfg.Model,
				MaxTokens: e.maxTokens(),
				System:    systemBlocks,
				Messages: []anthropic.Message{
					{Role: "user", Content: buildPrompt(d, asOf)},
				},
			},
		})
	}

	// Warm the prompt cache with one sequential call so the batch
	// requests all hit the cached system prefix.
	if _, err := anthropic.PrimerRequest(ctx, e.ai, items[0].Params); err != nil {
		zap.L().Warn("extractor: cache primer failed", zap.Error(err))
	}

	batch, err := e.ai.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	if err != nil {
		return nil, eris.Wrap(err, "extractor: create batch")
	}

	batch, err = anthropic.PollBatch(ctx, e.ai, batch.ID)
	if err != nil {
		return nil, eris.Wrap(err, "extractor: poll batch")
	}

	iter, err := e.ai.GetBatchResults(ctx, batch.ID)
	if err != nil {
		return nil, eris.Wrap(err, "extractor: get batch results")
	}
	results, err := anthropic.CollectBatchResults(iter)
	if err != nil {
		return nil, eris.Wrap(err, "extractor: collect batch results")
	}

	var usage anthropic.TokenUsage
	out := make(map[string]model.NextStepExtraction, len(results))
	for _, d := range deals {
		resp, ok := results[fmt.Sprintf("nextstep-%s", d.ID)]
		if !ok || resp == nil {
			continue
		}
		usage.Add(resp.Usage)
		out[d.ID] = parseExtraction(extractText(resp))
	}
	usage.LogCost(e.cfg.Model, "batch")
	return out, nil
}

func (e *Extractor) maxTokens() int64 {
	if e.cfg.MaxTokens > 0 {
		return e.cfg.MaxTokens
	}
	return 512
}

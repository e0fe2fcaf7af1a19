// Package server exposes the dashboard HTTP API: the exception
// queue, forecast rollups and per-deal risk breakdowns. Handlers
// rebuild the engine components from the stored pipeline metadata on
// every request and pin a single as-of instant, so one response is
// internally consistent even while a sync is running.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
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

const aggregatorWorkers = 4

// Config for the API handler.
type Config struct {
	Store  store.Store
	Policy config.Policy

	// Now overrides the request clock. Nil means time.Now.
	Now func() time.Time
}

type server struct {
	store  store.Store
	policy config.Policy
	now    func() time.Time
}

// New returns the API handler.
func New(cfg Config) http.Handler {
	s := &server{
		store:  cfg.Store,
		policy: cfg.Policy,
		now:    cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/api/exceptions", s.handleExceptions)
	r.Get("/api/forecast", s.handleForecast)
	r.Get("/api/owners", s.handleOwners)
	r.Get("/api/deals/{id}/risk", s.handleDealRisk)

	return r
}

// book bundles the per-request engine components.
type book struct {
	deals  []model.DealSnapshot
	owners []model.Owner
	reg    *registry.StageRegistry
	engine *forecast.Engine
	agg    *exceptions.Aggregator
	asOf   time.Time
	window calendar.QuarterWindow
}

var errInvalidQuota = errors.New("invalid quota parameter")

func (s *server) loadBook(r *http.Request, filter store.DealFilter) (*book, error) {
	ctx := r.Context()

	deals, err := s.store.ListDeals(ctx, filter)
	if err != nil {
		return nil, err
	}
	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		return nil, err
	}
	pipelines, err := s.store.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}

	reg := registry.New(pipelines, s.policy)
	asOf := s.now().UTC()
	return &book{
		deals:  deals,
		owners: owners,
		reg:    reg,
		engine: forecast.NewEngine(reg, s.policy),
		agg: exceptions.NewAggregator(
			risk.NewClassifier(reg, s.policy),
			compliance.NewTracker(s.policy),
			s.policy,
			aggregatorWorkers,
		),
		asOf:   asOf,
		window: calendar.QuarterOf(asOf),
	}, nil
}

// openDeals filters out closed stages; exceptions and risk only apply
// to deals still in flight.
func (b *book) openDeals() []model.DealSnapshot {
	open := make([]model.DealSnapshot, 0, len(b.deals))
	for _, d := range b.deals {
		info := b.reg.Info(d.StageID)
		if info.IsClosedWon || info.IsClosedLost {
			continue
		}
		open = append(open, d)
	}
	return open
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if run, err := s.store.LatestSyncRun(r.Context()); err == nil && run != nil {
		resp["last_sync"] = run
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleExceptions(w http.ResponseWriter, r *http.Request) {
	b, err := s.loadBook(r, store.DealFilter{OwnerID: r.URL.Query().Get("owner")})
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	result, err := b.agg.Aggregate(r.Context(), b.openDeals(), b.asOf)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"as_of":      b.asOf,
		"exceptions": result.Exceptions,
		"per_owner":  result.PerOwner,
	})
}

func (s *server) handleForecast(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner")
	b, err := s.loadBook(r, store.DealFilter{OwnerID: ownerID})
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	quota, err := s.resolveQuota(r.URL.Query().Get("quota"), ownerID, b.owners)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fc := b.engine.PipelineForecast(b.deals, quota, b.window)
	ramp := b.engine.WeeklyForecast(quota, b.window)
	week := calendar.WeekNumberInQuarter(b.asOf, b.window.Start)

	writeJSON(w, http.StatusOK, map[string]any{
		"as_of":    b.asOf,
		"quarter":  b.window.Label,
		"week":     week,
		"owner":    ownerID,
		"forecast": fc,
		"variance": b.engine.Variance(fc.ClosedWon, ramp[week-1].CumulativeTarget),
		"weeks":    ramp,
	})
}

func (s *server) handleOwners(w http.ResponseWriter, r *http.Request) {
	b, err := s.loadBook(r, store.DealFilter{})
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	result, err := b.agg.Aggregate(r.Context(), b.openDeals(), b.asOf)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	type ownerStatus struct {
		model.Owner
		Rollup model.AEStatusRollup `json:"rollup"`
	}
	out := make([]ownerStatus, 0, len(b.owners))
	for _, o := range b.owners {
		out = append(out, ownerStatus{Owner: o, Rollup: result.PerOwner[o.ID]})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"as_of":  b.asOf,
		"owners": out,
	})
}

func (s *server) handleDealRisk(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "id")

	deal, err := s.store.GetDeal(r.Context(), dealID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if deal == nil {
		writeError(w, http.StatusNotFound, "deal not found")
		return
	}

	pipelines, err := s.store.ListPipelines(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	commitment, err := s.store.GetCommitment(r.Context(), dealID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	reg := registry.New(pipelines, s.policy)
	tracker := compliance.NewTracker(s.policy)
	asOf := s.now().UTC()

	writeJSON(w, http.StatusOK, map[string]any{
		"as_of":          asOf,
		"deal_id":        deal.ID,
		"deal_name":      deal.Name,
		"stage":          reg.DisplayName(deal.StageID),
		"assessment":     risk.NewClassifier(reg, s.policy).Assess(*deal, asOf),
		"hygiene":        tracker.DetermineHygieneStatus(*deal, commitment, asOf),
		"missing_fields": tracker.MissingHygieneFields(*deal),
	})
}

// resolveQuota prefers the explicit query value, then the owner's
// stored quota, then the sum of stored quotas (or the policy default
// per owner without one) for the team view.
func (s *server) resolveQuota(raw, ownerID string, owners []model.Owner) (float64, error) {
	if raw != "" {
		q, err := strconv.ParseFloat(raw, 64)
		if err != nil || q < 0 {
			return 0, errInvalidQuota
		}
		return q, nil
	}

	if ownerID != "" {
		for _, o := range owners {
			if o.ID == ownerID && o.Quota > 0 {
				return o.Quota, nil
			}
		}
		return s.policy.DefaultQuota, nil
	}

	total := 0.0
	for _, o := range owners {
		if o.Quota > 0 {
			total += o.Quota
		} else {
			total += s.policy.DefaultQuota
		}
	}
	if total == 0 {
		total = s.policy.DefaultQuota
	}
	return total, nil
}

func (s *server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("request failed",
		zap.String("component", "server"),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package registry resolves pipeline stage identifiers into
// closed-won/closed-lost/excluded classifications and forecast
// weights. Stage labels are free text configured per CRM install, so
// resolution is a two-tier strategy: authoritative metadata lookup
// first, then ordered substring-rule fallback.
package registry

import (
	"strings"
	"time"

	"github.com/sells-group/revops-dashboard/internal/calendar"
	"github.com/sells-group/revops-dashboard/internal/config"
	"github.com/sells-group/revops-dashboard/internal/model"
)

// wonPatterns and lostPatterns classify closed stages by id or label.
var (
	wonPatterns  = []string{"closed won", "closed-won", "closed_won", "closedwon", "won"}
	lostPatterns = []string{"closed lost", "closed-lost", "closed_lost", "closedlost", "lost"}
)

// excludedPatterns mark stages never counted as open pipeline
// (pre-qualification and parking stages).
var excludedPatterns = []string{
	"pre-qual", "prequal", "pre qual", "unqualified", "disqualified", "nurture",
}

// weightRule is one ordered substring fallback for stage weights.
type weightRule struct {
	substrings []string // all must match
	weight     float64
}

// weightRules are checked in order after the exact-match table misses.
var weightRules = []weightRule{
	{[]string{"demo", "completed"}, 0.4},
	{[]string{"demo", "scheduled"}, 0.2},
	{[]string{"proposal"}, 0.6},
	{[]string{"negotiat"}, 0.8},
	{[]string{"contract"}, 0.85},
	{[]string{"legal"}, 0.85},
	{[]string{"procurement"}, 0.85},
	{[]string{"sql"}, 0.1},
}

// StageRegistry is a read-only lookup built once per pipeline
// snapshot and reused for the duration of a computation, so weight
// and tie-break lookups stay stable within one pass.
type StageRegistry struct {
	stages map[string]model.StageInfo
	policy config.Policy
}

// New builds a StageRegistry from CRM pipeline metadata. pipelines may
// be nil or empty, in which case every query degrades to pure pattern
// matching on the raw stage id.
func New(pipelines []model.Pipeline, policy config.Policy) *StageRegistry {
	r := &StageRegistry{
		stages: make(map[string]model.StageInfo),
		policy: policy,
	}

	for _, p := range pipelines {
		for _, s := range p.Stages {
			r.stages[s.ID] = r.resolve(s)
		}
	}

	return r
}

// resolve classifies one stage from its metadata.
func (r *StageRegistry) resolve(s model.StageMeta) model.StageInfo {
	id := strings.ToLower(s.ID)
	label := strings.ToLower(s.Label)

	var won, lost bool
	if s.IsClosed != nil {
		// Authoritative: closed metadata plus a won/lost pattern in
		// the id or label.
		won = *s.IsClosed && (matchesAny(id, wonPatterns) || matchesAny(label, wonPatterns))
		lost = *s.IsClosed && !won && (matchesAny(id, lostPatterns) || matchesAny(label, lostPatterns))
	} else {
		// Metadata unavailable: pattern-match the id/label alone.
		won = matchesAny(id, wonPatterns) || matchesAny(label, wonPatterns)
		lost = !won && (matchesAny(id, lostPatterns) || matchesAny(label, lostPatterns))
	}

	display := s.Label
	if display == "" {
		display = s.ID
	}

	info := model.StageInfo{
		ID:           s.ID,
		DisplayName:  display,
		IsClosedWon:  won,
		IsClosedLost: lost,
		Excluded:     matchesAny(id, excludedPatterns) || matchesAny(label, excludedPatterns),
	}
	info.Weight = r.weightFor(info, label)
	return info
}

// weightFor resolves the forecast weight for a resolved stage.
func (r *StageRegistry) weightFor(info model.StageInfo, label string) float64 {
	if info.IsClosedWon {
		return 1.0
	}
	if info.IsClosedLost || info.Excluded {
		return 0
	}
	return WeightForLabel(label, r.policy)
}

// WeightForLabel resolves a stage label to a probability weight:
// exact-match table first, then the ordered substring rules, then the
// policy default. Exported so behavior under missing metadata is
// itself testable.
func WeightForLabel(label string, policy config.Policy) float64 {
	l := strings.ToLower(strings.TrimSpace(label))

	if w, ok := policy.StageWeights[l]; ok {
		return w
	}

	for _, rule := range weightRules {
		if matchesAll(l, rule.substrings) {
			return rule.weight
		}
	}

	return policy.DefaultStageWeight
}

// Info returns the resolved StageInfo for a stage id. Unknown ids are
// resolved on the fly by pattern matching the id as if it were a
// label, which is the degraded mode when pipeline metadata is
// unavailable.
func (r *StageRegistry) Info(stageID string) model.StageInfo {
	if info, ok := r.stages[stageID]; ok {
		return info
	}
	return r.resolve(model.StageMeta{ID: stageID, Label: stageID})
}

// IsClosedWon reports whether the stage is a closed-won stage.
func (r *StageRegistry) IsClosedWon(stageID string) bool {
	return r.Info(stageID).IsClosedWon
}

// IsClosedLost reports whether the stage is a closed-lost stage.
func (r *StageRegistry) IsClosedLost(stageID string) bool {
	return r.Info(stageID).IsClosedLost
}

// IsOpenPipeline reports whether a deal in this stage with the given
// close date counts as open pipeline for the quarter: not closed, not
// excluded, and closing inside the window.
func (r *StageRegistry) IsOpenPipeline(stageID string, closeDate *time.Time, window calendar.QuarterWindow) bool {
	info := r.Info(stageID)
	if info.IsClosedWon || info.IsClosedLost || info.Excluded {
		return false
	}
	if closeDate == nil {
		return false
	}
	return window.Contains(*closeDate)
}

// DisplayName returns the human-readable stage name.
func (r *StageRegistry) DisplayName(stageID string) string {
	return r.Info(stageID).DisplayName
}

// Weight returns the forecast probability weight for a stage.
func (r *StageRegistry) Weight(stageID string) float64 {
	return r.Info(stageID).Weight
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func matchesAll(s string, substrings []string) bool {
	for _, sub := range substrings {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

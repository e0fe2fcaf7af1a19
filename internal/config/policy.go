package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Policy centralizes every tunable threshold the risk, compliance,
// forecast and exception components depend on. It is injected into
// each component constructor; nothing in the engine reads a default
// from a call site.
type Policy struct {
	// Risk thresholds (business days unless noted).
	DroughtAtRiskDays    int `yaml:"drought_at_risk_days" mapstructure:"drought_at_risk_days"`
	DroughtExceptionDays int `yaml:"drought_exception_days" mapstructure:"drought_exception_days"`
	OverdueSevereDays    int `yaml:"overdue_severe_days" mapstructure:"overdue_severe_days"`

	// SevereFactorMultiplier escalates a single factor straight to
	// stale once its magnitude reaches this multiple of its own
	// threshold.
	SevereFactorMultiplier float64 `yaml:"severe_factor_multiplier" mapstructure:"severe_factor_multiplier"`

	// StageMaxDays is the expected dwell time per stage id (lowercased).
	// Stages not listed fall back to StageMaxDaysDefault.
	StageMaxDays        map[string]int `yaml:"stage_max_days" mapstructure:"stage_max_days"`
	StageMaxDaysDefault int            `yaml:"stage_max_days_default" mapstructure:"stage_max_days_default"`

	// Exception thresholds.
	HighValueThreshold float64 `yaml:"high_value_threshold" mapstructure:"high_value_threshold"`

	// Hygiene.
	HygieneGraceDays      int      `yaml:"hygiene_grace_days" mapstructure:"hygiene_grace_days"` // calendar days
	RequiredHygieneFields []string `yaml:"required_hygiene_fields" mapstructure:"required_hygiene_fields"`
	TaskCriticalDays      int      `yaml:"task_critical_days" mapstructure:"task_critical_days"`

	// Forecast.
	DefaultQuota     float64 `yaml:"default_quota" mapstructure:"default_quota"`
	BehindCutoffPct  float64 `yaml:"behind_cutoff_pct" mapstructure:"behind_cutoff_pct"`
	CoverageSentinel float64 `yaml:"coverage_sentinel" mapstructure:"coverage_sentinel"`

	// Funnel conversion rates in (0,1].
	ProposalWinRate float64 `yaml:"proposal_win_rate" mapstructure:"proposal_win_rate"`
	DemoToProposal  float64 `yaml:"demo_to_proposal" mapstructure:"demo_to_proposal"`
	SQLToDemo       float64 `yaml:"sql_to_demo" mapstructure:"sql_to_demo"`

	// Stage weights: exact match on lowercased stage label, with
	// ordered substring fallbacks applied by the stage registry.
	StageWeights       map[string]float64 `yaml:"stage_weights" mapstructure:"stage_weights"`
	DefaultStageWeight float64            `yaml:"default_stage_weight" mapstructure:"default_stage_weight"`

	// Rollup thresholds.
	RedOverdueCount   int `yaml:"red_overdue_count" mapstructure:"red_overdue_count"`
	RedStaleCount     int `yaml:"red_stale_count" mapstructure:"red_stale_count"`
	AmberOverdueCount int `yaml:"amber_overdue_count" mapstructure:"amber_overdue_count"`
	AmberStaleCount   int `yaml:"amber_stale_count" mapstructure:"amber_stale_count"`
}

// DefaultPolicy returns the documented default policy. Sync with
// setPolicyDefaults when changing values.
func DefaultPolicy() Policy {
	return Policy{
		DroughtAtRiskDays:      7,
		DroughtExceptionDays:   10,
		OverdueSevereDays:      10,
		SevereFactorMultiplier: 2.0,

		StageMaxDays: map[string]int{
			"sql":            15,
			"demo_scheduled": 10,
			"demo_completed": 15,
			"proposal":       20,
			"negotiation":    25,
		},
		StageMaxDaysDefault: 21,

		HighValueThreshold: 50_000,

		HygieneGraceDays:      7,
		RequiredHygieneFields: []string{"product", "lead_source", "collaborator"},
		TaskCriticalDays:      7,

		DefaultQuota:     100_000,
		BehindCutoffPct:  85,
		CoverageSentinel: 999,

		ProposalWinRate: 0.40,
		DemoToProposal:  0.50,
		SQLToDemo:       0.60,

		StageWeights: map[string]float64{
			"closed won":     1.0,
			"closed lost":    0,
			"negotiation":    0.8,
			"proposal":       0.6,
			"demo completed": 0.4,
			"demo scheduled": 0.2,
			"sql":            0.1,
		},
		DefaultStageWeight: 0.15,

		RedOverdueCount:   3,
		RedStaleCount:     5,
		AmberOverdueCount: 1,
		AmberStaleCount:   2,
	}
}

// setPolicyDefaults registers the default policy with viper so a
// config file only needs to override what it changes.
func setPolicyDefaults(v *viper.Viper) {
	p := DefaultPolicy()

	v.SetDefault("policy.drought_at_risk_days", p.DroughtAtRiskDays)
	v.SetDefault("policy.drought_exception_days", p.DroughtExceptionDays)
	v.SetDefault("policy.overdue_severe_days", p.OverdueSevereDays)
	v.SetDefault("policy.severe_factor_multiplier", p.SevereFactorMultiplier)
	v.SetDefault("policy.stage_max_days", p.StageMaxDays)
	v.SetDefault("policy.stage_max_days_default", p.StageMaxDaysDefault)
	v.SetDefault("policy.high_value_threshold", p.HighValueThreshold)
	v.SetDefault("policy.hygiene_grace_days", p.HygieneGraceDays)
	v.SetDefault("policy.required_hygiene_fields", p.RequiredHygieneFields)
	v.SetDefault("policy.task_critical_days", p.TaskCriticalDays)
	v.SetDefault("policy.default_quota", p.DefaultQuota)
	v.SetDefault("policy.behind_cutoff_pct", p.BehindCutoffPct)
	v.SetDefault("policy.coverage_sentinel", p.CoverageSentinel)
	v.SetDefault("policy.proposal_win_rate", p.ProposalWinRate)
	v.SetDefault("policy.demo_to_proposal", p.DemoToProposal)
	v.SetDefault("policy.sql_to_demo", p.SQLToDemo)
	v.SetDefault("policy.stage_weights", p.StageWeights)
	v.SetDefault("policy.default_stage_weight", p.DefaultStageWeight)
	v.SetDefault("policy.red_overdue_count", p.RedOverdueCount)
	v.SetDefault("policy.red_stale_count", p.RedStaleCount)
	v.SetDefault("policy.amber_overdue_count", p.AmberOverdueCount)
	v.SetDefault("policy.amber_stale_count", p.AmberStaleCount)
}

// ValidatePolicy checks that a Policy is internally consistent.
func ValidatePolicy(p Policy) error {
	var errs []string

	if p.DroughtAtRiskDays <= 0 {
		errs = append(errs, "drought_at_risk_days must be > 0")
	}
	if p.DroughtExceptionDays < p.DroughtAtRiskDays {
		errs = append(errs, "drought_exception_days must be >= drought_at_risk_days")
	}
	if p.SevereFactorMultiplier < 1 {
		errs = append(errs, "severe_factor_multiplier must be >= 1")
	}
	if p.StageMaxDaysDefault <= 0 {
		errs = append(errs, "stage_max_days_default must be > 0")
	}
	if p.HighValueThreshold < 0 {
		errs = append(errs, "high_value_threshold must be >= 0")
	}
	if p.HygieneGraceDays < 0 {
		errs = append(errs, "hygiene_grace_days must be >= 0")
	}
	if p.BehindCutoffPct <= 0 || p.BehindCutoffPct > 100 {
		errs = append(errs, "behind_cutoff_pct must be in (0,100]")
	}

	rates := map[string]float64{
		"proposal_win_rate": p.ProposalWinRate,
		"demo_to_proposal":  p.DemoToProposal,
		"sql_to_demo":       p.SQLToDemo,
	}
	for name, r := range rates {
		if r <= 0 || r > 1 {
			errs = append(errs, fmt.Sprintf("%s must be in (0,1]", name))
		}
	}

	for label, w := range p.StageWeights {
		if w < 0 || w > 1 {
			errs = append(errs, fmt.Sprintf("stage weight for %q must be in [0,1]", label))
		}
	}
	if p.DefaultStageWeight < 0 || p.DefaultStageWeight > 1 {
		errs = append(errs, "default_stage_weight must be in [0,1]")
	}

	if p.RedOverdueCount < p.AmberOverdueCount {
		errs = append(errs, "red_overdue_count must be >= amber_overdue_count")
	}
	if p.RedStaleCount < p.AmberStaleCount {
		errs = append(errs, "red_stale_count must be >= amber_stale_count")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: policy validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

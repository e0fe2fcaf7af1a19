// Package report renders the exception queue and forecast grid into
// an XLSX workbook for leadership distribution.
package report

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
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

// Summary describes one written workbook.
type Summary struct {
	Path           string
	ExceptionCount int
	OwnerCount     int
}

// Exporter assembles the current book into workbook rows. Like the
// digest, everything is rebuilt per call from the stored pipeline
// metadata.
type Exporter struct {
	store  store.Store
	policy config.Policy
	now    func() time.Time
}

// Option customizes an Exporter.
type Option func(*Exporter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// New creates an Exporter.
func New(st store.Store, policy config.Policy, opts ...Option) *Exporter {
	e := &Exporter{store: st, policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes the workbook to path: an Exceptions sheet, a Forecast
// sheet with one row per owner plus a team total, and the team's
// weekly ramp.
func (e *Exporter) Export(ctx context.Context, path string) (*Summary, error) {
	asOf := e.now().UTC()
	window := calendar.QuarterOf(asOf)

	deals, err := e.store.ListDeals(ctx, store.DealFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "report: list deals")
	}
	owners, err := e.store.ListOwners(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "report: list owners")
	}
	pipelines, err := e.store.ListPipelines(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "report: list pipelines")
	}

	reg := registry.New(pipelines, e.policy)
	engine := forecast.NewEngine(reg, e.policy)
	agg := exceptions.NewAggregator(
		risk.NewClassifier(reg, e.policy),
		compliance.NewTracker(e.policy),
		e.policy,
		aggregatorWorkers,
	)

	open := make([]model.DealSnapshot, 0, len(deals))
	byOwner := make(map[string][]model.DealSnapshot)
	for _, deal := range deals {
		if deal.OwnerID != "" {
			byOwner[deal.OwnerID] = append(byOwner[deal.OwnerID], deal)
		}
		info := reg.Info(deal.StageID)
		if info.IsClosedWon || info.IsClosedLost {
			continue
		}
		open = append(open, deal)
	}

	result, err := agg.Aggregate(ctx, open, asOf)
	if err != nil {
		return nil, eris.Wrap(err, "report: aggregate exceptions")
	}

	ownerNames := make(map[string]string, len(owners))
	for _, o := range owners {
		ownerNames[o.ID] = o.Name
	}

	wb := xlsx.NewFile()
	if err := e.writeExceptions(wb, result.Exceptions, ownerNames); err != nil {
		return nil, err
	}

	week := calendar.WeekNumberInQuarter(asOf, window.Start)
	teamQuota, rows := e.forecastRows(engine, owners, byOwner, window, week)
	if err := e.writeForecast(wb, engine, deals, teamQuota, rows, window); err != nil {
		return nil, err
	}
	if err := e.writeRamp(wb, engine, teamQuota, window, asOf); err != nil {
		return nil, err
	}

	if err := wb.Save(path); err != nil {
		return nil, eris.Wrapf(err, "report: save workbook %s", path)
	}

	zap.L().Info("report exported",
		zap.String("component", "report"),
		zap.String("path", path),
		zap.Int("exceptions", len(result.Exceptions)),
		zap.Int("owners", len(rows)),
	)
	return &Summary{
		Path:           path,
		ExceptionCount: len(result.Exceptions),
		OwnerCount:     len(rows),
	}, nil
}

// forecastRow is one owner's line of the Forecast sheet.
type forecastRow struct {
	ownerName string
	forecast  model.PipelineForecast
	pace      model.PaceStatus
}

func (e *Exporter) forecastRows(
	engine *forecast.Engine,
	owners []model.Owner,
	byOwner map[string][]model.DealSnapshot,
	window calendar.QuarterWindow,
	week int,
) (float64, []forecastRow) {
	teamQuota := 0.0
	var rows []forecastRow
	for _, owner := range owners {
		quota := owner.Quota
		if quota <= 0 {
			quota = e.policy.DefaultQuota
		}
		ownerDeals := byOwner[owner.ID]
		if len(ownerDeals) == 0 && owner.Quota <= 0 {
			continue
		}
		teamQuota += quota

		fc := engine.PipelineForecast(ownerDeals, quota, window)
		name := owner.Name
		if name == "" {
			name = owner.ID
		}
		// Pace is judged against the cumulative ramp target for the
		// current week, not the full-quarter quota.
		target := engine.WeeklyForecast(quota, window)[week-1].CumulativeTarget
		rows = append(rows, forecastRow{
			ownerName: name,
			forecast:  fc,
			pace:      engine.Variance(fc.ClosedWon, target).Status,
		})
	}
	return teamQuota, rows
}

func (e *Exporter) writeExceptions(wb *xlsx.File, records []model.ExceptionRecord, ownerNames map[string]string) error {
	sheet, err := wb.AddSheet("Exceptions")
	if err != nil {
		return eris.Wrap(err, "report: add exceptions sheet")
	}

	addHeader(sheet, "Priority", "Deal", "Owner", "Type", "Detail", "Amount")
	for _, r := range records {
		row := sheet.AddRow()
		row.AddCell().SetInt(r.Priority)
		row.AddCell().SetString(r.DealName)
		owner := ownerNames[r.OwnerID]
		if owner == "" {
			owner = r.OwnerID
		}
		row.AddCell().SetString(owner)
		row.AddCell().SetString(string(r.Type))
		row.AddCell().SetString(r.Detail)
		setMoney(row.AddCell(), r.Amount)
	}
	return nil
}

func (e *Exporter) writeForecast(
	wb *xlsx.File,
	engine *forecast.Engine,
	deals []model.DealSnapshot,
	teamQuota float64,
	rows []forecastRow,
	window calendar.QuarterWindow,
) error {
	sheet, err := wb.AddSheet("Forecast")
	if err != nil {
		return eris.Wrap(err, "report: add forecast sheet")
	}

	addHeader(sheet, "Owner", "Quota", "Closed Won", "Weighted Pipeline", "Projected", "Coverage", "Pace")
	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetString(r.ownerName)
		setMoney(row.AddCell(), r.forecast.Quota)
		setMoney(row.AddCell(), r.forecast.ClosedWon)
		setMoney(row.AddCell(), r.forecast.WeightedPipeline)
		setMoney(row.AddCell(), r.forecast.Projected)
		row.AddCell().SetFloatWithFormat(r.forecast.CoverageRatio, "0.00")
		row.AddCell().SetString(string(r.pace))
	}

	team := engine.PipelineForecast(deals, teamQuota, window)
	row := sheet.AddRow()
	row.AddCell().SetString("TEAM")
	setMoney(row.AddCell(), team.Quota)
	setMoney(row.AddCell(), team.ClosedWon)
	setMoney(row.AddCell(), team.WeightedPipeline)
	setMoney(row.AddCell(), team.Projected)
	row.AddCell().SetFloatWithFormat(team.CoverageRatio, "0.00")
	row.AddCell().SetString("")
	return nil
}

func (e *Exporter) writeRamp(wb *xlsx.File, engine *forecast.Engine, teamQuota float64, window calendar.QuarterWindow, asOf time.Time) error {
	sheet, err := wb.AddSheet("Weekly Ramp")
	if err != nil {
		return eris.Wrap(err, "report: add ramp sheet")
	}

	currentWeek := calendar.WeekNumberInQuarter(asOf, window.Start)
	addHeader(sheet, "Week", "Weekly Target", "Cumulative Target", "Current")
	for _, w := range engine.WeeklyForecast(teamQuota, window) {
		row := sheet.AddRow()
		row.AddCell().SetInt(w.WeekNumber)
		setMoney(row.AddCell(), w.WeeklyTarget)
		setMoney(row.AddCell(), w.CumulativeTarget)
		if w.WeekNumber == currentWeek {
			row.AddCell().SetString("<--")
		} else {
			row.AddCell().SetString("")
		}
	}
	return nil
}

func addHeader(sheet *xlsx.Sheet, titles ...string) {
	style := xlsx.NewStyle()
	style.Font.Bold = true
	style.ApplyFont = true

	row := sheet.AddRow()
	for _, title := range titles {
		cell := row.AddCell()
		cell.SetString(title)
		cell.SetStyle(style)
	}
}

func setMoney(cell *xlsx.Cell, v float64) {
	cell.SetFloatWithFormat(v, `"$"#,##0`)
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/revops-dashboard/internal/calendar"
	"github.com/sells-group/revops-dashboard/internal/forecast"
	"github.com/sells-group/revops-dashboard/internal/model"
	"github.com/sells-group/revops-dashboard/internal/registry"
	"github.com/sells-group/revops-dashboard/internal/store"
)

var (
	forecastOwner   string
	forecastQuota   float64
	forecastAvgDeal float64
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Project quarter-end revenue from the mirrored book",
	Long: `Blends closed-won revenue with the probability-weighted open
pipeline for the current quarter and prints the weekly ramp. Without
--quota, the stored owner quotas (or the policy default) are used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		asOf := time.Now().UTC()
		window := calendar.QuarterOf(asOf)

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		deals, err := st.ListDeals(ctx, store.DealFilter{OwnerID: forecastOwner})
		if err != nil {
			return eris.Wrap(err, "forecast: list deals")
		}
		owners, err := st.ListOwners(ctx)
		if err != nil {
			return eris.Wrap(err, "forecast: list owners")
		}
		pipelines, err := st.ListPipelines(ctx)
		if err != nil {
			return eris.Wrap(err, "forecast: list pipelines")
		}

		quota := forecastQuota
		if quota <= 0 {
			for _, o := range owners {
				if forecastOwner != "" && o.ID != forecastOwner {
					continue
				}
				if o.Quota > 0 {
					quota += o.Quota
				} else {
					quota += cfg.Policy.DefaultQuota
				}
			}
			if quota <= 0 {
				quota = cfg.Policy.DefaultQuota
			}
		}

		engine := forecast.NewEngine(registry.New(pipelines, cfg.Policy), cfg.Policy)
		fc := engine.PipelineForecast(deals, quota, window)
		ramp := engine.WeeklyForecast(quota, window)
		week := calendar.WeekNumberInQuarter(asOf, window.Start)
		variance := engine.Variance(fc.ClosedWon, ramp[week-1].CumulativeTarget)

		fmt.Printf("%s, week %d of %d\n\n", window.Label, week, calendar.WeeksPerQuarter)
		fmt.Printf("Closed won:        $%.0f\n", fc.ClosedWon)
		fmt.Printf("Weighted pipeline: $%.0f\n", fc.WeightedPipeline)
		fmt.Printf("Projected:         $%.0f of $%.0f quota\n", fc.Projected, fc.Quota)
		fmt.Printf("Coverage:          %.2fx of remaining $%.0f\n", fc.CoverageRatio, fc.RemainingQuota)
		fmt.Printf("Pace:              %.0f%% of week-%d target (%s)\n\n",
			variance.PercentOfForecast, week, variance.Status)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "WEEK\tTARGET\tCUMULATIVE")
		_, _ = fmt.Fprintln(w, "----\t------\t----------")
		for _, wk := range ramp {
			marker := ""
			if wk.WeekNumber == week {
				marker = "  <--"
			}
			_, _ = fmt.Fprintf(w, "%d\t$%.0f\t$%.0f%s\n",
				wk.WeekNumber, wk.WeeklyTarget, wk.CumulativeTarget, marker)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if forecastAvgDeal > 0 {
			sf := engine.StageForecast(fc.RemainingQuota, forecastAvgDeal, window)
			fw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(fw, "\nFUNNEL\tNEEDED\tPER WEEK")
			_, _ = fmt.Fprintln(fw, "------\t------\t--------")
			for _, line := range []struct {
				name string
				fl   model.FunnelLine
			}{
				{"Deals", sf.Deals},
				{"Proposals", sf.Proposals},
				{"Demos", sf.Demos},
				{"SQLs", sf.SQLs},
			} {
				_, _ = fmt.Fprintf(fw, "%s\t%.1f\t%.1f\n",
					line.name, line.fl.Needed, line.fl.Weeks[0].WeeklyTarget)
			}
			return fw.Flush()
		}
		return nil
	},
}

func init() {
	forecastCmd.Flags().StringVar(&forecastOwner, "owner", "", "limit to one owner id")
	forecastCmd.Flags().Float64Var(&forecastQuota, "quota", 0, "override the quarter quota")
	forecastCmd.Flags().Float64Var(&forecastAvgDeal, "avg-deal", 0, "average deal size; prints the funnel volume targets")
	rootCmd.AddCommand(forecastCmd)
}

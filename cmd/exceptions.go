package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/revops-dashboard/internal/compliance"
	"github.com/sells-group/revops-dashboard/internal/exceptions"
	"github.com/sells-group/revops-dashboard/internal/model"
	"github.com/sells-group/revops-dashboard/internal/registry"
	"github.com/sells-group/revops-dashboard/internal/risk"
	"github.com/sells-group/revops-dashboard/internal/store"
)

var exceptionsOwner string

var exceptionsCmd = &cobra.Command{
	Use:   "exceptions",
	Short: "Classify mirrored deals and print the exception queue",
	Long: `Runs the risk and compliance classifiers over the mirrored book and
prints the deduplicated exception queue, most actionable first. The
full queue (no --owner filter) also replaces the stored snapshot the
dashboard serves.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		asOf := time.Now().UTC()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		deals, err := st.ListDeals(ctx, store.DealFilter{OwnerID: exceptionsOwner})
		if err != nil {
			return eris.Wrap(err, "exceptions: list deals")
		}
		owners, err := st.ListOwners(ctx)
		if err != nil {
			return eris.Wrap(err, "exceptions: list owners")
		}
		pipelines, err := st.ListPipelines(ctx)
		if err != nil {
			return eris.Wrap(err, "exceptions: list pipelines")
		}

		reg := registry.New(pipelines, cfg.Policy)
		open := make([]model.DealSnapshot, 0, len(deals))
		for _, d := range deals {
			info := reg.Info(d.StageID)
			if info.IsClosedWon || info.IsClosedLost {
				continue
			}
			open = append(open, d)
		}

		agg := exceptions.NewAggregator(
			risk.NewClassifier(reg, cfg.Policy),
			compliance.NewTracker(cfg.Policy),
			cfg.Policy,
			cfg.Sync.Workers,
		)
		result, err := agg.Aggregate(ctx, open, asOf)
		if err != nil {
			return eris.Wrap(err, "exceptions: aggregate")
		}

		if exceptionsOwner == "" {
			if err := st.ReplaceExceptions(ctx, asOf, result.Exceptions); err != nil {
				zap.L().Warn("failed to store exception snapshot", zap.Error(err))
			}
		}

		names := make(map[string]string, len(owners))
		for _, o := range owners {
			names[o.ID] = o.Name
		}
		printExceptions(result, names)
		return nil
	},
}

func printExceptions(result *exceptions.Result, ownerNames map[string]string) {
	if len(result.Exceptions) == 0 {
		fmt.Println("No exceptions.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tDEAL\tOWNER\tTYPE\tDETAIL")
	_, _ = fmt.Fprintln(w, "-\t----\t-----\t----\t------")
	for _, ex := range result.Exceptions {
		owner := ownerNames[ex.OwnerID]
		if owner == "" {
			owner = ex.OwnerID
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			ex.Priority, ex.DealName, owner, ex.Type, ex.Detail)
	}
	_ = w.Flush()

	fmt.Printf("\n%d exceptions across %d owners\n", len(result.Exceptions), len(result.PerOwner))
	for ownerID, rollup := range result.PerOwner {
		if rollup.Status == model.RollupGreen {
			continue
		}
		name := ownerNames[ownerID]
		if name == "" {
			name = ownerID
		}
		fmt.Printf("  %s: %s (%d overdue, %d stale of %d deals)\n",
			name, rollup.Status, rollup.OverdueCount, rollup.StaleCount, rollup.TotalDeals)
	}
}

func init() {
	exceptionsCmd.Flags().StringVar(&exceptionsOwner, "owner", "", "limit to one owner id")
	rootCmd.AddCommand(exceptionsCmd)
}

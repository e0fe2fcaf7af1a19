package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/revops-dashboard/internal/report"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the exception queue and forecast grid to XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		summary, err := report.New(st, cfg.Policy).Export(ctx, exportOut)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		fmt.Printf("Wrote %s: %d exceptions, %d owners\n",
			summary.Path, summary.ExceptionCount, summary.OwnerCount)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "pipeline.xlsx", "output workbook path")
	rootCmd.AddCommand(exportCmd)
}

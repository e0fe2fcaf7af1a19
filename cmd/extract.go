package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/revops-dashboard/internal/extractor"
	"github.com/sells-group/revops-dashboard/pkg/anthropic"
)

var extractWriteBack bool

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract next-step due dates from free-text deal notes",
	Long: `Runs Claude over every mirrored deal whose next-step text has not
been extracted yet, and stores the structured due date and status.
With --write-back, committed due dates are pushed to the CRM's
Next_Activity_Date__c field.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic API key is required (REVOPS_ANTHROPIC_KEY)")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		opts := []extractor.Option{}
		if extractWriteBack {
			sf, err := initSalesforce()
			if err != nil {
				return err
			}
			opts = append(opts, extractor.WithWriteBack(sf))
		}

		ai := anthropic.NewClient(cfg.Anthropic.Key)
		result, err := extractor.New(ai, st, cfg.Anthropic, opts...).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "extract")
		}

		fmt.Printf("Processed %d deals: %d committed dates, %d failed", result.Processed, result.Committed, result.Failed)
		if extractWriteBack {
			fmt.Printf(", %d written back", result.WrittenBack)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	extractCmd.Flags().BoolVar(&extractWriteBack, "write-back", false, "push committed due dates to the CRM")
	rootCmd.AddCommand(extractCmd)
}

package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/revops-dashboard/internal/digest"
	"github.com/sells-group/revops-dashboard/pkg/notion"
)

var digestPublish bool

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Assemble the weekly revenue digest",
	Long: `Builds the team and per-owner digest from the mirrored book and
prints it. The digest is posted to the configured webhook when one is
set; with --publish it is also written to the Notion digest database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		d, err := digest.New(st, cfg.Policy, cfg.Digest).Build(ctx)
		if err != nil {
			return eris.Wrap(err, "digest")
		}

		for _, line := range d.Lines {
			fmt.Println(line)
		}

		if err := digest.NewSender(cfg.Digest).Send(ctx, d); err != nil {
			return eris.Wrap(err, "digest: deliver")
		}

		if digestPublish {
			if cfg.Notion.Token == "" || cfg.Notion.DigestParent == "" {
				return eris.New("notion token and digest parent are required for --publish")
			}
			client := notion.NewClient(cfg.Notion.Token)
			pageID, err := notion.PublishDigest(ctx, client, cfg.Notion.DigestParent, digest.NotionPage(d))
			if err != nil {
				return eris.Wrap(err, "digest: publish")
			}
			zap.L().Info("digest published to notion", zap.String("page_id", pageID))
		}

		return nil
	},
}

func init() {
	digestCmd.Flags().BoolVar(&digestPublish, "publish", false, "publish the digest to Notion")
	rootCmd.AddCommand(digestCmd)
}

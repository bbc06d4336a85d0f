package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/pkg/notion"
)

var publishRequest string

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a completed research report to the Notion playbook database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("publish"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		req, err := st.GetResearchRequest(ctx, publishRequest)
		if err != nil {
			return eris.Wrapf(err, "publish: load request %s", publishRequest)
		}
		report, err := st.GetReport(ctx, publishRequest)
		if err != nil {
			return eris.Wrapf(err, "publish: load report %s", publishRequest)
		}

		res, err := notion.PublishReport(ctx, notion.NewClient(cfg.Notion.Token), cfg.Notion.PlaybookDB, req, report)
		if err != nil {
			return err
		}
		zap.L().Info("playbook published",
			zap.String("request_id", req.ID),
			zap.String("page_id", res.PageID),
			zap.Bool("created", res.Created),
		)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishRequest, "request", "", "research request id")
	_ = publishCmd.MarkFlagRequired("request")
	rootCmd.AddCommand(publishCmd)
}

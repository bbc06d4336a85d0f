package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/workflow"
)

var (
	researchRequest     string
	researchCaller      string
	researchAccount     string
	researchProduct     string
	researchStates      []string
	researchCategories  []string
	researchCompetitors []string
	researchRetry       bool
	researchTemporal    bool
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Run deep research for one account",
	Long:  "Runs the research agents and playbook synthesis for a request. Without --request a new request is created from --account and the criteria flags.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "research")
		if err != nil {
			return err
		}
		defer env.Close()

		requestID := researchRequest
		if requestID == "" {
			if researchAccount == "" {
				return eris.New("research: --request or --account is required")
			}
			req := &model.ResearchRequest{
				OwnerID:            researchCaller,
				TargetAccount:      researchAccount,
				ProductDescription: researchProduct,
				States:             researchStates,
				TargetCategories:   researchCategories,
				Competitors:        researchCompetitors,
			}
			if err := env.Store.CreateResearchRequest(ctx, req); err != nil {
				return eris.Wrap(err, "research: create request")
			}
			requestID = req.ID
			zap.L().Info("research request created", zap.String("request_id", requestID))
		} else {
			req, err := env.Store.GetResearchRequest(ctx, requestID)
			if err != nil {
				return eris.Wrapf(err, "research: load request %s", requestID)
			}
			if req.Status != model.RequestStatusPending && !researchRetry {
				return eris.Errorf("research: request %s is %s, pass --retry to run it again", requestID, req.Status)
			}
		}

		if researchTemporal {
			tc, err := dialTemporal()
			if err != nil {
				return err
			}
			defer tc.Close()

			run, err := workflow.Start(ctx, tc, cfg.Temporal.TaskQueue, workflow.Input{RequestID: requestID, CallerID: researchCaller})
			if err != nil {
				return err
			}
			zap.L().Info("workflow started",
				zap.String("workflow_id", run.GetID()),
				zap.String("run_id", run.GetRunID()),
			)
			var res workflow.Result
			if err := run.Get(ctx, &res); err != nil {
				return eris.Wrapf(err, "research: workflow %s", run.GetID())
			}
			return printJSON(os.Stdout, res)
		}

		report, err := env.Research.Run(ctx, requestID, researchCaller)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, report)
	},
}

func init() {
	f := researchCmd.Flags()
	f.StringVar(&researchRequest, "request", "", "existing research request id")
	f.StringVar(&researchCaller, "caller", "", "caller user id")
	f.StringVar(&researchAccount, "account", "", "target account name for a new request")
	f.StringVar(&researchProduct, "product", "", "product description")
	f.StringSliceVar(&researchStates, "states", nil, "territory states")
	f.StringSliceVar(&researchCategories, "categories", nil, "target categories")
	f.StringSliceVar(&researchCompetitors, "competitors", nil, "competitor names")
	f.BoolVar(&researchRetry, "retry", false, "re-run a request that is not pending")
	f.BoolVar(&researchTemporal, "temporal", false, "run through the Temporal workflow")
	rootCmd.AddCommand(researchCmd)
}

package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/discovery"
	"github.com/sells-group/prospector/internal/model"
)

var (
	discoverSession     string
	discoverOwner       string
	discoverProduct     string
	discoverStates      []string
	discoverCategories  []string
	discoverCompetitors []string
	discoverLimit       int
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover prospects for a session",
	Long:  "Runs discovery for an existing session, or creates a session from the criteria flags first. Prints the prospects and queued jobs as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		sessionID := discoverSession
		if sessionID == "" {
			if len(discoverStates) == 0 {
				return eris.New("discover: --session or --states is required")
			}
			sess := &model.DiscoverySession{
				OwnerID: discoverOwner,
				Criteria: model.Criteria{
					ProductDescription: discoverProduct,
					States:             discoverStates,
					TargetCategories:   discoverCategories,
					Competitors:        discoverCompetitors,
				},
			}
			if err := env.Store.CreateSession(ctx, sess); err != nil {
				return eris.Wrap(err, "discover: create session")
			}
			sessionID = sess.ID
			zap.L().Info("session created", zap.String("session_id", sessionID))
		}

		resp, err := env.Discovery.Discover(ctx, discovery.Request{
			SessionID:          sessionID,
			ProductDescription: discoverProduct,
			States:             discoverStates,
			TargetCategories:   discoverCategories,
			Competitors:        discoverCompetitors,
			Limit:              discoverLimit,
		}, discoverOwner)
		if err != nil {
			return err
		}

		zap.L().Info("discovery complete",
			zap.String("session_id", sessionID),
			zap.Int("prospects", len(resp.Prospects)),
			zap.Int("jobs", len(resp.Jobs)),
			zap.Bool("cached", resp.Cached),
		)
		return printJSON(os.Stdout, struct {
			SessionID string `json:"sessionId"`
			*discovery.Response
		}{sessionID, resp})
	},
}

func init() {
	f := discoverCmd.Flags()
	f.StringVar(&discoverSession, "session", "", "existing session id")
	f.StringVar(&discoverOwner, "owner", "", "caller user id")
	f.StringVar(&discoverProduct, "product", "", "product description")
	f.StringSliceVar(&discoverStates, "states", nil, "territory states (names or codes)")
	f.StringSliceVar(&discoverCategories, "categories", nil, "target organization categories")
	f.StringSliceVar(&discoverCompetitors, "competitors", nil, "competitor names")
	f.IntVar(&discoverLimit, "limit", 0, "max prospects (default from config)")
	rootCmd.AddCommand(discoverCmd)
}

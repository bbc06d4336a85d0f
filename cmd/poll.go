package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/poller"
)

var (
	pollAPI     string
	pollToken   string
	pollRequest string
	pollSession string
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Follow a research request or session jobs until they finish",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sc := poller.NewStatusClient(pollAPI, pollToken, nil)
		var fetch poller.FetchFunc
		switch {
		case pollRequest != "" && pollSession != "":
			return eris.New("poll: pass only one of --request and --session")
		case pollRequest != "":
			fetch = sc.Request(pollRequest)
		case pollSession != "":
			fetch = sc.Session(pollSession)
		default:
			return eris.New("poll: --request or --session is required")
		}

		p := poller.New(
			poller.WithIntervals(
				time.Duration(cfg.Poller.MinIntervalMS)*time.Millisecond,
				time.Duration(cfg.Poller.MaxIntervalMS)*time.Millisecond,
			),
			poller.WithTimeout(config.Seconds(cfg.Poller.TimeoutSecs)),
			poller.WithProgress(func(e poller.Event) {
				fmt.Fprintf(os.Stderr, "%s  %s\n", time.Now().Format(time.TimeOnly), e.Message)
			}),
		)
		snap, err := p.Poll(ctx, fetch)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, snap.Status)
		return nil
	},
}

func init() {
	f := pollCmd.Flags()
	f.StringVar(&pollAPI, "api", "http://localhost:8080", "API base URL")
	f.StringVar(&pollToken, "token", os.Getenv("PROSPECTOR_TOKEN"), "bearer token")
	f.StringVar(&pollRequest, "request", "", "research request id")
	f.StringVar(&pollSession, "session", "", "discovery session id")
	rootCmd.AddCommand(pollCmd)
}

package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/scheduler"
	"github.com/sells-group/prospector/internal/workflow"
)

var (
	workerTemporal bool
	workerOnce     bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued dossier jobs",
	Long:  "Briefs every queued prospect dossier until interrupted. With --temporal it runs the deep research Temporal worker instead.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		if workerTemporal {
			tc, err := dialTemporal()
			if err != nil {
				return err
			}
			defer tc.Close()

			w := worker.New(tc, cfg.Temporal.TaskQueue, worker.Options{})
			workflow.Register(w, workflow.NewActivities(env.Research, env.Agents))
			zap.L().Info("temporal worker starting", zap.String("task_queue", cfg.Temporal.TaskQueue))
			if err := w.Run(worker.InterruptCh()); err != nil {
				return eris.Wrap(err, "temporal worker")
			}
			return nil
		}

		consumer := scheduler.NewConsumer(scheduler.New(env.Store), env.Agents.BriefJobs(env.Store),
			scheduler.WithConcurrency(cfg.Worker.Concurrency),
			scheduler.WithIdle(config.Seconds(cfg.Worker.IdleSecs)),
		)
		if workerOnce {
			n, err := consumer.Drain(ctx)
			zap.L().Info("queue drained", zap.Int("jobs", n))
			return err
		}
		zap.L().Info("dossier worker starting", zap.Int("concurrency", cfg.Worker.Concurrency))
		return consumer.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerTemporal, "temporal", false, "run the Temporal deep research worker")
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "drain the queue once and exit")
	rootCmd.AddCommand(workerCmd)
}

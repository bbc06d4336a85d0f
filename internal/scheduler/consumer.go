package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/model"
)

// HandlerFunc researches one claimed job and returns the dossier summary.
type HandlerFunc func(ctx context.Context, job *model.ResearchJob) (string, error)

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConcurrency sets how many jobs are handled at once.
func WithConcurrency(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithIdle sets how long Run sleeps after draining the queue.
func WithIdle(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.idle = d
		}
	}
}

// Consumer drains queued dossier jobs through a handler.
type Consumer struct {
	sched       *Scheduler
	handle      HandlerFunc
	concurrency int
	idle        time.Duration
}

// NewConsumer creates a Consumer that runs handle for each claimed job.
func NewConsumer(s *Scheduler, handle HandlerFunc, opts ...ConsumerOption) *Consumer {
	c := &Consumer{sched: s, handle: handle, concurrency: 2, idle: 5 * time.Second}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Drain handles jobs until the queue is empty and returns how many were
// processed. Handler errors fail the job, not the drain.
func (c *Consumer) Drain(ctx context.Context) (int, error) {
	counts := make([]int, c.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i := range c.concurrency {
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return nil
				}
				job, err := c.sched.ClaimNextJob(gctx)
				if err != nil {
					return err
				}
				if job == nil {
					return nil
				}
				summary, herr := c.handle(gctx, job)
				if herr != nil {
					zap.L().Warn("scheduler: job handler failed",
						zap.String("job_id", job.ID), zap.Error(herr))
				}
				if err := c.sched.FinishJob(context.WithoutCancel(gctx), job, summary, herr); err != nil {
					return err
				}
				counts[i]++
			}
		})
	}
	err := g.Wait()
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, err
}

// Run drains the queue, sleeps while idle and repeats until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		n, err := c.Drain(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if n > 0 {
			zap.L().Info("scheduler: drained jobs", zap.Int("jobs", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.idle):
		}
	}
}

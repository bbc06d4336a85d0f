// Package workflow runs deep research as a Temporal workflow, one activity
// per research agent.
package workflow

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/prospector/internal/model"
)

const (
	prepareTimeout = 30 * time.Second
	agentTimeout   = 2 * time.Minute
	finishTimeout  = 3 * time.Minute
)

// Input starts a deep research run.
type Input struct {
	RequestID string
	CallerID  string
}

// Result is the outcome of a deep research run.
type Result struct {
	RequestID string
	Status    model.RequestStatus
	Summary   string
	Fallback  bool
	Degraded  []model.MemoryType
}

// WorkflowID is the Temporal workflow id for a request.
func WorkflowID(requestID string) string {
	return "deep-research-" + requestID
}

// DeepResearchWorkflow prepares the request, runs every agent in parallel,
// waits for all of them and synthesizes the report.
func DeepResearchWorkflow(ctx workflow.Context, in Input) (*Result, error) {
	logger := workflow.GetLogger(ctx)
	var a *Activities

	prepCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: prepareTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})
	var prep PrepareResult
	if err := workflow.ExecuteActivity(prepCtx, a.Prepare, in).Get(ctx, &prep); err != nil {
		return nil, err
	}

	// Agent activities degrade instead of failing, so they are not retried.
	agentCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: agentTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	futures := make([]workflow.Future, len(prep.MemoryTypes))
	for i, mt := range prep.MemoryTypes {
		futures[i] = workflow.ExecuteActivity(agentCtx, a.RunAgent, AgentInput{Request: prep.Request, MemoryType: mt})
	}

	res := &Result{RequestID: in.RequestID, Degraded: []model.MemoryType{}}
	for i, f := range futures {
		var ar AgentResult
		if err := f.Get(ctx, &ar); err != nil {
			logger.Warn("agent activity failed", "agent", prep.MemoryTypes[i], "error", err)
			res.Degraded = append(res.Degraded, prep.MemoryTypes[i])
			continue
		}
		if ar.Degraded {
			res.Degraded = append(res.Degraded, ar.MemoryType)
		}
	}

	finishCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: finishTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	var fin FinishResult
	if err := workflow.ExecuteActivity(finishCtx, a.Finish, prep.Request).Get(ctx, &fin); err != nil {
		failCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{StartToCloseTimeout: prepareTimeout})
		if ferr := workflow.ExecuteActivity(failCtx, a.Fail, in.RequestID, err.Error()).Get(ctx, nil); ferr != nil {
			logger.Error("mark request failed", "error", ferr)
		}
		return nil, err
	}

	res.Status = model.RequestStatusCompleted
	res.Summary = fin.Summary
	res.Fallback = fin.Fallback
	logger.Info("deep research complete", "request_id", in.RequestID, "degraded", len(res.Degraded))
	return res, nil
}

// Register adds the workflow and activities to w.
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflow(DeepResearchWorkflow)
	w.RegisterActivity(acts)
}

// Start launches a run for in on taskQueue. Starting the same request twice
// while a run is open attaches to the existing run.
func Start(ctx context.Context, c client.Client, taskQueue string, in Input) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       WorkflowID(in.RequestID),
		TaskQueue:                taskQueue,
		WorkflowExecutionTimeout: 30 * time.Minute,
	}, DeepResearchWorkflow, in)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: start %s", in.RequestID)
	}
	return run, nil
}

package workflow

import (
	"context"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/temporal"

	"github.com/sells-group/prospector/internal/agents"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/research"
)

// PrepareResult carries the request as it entered researching and the
// agents to run for it.
type PrepareResult struct {
	Request     model.ResearchRequest
	MemoryTypes []model.MemoryType
}

// AgentInput selects one agent run.
type AgentInput struct {
	Request    model.ResearchRequest
	MemoryType model.MemoryType
}

// AgentResult summarizes one agent run. The memory row itself is persisted
// by the activity.
type AgentResult struct {
	MemoryType model.MemoryType
	Degraded   bool
	Reason     string
	Sources    int
}

// FinishResult summarizes the persisted report.
type FinishResult struct {
	Summary  string
	Fallback bool
	Sources  int
}

// Activities runs the deep research steps as Temporal activities.
type Activities struct {
	svc  *research.Service
	pool *agents.Pool
}

// NewActivities creates the activity set.
func NewActivities(svc *research.Service, pool *agents.Pool) *Activities {
	return &Activities{svc: svc, pool: pool}
}

// Prepare authorizes the caller and moves the request to researching.
// Access failures are not retried.
func (a *Activities) Prepare(ctx context.Context, in Input) (*PrepareResult, error) {
	req, err := a.svc.Prepare(ctx, in.RequestID, in.CallerID)
	if err != nil {
		for _, sentinel := range []error{model.ErrNotFound, model.ErrUnauthorized, model.ErrForbidden} {
			if eris.Is(err, sentinel) {
				return nil, temporal.NewNonRetryableApplicationError(err.Error(), sentinel.Error(), err)
			}
		}
		return nil, err
	}
	specs := a.pool.Specs()
	types := make([]model.MemoryType, len(specs))
	for i, s := range specs {
		types[i] = s.MemoryType
	}
	return &PrepareResult{Request: *req, MemoryTypes: types}, nil
}

// RunAgent executes one research agent. It only fails for an unknown agent;
// agent errors degrade to the agent's default.
func (a *Activities) RunAgent(ctx context.Context, in AgentInput) (*AgentResult, error) {
	spec, ok := a.pool.Spec(in.MemoryType)
	if !ok {
		return nil, temporal.NewNonRetryableApplicationError(
			"unknown agent "+string(in.MemoryType), "unknown_agent", nil)
	}
	o := a.pool.RunAgent(ctx, spec, &in.Request)
	return &AgentResult{
		MemoryType: in.MemoryType,
		Degraded:   o.IsDegraded(),
		Reason:     o.Reason,
		Sources:    len(o.Sources),
	}, nil
}

// Finish synthesizes the latest memory per agent into the report.
func (a *Activities) Finish(ctx context.Context, req model.ResearchRequest) (*FinishResult, error) {
	outcomes, err := a.svc.LatestOutcomes(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	report, err := a.svc.Finish(ctx, &req, outcomes)
	if err != nil {
		return nil, err
	}
	return &FinishResult{Summary: report.Summary, Fallback: report.Fallback, Sources: len(report.Sources)}, nil
}

// Fail marks the request failed with reason.
func (a *Activities) Fail(ctx context.Context, requestID, reason string) error {
	_ = a.svc.Fail(ctx, requestID, eris.New(reason))
	return nil
}

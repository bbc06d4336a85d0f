// Package research orchestrates deep research for one account: auth check,
// status transitions, agent fan-out, synthesis and report persistence.
package research

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/agents"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/playbook"
	"github.com/sells-group/prospector/internal/scheduler"
	"github.com/sells-group/prospector/internal/store"
)

// AgentRunner fans a request out to the research agents.
type AgentRunner interface {
	Run(ctx context.Context, req *model.ResearchRequest) []agents.Outcome
}

// Synthesizer merges outcomes into a playbook. It must not fail.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *model.ResearchRequest, outcomes []agents.Outcome) playbook.Result
}

// Service runs deep research requests.
type Service struct {
	store store.Store
	sched *scheduler.Scheduler
	pool  AgentRunner
	synth Synthesizer
}

// NewService wires the research pipeline.
func NewService(st store.Store, pool AgentRunner, synth Synthesizer) *Service {
	return &Service{store: st, sched: scheduler.New(st), pool: pool, synth: synth}
}

// Authorize loads a request and checks that callerID may act on it. A request
// with an owner requires a caller; an empty owner is open to anyone.
func (s *Service) Authorize(ctx context.Context, requestID, callerID string) (*model.ResearchRequest, error) {
	req, err := s.store.GetResearchRequest(ctx, requestID)
	if err != nil {
		return nil, eris.Wrapf(err, "research: load request %s", requestID)
	}
	if req.OwnerID == "" {
		return req, nil
	}
	if callerID == "" {
		return nil, eris.Wrapf(model.ErrUnauthorized, "research: request %s requires a caller", requestID)
	}
	if callerID != req.OwnerID {
		return nil, eris.Wrapf(model.ErrForbidden, "research: request %s", requestID)
	}
	return req, nil
}

// Run executes the whole pipeline and returns the persisted report. Any
// invocation on a request that is not pending counts as a retry and resets
// it first; earlier agent memories are kept.
func (s *Service) Run(ctx context.Context, requestID, callerID string) (*model.ResearchReport, error) {
	req, err := s.Prepare(ctx, requestID, callerID)
	if err != nil {
		return nil, err
	}
	outcomes := s.pool.Run(ctx, req)
	return s.Finish(ctx, req, outcomes)
}

// Prepare authorizes the caller and moves the request to researching.
func (s *Service) Prepare(ctx context.Context, requestID, callerID string) (*model.ResearchRequest, error) {
	req, err := s.Authorize(ctx, requestID, callerID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.RequestStatusPending {
		if err := s.sched.ResetForRetry(ctx, requestID); err != nil {
			return nil, err
		}
	}
	begun, err := s.sched.BeginResearch(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return begun, nil
}

// Finish synthesizes outcomes, persists the report with sources aggregated
// across every memory row of the request, and completes it. A failure here
// marks the request failed.
func (s *Service) Finish(ctx context.Context, req *model.ResearchRequest, outcomes []agents.Outcome) (*model.ResearchReport, error) {
	start := time.Now()
	res := s.synth.Synthesize(ctx, req, outcomes)

	memories, err := s.store.ListMemories(ctx, req.ID)
	if err != nil {
		return nil, s.Fail(ctx, req.ID, eris.Wrap(err, "research: reload memories"))
	}

	report := &model.ResearchReport{
		RequestID:   req.ID,
		Content:     res.Playbook,
		Summary:     playbook.Summary(res.Playbook),
		Sources:     playbook.Sources(memories),
		Fallback:    res.Fallback,
		GeneratedAt: time.Now().UTC(),
	}
	if err := s.store.UpsertReport(ctx, report); err != nil {
		return nil, s.Fail(ctx, req.ID, eris.Wrap(err, "research: persist report"))
	}
	if err := s.sched.CompleteResearch(ctx, req.ID); err != nil {
		return nil, eris.Wrap(err, "research: complete request")
	}

	zap.L().Info("research: request completed",
		zap.String("request_id", req.ID),
		zap.Bool("fallback", res.Fallback),
		zap.Int("sources", len(report.Sources)),
		zap.Int("memories", len(memories)),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	)
	return report, nil
}

// Fail marks a researching request failed and returns cause.
func (s *Service) Fail(ctx context.Context, requestID string, cause error) error {
	if err := s.sched.FailResearch(context.WithoutCancel(ctx), requestID, cause.Error()); err != nil {
		zap.L().Error("research: mark failed", zap.String("request_id", requestID), zap.Error(err))
	}
	return cause
}

// Status returns a request and, once completed, its report.
func (s *Service) Status(ctx context.Context, requestID, callerID string) (*model.ResearchRequest, *model.ResearchReport, error) {
	req, err := s.Authorize(ctx, requestID, callerID)
	if err != nil {
		return nil, nil, err
	}
	if req.Status != model.RequestStatusCompleted {
		return req, nil, nil
	}
	report, err := s.store.GetReport(ctx, requestID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "research: load report %s", requestID)
	}
	return req, report, nil
}

// LatestOutcomes rebuilds synthesis input from stored memories, keeping the
// newest row per memory type.
func (s *Service) LatestOutcomes(ctx context.Context, requestID string) ([]agents.Outcome, error) {
	memories, err := s.store.ListMemories(ctx, requestID)
	if err != nil {
		return nil, eris.Wrapf(err, "research: list memories %s", requestID)
	}
	return playbook.LatestOutcomes(memories), nil
}

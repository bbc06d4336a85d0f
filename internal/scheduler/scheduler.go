// Package scheduler creates research jobs for discovered prospects and owns
// the status transitions of deep-research requests.
package scheduler

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

// ErrIllegalTransition is returned when a request status change would move
// the lifecycle backwards or skip a state.
var ErrIllegalTransition = eris.New("scheduler: illegal status transition")

// Scheduler wraps a Store with job and request lifecycle rules.
type Scheduler struct {
	store store.Store
}

// New returns a Scheduler backed by st.
func New(st store.Store) *Scheduler {
	return &Scheduler{store: st}
}

// EnqueueDossierJobs creates exactly one queued dossier job per dossier.
// Callers pass only newly persisted dossiers; cached prospects get no job.
func (s *Scheduler) EnqueueDossierJobs(ctx context.Context, sessionID string, dossiers []model.ProspectDossier) ([]model.ResearchJob, error) {
	if len(dossiers) == 0 {
		return []model.ResearchJob{}, nil
	}
	seen := make(map[string]bool, len(dossiers))
	jobs := make([]model.ResearchJob, 0, len(dossiers))
	for _, d := range dossiers {
		if seen[d.ProspectKey] {
			continue
		}
		seen[d.ProspectKey] = true
		jobs = append(jobs, model.ResearchJob{
			SessionID:   sessionID,
			ProspectKey: d.ProspectKey,
			JobType:     model.JobTypeDossier,
			Status:      model.JobStatusQueued,
		})
	}
	if err := s.store.CreateJobs(ctx, jobs); err != nil {
		return nil, eris.Wrapf(err, "scheduler: enqueue jobs for session %s", sessionID)
	}
	zap.L().Info("scheduler: enqueued dossier jobs",
		zap.String("session_id", sessionID),
		zap.Int("jobs", len(jobs)),
	)
	return jobs, nil
}

// ClaimNextJob hands the oldest queued job to a consumer, or nil when idle.
func (s *Scheduler) ClaimNextJob(ctx context.Context) (*model.ResearchJob, error) {
	job, err := s.store.ClaimNextJob(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: claim job")
	}
	if job != nil {
		if err := s.store.SetDossierStatus(ctx, job.SessionID, job.ProspectKey, model.DossierStatusResearching, ""); err != nil {
			zap.L().Warn("scheduler: mark dossier researching",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return job, nil
}

// FinishJob records the consumer's outcome on both the job and its dossier.
// A nil jobErr marks the job done and the dossier ready.
func (s *Scheduler) FinishJob(ctx context.Context, job *model.ResearchJob, summary string, jobErr error) error {
	jobStatus, dossierStatus, msg := model.JobStatusDone, model.DossierStatusReady, ""
	if jobErr != nil {
		jobStatus, dossierStatus, msg = model.JobStatusFailed, model.DossierStatusFailed, jobErr.Error()
	}
	if err := s.store.UpdateJobStatus(ctx, job.ID, jobStatus, msg); err != nil {
		return eris.Wrapf(err, "scheduler: finish job %s", job.ID)
	}
	if err := s.store.SetDossierStatus(ctx, job.SessionID, job.ProspectKey, dossierStatus, summary); err != nil {
		return eris.Wrapf(err, "scheduler: finish dossier %s", job.ProspectKey)
	}
	zap.L().Info("scheduler: job finished",
		zap.String("job_id", job.ID),
		zap.String("prospect_key", job.ProspectKey),
		zap.String("status", string(jobStatus)),
	)
	return nil
}

// BeginResearch moves a request from pending to researching.
func (s *Scheduler) BeginResearch(ctx context.Context, requestID string) (*model.ResearchRequest, error) {
	req, err := s.transition(ctx, requestID, model.RequestStatusResearching, "")
	if err != nil {
		return nil, err
	}
	return req, nil
}

// CompleteResearch moves a researching request to completed.
func (s *Scheduler) CompleteResearch(ctx context.Context, requestID string) error {
	_, err := s.transition(ctx, requestID, model.RequestStatusCompleted, "")
	return err
}

// FailResearch moves a researching request to failed with reason.
func (s *Scheduler) FailResearch(ctx context.Context, requestID, reason string) error {
	_, err := s.transition(ctx, requestID, model.RequestStatusFailed, reason)
	return err
}

// ResetForRetry puts a request back to pending regardless of its current
// status. Agent memories from earlier runs are kept.
func (s *Scheduler) ResetForRetry(ctx context.Context, requestID string) error {
	if err := s.store.UpdateRequestStatus(ctx, requestID, "", model.RequestStatusPending, ""); err != nil {
		return eris.Wrapf(err, "scheduler: reset request %s", requestID)
	}
	zap.L().Info("scheduler: request reset for retry", zap.String("request_id", requestID))
	return nil
}

func (s *Scheduler) transition(ctx context.Context, requestID string, to model.RequestStatus, reason string) (*model.ResearchRequest, error) {
	req, err := s.store.GetResearchRequest(ctx, requestID)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: load request %s", requestID)
	}
	from := req.Status
	if !from.CanTransition(to) {
		return nil, eris.Wrapf(ErrIllegalTransition, "scheduler: request %s %s -> %s", requestID, from, to)
	}
	if err := s.store.UpdateRequestStatus(ctx, requestID, from, to, reason); err != nil {
		return nil, eris.Wrapf(err, "scheduler: request %s %s -> %s", requestID, from, to)
	}
	req.Status = to
	req.Error = reason

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	zap.L().Info("scheduler: request status", fields...)
	return req, nil
}

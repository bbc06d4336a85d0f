// Package store persists discovery sessions, dossiers, research jobs and the
// deep-research records behind the Store interface.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

// ErrStaleStatus is returned by UpdateRequestStatus when the stored status no
// longer matches the expected one.
var ErrStaleStatus = eris.New("store: request status changed concurrently")

// Store defines the persistence interface for the discovery and research pipelines.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *model.DiscoverySession) error
	GetSession(ctx context.Context, id string) (*model.DiscoverySession, error)
	// ClaimSession moves a session from created to discovering and reports
	// whether this call holds the claim. A discovering session last updated
	// before staleBefore is taken over.
	ClaimSession(ctx context.Context, id string, staleBefore time.Time) (bool, error)
	// ReleaseSession returns a discovering session to created.
	ReleaseSession(ctx context.Context, id string) error
	// MarkSessionDiscovered moves a created or discovering session to
	// prospects_discovered. It reports whether this call performed the
	// transition; re-applying is a no-op.
	MarkSessionDiscovered(ctx context.Context, id string) (bool, error)

	// Dossiers
	UpsertDossiers(ctx context.Context, sessionID string, dossiers []model.ProspectDossier) (int64, error)
	GetDossiers(ctx context.Context, sessionID string) ([]model.ProspectDossier, error)
	SetDossierStatus(ctx context.Context, sessionID, prospectKey string, status model.DossierStatus, summary string) error

	// Jobs
	CreateJobs(ctx context.Context, jobs []model.ResearchJob) error
	ListJobs(ctx context.Context, sessionID string) ([]model.ResearchJob, error)
	// ClaimNextJob marks the oldest queued job running and returns it, or nil
	// when the queue is empty.
	ClaimNextJob(ctx context.Context) (*model.ResearchJob, error)
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) error

	// Research requests
	CreateResearchRequest(ctx context.Context, r *model.ResearchRequest) error
	GetResearchRequest(ctx context.Context, id string) (*model.ResearchRequest, error)
	// UpdateRequestStatus sets the status when the stored value equals from.
	// An empty from matches any status.
	UpdateRequestStatus(ctx context.Context, id string, from, to model.RequestStatus, errMsg string) error

	// Agent memory
	AppendMemory(ctx context.Context, m *model.AgentMemory) error
	ListMemories(ctx context.Context, requestID string) ([]model.AgentMemory, error)

	// Reports
	UpsertReport(ctx context.Context, r *model.ResearchReport) error
	GetReport(ctx context.Context, requestID string) (*model.ResearchReport, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the Store for driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "postgres", "postgresql", "":
		pg, err := NewPostgres(ctx, dsn, poolCfg)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "sqlite":
		lite, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

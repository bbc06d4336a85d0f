package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

// scannable is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func stampSession(s *model.DiscoverySession) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = model.SessionStatusCreated
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
}

func stampJob(j *model.ResearchJob) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = model.JobStatusQueued
	}
	if j.JobType == "" {
		j.JobType = model.JobTypeDossier
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
}

func stampRequest(r *model.ResearchRequest) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.RequestStatusPending
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
}

func stampMemory(m *model.AgentMemory) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
}

func scanDossier(row scannable) (*model.ProspectDossier, error) {
	var (
		d      model.ProspectDossier
		blob   []byte
		status string
	)
	if err := row.Scan(&d.SessionID, &d.ProspectKey, &d.Name, &d.City, &d.State,
		&d.Lat, &d.Lng, &blob, &status, &d.UpdatedAt); err != nil {
		return nil, eris.Wrap(err, "store: scan dossier")
	}
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &d.Dossier); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal dossier %s", d.ProspectKey)
		}
	}
	if d.Dossier.Angles == nil {
		d.Dossier.Angles = []string{}
	}
	d.Status = model.DossierStatus(status)
	return &d, nil
}

// scanJob returns the driver error unwrapped so callers can test for no rows.
func scanJob(row scannable) (*model.ResearchJob, error) {
	var (
		j      model.ResearchJob
		status string
	)
	if err := row.Scan(&j.ID, &j.SessionID, &j.ProspectKey, &j.JobType, &status,
		&j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	return &j, nil
}

func scanMemory(row scannable) (*model.AgentMemory, error) {
	var (
		m       model.AgentMemory
		mt      string
		content []byte
	)
	if err := row.Scan(&m.ID, &m.RequestID, &mt, &content, &m.CreatedAt); err != nil {
		return nil, eris.Wrap(err, "store: scan memory")
	}
	if err := json.Unmarshal(content, &m.Content); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal memory %s", m.ID)
	}
	m.MemoryType = model.MemoryType(mt)
	return &m, nil
}

func applyRequestContext(r *model.ResearchRequest, raw []byte) error {
	var rc requestContext
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rc); err != nil {
			return eris.Wrapf(err, "store: unmarshal request context %s", r.ID)
		}
	}
	r.States = rc.States
	r.TargetCategories = rc.TargetCategories
	r.Competitors = rc.Competitors
	return nil
}

func marshalReport(r *model.ResearchReport) (content, sources []byte, err error) {
	content, err = json.Marshal(r.Content)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal report content")
	}
	src := r.Sources
	if src == nil {
		src = []model.Citation{}
	}
	sources, err = json.Marshal(src)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal report sources")
	}
	return content, sources, nil
}

func unmarshalReport(r *model.ResearchReport, content, sources []byte) error {
	if err := json.Unmarshal(content, &r.Content); err != nil {
		return eris.Wrapf(err, "store: unmarshal report %s", r.RequestID)
	}
	if err := json.Unmarshal(sources, &r.Sources); err != nil {
		return eris.Wrapf(err, "store: unmarshal report sources %s", r.RequestID)
	}
	return nil
}

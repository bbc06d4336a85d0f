package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/prospector/internal/db"
	"github.com/sells-group/prospector/internal/model"
)

// PostgresStore implements Store over a db.Pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	var settings db.PoolSettings
	if poolCfg != nil {
		settings = db.PoolSettings{MaxConns: poolCfg.MaxConns, MinConns: poolCfg.MinConns}
	}
	pool, err := db.Connect(ctx, connString, settings)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership of it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS discovery_sessions (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL DEFAULT '',
	criteria   JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'created',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS prospect_dossiers (
	session_id   TEXT NOT NULL REFERENCES discovery_sessions(id) ON DELETE CASCADE,
	prospect_key TEXT NOT NULL,
	name         TEXT NOT NULL,
	city         TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL,
	lat          DOUBLE PRECISION NOT NULL,
	lng          DOUBLE PRECISION NOT NULL,
	geom         BYTEA,
	dossier      JSONB NOT NULL DEFAULT '{}',
	status       TEXT NOT NULL DEFAULT 'queued',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (session_id, prospect_key)
);

CREATE TABLE IF NOT EXISTS research_jobs (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES discovery_sessions(id) ON DELETE CASCADE,
	prospect_key TEXT NOT NULL,
	job_type     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_research_jobs_session ON research_jobs(session_id);
CREATE INDEX IF NOT EXISTS idx_research_jobs_queued ON research_jobs(created_at) WHERE status = 'queued';

CREATE TABLE IF NOT EXISTS research_requests (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL DEFAULT '',
	target_account      TEXT NOT NULL,
	product_description TEXT NOT NULL DEFAULT '',
	context             JSONB NOT NULL DEFAULT '{}',
	status              TEXT NOT NULL DEFAULT 'pending',
	error               TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS agent_memories (
	seq         BIGINT GENERATED ALWAYS AS IDENTITY,
	id          TEXT PRIMARY KEY,
	request_id  TEXT NOT NULL REFERENCES research_requests(id) ON DELETE CASCADE,
	memory_type TEXT NOT NULL,
	content     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agent_memories_request ON agent_memories(request_id, seq);

CREATE TABLE IF NOT EXISTS research_reports (
	request_id   TEXT PRIMARY KEY REFERENCES research_requests(id) ON DELETE CASCADE,
	content      JSONB NOT NULL,
	summary      TEXT NOT NULL DEFAULT '',
	sources      JSONB NOT NULL DEFAULT '[]',
	fallback     BOOLEAN NOT NULL DEFAULT false,
	generated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// requestContext is the JSONB shape of research_requests.context.
type requestContext struct {
	States           []string `json:"states"`
	TargetCategories []string `json:"target_categories"`
	Competitors      []string `json:"competitors"`
}

var dossierUpsert = db.UpsertConfig{
	Table:        "prospect_dossiers",
	Columns:      []string{"session_id", "prospect_key", "name", "city", "state", "lat", "lng", "geom", "dossier", "status"},
	ConflictKeys: []string{"session_id", "prospect_key"},
	Touch:        []string{"updated_at"},
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.DiscoverySession) error {
	stampSession(sess)
	criteria, err := json.Marshal(sess.Criteria)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal criteria")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO discovery_sessions (id, owner_id, criteria, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.OwnerID, criteria, string(sess.Status), sess.CreatedAt, sess.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert session")
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.DiscoverySession, error) {
	var (
		sess     model.DiscoverySession
		criteria []byte
		status   string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, criteria, status, created_at, updated_at FROM discovery_sessions WHERE id = $1`,
		id,
	).Scan(&sess.ID, &sess.OwnerID, &criteria, &status, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: session %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", id)
	}
	if err := json.Unmarshal(criteria, &sess.Criteria); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal criteria")
	}
	sess.Status = model.SessionStatus(status)
	return &sess, nil
}

func (s *PostgresStore) ClaimSession(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_sessions SET status = $1, updated_at = now()
		WHERE id = $2 AND (status = $3 OR (status = $1 AND updated_at < $4))`,
		string(model.SessionStatusDiscovering), id, string(model.SessionStatusCreated), staleBefore,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim session %s", id)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := s.GetSession(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) ReleaseSession(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE discovery_sessions SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		string(model.SessionStatusCreated), id, string(model.SessionStatusDiscovering),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: release session %s", id)
	}
	return nil
}

func (s *PostgresStore) MarkSessionDiscovered(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_sessions SET status = $1, updated_at = now() WHERE id = $2 AND status IN ($3, $4)`,
		string(model.SessionStatusDiscovered), id, string(model.SessionStatusCreated), string(model.SessionStatusDiscovering),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mark session %s", id)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := s.GetSession(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) UpsertDossiers(ctx context.Context, sessionID string, dossiers []model.ProspectDossier) (int64, error) {
	rows := make([][]any, 0, len(dossiers))
	for _, d := range dossiers {
		blob, err := json.Marshal(d.Dossier)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal dossier %s", d.ProspectKey)
		}
		point, err := pointEWKB(d.Lat, d.Lng)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: encode point %s", d.ProspectKey)
		}
		status := d.Status
		if status == "" {
			status = model.DossierStatusQueued
		}
		rows = append(rows, []any{
			sessionID, d.ProspectKey, d.Name, d.City, d.State, d.Lat, d.Lng, point, blob, string(status),
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, dossierUpsert, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert dossiers for session %s", sessionID)
	}
	return n, nil
}

func (s *PostgresStore) GetDossiers(ctx context.Context, sessionID string) ([]model.ProspectDossier, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, prospect_key, name, city, state, lat, lng, dossier, status, updated_at
		FROM prospect_dossiers WHERE session_id = $1 ORDER BY prospect_key`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dossiers for session %s", sessionID)
	}
	defer rows.Close()

	var out []model.ProspectDossier
	for rows.Next() {
		d, err := scanDossier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate dossiers")
}

func (s *PostgresStore) SetDossierStatus(ctx context.Context, sessionID, prospectKey string, status model.DossierStatus, summary string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospect_dossiers
		SET status = $1,
			dossier = CASE WHEN $2::text = '' THEN dossier ELSE jsonb_set(dossier, '{summary}', to_jsonb($2::text)) END,
			updated_at = now()
		WHERE session_id = $3 AND prospect_key = $4`,
		string(status), summary, sessionID, prospectKey,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set dossier status %s/%s", sessionID, prospectKey)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "postgres: dossier %s/%s", sessionID, prospectKey)
	}
	return nil
}

func (s *PostgresStore) CreateJobs(ctx context.Context, jobs []model.ResearchJob) error {
	if len(jobs) == 0 {
		return nil
	}
	rows := make([][]any, len(jobs))
	for i := range jobs {
		stampJob(&jobs[i])
		j := jobs[i]
		rows[i] = []any{j.ID, j.SessionID, j.ProspectKey, j.JobType, string(j.Status), j.Error, j.CreatedAt, j.UpdatedAt}
	}
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"research_jobs"},
		[]string{"id", "session_id", "prospect_key", "job_type", "status", "error", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	return eris.Wrap(err, "postgres: copy research jobs")
}

const jobColumns = `id, session_id, prospect_key, job_type, status, error, created_at, updated_at`

func (s *PostgresStore) ListJobs(ctx context.Context, sessionID string) ([]model.ResearchJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM research_jobs WHERE session_id = $1 ORDER BY created_at, prospect_key`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list jobs for session %s", sessionID)
	}
	defer rows.Close()

	var out []model.ResearchJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context) (*model.ResearchJob, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE research_jobs SET status = $1, updated_at = now()
		WHERE id = (
			SELECT id FROM research_jobs WHERE status = $2
			ORDER BY created_at, id LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		string(model.JobStatusRunning), string(model.JobStatusQueued),
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim next job")
	}
	return j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_jobs SET status = $1, error = $2, updated_at = now() WHERE id = $3`,
		string(status), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "postgres: job %s", id)
	}
	return nil
}

func (s *PostgresStore) CreateResearchRequest(ctx context.Context, r *model.ResearchRequest) error {
	stampRequest(r)
	rc, err := json.Marshal(requestContext{States: r.States, TargetCategories: r.TargetCategories, Competitors: r.Competitors})
	if err != nil {
		return eris.Wrap(err, "postgres: marshal request context")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO research_requests (id, owner_id, target_account, product_description, context, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.OwnerID, r.TargetAccount, r.ProductDescription, rc, string(r.Status), r.Error, r.CreatedAt, r.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert research request")
}

func (s *PostgresStore) GetResearchRequest(ctx context.Context, id string) (*model.ResearchRequest, error) {
	var (
		r      model.ResearchRequest
		rc     []byte
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, target_account, product_description, context, status, error, created_at, updated_at
		FROM research_requests WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.OwnerID, &r.TargetAccount, &r.ProductDescription, &rc, &status, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: research request %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get research request %s", id)
	}
	if err := applyRequestContext(&r, rc); err != nil {
		return nil, err
	}
	r.Status = model.RequestStatus(status)
	return &r, nil
}

func (s *PostgresStore) UpdateRequestStatus(ctx context.Context, id string, from, to model.RequestStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_requests SET status = $1, error = $2, updated_at = now()
		WHERE id = $3 AND ($4::text = '' OR status = $4::text)`,
		string(to), errMsg, id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update request status %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetResearchRequest(ctx, id); err != nil {
		return err
	}
	return eris.Wrapf(ErrStaleStatus, "postgres: request %s is no longer %s", id, from)
}

func (s *PostgresStore) AppendMemory(ctx context.Context, m *model.AgentMemory) error {
	stampMemory(m)
	content, err := m.MarshalContent()
	if err != nil {
		return eris.Wrap(err, "postgres: marshal memory content")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_memories (id, request_id, memory_type, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.RequestID, string(m.MemoryType), content, m.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append %s memory", m.MemoryType)
}

func (s *PostgresStore) ListMemories(ctx context.Context, requestID string) ([]model.AgentMemory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, request_id, memory_type, content, created_at FROM agent_memories WHERE request_id = $1 ORDER BY seq`,
		requestID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list memories for %s", requestID)
	}
	defer rows.Close()

	var out []model.AgentMemory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate memories")
}

func (s *PostgresStore) UpsertReport(ctx context.Context, r *model.ResearchReport) error {
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now().UTC()
	}
	content, sources, err := marshalReport(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO research_reports (request_id, content, summary, sources, fallback, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (request_id) DO UPDATE SET
			content = EXCLUDED.content, summary = EXCLUDED.summary, sources = EXCLUDED.sources,
			fallback = EXCLUDED.fallback, generated_at = EXCLUDED.generated_at`,
		r.RequestID, content, r.Summary, sources, r.Fallback, r.GeneratedAt,
	)
	return eris.Wrapf(err, "postgres: upsert report %s", r.RequestID)
}

func (s *PostgresStore) GetReport(ctx context.Context, requestID string) (*model.ResearchReport, error) {
	var (
		r                model.ResearchReport
		content, sources []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT request_id, content, summary, sources, fallback, generated_at FROM research_reports WHERE request_id = $1`,
		requestID,
	).Scan(&r.RequestID, &content, &r.Summary, &sources, &r.Fallback, &r.GeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: report %s", requestID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %s", requestID)
	}
	if err := unmarshalReport(&r, content, sources); err != nil {
		return nil, err
	}
	return &r, nil
}

// pointEWKB encodes (lat, lng) as a little-endian EWKB point with SRID 4326,
// readable by ST_GeomFromEWKB.
func pointEWKB(lat, lng float64) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(4326)
	return ewkb.Marshal(p, ewkb.NDR)
}

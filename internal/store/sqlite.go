package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospector/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// One writer at a time keeps ClaimNextJob free of lost updates.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS discovery_sessions (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL DEFAULT '',
	criteria   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'created',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS prospect_dossiers (
	session_id   TEXT NOT NULL REFERENCES discovery_sessions(id) ON DELETE CASCADE,
	prospect_key TEXT NOT NULL,
	name         TEXT NOT NULL,
	city         TEXT NOT NULL DEFAULT '',
	state        TEXT NOT NULL,
	lat          REAL NOT NULL,
	lng          REAL NOT NULL,
	dossier      TEXT NOT NULL DEFAULT '{}',
	status       TEXT NOT NULL DEFAULT 'queued',
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (session_id, prospect_key)
);

CREATE TABLE IF NOT EXISTS research_jobs (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES discovery_sessions(id) ON DELETE CASCADE,
	prospect_key TEXT NOT NULL,
	job_type     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_research_jobs_session ON research_jobs(session_id);
CREATE INDEX IF NOT EXISTS idx_research_jobs_status ON research_jobs(status, created_at);

CREATE TABLE IF NOT EXISTS research_requests (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL DEFAULT '',
	target_account      TEXT NOT NULL,
	product_description TEXT NOT NULL DEFAULT '',
	context             TEXT NOT NULL DEFAULT '{}',
	status              TEXT NOT NULL DEFAULT 'pending',
	error               TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS agent_memories (
	id          TEXT PRIMARY KEY,
	request_id  TEXT NOT NULL REFERENCES research_requests(id) ON DELETE CASCADE,
	memory_type TEXT NOT NULL,
	content     TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_agent_memories_request ON agent_memories(request_id);

CREATE TABLE IF NOT EXISTS research_reports (
	request_id   TEXT PRIMARY KEY REFERENCES research_requests(id) ON DELETE CASCADE,
	content      TEXT NOT NULL,
	summary      TEXT NOT NULL DEFAULT '',
	sources      TEXT NOT NULL DEFAULT '[]',
	fallback     INTEGER NOT NULL DEFAULT 0,
	generated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.DiscoverySession) error {
	stampSession(sess)
	criteria, err := json.Marshal(sess.Criteria)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal criteria")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO discovery_sessions (id, owner_id, criteria, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.OwnerID, string(criteria), string(sess.Status), sess.CreatedAt, sess.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert session")
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.DiscoverySession, error) {
	var (
		sess     model.DiscoverySession
		criteria string
		status   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, criteria, status, created_at, updated_at FROM discovery_sessions WHERE id = ?`,
		id,
	).Scan(&sess.ID, &sess.OwnerID, &criteria, &status, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: session %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", id)
	}
	if err := json.Unmarshal([]byte(criteria), &sess.Criteria); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal criteria")
	}
	sess.Status = model.SessionStatus(status)
	return &sess, nil
}

func (s *SQLiteStore) ClaimSession(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_sessions SET status = ?, updated_at = ?
		WHERE id = ? AND (status = ? OR (status = ? AND updated_at < ?))`,
		string(model.SessionStatusDiscovering), time.Now().UTC(), id,
		string(model.SessionStatusCreated), string(model.SessionStatusDiscovering), staleBefore.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim session %s", id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := s.GetSession(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) ReleaseSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE discovery_sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.SessionStatusCreated), time.Now().UTC(), id, string(model.SessionStatusDiscovering),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: release session %s", id)
	}
	return nil
}

func (s *SQLiteStore) MarkSessionDiscovered(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_sessions SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(model.SessionStatusDiscovered), time.Now().UTC(), id,
		string(model.SessionStatusCreated), string(model.SessionStatusDiscovering),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark session %s", id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := s.GetSession(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) UpsertDossiers(ctx context.Context, sessionID string, dossiers []model.ProspectDossier) (int64, error) {
	if len(dossiers) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert dossiers")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO prospect_dossiers (session_id, prospect_key, name, city, state, lat, lng, dossier, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, prospect_key) DO UPDATE SET
			name = excluded.name, city = excluded.city, state = excluded.state,
			lat = excluded.lat, lng = excluded.lng, dossier = excluded.dossier,
			status = excluded.status, updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert dossiers")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var total int64
	for _, d := range dossiers {
		blob, err := json.Marshal(d.Dossier)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal dossier %s", d.ProspectKey)
		}
		status := d.Status
		if status == "" {
			status = model.DossierStatusQueued
		}
		res, err := stmt.ExecContext(ctx,
			sessionID, d.ProspectKey, d.Name, d.City, d.State, d.Lat, d.Lng, string(blob), string(status), now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert dossier %s", d.ProspectKey)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert dossiers")
	}
	return total, nil
}

func (s *SQLiteStore) GetDossiers(ctx context.Context, sessionID string) ([]model.ProspectDossier, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, prospect_key, name, city, state, lat, lng, dossier, status, updated_at
		FROM prospect_dossiers WHERE session_id = ? ORDER BY prospect_key`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get dossiers for session %s", sessionID)
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
	return out, eris.Wrap(rows.Err(), "sqlite: iterate dossiers")
}

func (s *SQLiteStore) SetDossierStatus(ctx context.Context, sessionID, prospectKey string, status model.DossierStatus, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospect_dossiers
		SET status = ?,
			dossier = CASE WHEN ? = '' THEN dossier ELSE json_set(dossier, '$.summary', ?) END,
			updated_at = ?
		WHERE session_id = ? AND prospect_key = ?`,
		string(status), summary, summary, time.Now().UTC(), sessionID, prospectKey,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set dossier status %s/%s", sessionID, prospectKey)
	}
	return checkRowsAffected(res, "dossier", sessionID+"/"+prospectKey)
}

func (s *SQLiteStore) CreateJobs(ctx context.Context, jobs []model.ResearchJob) error {
	if len(jobs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create jobs")
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range jobs {
		stampJob(&jobs[i])
		j := jobs[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO research_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			j.ID, j.SessionID, j.ProspectKey, j.JobType, string(j.Status), j.Error, j.CreatedAt, j.UpdatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert job for %s", j.ProspectKey)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit create jobs")
}

func (s *SQLiteStore) ListJobs(ctx context.Context, sessionID string) ([]model.ResearchJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM research_jobs WHERE session_id = ? ORDER BY created_at, prospect_key`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list jobs for session %s", sessionID)
	}
	defer rows.Close()

	var out []model.ResearchJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		out = append(out, *j)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteStore) ClaimNextJob(ctx context.Context) (*model.ResearchJob, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE research_jobs SET status = ?, updated_at = ?
		WHERE id = (SELECT id FROM research_jobs WHERE status = ? ORDER BY created_at, rowid LIMIT 1)
		RETURNING `+jobColumns,
		string(model.JobStatusRunning), time.Now().UTC(), string(model.JobStatusQueued),
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim next job")
	}
	return j, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) CreateResearchRequest(ctx context.Context, r *model.ResearchRequest) error {
	stampRequest(r)
	rc, err := json.Marshal(requestContext{States: r.States, TargetCategories: r.TargetCategories, Competitors: r.Competitors})
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal request context")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO research_requests (id, owner_id, target_account, product_description, context, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.TargetAccount, r.ProductDescription, string(rc), string(r.Status), r.Error, r.CreatedAt, r.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert research request")
}

func (s *SQLiteStore) GetResearchRequest(ctx context.Context, id string) (*model.ResearchRequest, error) {
	var (
		r      model.ResearchRequest
		rc     []byte
		status string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, target_account, product_description, context, status, error, created_at, updated_at
		FROM research_requests WHERE id = ?`,
		id,
	).Scan(&r.ID, &r.OwnerID, &r.TargetAccount, &r.ProductDescription, &rc, &status, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: research request %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get research request %s", id)
	}
	if err := applyRequestContext(&r, rc); err != nil {
		return nil, err
	}
	r.Status = model.RequestStatus(status)
	return &r, nil
}

func (s *SQLiteStore) UpdateRequestStatus(ctx context.Context, id string, from, to model.RequestStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_requests SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND (? = '' OR status = ?)`,
		string(to), errMsg, time.Now().UTC(), id, string(from), string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update request status %s", id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.GetResearchRequest(ctx, id); err != nil {
		return err
	}
	return eris.Wrapf(ErrStaleStatus, "sqlite: request %s is no longer %s", id, from)
}

func (s *SQLiteStore) AppendMemory(ctx context.Context, m *model.AgentMemory) error {
	stampMemory(m)
	content, err := m.MarshalContent()
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal memory content")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_memories (id, request_id, memory_type, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.RequestID, string(m.MemoryType), string(content), m.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append %s memory", m.MemoryType)
}

func (s *SQLiteStore) ListMemories(ctx context.Context, requestID string) ([]model.AgentMemory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, memory_type, content, created_at FROM agent_memories WHERE request_id = ? ORDER BY rowid`,
		requestID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list memories for %s", requestID)
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
	return out, eris.Wrap(rows.Err(), "sqlite: iterate memories")
}

func (s *SQLiteStore) UpsertReport(ctx context.Context, r *model.ResearchReport) error {
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now().UTC()
	}
	content, sources, err := marshalReport(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO research_reports (request_id, content, summary, sources, fallback, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id) DO UPDATE SET
			content = excluded.content, summary = excluded.summary, sources = excluded.sources,
			fallback = excluded.fallback, generated_at = excluded.generated_at`,
		r.RequestID, string(content), r.Summary, string(sources), r.Fallback, r.GeneratedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert report %s", r.RequestID)
}

func (s *SQLiteStore) GetReport(ctx context.Context, requestID string) (*model.ResearchReport, error) {
	var (
		r                model.ResearchReport
		content, sources []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT request_id, content, summary, sources, fallback, generated_at FROM research_reports WHERE request_id = ?`,
		requestID,
	).Scan(&r.RequestID, &content, &r.Summary, &sources, &r.Fallback, &r.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: report %s", requestID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", requestID)
	}
	if err := unmarshalReport(&r, content, sources); err != nil {
		return nil, err
	}
	return &r, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

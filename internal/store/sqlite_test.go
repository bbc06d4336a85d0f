package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedSession(t *testing.T, st Store) *model.DiscoverySession {
	t.Helper()
	sess := &model.DiscoverySession{
		OwnerID: "user-1",
		Criteria: model.Criteria{
			ProductDescription: "body cameras",
			States:             []string{"Texas"},
			TargetCategories:   []string{"police"},
			Competitors:        []string{"Axon"},
		},
	}
	require.NoError(t, st.CreateSession(context.Background(), sess))
	return sess
}

func seedRequest(t *testing.T, st Store) *model.ResearchRequest {
	t.Helper()
	r := &model.ResearchRequest{
		TargetAccount:      "Travis County Sheriff",
		ProductDescription: "body cameras",
		States:             []string{"Texas"},
		TargetCategories:   []string{"sheriff"},
		Competitors:        []string{"Axon"},
	}
	require.NoError(t, st.CreateResearchRequest(context.Background(), r))
	return r
}

// --- Sessions ---

func TestSQLite_Session_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	sess := seedSession(t, st)

	assert.NotEmpty(t, sess.ID)
	got, err := st.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCreated, got.Status)
	assert.Equal(t, sess.Criteria, got.Criteria)
	assert.Equal(t, "user-1", got.OwnerID)
}

func TestSQLite_Session_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetSession(context.Background(), "missing")
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

func TestSQLite_MarkSessionDiscovered_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	sess := seedSession(t, st)

	changed, err := st.MarkSessionDiscovered(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = st.MarkSessionDiscovered(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusDiscovered, got.Status)

	_, err = st.MarkSessionDiscovered(ctx, "missing")
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

func TestSQLite_ClaimSession(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	sess := seedSession(t, st)
	lease := time.Now().Add(-time.Hour)

	claimed, err := st.ClaimSession(ctx, sess.ID, lease)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = st.ClaimSession(ctx, sess.ID, lease)
	require.NoError(t, err)
	assert.False(t, claimed, "a fresh claim is not taken over")

	// A claim older than the cutoff is abandoned.
	claimed, err = st.ClaimSession(ctx, sess.ID, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, st.ReleaseSession(ctx, sess.ID))
	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCreated, got.Status)

	claimed, err = st.ClaimSession(ctx, sess.ID, lease)
	require.NoError(t, err)
	assert.True(t, claimed)
	changed, err := st.MarkSessionDiscovered(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	claimed, err = st.ClaimSession(ctx, sess.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, claimed, "discovered sessions are never reclaimed")

	_, err = st.ClaimSession(ctx, "missing", lease)
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

// --- Dossiers ---

func TestSQLite_UpsertDossiers_ReplacesOnConflict(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	sess := seedSession(t, st)

	first := []model.ProspectDossier{
		{ProspectKey: "austin_pd_texas", Name: "Austin PD", City: "Austin", State: "Texas", Lat: 30.2, Lng: -97.7,
			Dossier: model.Dossier{Score: 70, Angles: []string{"fleet"}}},
		{ProspectKey: "waco_pd_texas", Name: "Waco PD", State: "Texas", Lat: 31.5, Lng: -97.1,
			Dossier: model.Dossier{Score: 55}},
	}
	n, err := st.UpsertDossiers(ctx, sess.ID, first)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Overlapping rerun overwrites instead of duplicating.
	_, err = st.UpsertDossiers(ctx, sess.ID, []model.ProspectDossier{
		{ProspectKey: "austin_pd_texas", Name: "Austin Police Department", City: "Austin", State: "Texas", Lat: 30.3, Lng: -97.8,
			Dossier: model.Dossier{Score: 91, Angles: []string{"grant", "renewal"}}},
	})
	require.NoError(t, err)

	got, err := st.GetDossiers(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Austin Police Department", got[0].Name)
	assert.Equal(t, 91.0, got[0].Dossier.Score)
	assert.Equal(t, []string{"grant", "renewal"}, got[0].Dossier.Angles)
	assert.Equal(t, model.DossierStatusQueued, got[0].Status)
	assert.Equal(t, []string{}, got[1].Dossier.Angles)
}

func TestSQLite_GetDossiers_EmptySession(t *testing.T) {
	st := newTestSQLiteStore(t)
	sess := seedSession(t, st)

	got, err := st.GetDossiers(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_SetDossierStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	sess := seedSession(t, st)
	_, err := st.UpsertDossiers(ctx, sess.ID, []model.ProspectDossier{
		{ProspectKey: "a_texas", Name: "A", State: "Texas", Dossier: model.Dossier{Score: 10, Angles: []string{"x"}}},
	})
	require.NoError(t, err)

	require.NoError(t, st.SetDossierStatus(ctx, sess.ID, "a_texas", model.DossierStatusReady, "Mid-size agency."))
	got, err := st.GetDossiers(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DossierStatusReady, got[0].Status)
	assert.Equal(t, "Mid-size agency.", got[0].Dossier.Summary)
	assert.Equal(t, 10.0, got[0].Dossier.Score)

	// An empty summary leaves the previous one in place.
	require.NoError(t, st.SetDossierStatus(ctx, sess.ID, "a_texas", model.DossierStatusFailed, ""))
	got, err = st.GetDossiers(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mid-size agency.", got[0].Dossier.Summary)

	err = st.SetDossierStatus(ctx, sess.ID, "nope", model.DossierStatusReady, "")
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

// --- Jobs ---

func TestSQLite_Jobs_CreateListClaim(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	sess := seedSession(t, st)

	jobs := []model.ResearchJob{
		{SessionID: sess.ID, ProspectKey: "a_texas"},
		{SessionID: sess.ID, ProspectKey: "b_texas"},
	}
	require.NoError(t, st.CreateJobs(ctx, jobs))

	listed, err := st.ListJobs(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, j := range listed {
		assert.Equal(t, model.JobStatusQueued, j.Status)
		assert.Equal(t, model.JobTypeDossier, j.JobType)
	}

	first, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, model.JobStatusRunning, first.Status)

	second, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)

	none, err := st.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, st.UpdateJobStatus(ctx, first.ID, model.JobStatusDone, ""))
	require.NoError(t, st.UpdateJobStatus(ctx, second.ID, model.JobStatusFailed, "geocoder down"))

	listed, err = st.ListJobs(ctx, sess.ID)
	require.NoError(t, err)
	byID := map[string]model.ResearchJob{}
	for _, j := range listed {
		byID[j.ID] = j
	}
	assert.Equal(t, model.JobStatusDone, byID[first.ID].Status)
	assert.Equal(t, "geocoder down", byID[second.ID].Error)

	err = st.UpdateJobStatus(ctx, "missing", model.JobStatusDone, "")
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

// --- Research requests ---

func TestSQLite_ResearchRequest_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	r := seedRequest(t, st)

	got, err := st.GetResearchRequest(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, got.Status)
	assert.Equal(t, "Travis County Sheriff", got.TargetAccount)
	assert.Equal(t, []string{"sheriff"}, got.TargetCategories)
	assert.Equal(t, []string{"Axon"}, got.Competitors)
}

func TestSQLite_UpdateRequestStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	r := seedRequest(t, st)

	require.NoError(t, st.UpdateRequestStatus(ctx, r.ID, model.RequestStatusPending, model.RequestStatusResearching, ""))

	err := st.UpdateRequestStatus(ctx, r.ID, model.RequestStatusPending, model.RequestStatusResearching, "")
	assert.True(t, eris.Is(err, ErrStaleStatus))

	require.NoError(t, st.UpdateRequestStatus(ctx, r.ID, model.RequestStatusResearching, model.RequestStatusFailed, "boom"))
	got, err := st.GetResearchRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	// An empty from matches any status.
	require.NoError(t, st.UpdateRequestStatus(ctx, r.ID, "", model.RequestStatusPending, ""))

	err = st.UpdateRequestStatus(ctx, "missing", "", model.RequestStatusPending, "")
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

// --- Memories ---

func TestSQLite_Memories_AppendOnlyInOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	r := seedRequest(t, st)

	for i, mt := range []model.MemoryType{model.MemoryOrgProfile, model.MemoryNewsTiming, model.MemoryOrgProfile} {
		m := &model.AgentMemory{
			RequestID:  r.ID,
			MemoryType: mt,
			Content: model.MemoryContent{
				Data:    map[string]any{"attempt": float64(i)},
				Sources: []string{"https://www.example.gov/a"},
			},
		}
		require.NoError(t, st.AppendMemory(ctx, m))
	}

	got, err := st.ListMemories(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, model.MemoryOrgProfile, got[0].MemoryType)
	assert.Equal(t, model.MemoryNewsTiming, got[1].MemoryType)
	assert.Equal(t, float64(2), got[2].Content.Data["attempt"])
	assert.Equal(t, []string{"https://www.example.gov/a"}, got[2].Content.Sources)
}

// --- Reports ---

func TestSQLite_Report_UpsertKeepsLatest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	r := seedRequest(t, st)

	_, err := st.GetReport(ctx, r.ID)
	assert.True(t, eris.Is(err, model.ErrNotFound))

	require.NoError(t, st.UpsertReport(ctx, &model.ResearchReport{
		RequestID: r.ID, Summary: "first", Content: model.Playbook{Title: "v1"}, Fallback: true,
	}))
	require.NoError(t, st.UpsertReport(ctx, &model.ResearchReport{
		RequestID: r.ID, Summary: "second", Content: model.Playbook{Title: "v2"},
		Sources: []model.Citation{{URL: "https://example.gov", Hostname: "example.gov", MemoryType: model.MemoryProcurement}},
	}))

	got, err := st.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Summary)
	assert.Equal(t, "v2", got.Content.Title)
	assert.False(t, got.Fallback)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "example.gov", got.Sources[0].Hostname)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestOpen_SQLite(t *testing.T) {
	st, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "p.db"), nil)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
}

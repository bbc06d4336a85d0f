package research

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/agents"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/playbook"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/anthropic"
	"github.com/sells-group/prospector/pkg/perplexity"
)

// routedSearch fails the agent whose system prompt is listed in fail.
type routedSearch struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func (r *routedSearch) ChatCompletion(_ context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	r.mu.Lock()
	r.calls++
	failing := r.fail[req.Messages[0].Content]
	r.mu.Unlock()
	if failing {
		return nil, errors.New("perplexity: unexpected status 401")
	}
	return &perplexity.ChatCompletionResponse{
		Choices: []perplexity.Choice{{Message: perplexity.Message{
			Content: `{"people":[{"name":"Pat Lee","title":"Chief"}],"overview":"Agency","signals":[{"date":"2027-01-15","event":"Council vote","relevance":"budget"}],"contracts":[],"incumbents":[]}`,
		}}},
		Citations: []string{"https://www.example.gov/source"},
	}, nil
}

type downModel struct{}

func (downModel) CreateMessage(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return nil, errors.New("anthropic: service unavailable")
}

type fixture struct {
	svc    *Service
	store  store.Store
	search *routedSearch
	specs  []agents.Spec
}

func newFixture(t *testing.T, failing ...model.MemoryType) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "research.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	specs, err := agents.DefaultSpecs()
	require.NoError(t, err)
	rs := &routedSearch{fail: map[string]bool{}}
	for _, s := range specs {
		for _, mt := range failing {
			if s.MemoryType == mt {
				rs.fail[s.System] = true
			}
		}
	}
	pool, err := agents.NewPool(rs, st)
	require.NoError(t, err)
	svc := NewService(st, pool, playbook.NewSynthesizer(downModel{}))
	return &fixture{svc: svc, store: st, search: rs, specs: specs}
}

func (f *fixture) request(t *testing.T, owner string) *model.ResearchRequest {
	t.Helper()
	r := &model.ResearchRequest{
		OwnerID:            owner,
		TargetAccount:      "Bexar County Sheriff",
		ProductDescription: "in-car video",
		States:             []string{"Texas"},
		TargetCategories:   []string{"sheriff"},
		Competitors:        []string{"Axon"},
	}
	require.NoError(t, f.store.CreateResearchRequest(context.Background(), r))
	return r
}

func TestRun_OneFailingAgentStillCompletes(t *testing.T) {
	f := newFixture(t, model.MemoryProcurement)
	ctx := context.Background()
	req := f.request(t, "")

	report, err := f.svc.Run(ctx, req.ID, "")
	require.NoError(t, err)
	assert.True(t, report.Fallback)

	mems, err := f.store.ListMemories(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, mems, 5)
	for _, m := range mems {
		assert.Equal(t, m.MemoryType == model.MemoryProcurement, m.Content.Degraded, m.MemoryType)
	}

	stored, err := f.store.GetResearchRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusCompleted, stored.Status)

	got, err := f.store.GetReport(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, got.Content.Sections, 5)
	assert.NotEmpty(t, got.Content.Title)
	assert.NotNil(t, got.Content.Playbook.KeyDates)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "example.gov", got.Sources[0].Hostname)
}

func TestRun_AllAgentsFailStillCompletes(t *testing.T) {
	f := newFixture(t, model.AllMemoryTypes...)
	req := f.request(t, "")

	report, err := f.svc.Run(context.Background(), req.ID, "")
	require.NoError(t, err)
	assert.True(t, report.Fallback)
	assert.Empty(t, report.Sources)
	assert.NotEmpty(t, report.Content.AccountSnapshot.Type)
}

func TestRun_RetryAccumulatesMemories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, "owner-1")

	_, err := f.svc.Run(ctx, req.ID, "owner-1")
	require.NoError(t, err)
	_, err = f.svc.Run(ctx, req.ID, "owner-1")
	require.NoError(t, err)

	mems, err := f.store.ListMemories(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, mems, 10)
	assert.Equal(t, 10, f.search.calls)

	latest, err := f.svc.LatestOutcomes(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, latest, 5)

	stored, _, err := f.svc.Status(ctx, req.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusCompleted, stored.Status)
}

func TestRun_AuthChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, "owner-1")

	_, err := f.svc.Run(ctx, req.ID, "")
	assert.True(t, eris.Is(err, model.ErrUnauthorized))

	_, err = f.svc.Run(ctx, req.ID, "someone-else")
	assert.True(t, eris.Is(err, model.ErrForbidden))

	_, err = f.svc.Run(ctx, "missing", "owner-1")
	assert.True(t, eris.Is(err, model.ErrNotFound))

	// Rejected callers never touch the request.
	stored, err := f.store.GetResearchRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, stored.Status)
	assert.Zero(t, f.search.calls)
}

func TestStatus_ReportOnlyWhenCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, "")

	got, report, err := f.svc.Status(ctx, req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, got.Status)
	assert.Nil(t, report)

	_, err = f.svc.Run(ctx, req.ID, "")
	require.NoError(t, err)
	_, report, err = f.svc.Status(ctx, req.ID, "")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, req.ID, report.RequestID)
}

type brokenStore struct {
	store.Store
}

func (brokenStore) UpsertReport(context.Context, *model.ResearchReport) error {
	return errors.New("disk full")
}

func TestRun_PersistFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, "")
	pool, err := agents.NewPool(nil, f.store)
	require.NoError(t, err)
	svc := NewService(brokenStore{Store: f.store}, pool, playbook.NewSynthesizer(nil))

	_, err = svc.Run(ctx, req.ID, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	stored, err := f.store.GetResearchRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "persist report")
}

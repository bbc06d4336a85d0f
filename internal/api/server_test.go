package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/discovery"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/store"
)

const testSecret = "test-secret"

type mockDiscoverer struct {
	mock.Mock
}

func (m *mockDiscoverer) Discover(ctx context.Context, req discovery.Request, caller string) (*discovery.Response, error) {
	args := m.Called(ctx, req, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discovery.Response), args.Error(1)
}

type mockResearcher struct {
	mock.Mock
}

func (m *mockResearcher) Run(ctx context.Context, id, caller string) (*model.ResearchReport, error) {
	args := m.Called(ctx, id, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ResearchReport), args.Error(1)
}

func (m *mockResearcher) Status(ctx context.Context, id, caller string) (*model.ResearchRequest, *model.ResearchReport, error) {
	args := m.Called(ctx, id, caller)
	var (
		req    *model.ResearchRequest
		report *model.ResearchReport
	)
	if v := args.Get(0); v != nil {
		req = v.(*model.ResearchRequest)
	}
	if v := args.Get(1); v != nil {
		report = v.(*model.ResearchReport)
	}
	return req, report, args.Error(2)
}

type harness struct {
	srv   *httptest.Server
	store store.Store
	disc  *mockDiscoverer
	res   *mockResearcher
	auth  *Authenticator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	h := &harness{store: st, disc: new(mockDiscoverer), res: new(mockResearcher), auth: NewAuthenticator(testSecret)}
	h.srv = httptest.NewServer(NewServer(st, h.disc, h.res, h.auth, WithCORSOrigins([]string{"https://app.example.com"})).Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, body, user string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		tok, err := h.auth.Sign(user, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestDiscovery_BadRequests(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/discovery", "{not json", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request body", body["error"])

	resp, body = h.do(t, http.MethodPost, "/api/discovery", `{"limit":3}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "sessionId is required", body["error"])
	h.disc.AssertNotCalled(t, "Discover", mock.Anything, mock.Anything, mock.Anything)
}

func TestDiscovery_PassesCriteriaAndCaller(t *testing.T) {
	h := newHarness(t)
	want := discovery.Request{
		SessionID:        "s1",
		States:           []string{"Texas"},
		TargetCategories: []string{"police"},
		Competitors:      []string{"Axon"},
		Limit:            3,
	}
	h.disc.On("Discover", mock.Anything, want, "user-1").Return(&discovery.Response{
		Prospects: []discovery.Prospect{{ProspectID: "austin_pd_texas", Name: "Austin PD", State: "Texas", Angles: []string{}}},
		Jobs:      []discovery.Job{{JobID: "j1", ProspectID: "austin_pd_texas", Status: model.JobStatusQueued}},
		LatencyMS: 42,
	}, nil)

	resp, body := h.do(t, http.MethodPost, "/api/discovery",
		`{"sessionId":"s1","territory":{"states":["Texas"]},"targetCategories":["police"],"competitors":["Axon"],"limit":3}`, "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	prospects := body["prospects"].([]any)
	require.Len(t, prospects, 1)
	assert.Equal(t, "austin_pd_texas", prospects[0].(map[string]any)["prospectId"])
	assert.Len(t, body["jobs"], 1)
	assert.EqualValues(t, 42, body["latency"])
	assert.NotContains(t, body, "cached")
	h.disc.AssertExpectations(t)
}

func TestDiscovery_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", eris.Wrap(model.ErrNotFound, "sqlite: session s1"), http.StatusNotFound},
		{"forbidden", eris.Wrap(model.ErrForbidden, "discovery: session s1"), http.StatusForbidden},
		{"in progress", eris.Wrap(model.ErrConflict, "discovery: session s1"), http.StatusConflict},
		{"rate limited", eris.Wrap(resilience.NewUpstreamError("anthropic", 429, errors.New("slow")), "discovery: propose"), http.StatusTooManyRequests},
		{"quota", eris.Wrap(resilience.NewUpstreamError("anthropic", 402, errors.New("pay")), "discovery: propose"), http.StatusPaymentRequired},
		{"unavailable", resilience.NewUpstreamError("anthropic", 503, errors.New("down")), http.StatusInternalServerError},
		{"generic", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.disc.On("Discover", mock.Anything, mock.Anything, "").Return(nil, tc.err)

			resp, body := h.do(t, http.MethodPost, "/api/discovery", `{"sessionId":"s1"}`, "")
			assert.Equal(t, tc.code, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestResearch(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/research", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "requestId is required", body["error"])

	h.res.On("Run", mock.Anything, "r1", "user-1").Return(&model.ResearchReport{
		RequestID: "r1",
		Content:   model.Playbook{Title: "Account playbook: Bexar County"},
	}, nil)
	resp, body = h.do(t, http.MethodPost, "/api/research", `{"requestId":"r1"}`, "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Account playbook: Bexar County", body["report"].(map[string]any)["title"])

	h.res.On("Run", mock.Anything, "r2", "").Return(nil, eris.Wrap(model.ErrUnauthorized, "research: request r2"))
	resp, _ = h.do(t, http.MethodPost, "/api/research", `{"requestId":"r2"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h.res.On("Run", mock.Anything, "r3", "user-1").Return(nil, eris.Wrap(model.ErrForbidden, "research: request r3"))
	resp, _ = h.do(t, http.MethodPost, "/api/research", `{"requestId":"r3"}`, "user-1")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestResearchStatus(t *testing.T) {
	h := newHarness(t)
	h.res.On("Status", mock.Anything, "r1", "").Return(
		&model.ResearchRequest{ID: "r1", Status: model.RequestStatusResearching}, nil, nil)

	resp, body := h.do(t, http.MethodGet, "/api/research/r1", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "researching", body["request"].(map[string]any)["status"])
	assert.NotContains(t, body, "report")
}

func TestSessions_CreateAndList(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/sessions", `{"productDescription":"video","states":["Texas"]}`, "user-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := body["session"].(map[string]any)
	id := sess["id"].(string)
	assert.Equal(t, "user-1", sess["owner_id"])

	_, err := h.store.UpsertDossiers(context.Background(), id, []model.ProspectDossier{{
		SessionID: id, ProspectKey: "austin_pd_texas", Name: "Austin PD", State: "Texas",
		Dossier: model.Dossier{Score: 80, Angles: []string{"fleet"}}, Status: model.DossierStatusQueued,
	}})
	require.NoError(t, err)

	resp, body = h.do(t, http.MethodGet, "/api/sessions/"+id+"/prospects", "", "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["dossiers"], 1)
	assert.Empty(t, body["jobs"])

	resp, _ = h.do(t, http.MethodGet, "/api/sessions/"+id+"/prospects", "", "user-2")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/sessions/missing/prospects", "", "user-1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/api/sessions", `{"productDescription":"video"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "states is required", body["error"])
}

func TestResearchRequests_Create(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/research/requests",
		`{"targetAccount":"Bexar County Sheriff","states":["Texas"],"competitors":["Axon"]}`, "user-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	req := body["request"].(map[string]any)
	assert.Equal(t, "pending", req["status"])

	got, err := h.store.GetResearchRequest(context.Background(), req["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.OwnerID)
	assert.Equal(t, []string{"Axon"}, got.Competitors)

	resp, _ = h.do(t, http.MethodPost, "/api/research/requests", `{"states":["Texas"]}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthenticator(t *testing.T) {
	a := NewAuthenticator(testSecret)
	tok, err := a.Sign("user-1", time.Hour)
	require.NoError(t, err)
	sub, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	other, err := NewAuthenticator("other").Sign("user-1", time.Hour)
	require.NoError(t, err)
	_, err = a.Verify(other)
	assert.Error(t, err)

	expired, err := a.Sign("user-1", -time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(expired)
	assert.Error(t, err)

	_, err = NewAuthenticator("").Verify(tok)
	assert.Error(t, err)
}

func TestMiddleware_InvalidTokenIsAnonymous(t *testing.T) {
	a := NewAuthenticator(testSecret)
	var seen string
	h := a.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = CallerFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Empty(t, seen)

	tok, err := a.Sign("user-9", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "user-9", seen)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req, err := http.NewRequest(http.MethodOptions, h.srv.URL+"/api/discovery", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

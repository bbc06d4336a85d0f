package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
)

type staticSource struct {
	sess     *model.DiscoverySession
	dossiers []model.ProspectDossier
	err      error
}

func (s staticSource) GetSession(context.Context, string) (*model.DiscoverySession, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sess, nil
}

func (s staticSource) GetDossiers(context.Context, string) ([]model.ProspectDossier, error) {
	return s.dossiers, nil
}

func briefPool(t *testing.T, r reply) *Pool {
	t.Helper()
	p, err := NewPool(&fakeSearch{bySystem: map[string]reply{briefSystem: r}}, nil)
	require.NoError(t, err)
	return p
}

func TestBriefJobs_SummarizesDossier(t *testing.T) {
	p := briefPool(t, reply{content: "  Travis County runs 1,200 deputies. Body camera renewal due 2026.\n"})
	src := staticSource{
		sess: &model.DiscoverySession{ID: "s1", Criteria: model.Criteria{ProductDescription: "body-worn cameras"}},
		dossiers: []model.ProspectDossier{
			{ProspectKey: "travis_texas", Name: "Travis County", State: "Texas"},
		},
	}

	got, err := p.BriefJobs(src)(context.Background(), &model.ResearchJob{SessionID: "s1", ProspectKey: "travis_texas"})
	require.NoError(t, err)
	assert.Equal(t, "Travis County runs 1,200 deputies. Body camera renewal due 2026.", got)
}

func TestBriefJobs_MissingDossier(t *testing.T) {
	p := briefPool(t, reply{content: "x"})
	src := staticSource{sess: &model.DiscoverySession{ID: "s1"}}

	_, err := p.BriefJobs(src)(context.Background(), &model.ResearchJob{SessionID: "s1", ProspectKey: "gone_texas"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

func TestBrief_Errors(t *testing.T) {
	d := model.ProspectDossier{ProspectKey: "a_texas", Name: "A", State: "Texas"}

	_, err := briefPool(t, reply{err: errors.New("perplexity: unexpected status 502")}).Brief(context.Background(), d, model.Criteria{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agents: brief a_texas")

	_, err = briefPool(t, reply{content: "   "}).Brief(context.Background(), d, model.Criteria{})
	require.Error(t, err)

	noSearch, err := NewPool(nil, nil)
	require.NoError(t, err)
	_, err = noSearch.Brief(context.Background(), d, model.Criteria{})
	require.Error(t, err)
}

func TestBriefPrompt(t *testing.T) {
	got := briefPrompt(
		model.ProspectDossier{Name: "Austin PD", City: "Austin", State: "Texas", Dossier: model.Dossier{Angles: []string{"fleet refresh", "new chief"}}},
		model.Criteria{ProductDescription: "in-car video", Competitors: []string{"Axon"}},
	)
	assert.Contains(t, got, "Prospect: Austin PD (Austin, Texas).")
	assert.Contains(t, got, "Competitors: Axon.")
	assert.Contains(t, got, "Angles to check: fleet refresh; new chief.")
}

package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/perplexity"
)

const briefSystem = "You write two-sentence prospect briefs for public-sector sales teams. " +
	"State who the organization is and the most relevant buying signal. Plain text only."

// DossierSource loads what a dossier job needs.
type DossierSource interface {
	GetSession(ctx context.Context, id string) (*model.DiscoverySession, error)
	GetDossiers(ctx context.Context, sessionID string) ([]model.ProspectDossier, error)
}

// Brief asks the search model for a short summary of one prospect.
func (p *Pool) Brief(ctx context.Context, d model.ProspectDossier, c model.Criteria) (string, error) {
	if p.search == nil {
		return "", eris.New("agents: search client not configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	temp := 0.2
	resp, err := p.search.ChatCompletion(callCtx, perplexity.ChatCompletionRequest{
		Model: p.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: briefSystem},
			{Role: "user", Content: briefPrompt(d, c)},
		},
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrapf(err, "agents: brief %s", d.ProspectKey)
	}
	brief := strings.TrimSpace(resp.Content())
	if brief == "" {
		return "", eris.Errorf("agents: empty brief for %s", d.ProspectKey)
	}
	return brief, nil
}

// BriefJobs returns a job handler that briefs the dossier behind each job.
func (p *Pool) BriefJobs(src DossierSource) func(context.Context, *model.ResearchJob) (string, error) {
	return func(ctx context.Context, job *model.ResearchJob) (string, error) {
		sess, err := src.GetSession(ctx, job.SessionID)
		if err != nil {
			return "", eris.Wrapf(err, "agents: load session %s", job.SessionID)
		}
		dossiers, err := src.GetDossiers(ctx, job.SessionID)
		if err != nil {
			return "", eris.Wrapf(err, "agents: load dossiers for %s", job.SessionID)
		}
		for _, d := range dossiers {
			if d.ProspectKey == job.ProspectKey {
				return p.Brief(ctx, d, sess.Criteria)
			}
		}
		return "", eris.Wrapf(model.ErrNotFound, "agents: dossier %s", job.ProspectKey)
	}
}

func briefPrompt(d model.ProspectDossier, c model.Criteria) string {
	var b strings.Builder
	place := d.State
	if d.City != "" {
		place = d.City + ", " + d.State
	}
	fmt.Fprintf(&b, "Prospect: %s (%s).\n", d.Name, place)
	fmt.Fprintf(&b, "We sell: %s.\n", c.ProductDescription)
	if len(c.Competitors) > 0 {
		fmt.Fprintf(&b, "Competitors: %s.\n", strings.Join(c.Competitors, ", "))
	}
	if len(d.Dossier.Angles) > 0 {
		fmt.Fprintf(&b, "Angles to check: %s.\n", strings.Join(d.Dossier.Angles, "; "))
	}
	return b.String()
}

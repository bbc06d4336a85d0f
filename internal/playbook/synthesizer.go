// Package playbook merges research agent outcomes into one account playbook,
// with a deterministic fallback when the synthesis model misbehaves.
package playbook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/agents"
	"github.com/sells-group/prospector/internal/extract"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/anthropic"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

const systemPrompt = `You are a public-sector sales strategist. You turn raw account research into a
practical sales playbook. Use only facts present in the research. Respond with a single JSON object
and no other text.`

const shapeInstructions = `Return JSON with exactly this shape:
{
  "title": string,
  "topInsight": string,
  "accountSnapshot": {"type": string, "size": string, "budget": string, "location": string, "jurisdiction": string},
  "sections": [{"id": string, "heading": string, "content": string, "bullets": [string], "sources": [string]}],
  "playbook": {
    "outreachSequence": [string],
    "talkingPoints": [string],
    "whatToAvoid": [string],
    "keyDates": [{"date": string, "event": string, "relevance": string}]
  },
  "recommendedActions": [string]
}
Use one section per research area, with id set to the area key.`

// Result is a synthesized playbook and whether it came from the fallback builder.
type Result struct {
	Playbook model.Playbook
	Fallback bool
	Reason   string
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the synthesis model.
func WithModel(name string) Option {
	return func(s *Synthesizer) {
		if name != "" {
			s.model = name
		}
	}
}

// WithMaxTokens caps the synthesis response.
func WithMaxTokens(n int64) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithTimeout bounds the synthesis call.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Synthesizer issues the single synthesis model call.
type Synthesizer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
}

// NewSynthesizer returns a Synthesizer. A nil client always falls back.
func NewSynthesizer(client anthropic.Client, opts ...Option) *Synthesizer {
	s := &Synthesizer{client: client, model: defaultModel, maxTokens: defaultMaxTokens, timeout: defaultTimeout}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize never fails: any model error or unusable response yields the
// fallback playbook, and a usable response is backfilled from it.
func (s *Synthesizer) Synthesize(ctx context.Context, req *model.ResearchRequest, outcomes []agents.Outcome) Result {
	fb := Fallback(req, outcomes)
	log := zap.L().With(zap.String("request_id", req.ID))

	pb, err := s.generate(ctx, req, outcomes)
	if err != nil {
		log.Warn("playbook: using fallback", zap.Error(err))
		return Result{Playbook: fb, Fallback: true, Reason: err.Error()}
	}
	pb.Backfill(fb)
	return Result{Playbook: pb}
}

func (s *Synthesizer) generate(ctx context.Context, req *model.ResearchRequest, outcomes []agents.Outcome) (model.Playbook, error) {
	if s.client == nil {
		return model.Playbook{}, eris.New("playbook: synthesis client not configured")
	}
	prompt, err := buildPrompt(req, outcomes)
	if err != nil {
		return model.Playbook{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    []anthropic.SystemBlock{{Text: systemPrompt, Cacheable: true}},
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return model.Playbook{}, eris.Wrap(err, "playbook: synthesis call")
	}
	resp.Usage.LogCost(s.model, "synthesis")
	zap.L().Debug("playbook: synthesis response",
		zap.String("request_id", req.ID),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	)
	return parsePlaybook(resp.Text())
}

// parsePlaybook accepts a response only when it decodes into the playbook
// shape and carries a title or at least one section.
func parsePlaybook(text string) (model.Playbook, error) {
	parsed := extract.ExtractObject(text)
	if !parsed.OK() {
		return model.Playbook{}, eris.Errorf("playbook: unparseable synthesis response: %s", parsed.Reason)
	}
	pb, err := extract.DecodeInto[model.Playbook](parsed.Value)
	if err != nil {
		return model.Playbook{}, eris.Wrap(err, "playbook: synthesis response has wrong shape")
	}
	if pb.Title == "" && len(pb.Sections) == 0 {
		return model.Playbook{}, eris.New("playbook: synthesis response has no title or sections")
	}
	return pb, nil
}

func buildPrompt(req *model.ResearchRequest, outcomes []agents.Outcome) (string, error) {
	research := make(map[string]any, len(outcomes))
	for _, o := range outcomes {
		entry := map[string]any{"data": o.Data, "sources": o.Sources}
		if o.IsDegraded() {
			entry["note"] = "no reliable data: " + o.Reason
		}
		research[string(o.MemoryType)] = entry
	}
	payload := map[string]any{
		"account":          req.TargetAccount,
		"product":          req.ProductDescription,
		"states":           req.States,
		"targetCategories": req.TargetCategories,
		"competitors":      req.Competitors,
		"research":         research,
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "playbook: marshal research")
	}
	return "Account research:\n" + string(raw) + "\n\n" + shapeInstructions, nil
}

// Summary is the one-line digest stored beside the report.
func Summary(pb model.Playbook) string {
	if pb.TopInsight != "" {
		return pb.TopInsight
	}
	return pb.Title
}

// Package agents runs the five specialized research agents for one account
// in parallel and records each result as agent memory.
package agents

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/extract"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/perplexity"
)

// DefaultTimeout bounds one agent's search call.
const DefaultTimeout = 90 * time.Second

// MemoryWriter persists agent memory rows.
type MemoryWriter interface {
	AppendMemory(ctx context.Context, m *model.AgentMemory) error
}

// Option configures a Pool.
type Option func(*Pool)

// WithTimeout sets the per-agent deadline.
func WithTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithModel overrides the search model name.
func WithModel(name string) Option {
	return func(p *Pool) {
		if name != "" {
			p.model = name
		}
	}
}

// WithSpecs replaces the embedded agent definitions.
func WithSpecs(specs []Spec) Option {
	return func(p *Pool) { p.specs = specs }
}

// Pool fans a research request out to every agent spec.
type Pool struct {
	search  perplexity.Client
	memory  MemoryWriter
	specs   []Spec
	timeout time.Duration
	model   string
}

// NewPool builds a pool over the embedded agent definitions. A nil search
// client makes every agent degrade immediately.
func NewPool(search perplexity.Client, memory MemoryWriter, opts ...Option) (*Pool, error) {
	specs, err := DefaultSpecs()
	if err != nil {
		return nil, err
	}
	p := &Pool{search: search, memory: memory, specs: specs, timeout: DefaultTimeout}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Specs returns the agent definitions in run order.
func (p *Pool) Specs() []Spec { return p.specs }

// Spec returns the definition for mt.
func (p *Pool) Spec(mt model.MemoryType) (Spec, bool) {
	for _, s := range p.specs {
		if s.MemoryType == mt {
			return s, true
		}
	}
	return Spec{}, false
}

// Run launches every agent at once and waits for all of them. Outcomes come
// back in spec order; a failing agent yields a Degraded outcome and never
// affects the others.
func (p *Pool) Run(ctx context.Context, req *model.ResearchRequest) []Outcome {
	out := make([]Outcome, len(p.specs))
	var g errgroup.Group
	for i, spec := range p.specs {
		g.Go(func() error {
			out[i] = p.RunAgent(ctx, spec, req)
			return nil
		})
	}
	_ = g.Wait()

	degraded := 0
	for _, o := range out {
		if o.IsDegraded() {
			degraded++
		}
	}
	zap.L().Info("agents: fan-out complete",
		zap.String("request_id", req.ID),
		zap.Int("agents", len(out)),
		zap.Int("degraded", degraded),
	)
	return out
}

// RunAgent executes one agent and appends its memory row. It never fails;
// every error path produces a Degraded outcome.
func (p *Pool) RunAgent(ctx context.Context, spec Spec, req *model.ResearchRequest) Outcome {
	start := time.Now()
	o := p.query(ctx, spec, req)
	o.Latency = time.Since(start)

	log := zap.L().With(
		zap.String("request_id", req.ID),
		zap.String("agent", string(spec.MemoryType)),
		zap.Int64("latency_ms", o.Latency.Milliseconds()),
	)
	if o.IsDegraded() {
		log.Warn("agents: degraded to default", zap.String("reason", o.Reason))
	} else {
		log.Info("agents: completed", zap.Int("sources", len(o.Sources)))
	}

	if p.memory != nil {
		if err := p.memory.AppendMemory(context.WithoutCancel(ctx), o.Memory(req.ID)); err != nil {
			log.Error("agents: persist memory", zap.Error(err))
		}
	}
	return o
}

func (p *Pool) query(ctx context.Context, spec Spec, req *model.ResearchRequest) Outcome {
	if p.search == nil {
		return Degraded(spec.MemoryType, spec.DefaultData(), "search client not configured", nil, "")
	}
	prompt, err := spec.Render(req)
	if err != nil {
		return Degraded(spec.MemoryType, spec.DefaultData(), err.Error(), nil, "")
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	temp := 0.2
	resp, err := p.search.ChatCompletion(callCtx, perplexity.ChatCompletionRequest{
		Model: p.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: spec.System},
			{Role: "user", Content: prompt},
		},
		Temperature: &temp,
	})
	if err != nil {
		reason := eris.Wrapf(err, "agents: %s search", spec.MemoryType).Error()
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			reason = "timed out after " + p.timeout.String()
		}
		return Degraded(spec.MemoryType, spec.DefaultData(), reason, nil, "")
	}

	raw := resp.Content()
	parsed := extract.ExtractObject(raw)
	if !parsed.OK() {
		return Degraded(spec.MemoryType, spec.DefaultData(), "unparseable response: "+parsed.Reason, resp.Citations, raw)
	}
	data, err := spec.conform(parsed.Value)
	if err != nil {
		return Degraded(spec.MemoryType, spec.DefaultData(), err.Error(), resp.Citations, raw)
	}
	zap.L().Debug("agents: parsed response",
		zap.String("agent", string(spec.MemoryType)),
		zap.String("tier", parsed.Tier.String()),
	)
	return Ok(spec.MemoryType, data, resp.Citations, raw)
}

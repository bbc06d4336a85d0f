// Package discovery turns sales criteria into geocoded prospect dossiers and
// queues one research job per new prospect.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/extract"
	"github.com/sells-group/prospector/internal/geo"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/scheduler"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/anthropic"
)

const (
	DefaultLimit = 10
	MaxLimit     = 25

	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 4096
	defaultTimeout   = 90 * time.Second

	toolName = "propose_prospects"
)

const emptyMessage = "No prospects matched the territory. Try broadening the states or categories."

// Request carries the criteria for one discovery run. Empty criteria fields
// fall back to the values the session was created with.
type Request struct {
	SessionID          string   `json:"sessionId"`
	ProductDescription string   `json:"productDescription"`
	States             []string `json:"states"`
	TargetCategories   []string `json:"targetCategories"`
	Competitors        []string `json:"competitors"`
	Limit              int      `json:"limit"`
}

// Prospect is one dossier as returned to callers.
type Prospect struct {
	ProspectID     string              `json:"prospectId"`
	Name           string              `json:"name"`
	City           string              `json:"city,omitempty"`
	State          string              `json:"state"`
	Lat            float64             `json:"lat"`
	Lng            float64             `json:"lng"`
	InitialScore   float64             `json:"initialScore"`
	Angles         []string            `json:"angles"`
	ResearchStatus model.DossierStatus `json:"researchStatus"`
}

// Job is one queued research job as returned to callers.
type Job struct {
	JobID      string          `json:"jobId"`
	ProspectID string          `json:"prospectId"`
	Status     model.JobStatus `json:"status"`
}

// Response is the result of Discover. Cached responses never carry jobs.
type Response struct {
	Prospects []Prospect `json:"prospects"`
	Jobs      []Job      `json:"jobs"`
	Cached    bool       `json:"cached,omitempty"`
	Message   string     `json:"message,omitempty"`
	// LatencyMS is the wall time of a fresh discovery run.
	LatencyMS int64 `json:"latency,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithModel sets the discovery model.
func WithModel(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.model = name
		}
	}
}

// WithMaxTokens caps the discovery response.
func WithMaxTokens(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithTimeout bounds the discovery model call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLimits overrides the default and maximum number of prospects.
func WithLimits(def, max int) Option {
	return func(s *Service) {
		if max > 0 {
			s.maxLimit = max
		}
		if def > 0 {
			s.defaultLimit = def
		}
	}
}

// Service runs discovery for sessions.
type Service struct {
	store    store.Store
	sched    *scheduler.Scheduler
	client   anthropic.Client
	enricher *geo.Enricher

	model        string
	maxTokens    int64
	timeout      time.Duration
	defaultLimit int
	maxLimit     int
}

// NewService wires a discovery service.
func NewService(st store.Store, client anthropic.Client, enricher *geo.Enricher, opts ...Option) *Service {
	s := &Service{
		store:        st,
		sched:        scheduler.New(st),
		client:       client,
		enricher:     enricher,
		model:        defaultModel,
		maxTokens:    defaultMaxTokens,
		timeout:      defaultTimeout,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Discover proposes, geocodes and persists prospects for a session. A session
// that already has dossiers is answered from the store without calling the
// model or the geocoder. While one caller holds the session's discovery claim,
// others get model.ErrConflict.
func (s *Service) Discover(ctx context.Context, req Request, callerID string) (*Response, error) {
	start := time.Now()
	log := zap.L().With(zap.String("session_id", req.SessionID))

	sess, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: load session")
	}
	if !sess.OwnedBy(callerID) {
		return nil, eris.Wrapf(model.ErrForbidden, "discovery: session %s", req.SessionID)
	}

	if resp, err := s.cached(ctx, req.SessionID); resp != nil || err != nil {
		return resp, err
	}

	// Only the claim holder calls the model, so overlapping requests on a
	// new session cannot queue duplicate jobs.
	claimed, err := s.store.ClaimSession(ctx, req.SessionID, time.Now().Add(-s.claimLease()))
	if err != nil {
		return nil, eris.Wrap(err, "discovery: claim session")
	}
	if !claimed {
		if resp, err := s.cached(ctx, req.SessionID); resp != nil || err != nil {
			return resp, err
		}
		return nil, eris.Wrapf(model.ErrConflict, "discovery: session %s is already being discovered", req.SessionID)
	}
	done := false
	defer func() {
		if done {
			return
		}
		if err := s.store.ReleaseSession(context.WithoutCancel(ctx), req.SessionID); err != nil {
			log.Warn("discovery: release session", zap.Error(err))
		}
	}()

	criteria := mergeCriteria(sess.Criteria, req)
	limit := s.clampLimit(req.Limit)

	cands, err := s.propose(ctx, criteria, limit)
	if err != nil {
		return nil, err
	}
	cands = Collapse(extract.FilterTerritory(cands, criteria.States))
	if len(cands) > limit {
		cands = cands[:limit]
	}
	if len(cands) == 0 {
		log.Info("discovery: no prospects in territory")
		return &Response{Prospects: []Prospect{}, Jobs: []Job{}, Message: emptyMessage}, nil
	}

	dossiers := s.locate(ctx, req.SessionID, cands)
	if _, err := s.store.UpsertDossiers(ctx, req.SessionID, dossiers); err != nil {
		return nil, eris.Wrap(err, "discovery: persist dossiers")
	}
	jobs, err := s.sched.EnqueueDossierJobs(ctx, req.SessionID, dossiers)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: enqueue jobs")
	}
	if _, err := s.store.MarkSessionDiscovered(ctx, req.SessionID); err != nil {
		return nil, eris.Wrap(err, "discovery: mark session discovered")
	}
	done = true

	latency := time.Since(start)
	log.Info("discovery: complete",
		zap.Int("prospects", len(dossiers)),
		zap.Int("jobs", len(jobs)),
		zap.Int64("latency_ms", latency.Milliseconds()),
	)
	return &Response{
		Prospects: toProspects(dossiers),
		Jobs:      toJobs(jobs),
		LatencyMS: max(latency.Milliseconds(), 1),
	}, nil
}

// cached answers from the stored dossiers, ordered like a fresh run. It
// returns nil when the session has none.
func (s *Service) cached(ctx context.Context, sessionID string) (*Response, error) {
	dossiers, err := s.store.GetDossiers(ctx, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: load cached dossiers")
	}
	if len(dossiers) == 0 {
		return nil, nil
	}
	sort.SliceStable(dossiers, func(i, j int) bool { return dossiers[i].Dossier.Score > dossiers[j].Dossier.Score })
	zap.L().Info("discovery: returning cached dossiers",
		zap.String("session_id", sessionID),
		zap.Int("prospects", len(dossiers)),
	)
	return &Response{Prospects: toProspects(dossiers), Jobs: []Job{}, Cached: true}, nil
}

// claimLease bounds how long an abandoned claim blocks the session.
func (s *Service) claimLease() time.Duration {
	return max(2*s.timeout, time.Minute)
}

func (s *Service) clampLimit(n int) int {
	switch {
	case n <= 0:
		return min(s.defaultLimit, s.maxLimit)
	case n > s.maxLimit:
		return s.maxLimit
	default:
		return n
	}
}

// propose asks the model for candidates. Upstream failures are returned so
// the boundary can map them; unusable output yields an empty list.
func (s *Service) propose(ctx context.Context, c model.Criteria, limit int) ([]extract.Candidate, error) {
	if s.client == nil {
		return nil, eris.New("discovery: no model client configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	temp := 0.4
	resp, err := s.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		System:      []anthropic.SystemBlock{{Text: systemPrompt, Cacheable: true}},
		Messages:    []anthropic.Message{{Role: "user", Content: buildPrompt(c, limit)}},
		Temperature: &temp,
		Tools:       []anthropic.Tool{proposeTool},
		ToolChoice:  toolName,
	})
	if err != nil {
		return nil, eris.Wrap(err, "discovery: propose prospects")
	}
	resp.Usage.LogCost(s.model, "discovery")

	return extract.ExtractCandidates(extract.ModelOutput{
		ToolInputs: resp.ToolInputs(toolName),
		Text:       resp.Text(),
	}), nil
}

// locate geocodes candidates and builds their dossiers.
func (s *Service) locate(ctx context.Context, sessionID string, cands []extract.Candidate) []model.ProspectDossier {
	targets := make([]geo.Target, len(cands))
	for i, c := range cands {
		targets[i] = geo.Target{Key: model.ProspectKey(c.Name, c.State), Name: c.Name, City: c.City, State: c.State}
	}

	enricher := s.enricher
	if enricher == nil {
		enricher = geo.NewEnricher(nil)
	}
	points := enricher.Enrich(ctx, targets)

	out := make([]model.ProspectDossier, len(cands))
	for i, c := range cands {
		p := points[targets[i].Key]
		out[i] = model.ProspectDossier{
			SessionID:   sessionID,
			ProspectKey: targets[i].Key,
			Name:        c.Name,
			City:        c.City,
			State:       c.State,
			Lat:         p.Lat,
			Lng:         p.Lng,
			Dossier:     model.Dossier{Score: c.Score, Angles: nonNil(c.Angles), Summary: c.Reasoning},
			Status:      model.DossierStatusQueued,
		}
	}
	return out
}

// Collapse keeps one candidate per prospect key, the highest scored, and
// orders the result by descending score. Ties keep their original order.
func Collapse(cands []extract.Candidate) []extract.Candidate {
	idx := make(map[string]int, len(cands))
	out := make([]extract.Candidate, 0, len(cands))
	for _, c := range cands {
		key := model.ProspectKey(c.Name, c.State)
		if i, ok := idx[key]; ok {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		idx[key] = len(out)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func mergeCriteria(base model.Criteria, req Request) model.Criteria {
	c := base
	if req.ProductDescription != "" {
		c.ProductDescription = req.ProductDescription
	}
	if len(req.States) > 0 {
		c.States = req.States
	}
	if len(req.TargetCategories) > 0 {
		c.TargetCategories = req.TargetCategories
	}
	if len(req.Competitors) > 0 {
		c.Competitors = req.Competitors
	}
	return c
}

func toProspects(ds []model.ProspectDossier) []Prospect {
	out := make([]Prospect, len(ds))
	for i, d := range ds {
		out[i] = Prospect{
			ProspectID:     d.ProspectKey,
			Name:           d.Name,
			City:           d.City,
			State:          d.State,
			Lat:            d.Lat,
			Lng:            d.Lng,
			InitialScore:   d.Dossier.Score,
			Angles:         nonNil(d.Dossier.Angles),
			ResearchStatus: d.Status,
		}
	}
	return out
}

func toJobs(jobs []model.ResearchJob) []Job {
	out := make([]Job, len(jobs))
	for i, j := range jobs {
		out[i] = Job{JobID: j.ID, ProspectID: j.ProspectKey, Status: j.Status}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func buildPrompt(c model.Criteria, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", c.ProductDescription)
	fmt.Fprintf(&b, "Territory (states): %s\n", listOrAny(c.States))
	fmt.Fprintf(&b, "Target categories: %s\n", listOrAny(c.TargetCategories))
	fmt.Fprintf(&b, "Competitors: %s\n\n", listOrAny(c.Competitors))
	fmt.Fprintf(&b, "Propose up to %d real organizations in the territory that are likely buyers. ", limit)
	b.WriteString("Score each from 0 to 100 by fit and give two to four short angle tags.")
	return b.String()
}

func listOrAny(items []string) string {
	if len(items) == 0 {
		return "any"
	}
	return strings.Join(items, ", ")
}

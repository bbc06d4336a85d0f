package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/agents"
	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/discovery"
	"github.com/sells-group/prospector/internal/geo"
	"github.com/sells-group/prospector/internal/playbook"
	"github.com/sells-group/prospector/internal/research"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/anthropic"
	"github.com/sells-group/prospector/pkg/geocode"
	"github.com/sells-group/prospector/pkg/perplexity"
)

// appEnv holds the store and the services built on top of it.
type appEnv struct {
	Store     store.Store
	Discovery *discovery.Service
	Research  *research.Service
	Agents    *agents.Pool
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	dsn := cfg.Store.DatabaseURL
	if cfg.Store.Driver == "sqlite" && dsn == "" {
		dsn = "prospector.db"
	}
	st, err := store.Open(ctx, cfg.Store.Driver, dsn, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	return st, nil
}

func newAnthropic() anthropic.Client {
	var opts []anthropic.Option
	if cfg.Anthropic.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	opts = append(opts, anthropic.WithMaxRetries(cfg.Anthropic.MaxRetries))
	return anthropic.NewClient(cfg.Anthropic.Key, opts...)
}

// newPerplexity returns nil without a key so the agents degrade instead of
// calling the API unauthenticated.
func newPerplexity() perplexity.Client {
	if cfg.Perplexity.Key == "" {
		zap.L().Warn("PROSPECTOR_PERPLEXITY_KEY not set, research agents will degrade to defaults")
		return nil
	}
	return perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
	)
}

func newEnricher() *geo.Enricher {
	opts := []geo.Option{
		geo.WithBatchSize(cfg.Geocode.BatchSize),
		geo.WithTimeout(config.Seconds(cfg.Geocode.TimeoutSecs)),
		geo.WithBreaker(resilience.NewBreaker(cfg.Geocode.BreakerThreshold, config.Seconds(cfg.Geocode.BreakerCooldown))),
	}
	if cfg.Geocode.GoogleKey == "" {
		zap.L().Debug("PROSPECTOR_GEOCODE_GOOGLE_KEY not set, using state centroids")
		return geo.NewEnricher(nil, opts...)
	}
	gc := geocode.NewClient(cfg.Geocode.GoogleKey, geocode.WithRateLimit(cfg.Geocode.RateLimit))
	return geo.NewEnricher(gc, opts...)
}

// initEnv validates mode, opens and migrates the store and wires every
// service. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	llm := newAnthropic()

	disc := discovery.NewService(st, llm, newEnricher(),
		discovery.WithModel(cfg.Anthropic.DiscoveryModel),
		discovery.WithMaxTokens(cfg.Anthropic.MaxTokens),
		discovery.WithTimeout(config.Seconds(cfg.Discovery.TimeoutSecs)),
		discovery.WithLimits(cfg.Discovery.DefaultLimit, cfg.Discovery.MaxLimit),
	)

	pool, err := agents.NewPool(newPerplexity(), st,
		agents.WithModel(cfg.Perplexity.Model),
		agents.WithTimeout(config.Seconds(cfg.Agents.TimeoutSecs)),
	)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init agents")
	}

	synth := playbook.NewSynthesizer(llm,
		playbook.WithModel(cfg.Anthropic.SynthesisModel),
		playbook.WithMaxTokens(cfg.Anthropic.MaxTokens),
		playbook.WithTimeout(config.Seconds(cfg.Synthesis.TimeoutSecs)),
	)

	return &appEnv{
		Store:     st,
		Discovery: disc,
		Research:  research.NewService(st, pool, synth),
		Agents:    pool,
	}, nil
}

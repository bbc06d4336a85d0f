// Package config loads prospector configuration from an optional config.yaml
// and PROSPECTOR_ environment variables.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Agents     AgentsConfig     `yaml:"agents" mapstructure:"agents"`
	Synthesis  SynthesisConfig  `yaml:"synthesis" mapstructure:"synthesis"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Auth       AuthConfig       `yaml:"auth" mapstructure:"auth"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Poller     PollerConfig     `yaml:"poller" mapstructure:"poller"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	DiscoveryModel string `yaml:"discovery_model" mapstructure:"discovery_model"`
	SynthesisModel string `yaml:"synthesis_model" mapstructure:"synthesis_model"`
	MaxTokens      int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// GeocodeConfig configures the geocoding enricher.
type GeocodeConfig struct {
	GoogleKey        string  `yaml:"google_key" mapstructure:"google_key"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	BatchSize        int     `yaml:"batch_size" mapstructure:"batch_size"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldown  int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// AgentsConfig configures the research agent pool.
type AgentsConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SynthesisConfig configures playbook synthesis.
type SynthesisConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// DiscoveryConfig configures prospect discovery.
type DiscoveryConfig struct {
	DefaultLimit int `yaml:"default_limit" mapstructure:"default_limit"`
	MaxLimit     int `yaml:"max_limit" mapstructure:"max_limit"`
	TimeoutSecs  int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
}

// NotionConfig holds Notion API credentials and the playbook database ID.
type NotionConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	PlaybookDB string `yaml:"playbook_db" mapstructure:"playbook_db"`
}

// TemporalConfig configures the Temporal client and worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// PollerConfig configures the status poller.
type PollerConfig struct {
	MinIntervalMS int `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	MaxIntervalMS int `yaml:"max_interval_ms" mapstructure:"max_interval_ms"`
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// WorkerConfig configures the dossier job consumer.
type WorkerConfig struct {
	IdleSecs    int `yaml:"idle_secs" mapstructure:"idle_secs"`
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Seconds converts a seconds setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

var envOnlyKeys = []string{
	"store.database_url",
	"anthropic.key",
	"anthropic.base_url",
	"perplexity.key",
	"geocode.google_key",
	"auth.jwt_secret",
	"notion.token",
	"notion.playbook_db",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.discovery_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.synthesis_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.max_retries", 2)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("geocode.rate_limit", 10)
	v.SetDefault("geocode.batch_size", 3)
	v.SetDefault("geocode.timeout_secs", 10)
	v.SetDefault("geocode.breaker_threshold", 5)
	v.SetDefault("geocode.breaker_cooldown_secs", 60)
	v.SetDefault("agents.timeout_secs", 90)
	v.SetDefault("synthesis.timeout_secs", 120)
	v.SetDefault("discovery.default_limit", 10)
	v.SetDefault("discovery.max_limit", 25)
	v.SetDefault("discovery.timeout_secs", 90)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "prospector-research")
	v.SetDefault("poller.min_interval_ms", 1000)
	v.SetDefault("poller.max_interval_ms", 10000)
	v.SetDefault("poller.timeout_secs", 600)
	v.SetDefault("worker.idle_secs", 5)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs.
func (c *Config) Validate(mode string) error {
	var errs []string

	needStore := func() {
		if c.Store.Driver != "sqlite" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}

	switch mode {
	case "serve":
		needStore()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "discover":
		needStore()
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "research", "worker":
		needStore()
		if c.Perplexity.Key == "" {
			errs = append(errs, "perplexity.key is required")
		}
	case "migrate", "export":
		needStore()
	case "publish":
		needStore()
		if c.Notion.Token == "" {
			errs = append(errs, "notion.token is required")
		}
		if c.Notion.PlaybookDB == "" {
			errs = append(errs, "notion.playbook_db is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Geocode.BatchSize < 1 || c.Geocode.BatchSize > 10 {
		errs = append(errs, "geocode.batch_size must be between 1 and 10")
	}
	if c.Discovery.DefaultLimit > c.Discovery.MaxLimit {
		errs = append(errs, "discovery.default_limit must not exceed discovery.max_limit")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

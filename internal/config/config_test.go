package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 3, cfg.Geocode.BatchSize)
	assert.Equal(t, 90, cfg.Agents.TimeoutSecs)
	assert.Equal(t, 10, cfg.Discovery.DefaultLimit)
	assert.Equal(t, 25, cfg.Discovery.MaxLimit)
	assert.Equal(t, "sonar-pro", cfg.Perplexity.Model)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.SynthesisModel)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "prospector-research", cfg.Temporal.TaskQueue)
	assert.Equal(t, 1000, cfg.Poller.MinIntervalMS)
	assert.Equal(t, 10000, cfg.Poller.MaxIntervalMS)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: prospector.db
log:
  level: debug
  format: console
server:
  port: 9090
  cors_origins: ["https://app.example.com"]
discovery:
  max_limit: 15
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "prospector.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 15, cfg.Discovery.MaxLimit)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Discovery.DefaultLimit)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("PROSPECTOR_STORE_DRIVER", "postgres")
	t.Setenv("PROSPECTOR_LOG_LEVEL", "warn")
	t.Setenv("PROSPECTOR_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoadSecretsFromEnvOnly(t *testing.T) {
	chdirTemp(t)

	env := map[string]string{
		"PROSPECTOR_STORE_DATABASE_URL": "postgres://db/prospector",
		"PROSPECTOR_ANTHROPIC_KEY":      "sk-ant",
		"PROSPECTOR_ANTHROPIC_BASE_URL": "http://llm.local",
		"PROSPECTOR_PERPLEXITY_KEY":     "pplx",
		"PROSPECTOR_GEOCODE_GOOGLE_KEY": "gkey",
		"PROSPECTOR_AUTH_JWT_SECRET":    "jwt",
		"PROSPECTOR_NOTION_TOKEN":       "ntn",
		"PROSPECTOR_NOTION_PLAYBOOK_DB": "db123",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://db/prospector", cfg.Store.DatabaseURL)
	assert.Equal(t, "sk-ant", cfg.Anthropic.Key)
	assert.Equal(t, "http://llm.local", cfg.Anthropic.BaseURL)
	assert.Equal(t, "pplx", cfg.Perplexity.Key)
	assert.Equal(t, "gkey", cfg.Geocode.GoogleKey)
	assert.Equal(t, "jwt", cfg.Auth.JWTSecret)
	assert.Equal(t, "ntn", cfg.Notion.Token)
	assert.Equal(t, "db123", cfg.Notion.PlaybookDB)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.DatabaseURL = "postgres://localhost/prospector"
	cfg.Server.Port = 8080
	cfg.Anthropic.Key = "sk-ant"
	cfg.Perplexity.Key = "pplx"
	cfg.Geocode.BatchSize = 3
	cfg.Discovery.DefaultLimit = 10
	cfg.Discovery.MaxLimit = 25
	return cfg
}

func TestValidate(t *testing.T) {
	for _, mode := range []string{"serve", "discover", "research", "worker", "migrate", "export"} {
		assert.NoError(t, validDefaults().Validate(mode), mode)
	}

	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Anthropic.Key = ""
	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg = validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("migrate"))

	err = validDefaults().Validate("publish")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion.token is required")

	cfg = validDefaults()
	cfg.Geocode.BatchSize = 0
	cfg.Discovery.DefaultLimit = 30
	err = cfg.Validate("export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geocode.batch_size")
	assert.Contains(t, err.Error(), "default_limit")

	assert.ErrorContains(t, validDefaults().Validate("unknown"), "unknown mode")
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 90*time.Second, Seconds(90))
}

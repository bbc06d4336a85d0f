package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "migrate", "discover", "research", "worker", "poll", "export", "publish"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "prospector", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestResearchCommand_Flags(t *testing.T) {
	for _, name := range []string{"request", "caller", "account", "retry", "temporal"} {
		assert.NotNil(t, researchCmd.Flags().Lookup(name), "research should have --%s flag", name)
	}
	assert.Equal(t, "false", researchCmd.Flags().Lookup("retry").DefValue)
}

func TestDiscoverCommand_Flags(t *testing.T) {
	for _, name := range []string{"session", "states", "categories", "competitors", "limit"} {
		assert.NotNil(t, discoverCmd.Flags().Lookup(name), "discover should have --%s flag", name)
	}
}

func TestWorkerAndPollCommand_Flags(t *testing.T) {
	assert.NotNil(t, workerCmd.Flags().Lookup("temporal"))
	assert.NotNil(t, workerCmd.Flags().Lookup("once"))
	flag := pollCmd.Flags().Lookup("api")
	require.NotNil(t, flag)
	assert.Equal(t, "http://localhost:8080", flag.DefValue)
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store:     config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "cmd.db")},
		Geocode:   config.GeocodeConfig{BatchSize: 3, BreakerThreshold: 5, BreakerCooldown: 30},
		Discovery: config.DiscoveryConfig{DefaultLimit: 10, MaxLimit: 25},
	}
}

func TestInitEnv_SQLite(t *testing.T) {
	cfg = sqliteConfig(t)
	t.Cleanup(func() { cfg = nil })

	env, err := initEnv(context.Background(), "migrate")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Discovery)
	assert.NotNil(t, env.Research)
	assert.Len(t, env.Agents.Specs(), 5)
}

func TestInitEnv_ValidatesMode(t *testing.T) {
	cfg = sqliteConfig(t)
	t.Cleanup(func() { cfg = nil })

	_, err := initEnv(context.Background(), "discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"prospects": 3}))
	assert.Equal(t, "{\n  \"prospects\": 3\n}\n", buf.String())
}

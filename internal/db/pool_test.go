package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig("postgres://user:pw@localhost:5432/prospector", PoolSettings{})
	require.NoError(t, err)
	assert.Equal(t, int32(10), cfg.MaxConns)
	assert.Equal(t, int32(2), cfg.MinConns)
	assert.Equal(t, 30*time.Minute, cfg.MaxConnLifetime)
	assert.Equal(t, 5*time.Minute, cfg.MaxConnIdleTime)
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := ParseConfig("postgres://localhost/prospector", PoolSettings{MaxConns: 4, MinConns: 8})
	require.NoError(t, err)
	assert.Equal(t, int32(4), cfg.MaxConns)
	assert.Equal(t, int32(4), cfg.MinConns, "min is capped at max")
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://localhost:notaport/x", PoolSettings{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: parse database url")
}

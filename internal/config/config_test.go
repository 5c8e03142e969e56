package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "http://localhost:8080", cfg.Application.BaseURL)

	assert.Equal(t, 4, cfg.Delivery.WorkerCount)
	assert.Equal(t, 3, cfg.Delivery.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Delivery.BackoffBase)
	assert.Equal(t, 30*time.Minute, cfg.Delivery.BackoffMax)

	assert.Equal(t, 48*time.Hour, cfg.Idempotency.Lifetime)
	assert.Equal(t, 5, cfg.RateLimit.RPS)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "mailrelay-primary", cfg.Providers[0].Name)
	assert.True(t, cfg.Providers[0].Enabled)
}

func TestLoadMergesUserFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9999"
delivery:
  max_retries: 7
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 7, cfg.Delivery.MaxRetries)
	// untouched keys keep their defaults
	assert.Equal(t, 4, cfg.Delivery.WorkerCount)
}

func TestLoadIgnoresMissingUserFile(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

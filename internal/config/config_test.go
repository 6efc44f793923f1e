/*-------------------------------------------------------------------------
 *
 * config_test.go
 *    Tests for configuration loading
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/config/config_test.go
 *
 *-------------------------------------------------------------------------
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidatesInHeaderMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Mode = "header"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60*time.Second, cfg.Webhooks.SweepInterval)
	assert.Equal(t, 100, cfg.Webhooks.SweepBatchSize)
	assert.NotEmpty(t, cfg.Pricing.Seed)
}

func TestValidateRejectsJWTWithoutSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Mode = "jwt"
	cfg.Auth.JWTSecret = ""
	assert.Error(t, cfg.Validate())

	cfg.Auth.Mode = "basic"
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.yaml")
	content := `
server:
  port: 9100
database:
  host: db.internal
  max_open_conns: 200
webhooks:
  sweep_interval: 30s
  workers: 4
pricing:
  seed:
    - provider: openai
      model: gpt-test
      input_per_1m: "1.00"
      output_per_1m: "2.00"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("DB_NAME", "ledger_test")
	t.Setenv("WEBHOOK_WORKERS", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 200, cfg.Database.MaxOpenConns)
	assert.Equal(t, "ledger_test", cfg.Database.Database)
	assert.Equal(t, 30*time.Second, cfg.Webhooks.SweepInterval)
	assert.Equal(t, 7, cfg.Webhooks.Workers)
	require.Len(t, cfg.Pricing.Seed, 1)
	assert.Equal(t, "gpt-test", cfg.Pricing.Seed[0].Model)
	/* untouched defaults survive */
	assert.Equal(t, 100, cfg.Webhooks.SweepBatchSize)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.NotNil(t, cfg)
}

func TestGetEnvSlice(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, getEnvSlice("CORS_ALLOWED_ORIGINS", nil))
}

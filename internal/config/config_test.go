package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "smartpesa", cfg.App.Name)
	assert.Equal(t, 30, cfg.Forecast.MinDays)
	assert.Equal(t, 365, cfg.Forecast.HistoryDays)
	assert.Equal(t, 100, cfg.Forecast.Trees)
	assert.Equal(t, 10, cfg.Forecast.MaxDepth)
	assert.Equal(t, int64(42), cfg.Forecast.Seed)
	assert.InDelta(t, 0.8, cfg.Forecast.IntervalWidth, 1e-12)
	assert.Equal(t, 720*time.Hour, cfg.Credit.Validity)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
forecast:
  trees: 20
  extended: true
credit:
  validity: 48h
server:
  allowed_origins: "https://a.example,https://b.example"
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("SMARTPESA_FORECAST_MIN_DAYS", "45")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Forecast.Trees)
	assert.True(t, cfg.Forecast.Extended)
	assert.Equal(t, 45, cfg.Forecast.MinDays)
	assert.Equal(t, 48*time.Hour, cfg.Credit.Validity)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"interval width", func(c *Config) { c.Forecast.IntervalWidth = 1 }},
		{"history shorter than minimum", func(c *Config) { c.Forecast.HistoryDays = 10 }},
		{"no workers", func(c *Config) { c.Credit.Workers = 0 }},
		{"bad level", func(c *Config) { c.Alerting.MinLevel = "CRITICAL" }},
		{"telegram without token", func(c *Config) {
			c.Alerting.Telegram.Enabled = true
			c.Alerting.Telegram.ChatID = "1"
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := *base
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 50}}
	assert.Equal(t, 50, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 7, cfg.ResolveMaxPoints(7))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Notion.Token = "secret_abc"
	cfg.Notion.DatabaseID = "db-1"
	return cfg
}

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", cfg.RefreshCron)
	assert.Equal(t, 30, cfg.Sync.LookbackDays)
	assert.True(t, cfg.Sync.Content())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Listen, again.Listen)
	assert.True(t, DefaultRolloutCutoff.Equal(again.Sync.RolloutCutoff))
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: America/Los_Angeles
notion:
  token: secret_x
  database_id: db-9
sync:
  lookahead_days: 14
  sync_content: false
  rollout_cutoff: 2025-11-01T00:00:00Z
properties:
  date: When
log:
  level: WARNING
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "America/Los_Angeles", cfg.Timezone)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, 14, cfg.Sync.LookaheadDays)
	assert.Equal(t, 30, cfg.Sync.LookbackDays)
	assert.False(t, cfg.Sync.Content())
	assert.True(t, time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC).Equal(cfg.Sync.RolloutCutoff))
	assert.Equal(t, "When", cfg.Properties.Date)
	assert.Equal(t, "Recurring Source", cfg.Properties.IsSource)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3.0, cfg.Notion.RequestsPerSecond)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, DefaultConfig()))

	t.Setenv("NOTION_TOKEN", "secret_env")
	t.Setenv("NOTION_DATABASE_ID", "db-env")
	t.Setenv("RECURCAL_LISTEN", "0.0.0.0:9000")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret_env", cfg.Notion.Token)
	assert.Equal(t, "db-env", cfg.Notion.DatabaseID)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: Europe/Berlin
notion:
  token: secret_file
  database_id: db-file
sync:
  rollout_cutoff: 2025-12-01
`), 0o600))

	t.Setenv("NOTION_TOKEN", "  ")
	t.Setenv("RECURCAL_TIMEZONE", "Asia/Seoul")
	t.Setenv("NOTION_VERSION", "2099-01-01")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret_file", cfg.Notion.Token, "blank variable keeps the file value")
	assert.Equal(t, "db-file", cfg.Notion.DatabaseID)
	assert.Equal(t, "Asia/Seoul", cfg.Timezone)
	assert.Empty(t, cfg.Notion.Version, "unmapped variables are ignored")
	assert.True(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC).Equal(cfg.Sync.RolloutCutoff))
}

func TestLoad_BadCutoff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  rollout_cutoff: next tuesday\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next tuesday")
}

func TestWarnings_UTCTimezone(t *testing.T) {
	cfg := validConfig()
	require.Len(t, cfg.Warnings(), 1)
	assert.Contains(t, cfg.Warnings()[0], "daylight saving")

	cfg.Timezone = "America/New_York"
	assert.Empty(t, cfg.Warnings())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [oops"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	err := DefaultConfig().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion.token is required")
	assert.Contains(t, err.Error(), "notion.database_id is required")

	cfg := validConfig()
	cfg.RefreshCron = "every hour"
	cfg.Timezone = "Mars/Olympus"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `refresh: invalid cron spec "every hour"`)
	assert.Contains(t, err.Error(), `timezone: unknown time zone "Mars/Olympus"`)

	cfg = validConfig()
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin"}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "basic_auth.password is required")
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "hunter2"}

	s := cfg.String()
	assert.NotContains(t, s, "secret_abc")
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "admin")
	assert.Equal(t, "secret_abc", cfg.Notion.Token, "original untouched")
	assert.Equal(t, "hunter2", cfg.BasicAuth.Password)
}

func TestLocation(t *testing.T) {
	cfg := validConfig()
	cfg.Timezone = "Asia/Seoul"
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", loc.String())
}

package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyEnvDefaultsFlagWins(t *testing.T) {
	t.Setenv("TPTRACKER_STORAGE_PATH", "/env/db.sqlite3")
	t.Setenv("TPTRACKER_WORKERS", "9")
	t.Setenv("TPTRACKER_POLL_TIMEOUT", "45s")
	t.Setenv("TPTRACKER_TENANTS", "alice=k1, bob=k2")
	t.Setenv("TPTRACKER_PERSIST_LOGS", "true")

	cfg := DefaultConfig()
	fs := NewConfigFlagSet(&cfg)
	require.NoError(t, fs.Parse([]string{"--storage-path", "/flag/db.sqlite3"}))
	require.NoError(t, ApplyEnvDefaults(fs, &cfg))

	require.Equal(t, "/flag/db.sqlite3", cfg.StoragePath)
	require.Equal(t, 9, cfg.Workers)
	require.Equal(t, 45*time.Second, cfg.PollTimeout)
	require.Equal(t, []string{"alice=k1", "bob=k2"}, cfg.Tenants)
	require.True(t, cfg.PersistLogs)
}

func TestApplyEnvDefaultsReportsBadValues(t *testing.T) {
	t.Setenv("TPTRACKER_WORKERS", "many")
	t.Setenv("TPTRACKER_POLL_TIMEOUT", "soon")

	cfg := DefaultConfig()
	fs := NewConfigFlagSet(&cfg)
	require.NoError(t, fs.Parse(nil))

	err := ApplyEnvDefaults(fs, &cfg)
	require.Error(t, err)
	require.ErrorContains(t, err, "TPTRACKER_WORKERS")
	require.ErrorContains(t, err, "TPTRACKER_POLL_TIMEOUT")
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.env")
	require.NoError(t, os.WriteFile(path, []byte("TPTRACKER_TEST_SCHEDULE=@every 5m\n"), 0o600))
	t.Setenv("TPTRACKER_TEST_SCHEDULE", "")
	require.NoError(t, os.Unsetenv("TPTRACKER_TEST_SCHEDULE"))

	cfg := DefaultConfig()
	fs := NewConfigFlagSet(&cfg)
	require.NoError(t, fs.Parse([]string{"--env-file", path}))
	require.NoError(t, LoadEnvFile(fs, &cfg))
	require.Equal(t, "@every 5m", os.Getenv("TPTRACKER_TEST_SCHEDULE"))

	cfg.EnvFile = filepath.Join(dir, "missing.env")
	require.NoError(t, LoadEnvFile(fs, &cfg))
}

func TestTenantSpecs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GW2Key = "legacy"
	cfg.Tenants = []string{"alice = k1", "bob=k2"}

	specs, err := TenantSpecs(cfg)
	require.NoError(t, err)
	require.Equal(t, []TenantSpec{
		{Name: DefaultTenantName, APIKey: "legacy"},
		{Name: "alice", APIKey: "k1"},
		{Name: "bob", APIKey: "k2"},
	}, specs)

	t.Run("duplicate name", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Tenants = []string{"alice=k1", "alice=k2"}
		_, err := TenantSpecs(cfg)
		require.ErrorContains(t, err, `tenant "alice" configured twice`)
	})

	t.Run("malformed entry hides key", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Tenants = []string{"alice="}
		_, err := TenantSpecs(cfg)
		require.Error(t, err)
		require.ErrorContains(t, err, "alice=***")

		cfg.Tenants = []string{"SECRETKEYVALUE"}
		_, err = TenantSpecs(cfg)
		require.Error(t, err)
		require.NotContains(t, err.Error(), "SECRETKEYVALUE")
	})
}

func TestValidateConfig(t *testing.T) {
	cfg := DefaultConfig()
	err := ValidateConfig(cfg)
	require.ErrorContains(t, err, "tenant or gw2-key")

	cfg.GW2Key = "k"
	require.NoError(t, ValidateConfig(cfg))

	cfg.Workers = 0
	require.ErrorContains(t, ValidateConfig(cfg), "workers must be positive")

	cfg.Workers = 1
	cfg.RateLimit = -1
	require.ErrorContains(t, ValidateConfig(cfg), "rate-limit")

	cfg.RateLimit = 0
	cfg.StoragePath = " "
	require.ErrorContains(t, ValidateConfig(cfg), "storage-path")
}

func TestGetLogHandler(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	cfg.LogFormatJSON = true
	cfg.LogGroups = []string{"poller"}

	logger := slog.New(GetLogHandler(cfg, &buf))
	logger.WithGroup("poller").Info("below level")
	logger.WithGroup("gw2").Warn("filtered group")
	logger.WithGroup("poller").Warn("kept")

	out := buf.String()
	require.Contains(t, out, `"msg":"kept"`)
	require.NotContains(t, out, "below level")
	require.NotContains(t, out, "filtered group")
}

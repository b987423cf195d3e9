package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, "data/ledger.json", cfg.Ledger.Path)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Order.ProcessingTimeout.Duration())
	assert.Equal(t, 10*time.Second, cfg.Sweep.Interval.Duration())
	assert.Equal(t, 30*time.Second, cfg.DayCheck.Interval.Duration())
	assert.Equal(t, 1024, cfg.Events.History)
	assert.Equal(t, 64, cfg.Events.Buffer)
	assert.Equal(t, 5*time.Minute, cfg.Recovery.PendingTTL.Duration())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
ledger:
  path: /var/lib/orderledger/ledger.json
order:
  processing_timeout: 90s
  default_rate: "3.5"
log:
  level: debug
  format: console
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "/var/lib/orderledger/ledger.json", cfg.Ledger.Path)
	assert.Equal(t, 90*time.Second, cfg.Order.ProcessingTimeout.Duration())
	assert.Equal(t, "3.5", cfg.Order.DefaultRate)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched sections still get defaults.
	assert.Equal(t, 10*time.Second, cfg.Sweep.Interval.Duration())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0o644))

	t.Setenv("ORDERLEDGER_SERVER_ADDR", ":7777")
	t.Setenv("ORDERLEDGER_ORDER_PROCESSING_TIMEOUT", "45s")
	t.Setenv("ORDERLEDGER_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, 45*time.Second, cfg.Order.ProcessingTimeout.Duration())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not: a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDuration_RejectsNegative(t *testing.T) {
	var d Duration
	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	require.NoError(t, d.UnmarshalText([]byte("1h30m")))
	assert.Equal(t, 90*time.Minute, d.Duration())
}

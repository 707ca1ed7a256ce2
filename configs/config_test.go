package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
db:
  driver: memory
jwt:
  secret: s3cret
ledger:
  lock_timeout: 250ms
  critical_threshold: "500.00"
  credit_requires_approval: true
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	cfg, err := LoadConfigFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.DB.Driver)
	assert.Equal(t, "s3cret", cfg.JWT.SECRET)
	assert.Equal(t, 250*time.Millisecond, cfg.Ledger.LockTimeout)
	assert.Equal(t, "500.00", cfg.Ledger.CriticalThreshold)
	assert.True(t, cfg.Ledger.CreditRequiresApproval)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Mirror.MaxAttempts)
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfigFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "local", cfg.Lock.Driver)
	assert.Equal(t, 5*time.Second, cfg.Ledger.LockTimeout)
	assert.Equal(t, "0", cfg.Ledger.CriticalThreshold)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("LEDGER_LOCK_TIMEOUT", "2s")
	t.Setenv("LOCK_DRIVER", "redis")

	cfg, err := LoadConfigFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Ledger.LockTimeout)
	assert.Equal(t, "redis", cfg.Lock.Driver)
}

func TestLoadConfigEnvKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("env: development\n"), 0o600))

	t.Setenv("ENV", "")
	cfg, err := LoadConfigFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Env)

	t.Setenv("ENV", "production")
	cfg, err = LoadConfigFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Env)

	cfg, err = LoadConfigFrom(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Env)
}

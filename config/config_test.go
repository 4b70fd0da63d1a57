package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: "9000"
database:
  driver: memory
sessions:
  history_default_limit: 20
  history_max_limit: 40
conference:
  domain: meet.example.org
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("HISTORY_MAX_LIMIT", "60")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port, "env overrides file")
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 20, cfg.Sessions.HistoryDefaultLimit)
	assert.Equal(t, 60, cfg.Sessions.HistoryMaxLimit)
	assert.Equal(t, "meet.example.org", cfg.Conference.Domain)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 30, cfg.Server.ReadTimeout, "defaults survive")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", c.DSN())

	c.URL = "postgres://other"
	assert.Equal(t, "postgres://other", c.DSN())
}

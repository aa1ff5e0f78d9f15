package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deposit-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	c, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 15*time.Second, c.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite3", c.Database.Driver)
	assert.Equal(t, "deposits.db", c.Database.DSN)
	assert.Empty(t, c.Redis.Addr)
	assert.True(t, c.Jobs.Enabled)
	assert.Equal(t, "0 2 * * *", c.Jobs.TrackSchedule)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 5*time.Minute, c.Catalog.CacheTTL)
}

func TestLoad_FileAndEnv(t *testing.T) {
	// GIVEN: A YAML file and an environment override
	// WHEN: Configuration is loaded
	// THEN: The environment wins over the file, the file over defaults

	path := filepath.Join(t.TempDir(), "deposit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
database:
  driver: postgres
  dsn: postgres://localhost/deposits?sslmode=disable
jobs:
  track_schedule: "30 1 * * *"
`), 0o600))
	t.Setenv("DEPOSIT_SERVER_PORT", "9191")
	t.Setenv("DEPOSIT_REDIS_ADDR", "localhost:6379")

	c, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, c.Server.Port)
	assert.Equal(t, "postgres", c.Database.Driver)
	assert.Equal(t, "postgres://localhost/deposits?sslmode=disable", c.Database.DSN)
	assert.Equal(t, "localhost:6379", c.Redis.Addr)
	assert.Equal(t, "30 1 * * *", c.Jobs.TrackSchedule)
	assert.True(t, c.Jobs.ApplyPenalties)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0o600))
	_, err = config.Load(path)
	assert.ErrorContains(t, err, "database.driver")
}

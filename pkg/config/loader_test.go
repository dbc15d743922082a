package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestLoadConfigMergesEnvironmentOverBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
  name: localrank
server:
  port: ":8080"
`)
	writeFile(t, dir, "staging.yaml", `
db:
  host: db.staging
`)

	merged, err := LoadConfig("staging", dir)
	require.NoError(t, err)

	cfg, err := Decode(merged)
	require.NoError(t, err)
	assert.Equal(t, "db.staging", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port, "nested keys not present in the env file survive the merge")
	assert.Equal(t, "localrank", cfg.DB.Name)
	assert.Equal(t, ":8080", cfg.Server.Port)
}

func TestLoadConfigMissingEnvFileFallsBackToBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "store:\n  driver: sqlite\n")

	merged, err := LoadConfig("production", dir)
	require.NoError(t, err)

	cfg, err := Decode(merged)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadConfigSubstitutesSecretsAndSystemEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
jwt:
  secret: "${LOCALRANK_TEST_JWT}"
db:
  password: "${LOCALRANK_TEST_DB_PASSWORD}"
  user: "${LOCALRANK_TEST_UNSET}"
`)
	writeFile(t, dir, "secrets.env", `
# comment
LOCALRANK_TEST_JWT="from-secrets"
LOCALRANK_TEST_DB_PASSWORD='secret-pw'
`)
	t.Setenv("LOCALRANK_TEST_JWT", "from-env")

	merged, err := LoadConfig("", dir)
	require.NoError(t, err)

	cfg, err := Decode(merged)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Secret, "system env wins over secrets.env")
	assert.Equal(t, "secret-pw", cfg.DB.Password)
	assert.Equal(t, "${LOCALRANK_TEST_UNSET}", cfg.DB.User, "unknown placeholders are left untouched")
}

func TestLoadConfigRequiresBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base.yaml")
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
store:
  driver: postgres
engine:
  insight_delay: 2s
  seed_blueprint_tasks: true
`)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SERVER_PORT", ":9090")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, 6543, cfg.DB.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.True(t, cfg.Engine.SeedBlueprintTasks)
	assert.Equal(t, 2*time.Second, Duration(cfg.Engine.InsightDelay, time.Second))
}

func TestDurationFallsBackOnInvalidInput(t *testing.T) {
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("soon", time.Minute))
	assert.Equal(t, 150*time.Millisecond, Duration("150ms", time.Minute))
}

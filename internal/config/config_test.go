package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"POSTGRES_DSN", "POSTGRES_DB", "POSTGRES_USER", "POSTGRES_PASSWORD", "DB_HOST", "DB_PORT",
	"ELASTIC_URL", "ELASTIC_INDEX", "CHECKPOINT_BACKEND", "CHECKPOINT_PATH", "MONGO_CONNECTION_STRING",
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	configData := `
postgres:
  host: "db"
  port: "6432"
  database: "movies_database"
  user: "app"
  password: "secret"

elastic:
  url: "http://es:9200"
  index: "films"
  timeout: 5s
  requests_per_second: 2.5

checkpoint:
  backend: "mongo"
  key: "films-sync"
  mongo:
    uri: "mongodb://mongo:27017"

pipeline:
  batch_size: 50
  interval: 1m

retry:
  max_attempts: 4
  initial_backoff: 200ms
  max_backoff: 5s

log:
  level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(configData), 0o644))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "db", cfg.Postgres.Host)
	assert.Equal(t, "movies_database", cfg.Postgres.Database)
	assert.Equal(t, "http://es:9200", cfg.Elastic.URL)
	assert.Equal(t, "films", cfg.Elastic.Index)
	assert.Equal(t, 5*time.Second, cfg.Elastic.Timeout)
	assert.Equal(t, 2.5, cfg.Elastic.RequestsPerSecond)
	assert.Equal(t, "mongo", cfg.Checkpoint.Backend)
	assert.Equal(t, "films-sync", cfg.Checkpoint.Key)
	assert.Equal(t, "mongodb://mongo:27017", cfg.Checkpoint.Mongo.URI)
	assert.Equal(t, "checkpoints", cfg.Checkpoint.Mongo.Collection, "default filled in")
	assert.Empty(t, cfg.Checkpoint.Path, "no file path for a non-file backend")
	assert.Equal(t, 50, cfg.Pipeline.BatchSize)
	assert.Equal(t, time.Minute, cfg.Pipeline.Interval)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, "debug", cfg.Log.Level)

	assert.Equal(t, "postgres://app:secret@db:6432/movies_database", cfg.PostgresDSN())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:9200", cfg.Elastic.URL)
	assert.Equal(t, "movies", cfg.Elastic.Index)
	assert.Equal(t, 100, cfg.Pipeline.BatchSize)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "file", cfg.Checkpoint.Backend)
	assert.Equal(t, "state.json", cfg.Checkpoint.Path)
	assert.Equal(t, "moviesync", cfg.Checkpoint.Key)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_DSN", "postgres://u:p@pg:5432/db")
	t.Setenv("ELASTIC_URL", "http://elastic:9200")
	t.Setenv("CHECKPOINT_BACKEND", "sqlite")
	t.Setenv("CHECKPOINT_PATH", "/var/lib/moviesync/state.db")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("elastic:\n  url: http://ignored:9200\n"), 0o644))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@pg:5432/db", cfg.PostgresDSN())
	assert.Equal(t, "http://elastic:9200", cfg.Elastic.URL)
	assert.Equal(t, "sqlite", cfg.Checkpoint.Backend)
	assert.Equal(t, "/var/lib/moviesync/state.db", cfg.Checkpoint.Path)
}

func TestLoadConfig_Errors(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("pipeline: [unclosed"), 0o644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Elastic.URL = "not a url"
	cfg.Checkpoint.Backend = "redis"
	cfg.Pipeline.BatchSize = -1

	err = cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := map[string]bool{}
	for _, v := range verrs {
		fields[v.Field] = true
	}
	assert.True(t, fields["postgres"])
	assert.True(t, fields["elastic.url"])
	assert.True(t, fields["checkpoint.backend"])
	assert.True(t, fields["pipeline.batch_size"])
}

func TestValidate_MongoNeedsURI(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Postgres.Database = "movies"
	cfg.Checkpoint.Backend = "mongo"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint.mongo.uri")
}

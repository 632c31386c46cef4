// Package config loads runtime settings from a YAML file and the environment.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for a sync run.
type Config struct {
	Postgres struct {
		DSN      string `yaml:"dsn"`
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"postgres"`

	Elastic struct {
		URL               string        `yaml:"url"`
		Index             string        `yaml:"index"`
		Timeout           time.Duration `yaml:"timeout"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
	} `yaml:"elastic"`

	Checkpoint struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
		Key     string `yaml:"key"`
		Mongo   struct {
			URI        string `yaml:"uri"`
			Database   string `yaml:"database"`
			Collection string `yaml:"collection"`
		} `yaml:"mongo"`
	} `yaml:"checkpoint"`

	Pipeline struct {
		BatchSize int           `yaml:"batch_size"`
		Interval  time.Duration `yaml:"interval"`
	} `yaml:"pipeline"`

	Retry struct {
		MaxAttempts    int           `yaml:"max_attempts"`
		InitialBackoff time.Duration `yaml:"initial_backoff"`
		MaxBackoff     time.Duration `yaml:"max_backoff"`
	} `yaml:"retry"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

var defaultLocations = []string{
	"config.yaml",
	"config.yml",
	"/etc/moviesync/config.yaml",
}

// LoadConfig reads path (or the first default location that exists), then
// applies environment overrides and defaults. A missing file is not an error
// when no path was given.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		for _, loc := range defaultLocations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	}

	mergeWithEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == "" {
		cfg.Postgres.Port = "5432"
	}

	if cfg.Elastic.URL == "" {
		cfg.Elastic.URL = "http://127.0.0.1:9200"
	}
	if cfg.Elastic.Index == "" {
		cfg.Elastic.Index = "movies"
	}
	if cfg.Elastic.Timeout == 0 {
		cfg.Elastic.Timeout = 30 * time.Second
	}

	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = "file"
	}
	if cfg.Checkpoint.Path == "" && cfg.Checkpoint.Backend == "file" {
		cfg.Checkpoint.Path = "state.json"
	}
	if cfg.Checkpoint.Key == "" {
		cfg.Checkpoint.Key = "moviesync"
	}
	if cfg.Checkpoint.Mongo.Database == "" {
		cfg.Checkpoint.Mongo.Database = "moviesync"
	}
	if cfg.Checkpoint.Mongo.Collection == "" {
		cfg.Checkpoint.Mongo.Collection = "checkpoints"
	}

	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 100
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = time.Second
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = 30 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func mergeWithEnv(cfg *Config) {
	setFromEnv(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setFromEnv(&cfg.Postgres.Database, "POSTGRES_DB")
	setFromEnv(&cfg.Postgres.User, "POSTGRES_USER")
	setFromEnv(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setFromEnv(&cfg.Postgres.Host, "DB_HOST")
	setFromEnv(&cfg.Postgres.Port, "DB_PORT")

	setFromEnv(&cfg.Elastic.URL, "ELASTIC_URL")
	setFromEnv(&cfg.Elastic.Index, "ELASTIC_INDEX")

	setFromEnv(&cfg.Checkpoint.Backend, "CHECKPOINT_BACKEND")
	setFromEnv(&cfg.Checkpoint.Path, "CHECKPOINT_PATH")
	setFromEnv(&cfg.Checkpoint.Mongo.URI, "MONGO_CONNECTION_STRING")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// PostgresDSN returns the explicit DSN, or one assembled from the parts.
func (c *Config) PostgresDSN() string {
	if c.Postgres.DSN != "" {
		return c.Postgres.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Postgres.Host, c.Postgres.Port),
		Path:   "/" + c.Postgres.Database,
	}
	if c.Postgres.User != "" {
		u.User = url.UserPassword(c.Postgres.User, c.Postgres.Password)
	}
	return u.String()
}

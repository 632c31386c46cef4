package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate returns nil or a ValidationErrors.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Postgres.DSN == "" && c.Postgres.Database == "" {
		errs = append(errs, ValidationError{
			Field:   "postgres",
			Message: "either dsn or database is required",
		})
	}

	if u, err := url.Parse(c.Elastic.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "elastic.url",
			Message: "must be an absolute URL",
		})
	}
	if c.Elastic.Index == "" {
		errs = append(errs, ValidationError{Field: "elastic.index", Message: "index name is required"})
	}
	if c.Elastic.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{Field: "elastic.requests_per_second", Message: "must not be negative"})
	}

	switch c.Checkpoint.Backend {
	case "file", "badger", "sqlite":
	case "mongo":
		if c.Checkpoint.Mongo.URI == "" {
			errs = append(errs, ValidationError{
				Field:   "checkpoint.mongo.uri",
				Message: "required for the mongo backend",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "checkpoint.backend",
			Message: fmt.Sprintf("unknown backend %q (file, mongo, badger, sqlite)", c.Checkpoint.Backend),
		})
	}

	if c.Pipeline.BatchSize < 1 {
		errs = append(errs, ValidationError{Field: "pipeline.batch_size", Message: "must be positive"})
	}
	if c.Pipeline.Interval < 0 {
		errs = append(errs, ValidationError{Field: "pipeline.interval", Message: "must not be negative"})
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, ValidationError{Field: "retry.max_attempts", Message: "must be at least 1"})
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errs = append(errs, ValidationError{
			Field:   "retry.max_backoff",
			Message: "must not be shorter than initial_backoff",
		})
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

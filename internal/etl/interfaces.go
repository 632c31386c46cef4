package etl

import (
	"context"
	"time"

	"github.com/BartekS5/moviesync/pkg/elastic"
	"github.com/BartekS5/moviesync/pkg/models"
)

// Source hands out sessions against the relational store.
type Source interface {
	Open(ctx context.Context) (Session, error)
}

// Session holds one connection for the length of an extraction.
type Session interface {
	// MinPersonModified returns the oldest person modification time, nil when there are no persons.
	MinPersonModified(ctx context.Context) (*time.Time, error)
	// ChangedPersonIDs lists persons modified at or after since, oldest first.
	ChangedPersonIDs(ctx context.Context, since time.Time) ([]string, error)
	// ChangedWorkIDs lists works modified at or after since, or linked to one of
	// personIDs, oldest first.
	ChangedWorkIDs(ctx context.Context, since time.Time, personIDs []string) ([]string, error)
	// FetchWorks returns the aggregated rows for ids, oldest first.
	FetchWorks(ctx context.Context, ids []string) ([]models.SourceRow, error)
	Close()
}

// Sink accepts bulk payloads.
type Sink interface {
	Bulk(ctx context.Context, payload []byte) (*elastic.BulkResponse, error)
}

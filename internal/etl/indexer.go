package etl

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BartekS5/moviesync/internal/state"
	"github.com/BartekS5/moviesync/pkg/elastic"
	"github.com/BartekS5/moviesync/pkg/models"
	"github.com/BartekS5/moviesync/pkg/retry"
)

// DefaultIndex is the collection documents are written to.
const DefaultIndex = "movies"

// IndexResult describes one delivered bulk payload.
type IndexResult struct {
	// Resent is true when a persisted in-flight payload was sent instead of a fresh one.
	Resent   bool
	Items    int
	Rejected []elastic.ItemError
}

// Indexer delivers documents to the sink as bulk payloads. The payload is
// persisted before it is sent and cleared once the sink has answered, so an
// aborted run leaves it behind for the next attempt.
type Indexer struct {
	sink   Sink
	state  *state.State
	index  string
	retry  retry.Policy
	logger *slog.Logger
}

func NewIndexer(sink Sink, st *state.State, index string, policy retry.Policy, logger *slog.Logger) *Indexer {
	if index == "" {
		index = DefaultIndex
	}
	if policy.Retryable == nil {
		policy.Retryable = elastic.IsTransient
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &Indexer{sink: sink, state: st, index: index, retry: policy, logger: logger}
}

// Index sends docs. If an undelivered payload is already in the checkpoint it
// is sent verbatim in their place.
func (ix *Indexer) Index(ctx context.Context, docs []models.Document) (*IndexResult, error) {
	payload, pending, err := ix.state.PreparedQuery()
	if err != nil {
		return nil, err
	}

	if !pending {
		if len(docs) == 0 {
			return &IndexResult{}, nil
		}
		payload, err = BuildBulkPayload(ix.index, docs)
		if err != nil {
			return nil, err
		}
		if err := ix.state.SetPreparedQuery(ctx, payload); err != nil {
			return nil, fmt.Errorf("persist bulk payload: %w", err)
		}
	} else {
		ix.logger.Warn("resending in-flight bulk payload", slog.Int("bytes", len(payload)))
	}

	res, err := ix.send(ctx, payload)
	if err != nil {
		return nil, err
	}
	res.Resent = pending
	return res, nil
}

// Flush delivers an in-flight payload left by an earlier run, if there is one.
func (ix *Indexer) Flush(ctx context.Context) (*IndexResult, error) {
	payload, pending, err := ix.state.PreparedQuery()
	if err != nil || !pending {
		return nil, err
	}
	ix.logger.Info("delivering in-flight payload from previous run", slog.Int("bytes", len(payload)))

	res, err := ix.send(ctx, payload)
	if err != nil {
		return nil, err
	}
	res.Resent = true
	return res, nil
}

func (ix *Indexer) send(ctx context.Context, payload []byte) (*IndexResult, error) {
	var resp *elastic.BulkResponse
	err := ix.retry.Do(ctx, "bulk index", func(ctx context.Context) error {
		var err error
		resp, err = ix.sink.Bulk(ctx, payload)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bulk index: %w", err)
	}

	rejected := resp.Failed()
	for _, item := range rejected {
		ix.logger.Error("document rejected by index",
			slog.String("doc_id", item.ID),
			slog.Int("status", item.Status),
			slog.String("error", item.Reason),
		)
	}

	if err := ix.state.ClearPreparedQuery(ctx); err != nil {
		return nil, fmt.Errorf("clear bulk payload: %w", err)
	}
	return &IndexResult{Items: len(resp.Items), Rejected: rejected}, nil
}

// BuildBulkPayload renders docs into the bulk wire format for index.
func BuildBulkPayload(index string, docs []models.Document) ([]byte, error) {
	entries := make([]elastic.Entry, len(docs))
	for i, d := range docs {
		entries[i] = elastic.Entry{ID: d.ID, Source: d}
	}
	return elastic.BuildPayload(index, entries)
}

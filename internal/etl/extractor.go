package etl

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/BartekS5/moviesync/pkg/models"
	"github.com/BartekS5/moviesync/pkg/retry"
)

// DefaultBatchSize bounds how many film works go into one batch.
const DefaultBatchSize = 100

// Batch is a slice of source rows plus the latest modification time among them.
type Batch struct {
	Rows      []models.SourceRow
	Watermark time.Time
}

// Extractor finds film works changed since a watermark and yields them in batches.
type Extractor struct {
	source    Source
	batchSize int
	retry     retry.Policy
	logger    *slog.Logger
}

func NewExtractor(source Source, batchSize int, policy retry.Policy, logger *slog.Logger) *Extractor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if policy.Retryable == nil {
		policy.Retryable = IsTransientSourceError
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &Extractor{source: source, batchSize: batchSize, retry: policy, logger: logger}
}

// Extract yields batches of changed works, oldest first. A nil watermark
// starts from the oldest person modification time. Each call re-runs the
// queries; the connection is held only while the sequence is being consumed.
// After an error is yielded the sequence ends.
func (e *Extractor) Extract(ctx context.Context, watermark *time.Time) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		sess := &sessionHolder{source: e.source}
		defer sess.close()

		ids, err := e.changedWorkIDs(ctx, sess, watermark)
		if err != nil {
			yield(Batch{}, err)
			return
		}
		e.logger.Info("changed film works found", slog.Int("count", len(ids)))

		for start := 0; start < len(ids); start += e.batchSize {
			end := min(start+e.batchSize, len(ids))

			var rows []models.SourceRow
			err := e.do(ctx, sess, "fetch film works", func(s Session) error {
				var err error
				rows, err = s.FetchWorks(ctx, ids[start:end])
				return err
			})
			if err != nil {
				yield(Batch{}, err)
				return
			}

			batch, err := newBatch(rows)
			if err != nil {
				yield(Batch{}, err)
				return
			}
			if len(batch.Rows) == 0 {
				// works deleted between the id and row queries
				continue
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}

func (e *Extractor) changedWorkIDs(ctx context.Context, sess *sessionHolder, watermark *time.Time) ([]string, error) {
	var since time.Time
	if watermark != nil {
		since = *watermark
	} else {
		e.logger.Info("no watermark stored, starting from oldest person change")
		err := e.do(ctx, sess, "min person modified", func(s Session) error {
			oldest, err := s.MinPersonModified(ctx)
			if err != nil {
				return err
			}
			if oldest != nil {
				since = *oldest
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var personIDs []string
	err := e.do(ctx, sess, "changed persons", func(s Session) error {
		var err error
		personIDs, err = s.ChangedPersonIDs(ctx, since)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("changed persons found", slog.Int("count", len(personIDs)), slog.Time("since", since))

	var workIDs []string
	err = e.do(ctx, sess, "changed film works", func(s Session) error {
		var err error
		workIDs, err = s.ChangedWorkIDs(ctx, since, personIDs)
		return err
	})
	return workIDs, err
}

// do runs fn under the retry policy. A retryable failure drops the session
// so the next attempt starts on a fresh connection.
func (e *Extractor) do(ctx context.Context, sess *sessionHolder, op string, fn func(Session) error) error {
	return e.retry.Do(ctx, op, func(ctx context.Context) error {
		s, err := sess.get(ctx)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			if e.retry.IsRetryable(err) {
				sess.close()
			}
			return err
		}
		return nil
	})
}

func newBatch(rows []models.SourceRow) (Batch, error) {
	b := Batch{Rows: rows}
	for _, r := range rows {
		if err := ValidateRow(r); err != nil {
			return Batch{}, err
		}
		if r.Modified.After(b.Watermark) {
			b.Watermark = r.Modified
		}
	}
	return b, nil
}

// sessionHolder opens a session lazily and reopens it after close.
type sessionHolder struct {
	source Source
	sess   Session
}

func (h *sessionHolder) get(ctx context.Context) (Session, error) {
	if h.sess != nil {
		return h.sess, nil
	}
	s, err := h.source.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open source session: %w", err)
	}
	h.sess = s
	return s, nil
}

func (h *sessionHolder) close() {
	if h.sess != nil {
		h.sess.Close()
		h.sess = nil
	}
}

package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BartekS5/moviesync/internal/state"
	"github.com/google/uuid"
)

// Pipeline runs extract -> transform -> index -> advance watermark, one batch at a time.
type Pipeline struct {
	Extractor   *Extractor
	Transformer *Transformer
	Indexer     *Indexer
	State       *state.State
	DryRun      bool
	Logger      *slog.Logger

	// OnBatch, when set, is called after every batch with its document count.
	OnBatch func(documents int)
}

// RunStats summarises one run.
type RunStats struct {
	RunID     string
	Batches   int
	Documents int
	Rejected  int
	Resent    bool
	Watermark time.Time
	Duration  time.Duration
}

func NewPipeline(ext *Extractor, tr *Transformer, ix *Indexer, st *state.State, dryRun bool, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		Extractor:   ext,
		Transformer: tr,
		Indexer:     ix,
		State:       st,
		DryRun:      dryRun,
		Logger:      logger,
	}
}

// Run performs one synchronisation pass. On error the watermark stays at the
// last batch that was indexed, and an unsent payload stays in the checkpoint.
func (p *Pipeline) Run(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{RunID: uuid.NewString()}
	log := p.Logger.With(slog.String("run_id", stats.RunID))
	startTime := time.Now()
	defer func() { stats.Duration = time.Since(startTime) }()

	if !p.DryRun {
		res, err := p.Indexer.Flush(ctx)
		if err != nil {
			return stats, fmt.Errorf("deliver pending payload: %w", err)
		}
		if res != nil {
			stats.Resent = true
			stats.Rejected += len(res.Rejected)
		}
	}

	current, hasWatermark, err := p.State.Watermark()
	if err != nil {
		return stats, err
	}
	var from *time.Time
	if hasWatermark {
		from = &current
		stats.Watermark = current
	}
	log.Info("starting pipeline",
		slog.Int("batch_size", p.Extractor.batchSize),
		slog.Any("watermark", from),
		slog.Bool("dry_run", p.DryRun),
	)

	for batch, err := range p.Extractor.Extract(ctx, from) {
		if err != nil {
			log.Error("extraction failed", slog.Any("error", err), slog.Time("watermark", stats.Watermark))
			return stats, fmt.Errorf("extract: %w", err)
		}

		docs := p.Transformer.TransformBatch(batch.Rows)

		if p.DryRun {
			log.Info("[DRY RUN] would index documents", slog.Int("count", len(docs)))
		} else {
			res, err := p.Indexer.Index(ctx, docs)
			if err != nil {
				log.Error("indexing failed", slog.Any("error", err), slog.Time("watermark", stats.Watermark))
				return stats, err
			}
			stats.Rejected += len(res.Rejected)

			if batch.Watermark.After(stats.Watermark) {
				if err := p.State.SetWatermark(ctx, batch.Watermark); err != nil {
					return stats, fmt.Errorf("advance watermark: %w", err)
				}
				stats.Watermark = batch.Watermark
			}
		}

		stats.Batches++
		stats.Documents += len(docs)
		if p.OnBatch != nil {
			p.OnBatch(len(docs))
		}

		duration := time.Since(startTime)
		rate := 0.0
		if duration.Seconds() > 0 {
			rate = float64(stats.Documents) / duration.Seconds()
		}
		log.Info("batch done",
			slog.Int("batch", stats.Batches),
			slog.Int("documents", len(docs)),
			slog.Int("total", stats.Documents),
			slog.String("rate", fmt.Sprintf("%.2f docs/sec", rate)),
			slog.Time("watermark", stats.Watermark),
		)
	}

	if !p.DryRun {
		if err := p.State.Finish(ctx); err != nil {
			return stats, fmt.Errorf("finish checkpoint: %w", err)
		}
	}
	log.Info("pipeline finished successfully",
		slog.Int("batches", stats.Batches),
		slog.Int("documents", stats.Documents),
		slog.Int("rejected", stats.Rejected),
	)
	return stats, nil
}

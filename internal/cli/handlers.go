package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BartekS5/moviesync/internal/config"
	"github.com/BartekS5/moviesync/internal/etl"
	"github.com/BartekS5/moviesync/internal/state"
	"github.com/BartekS5/moviesync/pkg/database"
	"github.com/BartekS5/moviesync/pkg/elastic"
	"github.com/BartekS5/moviesync/pkg/logger"
	"github.com/BartekS5/moviesync/pkg/retry"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// loadSettings resolves config from file, env and flags, and builds the logger.
func loadSettings(global *GlobalOptions) (*config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.LoadConfig(global.ConfigFile)
	if err != nil {
		return nil, nil, nil, err
	}
	if global.LogLevel != "" {
		cfg.Log.Level = global.LogLevel
	}
	if global.LogFile != "" {
		cfg.Log.File = global.LogFile
	}

	log, closeLog, err := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File, JSON: cfg.Log.JSON})
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, closeLog, nil
}

func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (state.Storage, error) {
	return state.Open(ctx, state.Options{
		Backend:         cfg.Checkpoint.Backend,
		Path:            cfg.Checkpoint.Path,
		Key:             cfg.Checkpoint.Key,
		MongoURI:        cfg.Checkpoint.Mongo.URI,
		MongoDatabase:   cfg.Checkpoint.Mongo.Database,
		MongoCollection: cfg.Checkpoint.Mongo.Collection,
	}, log)
}

func retryPolicy(cfg *config.Config, log *slog.Logger) retry.Policy {
	return retry.New(
		retry.WithMaxAttempts(cfg.Retry.MaxAttempts),
		retry.WithBackoff(cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff),
		retry.WithJitter(retry.RandomJitter),
		retry.WithLogger(log),
	)
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	cfg, log, closeLog, err := loadSettings(opts.GlobalOptions)
	if err != nil {
		return err
	}
	defer closeLog()

	if opts.BatchSize > 0 {
		cfg.Pipeline.BatchSize = opts.BatchSize
	}
	if opts.Interval > 0 {
		cfg.Pipeline.Interval = opts.Interval
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.ConnectPostgres(ctx, cfg.PostgresDSN())
	if err != nil {
		return err
	}
	defer pool.Close()

	storage, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	sink, err := elastic.NewClient(elastic.ClientOptions{
		BaseURL:           cfg.Elastic.URL,
		Timeout:           cfg.Elastic.Timeout,
		RequestsPerSecond: cfg.Elastic.RequestsPerSecond,
	})
	if err != nil {
		return err
	}

	source := etl.NewPostgresSource(pool)
	policy := retryPolicy(cfg, log)

	runOnce := func() error {
		// reload every pass so each run starts from what is actually persisted
		st, err := state.Load(ctx, storage)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		pipeline := etl.NewPipeline(
			etl.NewExtractor(source, cfg.Pipeline.BatchSize, policy, log),
			etl.NewTransformer(),
			etl.NewIndexer(sink, st, cfg.Elastic.Index, policy, log),
			st,
			opts.DryRun,
			log,
		)
		if opts.Progress {
			bar := newSpinner(cmd.ErrOrStderr(), "indexing")
			pipeline.OnBatch = func(n int) { _ = bar.Add(n) }
			defer bar.Finish()
		}
		stats, err := pipeline.Run(ctx)
		printSummary(cmd.OutOrStdout(), stats, err)
		return err
	}

	if cfg.Pipeline.Interval <= 0 {
		return runOnce()
	}

	log.Info("polling for changes", slog.Duration("interval", cfg.Pipeline.Interval))
	ticker := time.NewTicker(cfg.Pipeline.Interval)
	defer ticker.Stop()
	for {
		if err := runOnce(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// the checkpoint is positioned for a resend; the next tick retries
			log.Error("sync run failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func newSpinner(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func printSummary(w io.Writer, stats *etl.RunStats, runErr error) {
	if stats == nil {
		return
	}
	if runErr != nil {
		color.New(color.FgRed).Fprintf(w, "✗ Sync %s failed after %d batches: %v\n", stats.RunID, stats.Batches, runErr)
		return
	}
	color.New(color.FgGreen).Fprintf(w, "✓ Indexed %d documents in %d batches (%s)\n",
		stats.Documents, stats.Batches, stats.Duration.Round(time.Millisecond))
	if stats.Rejected > 0 {
		color.New(color.FgYellow).Fprintf(w, "  %d documents rejected by the index, see log\n", stats.Rejected)
	}
	if !stats.Watermark.IsZero() {
		fmt.Fprintf(w, "  watermark: %s\n", stats.Watermark.Format(time.RFC3339Nano))
	}
}

func runCheckpointShow(cmd *cobra.Command, global *GlobalOptions) error {
	cfg, log, closeLog, err := loadSettings(global)
	if err != nil {
		return err
	}
	defer closeLog()

	storage, err := openStorage(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	st, err := state.Load(cmd.Context(), storage)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(st.Snapshot())
}

func runCheckpointReset(cmd *cobra.Command, global *GlobalOptions) error {
	cfg, log, closeLog, err := loadSettings(global)
	if err != nil {
		return err
	}
	defer closeLog()

	storage, err := openStorage(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	st, err := state.Load(cmd.Context(), storage)
	if err != nil {
		return err
	}
	if err := st.Reset(cmd.Context()); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "✓ Checkpoint cleared; next sync starts from the oldest change")
	return nil
}

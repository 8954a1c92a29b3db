/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/hydroclip/internal/catalog"
	"github.com/friendsincode/hydroclip/internal/db"
	"github.com/friendsincode/hydroclip/internal/eventbus"
	"github.com/friendsincode/hydroclip/internal/events"
	"github.com/friendsincode/hydroclip/internal/fetch"
	"github.com/friendsincode/hydroclip/internal/folders"
	"github.com/friendsincode/hydroclip/internal/playlist"
	"github.com/friendsincode/hydroclip/internal/scheduler"
	"github.com/friendsincode/hydroclip/internal/storage"
	"github.com/friendsincode/hydroclip/internal/telemetry"
	"github.com/friendsincode/hydroclip/internal/transcode"
	"github.com/friendsincode/hydroclip/internal/version"
)

var (
	fetchStart     string
	fetchEnd       string
	fetchStream    string
	fetchInterval  time.Duration
	fetchOutput    string
	fetchFormat    string
	fetchOverwrite bool
	fetchQuiet     bool
	fetchRealTime  bool
	fetchReplay    bool
	fetchUpload    bool
	fetchMetrics   bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Build clips for a time window",
	Long: `Walks the hydrophone's HLS folders over [start, end) and writes one audio
clip per polling interval. Each written clip path is printed on stdout.

With --real-time each clip waits until its data should have been published.
With --replay clips are labelled as if the window were being recorded now,
one interval apart.

Examples:
  hydroclip fetch --start 2020-09-27T00:00:00Z --end 2020-09-27T00:10:00Z --output ./wav
  hydroclip fetch --start 1601164800 --end 1601165400 --interval 30s --quiet
  hydroclip fetch --start 2020-09-27T00:00:00Z --end 2020-09-27T01:00:00Z --real-time --replay`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "Window start, RFC 3339 or unix seconds (required)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "Window end, RFC 3339 or unix seconds (required)")
	fetchCmd.Flags().StringVar(&fetchStream, "stream", "", "Stream base URL (default from config)")
	fetchCmd.Flags().DurationVar(&fetchInterval, "interval", 0, "Clip length (default from config, 60s)")
	fetchCmd.Flags().StringVar(&fetchOutput, "output", "", "Output directory (default from config)")
	fetchCmd.Flags().StringVar(&fetchFormat, "format", "", "Output container extension (default from config, wav)")
	fetchCmd.Flags().BoolVar(&fetchOverwrite, "overwrite", false, "Let ffmpeg overwrite existing clips")
	fetchCmd.Flags().BoolVar(&fetchQuiet, "quiet", false, "Suppress ffmpeg diagnostics")
	fetchCmd.Flags().BoolVar(&fetchRealTime, "real-time", false, "Pace clips to the wall clock")
	fetchCmd.Flags().BoolVar(&fetchReplay, "replay", false, "Label clips as if recorded live from now on")
	fetchCmd.Flags().BoolVar(&fetchUpload, "upload", false, "Upload each clip to the configured bucket")
	fetchCmd.Flags().BoolVar(&fetchMetrics, "metrics", false, "Serve /metrics, /healthz and /logs during the run")
	_ = fetchCmd.MarkFlagRequired("start")
	_ = fetchCmd.MarkFlagRequired("end")
}

// applyFetchFlags lets explicitly set flags win over configuration.
func applyFetchFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if fetchStream != "" {
		cfg.StreamBase = fetchStream
	}
	if flags.Changed("interval") {
		cfg.PollingInterval = fetchInterval
	}
	if fetchOutput != "" {
		cfg.OutputDir = fetchOutput
	}
	if fetchFormat != "" {
		cfg.Format = fetchFormat
	}
	if flags.Changed("overwrite") {
		cfg.OverwriteOutput = fetchOverwrite
	}
	if flags.Changed("quiet") {
		cfg.QuietFFmpeg = fetchQuiet
	}
	if flags.Changed("real-time") {
		cfg.RealTime = fetchRealTime
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	applyFetchFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}
	start, end, err := parseWindow(fetchStart, fetchEnd)
	if err != nil {
		return err
	}
	if fetchUpload && cfg.UploadBucket == "" {
		return fmt.Errorf("--upload needs HYDROCLIP_UPLOAD_BUCKET")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "hydroclip",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	if fetchMetrics {
		srv := &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           telemetry.Router(recentLogs.Handler()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.MetricsBind).Msg("metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown failed")
			}
		}()
	}

	root, err := folders.ParseStreamBase(cfg.StreamBase)
	if err != nil {
		return err
	}

	httpClient := telemetry.NewHTTPClient(cfg.HTTPTimeout)
	s3cfg := storage.S3ConfigFrom(cfg)
	s3cfg.HTTPClient = httpClient
	s3Client, err := storage.NewS3Client(ctx, s3cfg)
	if err != nil {
		return err
	}

	notifier, closeNotifier := buildNotifier(ctx)
	defer closeNotifier()

	var store *catalog.Store
	if cfg.DBDSN != "" {
		database, err := db.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connect catalog: %w", err)
		}
		defer db.Close(database)
		if err := db.Migrate(database); err != nil {
			return err
		}
		store = catalog.NewStore(database, logger)
	}

	var uploads storage.ObjectStore
	if fetchUpload {
		uploads = storage.NewS3Store(s3Client, cfg.UploadBucket, logger)
	}

	sched, err := scheduler.New(ctx, scheduler.Config{
		StreamBase:      cfg.StreamBase,
		PollingInterval: cfg.PollingInterval,
		Window:          scheduler.Window{Start: start, End: end},
		OutputDir:       cfg.OutputDir,
		ScratchDir:      cfg.ScratchDir,
		FailedDir:       cfg.FailedDir,
		Format:          cfg.Format,
		Location:        cfg.Location(),
		OverwriteOutput: cfg.OverwriteOutput,
		Quiet:           cfg.QuietFFmpeg,
		RealTime:        cfg.RealTime,
	}, scheduler.Deps{
		Folders:   folders.NewS3Index(s3Client, root, logger),
		Playlists: playlist.NewHTTPSource(httpClient, root, logger),
		Fetcher:   fetch.NewHTTPFetcher(httpClient, logger),
		Assembler: transcode.NewAssembler(cfg.FFmpegBin, logger),
		Notifier:  notifier,
	}, logger)
	if err != nil {
		return err
	}

	var opts scheduler.RunOptions
	if fetchReplay {
		opts.Anchor = scheduler.ReplayFrom(time.Now().UTC(), cfg.PollingInterval)
	}

	out := cmd.OutOrStdout()
	summary, err := scheduler.Run(ctx, sched, opts, func(ctx context.Context, clip scheduler.Clip) error {
		rec := catalog.RecordFor(root.Node, clip, clip.Requested-clip.Segments)
		if uploads != nil {
			key := storage.ClipKey(cfg.UploadPrefix, root.Node, clip.Path)
			if err := storage.UploadFile(ctx, uploads, key, clip.Path); err != nil {
				telemetry.UploadsTotal.WithLabelValues("error").Inc()
				return err
			}
			telemetry.UploadsTotal.WithLabelValues("ok").Inc()
			rec.ObjectKey = key
		}
		if store != nil {
			if err := store.Record(ctx, &rec); err != nil {
				return err
			}
		}
		fmt.Fprintln(out, clip.Path)
		return nil
	})

	logger.Info().
		Int("clips", summary.Clips).
		Int("retries", summary.Retries).
		Int("skipped_segments", summary.Skipped).
		Int("dropped_clips", summary.Dropped).
		Msg("fetch finished")

	if errors.Is(err, context.Canceled) {
		logger.Warn().Msg("interrupted")
		return nil
	}
	return err
}

// buildNotifier fans scheduler events out to whichever brokers are configured.
func buildNotifier(ctx context.Context) (events.Publisher, func()) {
	var fan events.Fanout
	var closers []func() error
	nodeID := eventbus.NodeID()

	if cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		bus := eventbus.NewNATSBus(natsCfg, nodeID, logger)
		fan = append(fan, bus)
		closers = append(closers, bus.Close)
	}
	if cfg.RedisAddr != "" {
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		bus := eventbus.NewRedisBus(ctx, redisCfg, nodeID, logger)
		fan = append(fan, bus)
		closers = append(closers, bus.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("failed to close event bus")
			}
		}
	}
	if len(fan) == 0 {
		return nil, closeAll
	}
	return fan, closeAll
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/media_cache/internal/config"
	"github.com/italolelis/media_cache/internal/downloader"
	"github.com/italolelis/media_cache/internal/fetch"
	"github.com/italolelis/media_cache/internal/http/rest"
	"github.com/italolelis/media_cache/internal/logctx"
	"github.com/italolelis/media_cache/internal/notifier"
	"github.com/italolelis/media_cache/internal/storage/sqlite"
	"github.com/italolelis/media_cache/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const statsInterval = 15 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("media cache starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata db: %w", err)
	}
	defer database.Close()

	store := sqlite.NewInstrumentedEntryRepository(database, tel)

	// =========================================================================
	// Start Download Engine
	fetcher := fetch.NewInstrumentedFetcher(fetch.NewHTTPFetcher(nil, nil), tel)

	engine, err := downloader.Open(ctx, downloader.Config{
		CacheDir:      cfg.CacheDir,
		MaxCacheBytes: cfg.MaxCacheSize,
		MaxEntries:    cfg.MaxCachedFiles,
		MaxConcurrent: cfg.MaxConcurrentDownloads,
		MaxAttempts:   cfg.MaxDownloadAttempts,
		RetryDelays:   cfg.RetryDelays,
		WaitTimeout:   cfg.DownloadWaitTimeout,
	}, store, fetcher, downloader.WithTelemetry(tel))
	if err != nil {
		return fmt.Errorf("failed to open download engine: %w", err)
	}
	defer engine.Close()

	// =========================================================================
	// Start Notification
	setupNotification(ctx, engine, cfg)

	// =========================================================================
	// Start Stats Reporting
	go reportStats(ctx, engine, tel)

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, engine, cfg, tel)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	logger.Info("waiting for download requests...",
		"cache_dir", cfg.CacheDir,
		"max_cache_size", cfg.MaxCacheSize,
		"max_cached_files", cfg.MaxCachedFiles,
		"max_concurrent", cfg.MaxConcurrentDownloads,
	)

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

// setupNotification forwards permanently failed downloads to the configured
// webhook, if any.
func setupNotification(ctx context.Context, engine *downloader.Engine, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	go func() {
		for event := range engine.OnDownloadFailed {
			logger.Error("download failed permanently", "asset_id", event.ID, "err", event.Err)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(
				"❌ Download failed for asset: " + event.ID + " (" + event.SourceURL + ")",
			); notifyErr != nil {
				logger.Error("failed to send notification", "asset_id", event.ID, "err", notifyErr)
			}
		}
	}()
}

// reportStats periodically publishes cache gauges.
func reportStats(ctx context.Context, engine *downloader.Engine, tel *telemetry.Telemetry) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := engine.Stats()
			tel.RecordCacheSize(stats.TotalBytes, stats.Entries)
			tel.RecordQueueDepth(engine.QueueDepth())
		}
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, engine *downloader.Engine, cfg *config.Config, tel *telemetry.Telemetry) *http.Server {
	handler := rest.NewCacheHandler(cfg.Web.Username, cfg.Web.Password, engine, tel)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

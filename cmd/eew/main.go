package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/adapter/applog"
	"github.com/couchcryptid/eew-notifier/internal/adapter/discord"
	httpadapter "github.com/couchcryptid/eew-notifier/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/eew-notifier/internal/adapter/kafka"
	"github.com/couchcryptid/eew-notifier/internal/adapter/kmoni"
	"github.com/couchcryptid/eew-notifier/internal/adapter/line"
	"github.com/couchcryptid/eew-notifier/internal/config"
	"github.com/couchcryptid/eew-notifier/internal/domain"
	"github.com/couchcryptid/eew-notifier/internal/notify"
	"github.com/couchcryptid/eew-notifier/internal/observability"
	"github.com/couchcryptid/eew-notifier/internal/pipeline"
	"github.com/couchcryptid/eew-notifier/internal/render"
	"github.com/couchcryptid/storm-data-shared/retry"
)

const (
	syncAttempts   = 4
	syncBackoff    = 500 * time.Millisecond
	syncMaxBackoff = 4 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := kmoni.NewClient(cfg.FeedBaseURL, kmoni.Timeouts{
		Latest: cfg.LatestTimeout,
		Report: cfg.ReportTimeout,
		Image:  cfg.ImageTimeout,
	}, logger, metrics)

	// Rendering is feature-flagged via RENDER_ENABLED and also turns itself
	// off when the base map cannot be fetched.
	compositor := render.NewCompositor(ctx, client, cfg.RenderEnabled, logger, metrics)
	logger.Info("map rendering", "enabled", compositor.Enabled())

	var kafkaWriter *kafkaadapter.Writer
	targets := channelTargets(cfg)
	if cfg.KafkaEnabled {
		kafkaWriter = kafkaadapter.NewWriter(cfg, logger)
		targets = append(targets, notify.Target{Channel: kafkaWriter, Audience: notify.AudienceGeneral})
		logger.Info("kafka alert channel enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}
	dispatcher := notify.NewDispatcher(logger, metrics, targets...)
	if dispatcher.Targets() == 0 {
		logger.Warn("no notification channels configured, alerts will only be logged")
	}

	tpl, err := notify.NewTemplate("")
	if err != nil {
		logger.Error("failed to parse alert template", "error", err)
		os.Exit(1)
	}

	reportLog, err := applog.NewWriter(cfg.ReportLogPath)
	if err != nil {
		logger.Error("failed to open report log", "path", cfg.ReportLogPath, "error", err)
		os.Exit(1)
	}

	var home *domain.Coordinate
	if cfg.HomeSet {
		home = &domain.Coordinate{Lat: cfg.HomeLatitude, Lon: cfg.HomeLongitude}
		logger.Info("home location set", "lat", home.Lat, "lon", home.Lon)
	} else {
		logger.Info("home location not set, distance and arrival estimates disabled")
	}

	transformer := pipeline.NewTransformer(home, logger)
	notifier := pipeline.NewAlertNotifier(compositor, dispatcher, tpl, cfg.SiteURL, cfg.NotifyTimeout, logger, metrics)
	scheduler := pipeline.NewScheduler(client, transformer, reportLog, notifier, logger, metrics)

	if err := syncFeedClock(ctx, scheduler, logger); err != nil {
		logger.Error("failed to sync feed clock", "error", err)
		os.Exit(1)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, scheduler, func() any { return scheduler.Status() }, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start poll loop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := scheduler.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Error("scheduler did not stop before shutdown timeout")
	}
	if err := scheduler.Drain(shutdownCtx); err != nil {
		logger.Error("notification tasks still running", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := reportLog.Close(); err != nil {
		logger.Error("report log close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// channelTargets builds the Discord and LINE targets that have credentials.
func channelTargets(cfg *config.Config) []notify.Target {
	var targets []notify.Target
	add := func(ch notify.Channel, audience notify.Audience) {
		targets = append(targets, notify.Target{Channel: ch, Audience: audience})
	}
	if cfg.DiscordWebhookGeneral != "" {
		add(discord.NewWebhook(cfg.DiscordWebhookGeneral, cfg.NotifyTimeout), notify.AudienceGeneral)
	}
	if cfg.DiscordWebhookEmergency != "" {
		add(discord.NewWebhook(cfg.DiscordWebhookEmergency, cfg.NotifyTimeout), notify.AudienceEmergency)
	}
	if cfg.LineTokenGeneral != "" {
		add(line.NewNotify(cfg.LineNotifyURL, cfg.LineTokenGeneral, cfg.NotifyTimeout), notify.AudienceGeneral)
	}
	if cfg.LineTokenEmergency != "" {
		add(line.NewNotify(cfg.LineNotifyURL, cfg.LineTokenEmergency, cfg.NotifyTimeout), notify.AudienceEmergency)
	}
	return targets
}

// syncFeedClock retries the one-time clock sync a few times with backoff.
// Running out of attempts is fatal to startup.
func syncFeedClock(ctx context.Context, s *pipeline.Scheduler, logger *slog.Logger) error {
	backoff := syncBackoff
	var err error
	for attempt := 1; attempt <= syncAttempts; attempt++ {
		if err = s.Sync(ctx); err == nil {
			return nil
		}
		if attempt == syncAttempts {
			break
		}
		logger.Warn("feed clock sync failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, syncMaxBackoff)
	}
	return err
}

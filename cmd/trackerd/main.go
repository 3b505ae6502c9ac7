// Package main provides the tracking daemon entry point for autotrack.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ktmr/autotrack/internal/aijudge"
	"github.com/ktmr/autotrack/internal/config"
	"github.com/ktmr/autotrack/internal/db"
	"github.com/ktmr/autotrack/internal/detector"
	"github.com/ktmr/autotrack/internal/engine"
	"github.com/ktmr/autotrack/internal/llm"
	"github.com/ktmr/autotrack/internal/netmon"
	"github.com/ktmr/autotrack/internal/notify"
	"github.com/ktmr/autotrack/internal/passdetect"
	"github.com/ktmr/autotrack/internal/queue"
	"github.com/ktmr/autotrack/internal/rules"
	"github.com/ktmr/autotrack/internal/watcher"
	"github.com/ktmr/autotrack/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

// ErrNoIntrospection is returned by the stub window source until a
// platform backend is plugged in.
var ErrNoIntrospection = errors.New("window introspection not available")

// stubWindowSource stands in for the platform window-introspection
// backend. Ticks are skipped until a real source is wired.
type stubWindowSource struct{}

func (stubWindowSource) ActiveWindow(context.Context) (models.WindowInfo, error) {
	return models.WindowInfo{}, ErrNoIntrospection
}

func main() {
	dbPath := flag.String("db", "", "Database path (default: ~/.autotrack/autotrack.db)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Println(Version)
		return
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureDataDir(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load settings, using defaults")
		cfg = config.Default()
	}
	if *dbPath != "" {
		cfg.DBPathOverride = *dbPath
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.NewStore(db.Config{
		Path:     cfg.DBPath(),
		MaxConns: cfg.MaxConns,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer store.Close()

	projects := db.NewProjectStore(store)
	entries := db.NewEntryStore(store)
	ruleStore := db.NewRuleStore(store)
	usage := db.NewUsageStore(store)

	q := queue.New(queue.Options{
		MaxPerMinute: cfg.AI.RequestsPerMinute,
		MaxRetries:   cfg.AI.MaxRetries,
		Retryable:    llm.Retryable,
	})
	defer q.Close()

	client := llm.NewClient(cfg.AI.APIKey, q, usage, cfg.RequestTimeout())
	if !client.HasCredential() {
		log.Warn().Msg("No API key set, AI judgment disabled (set AUTOTRACK_API_KEY)")
	}

	judge := aijudge.New(client, usage, aijudge.Config{
		ChangeModel:   cfg.AI.ChangeModel,
		JudgmentModel: cfg.AI.JudgmentModel,
		MonthlyBudget: cfg.AI.MonthlyBudget,
	})

	matcher := rules.NewMatcher(ruleStore)
	det := detector.New(nil, matcher, judge, detectorOptions(cfg))
	pass := passdetect.New(cfg.Privacy.PasswordDetection, cfg.Privacy.ExcludeKeywords)
	notifier := notify.New(notify.LogSink{}, cfg.Notifications.MaxAlertsPerHour)

	mon := netmon.New(nil, cfg.NetworkCheckInterval())
	mon.Start(ctx)
	defer mon.Stop()

	eng := engine.New(engine.Deps{
		Projects: projects,
		Entries:  entries,
		Rules:    matcher,
		Judge:    judge,
		Detector: det,
		Samples:  stubWindowSource{},
		Password: pass,
		Network:  mon,
		Sink:     notifier,
	}, engineConfig(cfg))

	log.Warn().Msg("No window introspection backend wired, ticks will be idle")

	startSettingsWatcher(eng, det, judge, pass)

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start tracking")
	}

	log.Info().Str("version", Version).Str("db", cfg.DBPath()).Msg("Tracking daemon started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweepUsageLogs(gctx, usage, cfg.UsageRetentionDays)
	})
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Daemon error")
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := eng.Stop(shutdownCtx); err != nil && !errors.Is(err, engine.ErrNotRunning) {
		log.Warn().Err(err).Msg("Failed to stop tracking cleanly")
	}
}

// startSettingsWatcher hot-reloads the settings file into the running
// components. Watch setup failures are not fatal; the daemon just keeps
// its startup settings.
func startSettingsWatcher(eng *engine.Engine, det *detector.Detector, judge *aijudge.Service, pass *passdetect.Detector) {
	path := config.SettingsPath()
	w, err := watcher.New(path, func() {
		cfg, err := config.Load()
		if err != nil {
			log.Warn().Err(err).Msg("Settings changed but did not load, keeping previous")
			return
		}
		eng.ApplyConfig(engineConfig(cfg))
		det.SetOptions(detectorOptions(cfg))
		judge.SetConfig(aijudge.Config{
			ChangeModel:   cfg.AI.ChangeModel,
			JudgmentModel: cfg.AI.JudgmentModel,
			MonthlyBudget: cfg.AI.MonthlyBudget,
		})
		pass.SetEnabled(cfg.Privacy.PasswordDetection)
		pass.SetKeywords(cfg.Privacy.ExcludeKeywords)
		log.Info().Str("path", path).Msg("Settings reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create settings watcher")
		return
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start settings watcher")
		return
	}
	log.Info().Str("path", path).Msg("Settings file watcher started")
}

// sweepUsageLogs prunes old usage ledger rows once a day.
func sweepUsageLogs(ctx context.Context, usage *db.UsageStore, retentionDays int) error {
	if retentionDays <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := usage.DeleteOldLogs(ctx, retentionDays)
			if err != nil {
				log.Warn().Err(err).Msg("Usage log sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("Pruned old usage logs")
			}
		}
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		CaptureInterval:      cfg.CaptureInterval(),
		MetadataInterval:     cfg.MetadataInterval(),
		AutoConfirmThreshold: cfg.Tracking.AutoConfirmThreshold,
		MinEntryDuration:     cfg.MinEntryDuration(),
	}
}

func detectorOptions(cfg *config.Config) detector.Options {
	return detector.Options{
		EnableOCR:          cfg.Detector.EnableOCR,
		EnableImageHash:    cfg.Detector.EnableImageHash,
		EnableRuleMatching: cfg.Detector.EnableRuleMatching,
		EnableAIJudgment:   cfg.Detector.EnableAIJudgment,
		OCRThreshold:       cfg.Detector.OCRSimilarity,
		HashThreshold:      cfg.Detector.ImageHashThreshold,
	}
}

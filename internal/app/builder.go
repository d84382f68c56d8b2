package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"candlefeed/internal/backfill"
	"candlefeed/internal/config"
	"candlefeed/internal/config/loader"
	"candlefeed/internal/fanout"
	"candlefeed/internal/gateway"
	"candlefeed/internal/live"
	"candlefeed/internal/logger"
	"candlefeed/internal/scheduler"
	"candlefeed/internal/store/gormstore"
	"candlefeed/internal/store/journal"
	"candlefeed/internal/store/series"
	"candlefeed/internal/transport/http/api"
)

type AppBuilder struct {
	cfg *config.Config

	registryFn func(*config.Config) (*gateway.Registry, error)
	consoleOut io.Writer
}

type AppBuilderOption func(*AppBuilder)

// WithRegistry replaces the provider registry factory; tests point it at
// fake servers.
func WithRegistry(fn func(*config.Config) (*gateway.Registry, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.registryFn = fn
		}
	}
}

func WithConsoleOutput(w io.Writer) AppBuilderOption {
	return func(b *AppBuilder) {
		if w != nil {
			b.consoleOut = w
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		registryFn: gateway.NewRegistryFromConfig,
		consoleOut: os.Stdout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (_ *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	registry, err := b.registryFn(cfg)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ providers: %v", registry.Names())

	store, err := buildSeriesStore(cfg.Store, registry.Location)
	if err != nil {
		return nil, err
	}

	app := &App{cfg: cfg}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	app.journal, err = journal.Open(cfg.Store.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open failed-window journal: %w", err)
	}
	var mirror series.Mirror
	var manifest backfill.ManifestRecorder
	if cfg.Store.MirrorPath != "" {
		app.mirror, err = gormstore.NewGormStore(cfg.Store.MirrorPath)
		if err != nil {
			return nil, fmt.Errorf("open query mirror: %w", err)
		}
		mirror, manifest = app.mirror, app.mirror
		logger.Infof("✓ query mirror at %s", cfg.Store.MirrorPath)
	}
	merger := series.NewMerger(store, mirror)

	fetcher := backfill.NewFetcher(registry, backfill.Options{
		RateLimits:       gateway.RateLimits(cfg),
		MaxRetries:       cfg.Backfill.MaxRetries,
		RetryInitial:     time.Duration(cfg.Backfill.RetryInitialMillis) * time.Millisecond,
		BreakerThreshold: cfg.Backfill.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Backfill.BreakerCooldownSecond) * time.Second,
		DropFormingBar:   cfg.Backfill.DropFormingBar,
		FormingGrace:     time.Duration(cfg.Backfill.FormingGraceSeconds) * time.Second,
	})

	hub := fanout.NewHub()
	app.dispatcher = buildDispatcher(cfg.Fanout, hub, b.consoleOut)

	app.backfill, err = backfill.NewService(backfill.ServiceConfig{
		Fetcher:       fetcher,
		Merger:        merger,
		Journal:       app.journal,
		Publisher:     app.dispatcher,
		Manifest:      manifest,
		MaxConcurrent: int64(cfg.Backfill.MaxConcurrentJobs),
	})
	if err != nil {
		return nil, err
	}
	app.backfill.SetContext(ctx)

	app.manager = live.NewManager(live.Deps{
		Fetcher:   fetcher,
		Merger:    merger,
		Journal:   app.journal,
		Publisher: app.dispatcher,
	}, live.Config{
		Cadence: scheduler.Cadence{
			Poll:   time.Duration(cfg.Live.PollSeconds) * time.Second,
			Offset: time.Duration(cfg.Live.AlignOffsetSeconds) * time.Second,
		},
		AlignToBar:         cfg.Live.Align,
		BackfillPeriod:     cfg.Backfill.Period,
		RetryFailedWindows: cfg.Live.RetryFailedWindows,
	})

	exporter := scheduler.NewExporter(cfg.Export.Dir, store, registry.Location)
	if cfg.Export.Enabled {
		app.exports, err = scheduler.NewExportScheduler(cfg.Export.Cron, exporter)
		if err != nil {
			return nil, err
		}
	}

	var watched []loader.Target
	if cfg.Live.WatchlistPath != "" {
		app.watchlist, err = loader.NewWatchlistLoader(cfg.Live.WatchlistPath)
		if err != nil {
			return nil, err
		}
		watched = app.watchlist.Snapshot().Targets
	}

	routerCfg := api.RouterConfig{
		Fetcher:     fetcher,
		Jobs:        app.backfill,
		Loops:       app.manager,
		Series:      store,
		Exporter:    exporter,
		Publisher:   app.dispatcher,
		Hub:         hub,
		Location:    registry.Location,
		TrainPeriod: cfg.Backfill.Period,
		Status: api.StatusSource{
			Breakers: fetcher.Breakers,
			Sinks:    app.dispatcher.Stats,
		},
	}
	if app.mirror != nil {
		routerCfg.Mirror = app.mirror
	}
	router, err := api.NewRouter(routerCfg)
	if err != nil {
		return nil, err
	}
	app.server, err = api.NewServer(api.ServerConfig{Addr: cfg.App.HTTPAddr, Router: router})
	if err != nil {
		return nil, err
	}

	app.Summary = buildSummary(cfg, registry.Names(), app.dispatcher, watched)
	return app, nil
}

func buildSeriesStore(cfg config.StoreConfig, location series.LocationFunc) (series.Store, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warnf("series store is in-memory; series are lost on restart")
		return series.NewMemoryStore(), nil
	default:
		fs, err := series.NewFileStore(cfg.DataDir, location)
		if err != nil {
			return nil, fmt.Errorf("open series store: %w", err)
		}
		logger.Infof("✓ series store at %s", fs.Dir())
		return fs, nil
	}
}

func buildDispatcher(cfg config.FanoutConfig, hub *fanout.Hub, consoleOut io.Writer) *fanout.Dispatcher {
	d := fanout.NewDispatcher(cfg.QueueSize, hub)
	if cfg.Console {
		d.Add(fanout.NewConsoleSink(consoleOut))
	}
	if cfg.WebhookURL != "" {
		d.Add(fanout.NewWebhookSink(cfg.WebhookURL, time.Duration(cfg.WebhookTimeoutSeconds)*time.Second))
		logger.Infof("✓ webhook sink → %s", cfg.WebhookURL)
	}
	if cfg.Telegram.Enabled {
		d.Add(fanout.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase))
		logger.Infof("✓ telegram sink → chat %s", cfg.Telegram.ChatID)
	}
	return d
}

package app

import (
	"context"
	"errors"
	"fmt"

	"candlefeed/internal/backfill"
	"candlefeed/internal/config"
	"candlefeed/internal/config/loader"
	"candlefeed/internal/fanout"
	"candlefeed/internal/live"
	"candlefeed/internal/logger"
	"candlefeed/internal/scheduler"
	"candlefeed/internal/store/gormstore"
	"candlefeed/internal/store/journal"
	"candlefeed/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App owns the long-running parts: HTTP, live loops, fan-out, export cron and
// the watchlist watcher.
type App struct {
	cfg        *config.Config
	server     *api.Server
	manager    *live.Manager
	dispatcher *fanout.Dispatcher
	backfill   *backfill.Service
	exports    *scheduler.ExportScheduler
	watchlist  *loader.WatchlistLoader
	journal    *journal.Journal
	mirror     *gormstore.GormStore
	Summary    *StartupSummary
}

// NewApp builds the application without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run blocks until ctx ends or a component fails, then releases the stores.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	a.backfill.SetContext(ctx)

	group.Go(func() error {
		return a.dispatcher.Run(ctx)
	})
	group.Go(func() error {
		return a.manager.Run(ctx)
	})
	if a.server != nil {
		group.Go(func() error {
			if err := a.server.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	if a.exports != nil {
		group.Go(func() error {
			return a.exports.Run(ctx)
		})
	}
	if a.watchlist != nil {
		a.watchlist.Subscribe(func(snap loader.WatchlistSnapshot) {
			a.manager.Sync(toTargets(snap.Targets))
		})
		group.Go(func() error {
			return a.watchlist.Run(ctx)
		})
	}
	err := group.Wait()
	if waitErr := a.backfill.Wait(context.Background()); waitErr != nil {
		logger.Warnf("backfill jobs did not finish: %v", waitErr)
	}
	return err
}

// Close releases the journal and the mirror. It is safe to call twice.
func (a *App) Close() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
		a.journal = nil
	}
	if a.mirror != nil {
		errs = append(errs, a.mirror.Close())
		a.mirror = nil
	}
	return errors.Join(errs...)
}

func (a *App) Manager() *live.Manager { return a.manager }

func (a *App) Backfill() *backfill.Service { return a.backfill }

func toTargets(in []loader.Target) []live.Target {
	out := make([]live.Target, len(in))
	for i, t := range in {
		out[i] = live.Target(t)
	}
	return out
}

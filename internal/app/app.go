package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"feedforge/pkg/banner"
	"feedforge/pkg/catalog"
	"feedforge/pkg/config"
	"feedforge/pkg/logger"
	"feedforge/pkg/notify"
	"feedforge/pkg/pipeline"
	"feedforge/pkg/state"
	"feedforge/pkg/store"
	"feedforge/pkg/telemetry"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	kv  *store.Pebble
	cat *catalog.Catalog

	prep     *pipeline.Preparer
	runner   *pipeline.Runner
	dispatch *pipeline.Dispatcher
	queue    *pipeline.Controller
	watchdog *pipeline.Watchdog

	srv *http.Server
}

// New initializes resources that do not require a running context: state
// directories, the pebble store, the catalog handle and the pipeline
// graph. Call Run to start the HTTP server and the watchdog.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	cfg := eff.Config

	if err := state.EnsureStateDirs(eff.DataPath); err != nil {
		return nil, fmt.Errorf("prepare data directories: %w", err)
	}

	kv, err := store.Open(state.PathsVar.Store)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", state.PathsVar.Store, err)
	}

	catPath := cfg.Storage.CatalogPath
	if catPath == "" {
		catPath = filepath.Join(eff.DataPath, "catalog.db")
	}
	cat, err := catalog.Open(catPath)
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("open catalog at %s: %w", catPath, err)
	}

	var notifier notify.Notifier = notify.LogOnly{}
	if cfg.Notify.SMTPAddr != "" {
		notifier = notify.NewSMTP(cfg.Notify.SMTPAddr, cfg.Notify.From, cfg.Notify.To)
	}

	queue := pipeline.NewController(kv, cfg.StallDelay())
	locks := pipeline.NewLockManager(kv, cfg.LockTTL(), cfg.LockStaleAfter(), cfg.LockRefreshInterval())
	dispatch := pipeline.NewDispatcher(kv, cfg.LoopbackURL(), cfg.DispatchTTL())
	batches := pipeline.NewBatchStore(kv)
	exec := pipeline.NewExecutor(cat)

	runner := pipeline.NewRunner(kv, locks, batches, queue, dispatch, exec, notifier, pipeline.RunnerConfig{
		TimeBudget:  cfg.TimeBudget(),
		MemoryLimit: cfg.MemoryLimit(),
		LockRefresh: cfg.LockRefreshInterval(),
		Background:  cfg.BackgroundEnabled(),
	})
	// a slice that overruns its own budget is worth a trace entry
	telemetry.SetSlowThreshold(cfg.TimeBudget())
	runner.OnSliceEnd = telemetry.SliceEnd

	prep := pipeline.NewPreparer(kv, batches, queue, dispatch, locks, cat, cfg.BatchSize(), cfg.BackgroundEnabled())
	prep.SetRunner(runner)

	w := pipeline.NewWatchdog(kv, queue, locks, dispatch, batches, cfg.WatchdogCron(), cfg.MissingLockGrace())
	w.Restart = func(feedID string) {
		// watchdog restarts run unattended so failures reach the operator
		// by notification instead of a browser
		if err := prep.Start(context.Background(), feedID, true); err != nil {
			logger.Feed(feedID, logger.SevError, "watchdog restart failed", "error", err)
		}
	}

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		kv:        kv,
		cat:       cat,
		prep:      prep,
		runner:    runner,
		dispatch:  dispatch,
		queue:     queue,
		watchdog:  w,
	}, nil
}

// Run starts the watchdog and the HTTP server, and blocks until ctx is
// canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	stopWatchdog, err := a.watchdog.Start(ctx)
	if err != nil {
		return fmt.Errorf("start watchdog: %w", err)
	}
	defer stopWatchdog()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	if a.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.srv.Shutdown(shutdownCtx)
	}
	_ = a.cat.Close()
	_ = a.kv.Close()
}

func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/labkit/modhost/internal/config"
	"github.com/labkit/modhost/internal/ctxlog"
	"github.com/labkit/modhost/internal/module"
	"github.com/labkit/modhost/internal/notify"
)

// Run loads the configuration, brings up the configured modules and drives
// the event loop until a quit is requested or ctx is cancelled. It always
// tears the module tree down before returning.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, path, err := a.loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	a.mgr.Configure(ctx, cfg)

	quit := make(chan struct{}, 1)
	a.bus.Subscribe(func(ev notify.Event) {
		switch ev.Kind {
		case notify.QuitRequested:
			select {
			case quit <- struct{}{}:
			default:
			}
		case notify.StateChanged:
			a.logger.Debug("Module state changed.",
				"category", ev.Category, "instance", ev.Name, "state", ev.Detail)
		}
	})
	go a.bus.Run(loopCtx)

	if a.cfg.WatchConfig {
		if path == "" {
			a.logger.Warn("Configuration watching is not supported with named configurations.",
				"name", a.cfg.ConfigName)
		} else if watcher, err := config.NewWatcher(a.logger, path, func() {
			a.reloadConfig(ctx, path)
		}); err != nil {
			a.logger.Error("Cannot watch configuration file.", "path", path, "error", err)
		} else {
			go watcher.Run(loopCtx)
		}
	}

	switch {
	case a.cfg.NoAutoStart:
		a.logger.Info("Automatic module start disabled.")
	case len(a.cfg.StartModules) > 0:
		a.startRequestedModules(ctx)
	default:
		if err := a.mgr.StartStartupModules(ctx); err != nil {
			a.logger.Error("Some startup modules failed to start.", "error", err)
		}
	}

	a.loop(loopCtx, quit)
	return a.mgr.Shutdown(ctx)
}

// loop blocks until shutdown is due, reaping finished module threads as
// they complete.
func (a *App) loop(ctx context.Context, quit <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Interrupted, shutting down.")
			return
		case <-quit:
			a.logger.Info("Quit requested, shutting down.")
			return
		case c := <-a.threads.Completions():
			if c.Err != nil {
				a.logger.Error("Module thread failed.", "thread", c.Name, "error", c.Err)
			} else {
				a.logger.Debug("Module thread finished.", "thread", c.Name)
			}
			a.bus.Publish(notify.Event{Kind: notify.ThreadFinished, Name: c.Name})
		}
	}
}

// startRequestedModules starts the "category.instance" modules given on
// the command line, each with its dependency chain.
func (a *App) startRequestedModules(ctx context.Context) {
	for _, ref := range a.cfg.StartModules {
		parts := strings.SplitN(ref, ".", 2)
		if len(parts) != 2 {
			a.logger.Error("Module reference is not of the form category.instance.", "module", ref)
			continue
		}
		cat, err := module.ParseCategory(parts[0])
		if err != nil {
			a.logger.Error("Cannot start module.", "module", ref, "error", err)
			continue
		}
		if err := a.mgr.StartModule(ctx, cat, parts[1]); err != nil {
			a.logger.Error("Module failed to start.", "module", ref, "error", err)
		}
	}
}

// loadConfig resolves and loads the configuration file, returning the
// parsed document and the path it came from.
func (a *App) loadConfig(ctx context.Context) (map[string]any, string, error) {
	if a.cfg.ConfigName != "" {
		cfg, err := a.loader.LoadNamed(ctx, a.cfg.BaseDir, a.cfg.ConfigName)
		return cfg, "", err
	}
	cfg, err := a.loader.Load(ctx, a.cfg.ConfigPath)
	return cfg, a.cfg.ConfigPath, err
}

func (a *App) reloadConfig(ctx context.Context, path string) {
	cfg, err := a.loader.Load(ctx, path)
	if err != nil {
		a.logger.Error("Configuration reload failed, keeping the old one.", "path", path, "error", err)
		return
	}
	a.logger.Info("Configuration file changed, re-applying.", "path", path)
	a.mgr.Configure(ctx, cfg)
}

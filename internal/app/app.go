// Package app contains the host application: it assembles the logger, the
// event bus, the thread registry, the module registry and the orchestrator,
// and drives the main event loop. It is decoupled from any specific
// entrypoint like the CLI.
package app

import (
	"errors"
	"io"
	"log/slog"

	"github.com/labkit/modhost/internal/config"
	"github.com/labkit/modhost/internal/manager"
	"github.com/labkit/modhost/internal/notify"
	"github.com/labkit/modhost/internal/registry"
	"github.com/labkit/modhost/internal/threads"
)

// busBuffer is the event bus capacity. Bursts beyond it are dropped with a
// warning rather than blocking a publisher.
const busBuffer = 64

// Config holds everything an App instance needs to run.
type Config struct {
	// ConfigPath points at the configuration file. Exactly one of
	// ConfigPath and ConfigName must be set.
	ConfigPath string
	// ConfigName names a configuration file inside BaseDir, looked up by
	// the loader without an explicit path.
	ConfigName string

	BaseDir    string
	StorageDir string

	// DisabledDevices suppresses the named hardware entries;
	// DisableAllDevices suppresses every hardware entry.
	DisabledDevices   []string
	DisableAllDevices bool

	// StartModules lists "category.instance" pairs to start instead of the
	// configured startup set.
	StartModules []string
	// NoAutoStart skips bringing up any modules after Configure.
	NoAutoStart bool
	// WatchConfig re-reads and re-applies the config file when it changes
	// on disk.
	WatchConfig bool

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ConfigPath == "" && cfg.ConfigName == "" {
		return nil, errors.New("a configuration file or configuration name is required")
	}
	if cfg.ConfigPath != "" && cfg.ConfigName != "" {
		return nil, errors.New("configuration file and configuration name are mutually exclusive")
	}
	return &cfg, nil
}

// App wires the host components together.
type App struct {
	outW    io.Writer
	cfg     *Config
	logger  *slog.Logger
	bus     *notify.Bus
	threads *threads.Registry
	reg     *registry.Registry
	mgr     *manager.Manager
	loader  config.Loader
}

// New assembles an App. The logger is built here and injected everywhere;
// no component touches the global default. When no registrants are given,
// the compiled-in core modules are registered.
func New(outW io.Writer, cfg *Config, loader config.Loader, registrants ...registry.Registrant) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)

	reg := registry.New()
	if len(registrants) == 0 {
		registrants = coreModules
	}
	for _, r := range registrants {
		r.Register(reg)
	}
	logger.Debug("Module factories registered.", "count", len(registrants))

	bus := notify.NewBus(logger, busBuffer)
	tr := threads.NewRegistry(logger, nil)
	mgr := manager.New(logger, bus, tr, reg, nil, manager.Options{
		BaseDir:           cfg.BaseDir,
		StorageDir:        cfg.StorageDir,
		DisabledDevices:   cfg.DisabledDevices,
		DisableAllDevices: cfg.DisableAllDevices,
	})

	return &App{
		outW:    outW,
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		threads: tr,
		reg:     reg,
		mgr:     mgr,
		loader:  loader,
	}
}

// Manager exposes the orchestrator, primarily for tests and embedding.
func (a *App) Manager() *manager.Manager { return a.mgr }

// Logger returns the app's logger.
func (a *App) Logger() *slog.Logger { return a.logger }

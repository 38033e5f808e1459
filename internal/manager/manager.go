// Package manager implements the module orchestrator: the single authority
// over the defined and loaded module trees and their lifecycle. All module
// construction, wiring and activation goes through it.
package manager

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/labkit/modhost/internal/ctxlog"
	"github.com/labkit/modhost/internal/module"
	"github.com/labkit/modhost/internal/notify"
	"github.com/labkit/modhost/internal/registry"
	"github.com/labkit/modhost/internal/threads"
)

// Options carries the process-level settings the CLI resolves before the
// manager is constructed.
type Options struct {
	BaseDir    string
	StorageDir string
	// DisabledDevices lists hardware instance names to ignore during
	// Configure.
	DisabledDevices []string
	// DisableAllDevices ignores every hardware entry during Configure.
	DisableAllDevices bool
}

// loadedEntry wraps a live instance together with its liveness flag. The
// flag backs the non-owning connector bindings: once the instance is
// removed from the tree, every binding that refers to it reads as unbound.
type loadedEntry struct {
	inst module.Module
	live atomic.Bool
}

// Manager owns the module tree. All exported methods serialize on one
// mutex; unexported *Locked methods assume it is held, which is how nested
// orchestrator calls re-enter without deadlocking.
type Manager struct {
	mu      sync.Mutex
	logger  *slog.Logger
	bus     *notify.Bus
	threads *threads.Registry
	reg     *registry.Registry
	clk     clock.Clock

	opts      Options
	startedAt time.Time

	// storageDir has its own lock so module hooks may call StorageDir
	// while the manager lock is held.
	storageMu  sync.RWMutex
	storageDir string

	defined map[module.Category]*tree[*module.Descriptor]
	loaded  map[module.Category]*tree[*loadedEntry]
	// startup lists the instance names configured for automatic bring-up,
	// per category (only logic and gui entries are valid).
	startup map[module.Category][]string
	// global holds process-wide settings from the "global" section.
	global map[string]any
	// generic is the merge namespace for all unrecognized top-level keys.
	generic map[string]any

	quitRequested atomic.Bool
	shutdownOnce  sync.Once
	shutdownErr   error
}

// New constructs a Manager. A nil clock uses the wall clock. The manager
// never aborts the process; bad configuration is logged and skipped.
func New(logger *slog.Logger, bus *notify.Bus, tr *threads.Registry, reg *registry.Registry, clk clock.Clock, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	m := &Manager{
		logger:     logger,
		bus:        bus,
		threads:    tr,
		reg:        reg,
		clk:        clk,
		opts:       opts,
		storageDir: opts.StorageDir,
		startedAt:  clk.Now(),
		defined:    make(map[module.Category]*tree[*module.Descriptor]),
		loaded:     make(map[module.Category]*tree[*loadedEntry]),
		startup:    make(map[module.Category][]string),
		global:     make(map[string]any),
		generic:    make(map[string]any),
	}
	for _, cat := range module.Categories() {
		m.defined[cat] = newTree[*module.Descriptor]()
		m.loaded[cat] = newTree[*loadedEntry]()
	}
	return m
}

// Logger implements module.Host.
func (m *Manager) Logger() *slog.Logger { return m.logger }

// Threads implements module.Host.
func (m *Manager) Threads() *threads.Registry { return m.threads }

// Events implements module.Host.
func (m *Manager) Events() *notify.Bus { return m.bus }

// StorageDir implements module.Host. It returns the configured data
// directory, falling back to the base directory.
func (m *Manager) StorageDir() string {
	m.storageMu.RLock()
	defer m.storageMu.RUnlock()
	if m.storageDir != "" {
		return m.storageDir
	}
	return m.opts.BaseDir
}

// Uptime reports how long the manager has existed.
func (m *Manager) Uptime() time.Duration {
	return m.clk.Now().Sub(m.startedAt)
}

// DefinedModules returns the instance names in the defined tree of a
// category, in configuration order.
func (m *Manager) DefinedModules(cat module.Category) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.defined[cat]; ok {
		return t.names()
	}
	return nil
}

// LoadedModules returns the instance names in the loaded tree of a
// category, in load order.
func (m *Manager) LoadedModules(cat module.Category) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.loaded[cat]; ok {
		return t.names()
	}
	return nil
}

// Instance returns a loaded module instance.
func (m *Manager) Instance(cat module.Category, key string) (module.Module, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.loadedEntry(cat, key)
	if !ok {
		return nil, false
	}
	return e.inst, true
}

func (m *Manager) loadedEntry(cat module.Category, key string) (*loadedEntry, bool) {
	t, ok := m.loaded[cat]
	if !ok {
		return nil, false
	}
	return t.get(key)
}

// descriptor returns the defined entry for (cat, key).
func (m *Manager) descriptor(cat module.Category, key string) (*module.Descriptor, bool) {
	t, ok := m.defined[cat]
	if !ok {
		return nil, false
	}
	return t.get(key)
}

// publish emits a notification if a bus is attached.
func (m *Manager) publish(ev notify.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

// log emits through the injected logger with the host's severity and
// importance annotations. It never blocks and has no return value.
func (m *Manager) log(ctx context.Context, sev ctxlog.Severity, importance int, msg string, args ...any) {
	ctxlog.Log(ctxlog.WithLogger(ctx, m.logger), sev, importance, msg, args...)
}

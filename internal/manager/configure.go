package manager

import (
	"context"
	"fmt"
	"sort"

	"github.com/labkit/modhost/internal/config"
	"github.com/labkit/modhost/internal/ctxlog"
	"github.com/labkit/modhost/internal/module"
	"github.com/labkit/modhost/internal/notify"
)

// Configure sorts a parsed configuration into the defined module trees.
//
// The recognized top-level categories are hardware, logic and gui (loadable
// module definitions), startup (the logic/gui subset brought up
// automatically) and global (process-wide settings). Every other key is
// merged into the generic config namespace: map values key by key, scalars
// overwritten.
//
// Configure never fails: malformed entries are logged with error severity
// and skipped. A "configuration changed" notification is emitted on
// completion.
func (m *Manager) Configure(ctx context.Context, cfg map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configureLocked(ctx, cfg)
}

func (m *Manager) configureLocked(ctx context.Context, cfg map[string]any) {
	for _, key := range sortedKeys(cfg) {
		switch key {
		case "hardware", "logic", "gui":
			cat := module.Category(key)
			entries, ok := config.SubMap(cfg, key)
			if !ok {
				m.log(ctx, ctxlog.SeverityError, 5, "Category section is not a map, ignoring.", "category", key)
				continue
			}
			m.defineCategoryLocked(ctx, cat, entries, false)
		case "startup":
			startup, ok := config.SubMap(cfg, key)
			if !ok {
				m.log(ctx, ctxlog.SeverityError, 5, "Startup section is not a map, ignoring.")
				continue
			}
			for _, skey := range sortedKeys(startup) {
				cat, err := module.ParseCategory(skey)
				if err != nil || cat == module.Hardware {
					m.log(ctx, ctxlog.SeverityWarning, 3,
						"Startup section supports only logic and gui, ignoring.", "section", skey)
					continue
				}
				entries, ok := config.SubMap(startup, skey)
				if !ok {
					m.log(ctx, ctxlog.SeverityError, 5, "Startup category is not a map, ignoring.", "category", skey)
					continue
				}
				m.defineCategoryLocked(ctx, cat, entries, true)
			}
		case "global":
			globals, ok := config.SubMap(cfg, key)
			if !ok {
				m.log(ctx, ctxlog.SeverityError, 5, "Global section is not a map, ignoring.")
				continue
			}
			m.applyGlobalLocked(ctx, globals)
		default:
			if sub, ok := config.SubMap(cfg, key); ok {
				dst, ok := config.SubMap(m.generic, key)
				if !ok {
					dst = make(map[string]any)
					m.generic[key] = dst
				}
				config.Merge(dst, sub)
			} else {
				m.generic[key] = cfg[key]
			}
		}
	}
	m.publish(notify.Event{Kind: notify.ConfigChanged})
}

// defineCategoryLocked parses every instance entry of one category section
// into the defined tree. Entries without a usable module declaration are
// skipped with an error log, never fatally.
func (m *Manager) defineCategoryLocked(ctx context.Context, cat module.Category, entries map[string]any, startup bool) {
	for _, name := range sortedKeys(entries) {
		if cat == module.Hardware && m.deviceDisabled(name) {
			m.log(ctx, ctxlog.SeverityStatus, 3, "Ignoring device, disabled by request.", "instance", name)
			continue
		}
		entry, ok := config.SubMap(entries, name)
		if !ok {
			m.log(ctx, ctxlog.SeverityError, 5, "Module entry is not a map, ignoring.",
				"category", string(cat), "instance", name)
			continue
		}
		desc, err := module.ParseDescriptor(cat, name, entry)
		if err != nil {
			m.log(ctx, ctxlog.SeverityError, 5, "Ignoring module entry.",
				"category", string(cat), "instance", name, "error", err)
			continue
		}
		m.defined[cat].set(name, desc)
		if startup && !containsString(m.startup[cat], name) {
			m.startup[cat] = append(m.startup[cat], name)
		}
	}
}

func (m *Manager) applyGlobalLocked(ctx context.Context, globals map[string]any) {
	for _, gkey := range sortedKeys(globals) {
		switch gkey {
		case "storagedir", "storageDir":
			dir, ok := config.String(globals, gkey)
			if !ok {
				m.log(ctx, ctxlog.SeverityError, 5, "Storage directory is not a string, ignoring.")
				continue
			}
			m.log(ctx, ctxlog.SeverityStatus, 5, "Setting storage directory.", "dir", dir)
			m.storageMu.Lock()
			m.storageDir = dir
			m.storageMu.Unlock()
		default:
			m.global[gkey] = globals[gkey]
		}
	}
}

func (m *Manager) deviceDisabled(name string) bool {
	if m.opts.DisableAllDevices {
		return true
	}
	return containsString(m.opts.DisabledDevices, name)
}

// Global returns a process-wide setting from the "global" section.
func (m *Manager) Global(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.global[key]
	return v, ok
}

// Configurations lists the named configurations available in the generic
// "configurations" namespace.
func (m *Manager) Configurations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := config.SubMap(m.generic, "configurations")
	if !ok {
		return nil
	}
	return sortedKeys(sub)
}

// LoadNamedConfiguration re-runs Configure with the named sub-configuration.
func (m *Manager) LoadNamedConfiguration(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := config.SubMap(m.generic, "configurations")
	if !ok {
		return fmt.Errorf("no named configurations defined")
	}
	cfg, ok := config.SubMap(sub, name)
	if !ok {
		return fmt.Errorf("no configuration named %q", name)
	}
	m.configureLocked(ctx, cfg)
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

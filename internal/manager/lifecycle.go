package manager

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/labkit/modhost/internal/ctxlog"
	"github.com/labkit/modhost/internal/depgraph"
	"github.com/labkit/modhost/internal/fsm"
	"github.com/labkit/modhost/internal/module"
	"github.com/labkit/modhost/internal/notify"
)

// LoadModule instantiates a defined module without wiring or activating it.
// The instance starts deactivated. Loading an already loaded instance fails
// with ErrDuplicateInstance.
func (m *Manager) LoadModule(ctx context.Context, cat module.Category, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadModuleLocked(ctx, cat, key)
}

func (m *Manager) loadModuleLocked(ctx context.Context, cat module.Category, key string) error {
	desc, ok := m.descriptor(cat, key)
	if !ok {
		return fmt.Errorf("%s.%s: not defined in configuration", cat, key)
	}
	if m.loaded[cat].has(key) {
		return fmt.Errorf("%s.%s: %w", cat, key, ErrDuplicateInstance)
	}
	for _, banned := range []string{"remote", "remoteaccess"} {
		if _, found := desc.Config[banned]; found {
			m.log(ctx, ctxlog.SeverityWarning, 3,
				"Remote module access is not supported, ignoring the setting.",
				"category", string(cat), "instance", key, "key", banned)
		}
	}

	handle, err := m.reg.Lookup(cat, desc.ModuleName)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", cat, key, err)
	}
	factory, err := handle.Factory(desc.ClassName)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", cat, key, err)
	}
	inst, err := factory(m, key, desc.Config)
	if err != nil {
		return fmt.Errorf("%s.%s: constructing instance: %w", cat, key, err)
	}
	inst.State().SetHooks(inst.OnActivate, inst.OnDeactivate)

	entry := &loadedEntry{inst: inst}
	entry.live.Store(true)
	m.loaded[cat].set(key, entry)
	m.log(ctx, ctxlog.SeverityStatus, 3, "Loaded module instance.",
		"category", string(cat), "instance", key, "module", desc.ModuleName, "class", desc.ClassName)
	m.publish(notify.Event{Kind: notify.ModulesChanged, Category: string(cat), Name: key})
	return nil
}

// ConfigureModule instantiates a defined module and wires its connectors.
// Configuring an instance that is already loaded fails with
// ErrDuplicateInstance and leaves the existing instance untouched.
func (m *Manager) ConfigureModule(ctx context.Context, cat module.Category, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configureModuleLocked(ctx, cat, key)
}

func (m *Manager) configureModuleLocked(ctx context.Context, cat module.Category, key string) error {
	if err := m.loadModuleLocked(ctx, cat, key); err != nil {
		return err
	}
	return m.connectModuleLocked(ctx, cat, key)
}

// ensureConfiguredLocked is the idempotent variant used when bringing up
// dependency chains: an already loaded instance is only re-checked for
// missing connections.
func (m *Manager) ensureConfiguredLocked(ctx context.Context, cat module.Category, key string) error {
	if m.loaded[cat].has(key) {
		return m.connectModuleLocked(ctx, cat, key)
	}
	return m.configureModuleLocked(ctx, cat, key)
}

// ActivateModule fires the activate transition on a loaded, deactivated
// instance. A failing activation callback is logged; the state change is
// kept either way.
func (m *Manager) ActivateModule(ctx context.Context, cat module.Category, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activateModuleLocked(ctx, cat, key)
}

func (m *Manager) activateModuleLocked(ctx context.Context, cat module.Category, key string) error {
	entry, ok := m.loadedEntry(cat, key)
	if !ok {
		return fmt.Errorf("%s.%s: %w", cat, key, ErrNotLoaded)
	}
	if st := entry.inst.State().Current(); st != fsm.Deactivated {
		m.log(ctx, ctxlog.SeverityStatus, 2, "Module already active, nothing to do.",
			"category", string(cat), "instance", key, "state", st.String())
		return nil
	}
	err := entry.inst.State().Fire(ctx, fsm.Activate)
	var hookErr *fsm.HookError
	if errors.As(err, &hookErr) {
		m.log(ctx, ctxlog.SeverityError, 7, "Module activation callback failed.",
			"category", string(cat), "instance", key, "error", hookErr.Err)
		err = nil
	}
	if err != nil {
		return fmt.Errorf("%s.%s: %w", cat, key, err)
	}
	m.log(ctx, ctxlog.SeverityStatus, 3, "Activated module.", "category", string(cat), "instance", key)
	m.publish(notify.Event{Kind: notify.StateChanged, Category: string(cat), Name: key,
		Detail: entry.inst.State().Current().String()})
	return nil
}

// DeactivateModule fires the deactivate transition on an idle or running
// instance. As with activation, a failing callback does not revert the
// transition.
func (m *Manager) DeactivateModule(ctx context.Context, cat module.Category, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateModuleLocked(ctx, cat, key)
}

func (m *Manager) deactivateModuleLocked(ctx context.Context, cat module.Category, key string) error {
	entry, ok := m.loadedEntry(cat, key)
	if !ok {
		return fmt.Errorf("%s.%s: %w", cat, key, ErrNotLoaded)
	}
	switch entry.inst.State().Current() {
	case fsm.Idle, fsm.Running:
	case fsm.Deactivated:
		return nil
	default:
		return fmt.Errorf("%s.%s: cannot deactivate from state %s",
			cat, key, entry.inst.State().Current())
	}
	err := entry.inst.State().Fire(ctx, fsm.Deactivate)
	var hookErr *fsm.HookError
	if errors.As(err, &hookErr) {
		m.log(ctx, ctxlog.SeverityError, 7, "Module deactivation callback failed.",
			"category", string(cat), "instance", key, "error", hookErr.Err)
		err = nil
	}
	if err != nil {
		return fmt.Errorf("%s.%s: %w", cat, key, err)
	}
	m.log(ctx, ctxlog.SeverityStatus, 3, "Deactivated module.", "category", string(cat), "instance", key)
	m.publish(notify.Event{Kind: notify.StateChanged, Category: string(cat), Name: key,
		Detail: entry.inst.State().Current().String()})
	return nil
}

// RemoveModule deactivates an instance if needed and drops it from the
// loaded tree. Connector bindings held by other modules go stale rather
// than dangle; those modules report the connector as unbound afterwards.
func (m *Manager) RemoveModule(ctx context.Context, cat module.Category, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeModuleLocked(ctx, cat, key)
}

func (m *Manager) removeModuleLocked(ctx context.Context, cat module.Category, key string) error {
	entry, ok := m.loadedEntry(cat, key)
	if !ok {
		return fmt.Errorf("%s.%s: %w", cat, key, ErrNotLoaded)
	}
	var errs error
	if entry.inst.State().Current() != fsm.Deactivated {
		errs = multierr.Append(errs, m.deactivateModuleLocked(ctx, cat, key))
	}
	entry.live.Store(false)
	entry.inst.Connectors().UnbindAll()
	m.loaded[cat].remove(key)
	m.log(ctx, ctxlog.SeverityStatus, 3, "Removed module instance.", "category", string(cat), "instance", key)
	m.publish(notify.Event{Kind: notify.ModulesChanged, Category: string(cat), Name: key})
	return errs
}

// StartModule brings the instance and its whole dependency chain up: every
// dependency is loaded, connected and activated in resolver order before
// the instance itself.
func (m *Manager) StartModule(ctx context.Context, cat module.Category, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startModuleLocked(ctx, cat, key)
}

func (m *Manager) startModuleLocked(ctx context.Context, cat module.Category, key string) error {
	g := depgraph.New()
	if err := m.collectDependenciesLocked(cat, key, g, map[string]bool{}); err != nil {
		return err
	}
	order, err := g.Sort(nil)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", cat, key, err)
	}

	var errs error
	for _, node := range order {
		ref := parseGraphNode(node)
		if err := m.ensureConfiguredLocked(ctx, ref.Category, ref.Key); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		entry, _ := m.loadedEntry(ref.Category, ref.Key)
		if unbound := entry.inst.Connectors().UnboundIn(); len(unbound) > 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s.%s: not activating, unbound in connectors: %v",
				ref.Category, ref.Key, unbound))
			continue
		}
		errs = multierr.Append(errs, m.activateModuleLocked(ctx, ref.Category, ref.Key))
	}
	return errs
}

// StopModule deactivates the instance together with every loaded module
// that currently depends on it, dependents first.
func (m *Manager) StopModule(ctx context.Context, cat module.Category, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopModuleLocked(ctx, cat, key, map[string]bool{})
}

func (m *Manager) stopModuleLocked(ctx context.Context, cat module.Category, key string, seen map[string]bool) error {
	if seen[string(cat)+"."+key] {
		return nil
	}
	seen[string(cat)+"."+key] = true

	var errs error
	for _, dep := range m.simpleDependentsLocked(cat, key) {
		errs = multierr.Append(errs, m.stopModuleLocked(ctx, dep.Category, dep.Key, seen))
	}
	errs = multierr.Append(errs, m.deactivateModuleLocked(ctx, cat, key))
	return errs
}

// RestartModule rebuilds one instance from its descriptor. Modules holding
// a connector reference to it are deactivated first, then the instance is
// dropped, re-created, re-wired and re-activated, and finally the
// dependents are re-wired and brought back up.
func (m *Manager) RestartModule(ctx context.Context, cat module.Category, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dependents := m.simpleDependentsLocked(cat, key)
	var errs error
	for _, dep := range dependents {
		errs = multierr.Append(errs, m.deactivateModuleLocked(ctx, dep.Category, dep.Key))
	}
	if err := m.removeModuleLocked(ctx, cat, key); err != nil {
		return multierr.Append(errs, err)
	}
	if err := m.configureModuleLocked(ctx, cat, key); err != nil {
		return multierr.Append(errs, err)
	}
	errs = multierr.Append(errs, m.activateModuleLocked(ctx, cat, key))

	// The removal left the dependents with stale bindings; reconnecting
	// rebinds them to the fresh instance.
	for _, dep := range dependents {
		if err := m.connectModuleLocked(ctx, dep.Category, dep.Key); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, m.activateModuleLocked(ctx, dep.Category, dep.Key))
	}
	return errs
}

// StartAllConfiguredModules brings up every defined module, hardware
// first, then logic, then gui, with each instance's dependency chain
// resolved before it. Failures are collected; one broken module never
// prevents the rest from starting.
func (m *Manager) StartAllConfiguredModules(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for _, cat := range module.Categories() {
		for _, key := range m.defined[cat].names() {
			if err := m.startModuleLocked(ctx, cat, key); err != nil {
				m.log(ctx, ctxlog.SeverityError, 7, "Startup module failed.",
					"category", string(cat), "instance", key, "error", err)
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

// StartStartupModules brings up only the instances named in the startup
// section, each with its dependency chain. This is what runs at launch,
// while StartAllConfiguredModules covers the whole defined tree.
func (m *Manager) StartStartupModules(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for _, cat := range []module.Category{module.Logic, module.GUI} {
		for _, key := range m.startup[cat] {
			if err := m.startModuleLocked(ctx, cat, key); err != nil {
				m.log(ctx, ctxlog.SeverityError, 7, "Startup module failed.",
					"category", string(cat), "instance", key, "error", err)
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

// Quit requests an orderly shutdown. It only flips a flag and emits a
// notification, so it is safe to call from module callbacks and event
// handlers while the manager lock is held; the application loop reacts by
// calling Shutdown.
func (m *Manager) Quit() {
	if !m.quitRequested.CompareAndSwap(false, true) {
		return
	}
	m.publish(notify.Event{Kind: notify.QuitRequested})
}

// QuitRequested reports whether Quit has been called.
func (m *Manager) QuitRequested() bool {
	return m.quitRequested.Load()
}

// Shutdown deactivates and removes every loaded module, gui first and
// hardware last, then stops all module threads. It runs at most once;
// later calls return the first result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.shutdownErr = m.shutdown(ctx)
	})
	return m.shutdownErr
}

func (m *Manager) shutdown(ctx context.Context) error {
	m.mu.Lock()
	var errs error
	cats := module.Categories()
	for i := len(cats) - 1; i >= 0; i-- {
		names := m.loaded[cats[i]].names()
		for j := len(names) - 1; j >= 0; j-- {
			errs = multierr.Append(errs, m.removeModuleLocked(ctx, cats[i], names[j]))
		}
	}
	m.mu.Unlock()

	// Threads are joined outside the lock; a module's run loop may call
	// back into the manager while winding down.
	errs = multierr.Append(errs, m.threads.QuitAllThreads())
	m.log(ctx, ctxlog.SeverityStatus, 5, "Manager shut down.", "uptime", m.Uptime().String())
	return errs
}

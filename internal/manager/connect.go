package manager

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/labkit/modhost/internal/connector"
	"github.com/labkit/modhost/internal/ctxlog"
	"github.com/labkit/modhost/internal/depgraph"
	"github.com/labkit/modhost/internal/module"
)

// moduleRef names one instance in the loaded or defined tree.
type moduleRef struct {
	Category module.Category
	Key      string
}

// ConnectModule wires every entry of the instance's declared connect map.
// Each target of the form "otherInstance.outConnector" is resolved against
// the loaded hardware and logic trees and bound to the matching in-slot.
//
// A single failed connector logs a descriptive error and skips only that
// connector; the remaining ones are still attempted. The returned error
// aggregates the failures and additionally reports in-connectors that are
// left unbound afterwards.
func (m *Manager) ConnectModule(ctx context.Context, cat module.Category, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectModuleLocked(ctx, cat, key)
}

func (m *Manager) connectModuleLocked(ctx context.Context, cat module.Category, key string) error {
	desc, ok := m.descriptor(cat, key)
	if !ok {
		return fmt.Errorf("%s.%s: not defined in configuration", cat, key)
	}
	entry, ok := m.loadedEntry(cat, key)
	if !ok {
		m.log(ctx, ctxlog.SeverityError, 5, "Module not loaded, cannot connect it.",
			"category", string(cat), "instance", key)
		return fmt.Errorf("%s.%s: %w", cat, key, ErrNotLoaded)
	}
	if len(desc.Connect) == 0 {
		return nil
	}

	consumer := entry.inst.Connectors()
	var errs error
	for _, inName := range desc.ConnectNames() {
		target := desc.Connect[inName]
		if slot, ok := consumer.In(inName); ok && slot.Bound() {
			m.log(ctx, ctxlog.SeverityStatus, 2, "Connector already connected, skipping it.",
				"category", string(cat), "instance", key, "connector", inName)
			continue
		}
		if err := m.bindOneLocked(ctx, consumer, inName, target); err != nil {
			m.log(ctx, ctxlog.SeverityError, 5, "Connector failed, skipping it.",
				"category", string(cat), "instance", key, "connector", inName, "target", target, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%s.%s.%s: %w", cat, key, inName, err))
			continue
		}
		m.log(ctx, ctxlog.SeverityStatus, 3, "Connected module connector.",
			"category", string(cat), "instance", key, "connector", inName, "target", target)
	}

	// A module whose in-connectors are not all bound is not ready to
	// activate; report the incomplete wiring.
	for _, name := range consumer.UnboundIn() {
		errs = multierr.Append(errs, fmt.Errorf("%s.%s: in connector %q is empty, connection not complete", cat, key, name))
	}
	return errs
}

// bindOneLocked resolves one "instance.connector" target and performs the
// bind through the connector protocol.
func (m *Manager) bindOneLocked(ctx context.Context, consumer *connector.Table, inName, target string) error {
	parts := strings.SplitN(target, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("target %q is not of the form \"instance.connector\"", target)
	}
	destKey, outName := parts[0], parts[1]

	_, producerEntry, err := m.resolveProducerLocked(destKey)
	if err != nil {
		return err
	}
	return connector.Bind(consumer, inName, producerEntry.inst.Connectors(), outName,
		producerEntry.inst, producerEntry.live.Load)
}

// resolveProducerLocked finds the loaded instance a connection target names.
// Producers live in the hardware or logic trees only; a name present in
// both is a hard error because the connection is not well defined.
func (m *Manager) resolveProducerLocked(destKey string) (moduleRef, *loadedEntry, error) {
	lookup := func(name string) (moduleRef, *loadedEntry, bool, error) {
		inHardware := m.loaded[module.Hardware].has(name)
		inLogic := m.loaded[module.Logic].has(name)
		if inHardware && inLogic {
			return moduleRef{}, nil, false, fmt.Errorf("%w: %q", ErrAmbiguousInstance, name)
		}
		if inHardware {
			e, _ := m.loadedEntry(module.Hardware, name)
			return moduleRef{module.Hardware, name}, e, true, nil
		}
		if inLogic {
			e, _ := m.loadedEntry(module.Logic, name)
			return moduleRef{module.Logic, name}, e, true, nil
		}
		return moduleRef{}, nil, false, nil
	}

	ref, e, found, err := lookup(destKey)
	if err != nil {
		return moduleRef{}, nil, err
	}
	if !found {
		// The config parser lowercases section keys, so tolerate targets
		// written with the original casing.
		ref, e, found, err = lookup(strings.ToLower(destKey))
		if err != nil {
			return moduleRef{}, nil, err
		}
	}
	if !found {
		return moduleRef{}, nil, fmt.Errorf("instance %q is neither in the hardware nor the logic tree", destKey)
	}
	return ref, e, nil
}

// resolveDefinedLocked is resolveProducerLocked against the defined trees,
// used for dependency analysis before anything is loaded.
func (m *Manager) resolveDefinedLocked(destKey string) (moduleRef, error) {
	lookup := func(name string) (moduleRef, bool, error) {
		inHardware := m.defined[module.Hardware].has(name)
		inLogic := m.defined[module.Logic].has(name)
		if inHardware && inLogic {
			return moduleRef{}, false, fmt.Errorf("%w: %q", ErrAmbiguousInstance, name)
		}
		if inHardware {
			return moduleRef{module.Hardware, name}, true, nil
		}
		if inLogic {
			return moduleRef{module.Logic, name}, true, nil
		}
		return moduleRef{}, false, nil
	}

	ref, found, err := lookup(destKey)
	if err != nil {
		return moduleRef{}, err
	}
	if !found {
		ref, found, err = lookup(strings.ToLower(destKey))
		if err != nil {
			return moduleRef{}, err
		}
	}
	if !found {
		return moduleRef{}, fmt.Errorf("instance %q is neither in the defined hardware nor logic tree", destKey)
	}
	return ref, nil
}

// RecursiveDependencies returns the dependency graph rooted at (cat, key),
// built from the connect declarations of the defined tree. The result is
// suitable for the resolver.
func (m *Manager) RecursiveDependencies(cat module.Category, key string) (*depgraph.Graph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := depgraph.New()
	if err := m.collectDependenciesLocked(cat, key, g, map[string]bool{}); err != nil {
		return nil, err
	}
	return g, nil
}

func (m *Manager) collectDependenciesLocked(cat module.Category, key string, g *depgraph.Graph, seen map[string]bool) error {
	// Nodes are category qualified so same-named instances in different
	// categories never collapse into one.
	node := graphNode(moduleRef{cat, key})
	if seen[node] {
		return nil
	}
	seen[node] = true

	desc, ok := m.descriptor(cat, key)
	if !ok {
		return fmt.Errorf("%s.%s: not defined in configuration", cat, key)
	}
	g.Add(node)
	for _, inName := range desc.ConnectNames() {
		target := desc.Connect[inName]
		destKey := strings.SplitN(target, ".", 2)[0]
		ref, err := m.resolveDefinedLocked(destKey)
		if err != nil {
			return fmt.Errorf("%s.%s: connector %q: %w", cat, key, inName, err)
		}
		g.Add(node, graphNode(ref))
		if err := m.collectDependenciesLocked(ref.Category, ref.Key, g, seen); err != nil {
			return err
		}
	}
	return nil
}

// graphNode renders a moduleRef as a resolver node name.
func graphNode(ref moduleRef) string {
	return string(ref.Category) + "." + ref.Key
}

// parseGraphNode is the inverse of graphNode.
func parseGraphNode(node string) moduleRef {
	parts := strings.SplitN(node, ".", 2)
	return moduleRef{module.Category(parts[0]), parts[1]}
}

// SimpleDependents lists the loaded instances currently holding a live
// connector binding to (cat, key).
func (m *Manager) SimpleDependents(cat module.Category, key string) []moduleRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.simpleDependentsLocked(cat, key)
}

func (m *Manager) simpleDependentsLocked(cat module.Category, key string) []moduleRef {
	target, ok := m.loadedEntry(cat, key)
	if !ok {
		return nil
	}
	var deps []moduleRef
	for _, mcat := range module.Categories() {
		for _, mkey := range m.loaded[mcat].names() {
			entry, _ := m.loadedEntry(mcat, mkey)
			conns := entry.inst.Connectors()
			for _, inName := range conns.InNames() {
				slot, _ := conns.In(inName)
				if bound, ok := slot.Resolve(); ok && bound == any(target.inst) {
					deps = append(deps, moduleRef{mcat, mkey})
					break
				}
			}
		}
	}
	return deps
}

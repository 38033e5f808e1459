// Package registry is the explicit module-factory registry. Modules
// register a constructor for every (category, moduleName, className) they
// provide at startup; the orchestrator resolves configuration entries
// against it instead of discovering classes by reflection.
package registry

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labkit/modhost/internal/module"
)

// Factory constructs one module instance. The orchestrator calls it with
// itself as host, the configured instance name, and the instance's
// configuration entry.
type Factory func(host module.Host, instanceName string, config map[string]any) (module.Module, error)

// Registrant is implemented by every built-in module package so it can be
// compiled into the host binary and register its factories.
type Registrant interface {
	Register(r *Registry)
}

// ErrUnknownModule is returned when no factory set exists for a module name.
var ErrUnknownModule = errors.New("module not registered")

// ErrUnknownClass is returned when a module is registered but lacks the
// requested class.
var ErrUnknownClass = errors.New("class not registered")

// Handle is the resolved code of one module: the set of classes it
// provides, ready to instantiate. It corresponds to a loaded-but-not-
// instantiated module.
type Handle struct {
	category   module.Category
	moduleName string
	classes    map[string]Factory
}

// Category returns the category the handle was registered under.
func (h *Handle) Category() module.Category { return h.category }

// ModuleName returns the registered module name.
func (h *Handle) ModuleName() string { return h.moduleName }

// Factory returns the constructor for the named class.
func (h *Handle) Factory(className string) (Factory, error) {
	f, ok := h.classes[className]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s.%s", ErrUnknownClass, h.category, h.moduleName, className)
	}
	return f, nil
}

// Registry holds all registered module factories for a single host
// instance. Registration happens once at startup, before any lookup.
type Registry struct {
	modules map[module.Category]map[string]*Handle
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{modules: make(map[module.Category]map[string]*Handle)}
}

// Register adds a constructor for (category, moduleName, className).
// Registering the same triple twice is a programmer error and panics.
func (r *Registry) Register(category module.Category, moduleName, className string, f Factory) {
	if _, err := module.ParseCategory(string(category)); err != nil {
		panic(fmt.Sprintf("registry: %v", err))
	}
	byName, ok := r.modules[category]
	if !ok {
		byName = make(map[string]*Handle)
		r.modules[category] = byName
	}
	h, ok := byName[moduleName]
	if !ok {
		h = &Handle{category: category, moduleName: moduleName, classes: make(map[string]Factory)}
		byName[moduleName] = h
	}
	if _, exists := h.classes[className]; exists {
		panic(fmt.Sprintf("registry: factory for %s.%s.%s already registered", category, moduleName, className))
	}
	slog.Debug("Registering module factory.", "category", string(category), "module", moduleName, "class", className)
	h.classes[className] = f
}

// Lookup resolves a module's code without instantiating it. The category
// must be one of hardware, logic or gui.
func (r *Registry) Lookup(category module.Category, moduleName string) (*Handle, error) {
	if _, err := module.ParseCategory(string(category)); err != nil {
		return nil, err
	}
	h, ok := r.modules[category][moduleName]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownModule, category, moduleName)
	}
	return h, nil
}

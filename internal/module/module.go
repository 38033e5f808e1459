// Package module defines the contract every loadable module fulfils: a
// category, a unique instance name, a connector table, and the shared
// activation state machine. Concrete modules embed Base and override the
// activation hooks.
package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/labkit/modhost/internal/connector"
	"github.com/labkit/modhost/internal/fsm"
	"github.com/labkit/modhost/internal/notify"
	"github.com/labkit/modhost/internal/threads"
)

// Category is one of the three buckets modules are organized into.
type Category string

const (
	Hardware Category = "hardware"
	Logic    Category = "logic"
	GUI      Category = "gui"
)

// ErrUnknownCategory is returned for any category outside hardware, logic
// and gui.
var ErrUnknownCategory = errors.New("unknown module category")

// Categories lists the valid categories in their fixed host order.
func Categories() []Category {
	return []Category{Hardware, Logic, GUI}
}

// ParseCategory validates a category string from configuration.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case Hardware, Logic, GUI:
		return Category(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
}

// Host is the surface the orchestrator exposes to its modules. A module
// receives its host at construction time and uses it for logging, worker
// threads and notifications.
type Host interface {
	Logger() *slog.Logger
	Threads() *threads.Registry
	Events() *notify.Bus
	StorageDir() string
}

// Module is a live, instantiated module. The orchestrator exclusively owns
// every instance; no other component constructs one directly.
type Module interface {
	Name() string
	Connectors() *connector.Table
	State() *fsm.Machine

	// OnActivate is invoked exactly once per successful activate
	// transition; OnDeactivate per successful deactivate. A returned error
	// is logged by the orchestrator but does not revert the transition.
	OnActivate(ctx context.Context) error
	OnDeactivate(ctx context.Context) error
}

// Base carries the state shared by all modules. Embed it and override
// OnActivate/OnDeactivate.
type Base struct {
	host    Host
	name    string
	config  map[string]any
	conns   *connector.Table
	machine *fsm.Machine
}

// NewBase initializes the shared module state.
func NewBase(host Host, name string, config map[string]any) Base {
	if config == nil {
		config = map[string]any{}
	}
	return Base{
		host:    host,
		name:    name,
		config:  config,
		conns:   connector.NewTable(),
		machine: fsm.New(),
	}
}

// Name returns the unique instance name from configuration.
func (b *Base) Name() string { return b.name }

// Host returns the orchestrator surface handed in at construction.
func (b *Base) Host() Host { return b.host }

// Config returns the module's configuration entry.
func (b *Base) Config() map[string]any { return b.config }

// Connectors returns the module's connector table.
func (b *Base) Connectors() *connector.Table { return b.conns }

// State returns the module's activation state machine.
func (b *Base) State() *fsm.Machine { return b.machine }

// OnActivate must be overridden by the concrete module.
func (b *Base) OnActivate(ctx context.Context) error {
	return fmt.Errorf("module %q does not implement activation", b.name)
}

// OnDeactivate must be overridden by the concrete module.
func (b *Base) OnDeactivate(ctx context.Context) error {
	return fmt.Errorf("module %q does not implement deactivation", b.name)
}

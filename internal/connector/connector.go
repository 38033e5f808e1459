// Package connector implements the wiring protocol between module
// instances. Every instance owns a Table of named in/out slots; the host
// binds a consumer's in-slot to a producer's out-slot after validating the
// declared interfaces.
//
// A binding is a non-owning reference: the producer may be deactivated and
// removed while a consumer still holds the slot, in which case the slot
// reads back as unbound rather than dangling.
package connector

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateConnector is returned when a module declares the same
// connector name twice.
var ErrDuplicateConnector = errors.New("connector already declared")

// BindErrorKind discriminates the ways a bind attempt can fail.
type BindErrorKind int

const (
	// NotFound means the named connector is not declared.
	NotFound BindErrorKind = iota
	// AlreadyBound means the in-slot already holds a live binding.
	AlreadyBound
	// InterfaceMismatch means the declared interfaces are not compatible.
	InterfaceMismatch
)

func (k BindErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case AlreadyBound:
		return "already bound"
	case InterfaceMismatch:
		return "interface mismatch"
	default:
		return fmt.Sprintf("bind error(%d)", int(k))
	}
}

// BindError describes a failed bind attempt. The whole attempt for the slot
// pair is aborted; no partial binding is left behind.
type BindError struct {
	Kind      BindErrorKind
	Connector string
	Reason    string
}

func (e *BindError) Error() string {
	return fmt.Sprintf("connector %q: %s: %s", e.Connector, e.Kind, e.Reason)
}

// binding is the non-owning reference stored in a bound in-slot.
type binding struct {
	target any
	alive  func() bool
}

func (b *binding) live() bool {
	return b != nil && (b.alive == nil || b.alive())
}

// Slot is a single declared connector with its expected or exposed
// interface name. Only in-slots ever carry a binding.
type Slot struct {
	mu    sync.RWMutex
	name  string
	iface string
	bound *binding
}

// Name returns the connector name.
func (s *Slot) Name() string { return s.name }

// Interface returns the declared interface name.
func (s *Slot) Interface() string { return s.iface }

// Bound reports whether the slot holds a live binding. A binding whose
// producer has been removed counts as unbound.
func (s *Slot) Bound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound.live()
}

// Resolve returns the bound producer, or (nil, false) when the slot is
// unbound or its producer no longer exists.
func (s *Slot) Resolve() (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.bound.live() {
		return nil, false
	}
	return s.bound.target, true
}

func (s *Slot) bind(target any, alive func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound = &binding{target: target, alive: alive}
}

func (s *Slot) unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound = nil
}

// Table holds the declared in and out connectors of one module instance.
type Table struct {
	mu       sync.RWMutex
	in       map[string]*Slot
	out      map[string]*Slot
	inOrder  []string
	outOrder []string
}

// NewTable creates an empty connector table.
func NewTable() *Table {
	return &Table{
		in:  make(map[string]*Slot),
		out: make(map[string]*Slot),
	}
}

// DeclareIn declares a named in-connector expecting the given interface.
// Declaring the same name twice fails with ErrDuplicateConnector.
func (t *Table) DeclareIn(name, expectedInterface string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.in[name]; exists {
		return fmt.Errorf("%w: in connector %q", ErrDuplicateConnector, name)
	}
	t.in[name] = &Slot{name: name, iface: expectedInterface}
	t.inOrder = append(t.inOrder, name)
	return nil
}

// DeclareOut declares a named out-connector exposing the given interface.
func (t *Table) DeclareOut(name, exposedInterface string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.out[name]; exists {
		return fmt.Errorf("%w: out connector %q", ErrDuplicateConnector, name)
	}
	t.out[name] = &Slot{name: name, iface: exposedInterface}
	t.outOrder = append(t.outOrder, name)
	return nil
}

// In returns the named in-slot.
func (t *Table) In(name string) (*Slot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.in[name]
	return s, ok
}

// Out returns the named out-slot.
func (t *Table) Out(name string) (*Slot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.out[name]
	return s, ok
}

// InNames returns the in-connector names in declaration order.
func (t *Table) InNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.inOrder))
	copy(out, t.inOrder)
	return out
}

// OutNames returns the out-connector names in declaration order.
func (t *Table) OutNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.outOrder))
	copy(out, t.outOrder)
	return out
}

// UnboundIn returns the names of in-connectors without a live binding, in
// declaration order. A module with an empty result is ready to activate.
func (t *Table) UnboundIn() []string {
	var unbound []string
	for _, name := range t.InNames() {
		s, _ := t.In(name)
		if !s.Bound() {
			unbound = append(unbound, name)
		}
	}
	return unbound
}

// Unbind clears the named in-slot. Unknown names are ignored.
func (t *Table) Unbind(name string) {
	if s, ok := t.In(name); ok {
		s.unbind()
	}
}

// UnbindAll clears every in-slot.
func (t *Table) UnbindAll() {
	for _, name := range t.InNames() {
		t.Unbind(name)
	}
}

// Bind wires consumer's in-connector inName to producer's out-connector
// outName. The checks run in order: both connectors must be declared, the
// in-slot must not already hold a live binding, and the declared interfaces
// must be compatible. Any failure aborts the attempt with a *BindError and
// leaves the slot untouched.
//
// target is the producer instance the consumer will see; alive reports
// whether that instance is still registered, making the stored reference
// non-owning. A stale binding whose producer is gone may be re-bound.
func Bind(consumer *Table, inName string, producer *Table, outName string, target any, alive func() bool) error {
	inSlot, ok := consumer.In(inName)
	if !ok {
		return &BindError{Kind: NotFound, Connector: inName, Reason: "in connector not declared by consumer"}
	}
	outSlot, ok := producer.Out(outName)
	if !ok {
		return &BindError{Kind: NotFound, Connector: outName, Reason: "out connector not declared by producer"}
	}
	if inSlot.Bound() {
		return &BindError{Kind: AlreadyBound, Connector: inName, Reason: "in connector already connected"}
	}
	if inSlot.Interface() != outSlot.Interface() {
		return &BindError{
			Kind:      InterfaceMismatch,
			Connector: inName,
			Reason: fmt.Sprintf("expects %q but out connector %q exposes %q",
				inSlot.Interface(), outName, outSlot.Interface()),
		}
	}
	inSlot.bind(target, alive)
	return nil
}

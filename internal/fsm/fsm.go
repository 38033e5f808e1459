// Package fsm implements the activation state machine shared by every
// loadable module. The transition table is fixed: all modules move through
// the same five states, so the host can reason uniformly about readiness.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is the activation state of a module.
type State int

const (
	// Deactivated is the initial state of every module.
	Deactivated State = iota
	// Idle means the module is activated and ready for work.
	Idle
	// Running means the module is performing work.
	Running
	// Locked means the module refuses further commands until unlocked.
	Locked
	// Blocked means the module is waiting on an external condition.
	Blocked
)

func (s State) String() string {
	switch s {
	case Deactivated:
		return "deactivated"
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Locked:
		return "locked"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event names a requested transition.
type Event int

const (
	Activate Event = iota
	Deactivate
	Run
	Stop
	Lock
	Unlock
	LockToBlock
	Block
	Unblock
	RunLock
	RunBlock
)

func (e Event) String() string {
	switch e {
	case Activate:
		return "activate"
	case Deactivate:
		return "deactivate"
	case Run:
		return "run"
	case Stop:
		return "stop"
	case Lock:
		return "lock"
	case Unlock:
		return "unlock"
	case LockToBlock:
		return "locktoblock"
	case Block:
		return "block"
	case Unblock:
		return "unblock"
	case RunLock:
		return "runlock"
	case RunBlock:
		return "runblock"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// ErrIllegalTransition is returned by Fire when the event is not legal from
// the current state. The state is left unchanged.
var ErrIllegalTransition = errors.New("illegal state transition")

// HookError wraps an error returned by an activation or deactivation hook.
// The transition it decorates has already been committed; callers must not
// assume the module state was rolled back.
type HookError struct {
	Event Event
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook failed: %v", e.Event, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

type transition struct {
	event Event
	src   State
}

// transitions is the shared table of legal transitions.
var transitions = map[transition]State{
	{Activate, Deactivated}: Idle,
	{Deactivate, Idle}:      Deactivated,
	{Deactivate, Running}:   Deactivated,
	{Run, Idle}:             Running,
	{Stop, Running}:         Idle,
	{Lock, Idle}:            Locked,
	{Lock, Running}:         Locked,
	{Block, Idle}:           Blocked,
	{Block, Running}:        Blocked,
	{LockToBlock, Locked}:   Blocked,
	{Unlock, Locked}:        Idle,
	{Unblock, Blocked}:      Idle,
	{RunLock, Locked}:       Running,
	{RunBlock, Blocked}:     Running,
}

// Hook is invoked once per successful Activate or Deactivate transition.
type Hook func(ctx context.Context) error

// Machine is a module's activation state machine. The zero value is not
// usable; construct with New.
type Machine struct {
	mu           sync.Mutex
	state        State
	onActivate   Hook
	onDeactivate Hook
}

// New returns a Machine in the Deactivated state.
func New() *Machine {
	return &Machine{state: Deactivated}
}

// SetHooks installs the activation and deactivation hooks. It must be called
// before the first Fire; either hook may be nil.
func (m *Machine) SetHooks(onActivate, onDeactivate Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onActivate = onActivate
	m.onDeactivate = onDeactivate
}

// Current returns the current state. It is always defined.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanFire reports whether event is legal from the current state.
func (m *Machine) CanFire(event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := transitions[transition{event, m.state}]
	return ok
}

// Fire attempts the transition named by event. An event that is not legal
// from the current state fails with ErrIllegalTransition and leaves the
// state unchanged; there is no partial transition.
//
// A successful Activate or Deactivate additionally invokes the matching
// hook exactly once. A hook failure is reported as a *HookError but does
// not revert the already-committed transition.
func (m *Machine) Fire(ctx context.Context, event Event) error {
	m.mu.Lock()
	dst, ok := transitions[transition{event, m.state}]
	if !ok {
		src := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: %s from %s", ErrIllegalTransition, event, src)
	}
	m.state = dst
	var hook Hook
	switch event {
	case Activate:
		hook = m.onActivate
	case Deactivate:
		hook = m.onDeactivate
	}
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return &HookError{Event: event, Err: err}
		}
	}
	return nil
}

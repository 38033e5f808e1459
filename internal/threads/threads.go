// Package threads is the central bookkeeping of named background workers.
// Modules request a thread by unique name, start their work on it, and the
// registry reaps the entry when the work completes, reporting completions
// on a channel the host event loop drains.
package threads

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// Completion reports that a named thread finished, with the error its work
// function returned, if any.
type Completion struct {
	Name string
	Err  error
}

// Thread is a handle to one named worker. The caller starts the work with
// Go; cooperative termination is requested by cancelling Context.
type Thread struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the start state so Uptime never reads startedAt while Go
	// is writing it.
	mu        sync.Mutex
	started   bool
	startedAt time.Time

	running  atomic.Bool
	finished chan struct{}
	err      error
	reg      *Registry
}

// Name returns the unique thread name.
func (t *Thread) Name() string { return t.name }

// Context is cancelled when the thread is asked to quit. Work functions
// must watch it.
func (t *Thread) Context() context.Context { return t.ctx }

// Running reports whether the work function is currently executing.
func (t *Thread) Running() bool { return t.running.Load() }

// Uptime returns how long the thread has been running, zero if not started.
func (t *Thread) Uptime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return 0
	}
	return t.reg.clk.Now().Sub(t.startedAt)
}

func (t *Thread) hasStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Go starts fn on a new goroutine. It may be called at most once per
// thread; later calls are ignored. When fn returns the registry reaps the
// thread and emits a Completion.
func (t *Thread) Go(fn func(ctx context.Context) error) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		t.reg.logger.Warn("Thread already started.", "thread", t.name)
		return
	}
	t.started = true
	t.startedAt = t.reg.clk.Now()
	t.mu.Unlock()
	t.running.Store(true)
	go func() {
		err := fn(t.ctx)
		t.err = err
		t.running.Store(false)
		close(t.finished)
		t.reg.finish(t, err)
	}()
}

// Registry tracks all named worker threads of the host.
type Registry struct {
	mu          sync.Mutex
	logger      *slog.Logger
	clk         clock.Clock
	threads     map[string]*Thread
	completions chan Completion
}

// NewRegistry creates an empty thread registry. A nil clock uses the wall
// clock.
func NewRegistry(logger *slog.Logger, clk clock.Clock) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		logger:      logger,
		clk:         clk,
		threads:     make(map[string]*Thread),
		completions: make(chan Completion, 64),
	}
}

// NewThread registers a new named thread and returns its handle for the
// caller to start. A duplicate name is logged and yields nil.
func (r *Registry) NewThread(name string) *Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.threads[name]; exists {
		r.logger.Error("Thread name already registered.", "thread", name)
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Thread{
		name:     name,
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
		reg:      r,
	}
	r.threads[name] = t
	r.logger.Debug("Thread registered.", "thread", name)
	return t
}

// Thread looks up a registered thread by name.
func (r *Registry) Thread(name string) (*Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[name]
	return t, ok
}

// Names returns the names of all registered threads.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.threads))
	for name := range r.threads {
		names = append(names, name)
	}
	return names
}

// Completions delivers one entry per finished thread. The host event loop
// drains it; if nobody drains, completions are dropped rather than blocking
// the worker.
func (r *Registry) Completions() <-chan Completion {
	return r.completions
}

// finish is the completion callback registered for every thread.
func (r *Registry) finish(t *Thread, err error) {
	if err != nil {
		r.logger.Error("Thread finished with error.", "thread", t.name, "error", err)
	} else {
		r.logger.Debug("Thread finished.", "thread", t.name)
	}
	r.CleanupThread(t.name)
	select {
	case r.completions <- Completion{Name: t.name, Err: err}:
	default:
	}
}

// CleanupThread removes the named entry once its thread is no longer
// running. Cleanup of a still-running thread is a no-op.
func (r *Registry) CleanupThread(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[name]
	if !ok {
		return
	}
	if t.Running() {
		r.logger.Debug("Cleanup requested for running thread, ignoring.", "thread", name)
		return
	}
	delete(r.threads, name)
}

// QuitThread requests cooperative termination of the named thread. An
// unknown name is logged, not fatal.
func (r *Registry) QuitThread(name string) {
	r.mu.Lock()
	t, ok := r.threads[name]
	r.mu.Unlock()
	if !ok {
		r.logger.Warn("Cannot quit unknown thread.", "thread", name)
		return
	}
	t.cancel()
	// A thread that was registered but never started has no goroutine to
	// observe the cancellation, so reap it here.
	if !t.hasStarted() {
		r.mu.Lock()
		delete(r.threads, name)
		r.mu.Unlock()
	}
}

// JoinThread blocks until the named thread has finished. Unknown or never
// started threads return immediately.
func (r *Registry) JoinThread(name string) {
	r.mu.Lock()
	t, ok := r.threads[name]
	r.mu.Unlock()
	if !ok || !t.hasStarted() {
		return
	}
	<-t.finished
}

// QuitAllThreads cancels every registered thread and waits for the started
// ones to finish. The errors returned by the work functions are aggregated.
func (r *Registry) QuitAllThreads() error {
	r.mu.Lock()
	all := make([]*Thread, 0, len(r.threads))
	for _, t := range r.threads {
		all = append(all, t)
	}
	r.mu.Unlock()

	var errs error
	for _, t := range all {
		t.cancel()
	}
	for _, t := range all {
		if !t.hasStarted() {
			r.mu.Lock()
			delete(r.threads, t.name)
			r.mu.Unlock()
			continue
		}
		<-t.finished
		// The completion callback reaps asynchronously; reap here as well
		// so the registry is empty when QuitAllThreads returns.
		r.CleanupThread(t.name)
		errs = multierr.Append(errs, t.err)
	}
	return errs
}

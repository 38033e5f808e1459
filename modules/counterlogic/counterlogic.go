// Package counterlogic aggregates samples from a slow counter hardware
// module into a count rate. It is the canonical logic-layer consumer: it
// never owns the hardware, only the connector binding to it.
package counterlogic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/labkit/modhost/internal/fsm"
	"github.com/labkit/modhost/internal/module"
	"github.com/labkit/modhost/internal/registry"
)

// Interface is the name gui consumers declare on their in-connector.
const Interface = "CounterLogicInterface"

const defaultWindow = 10

// CounterSource is what the bound hardware instance must provide.
type CounterSource interface {
	Counts() int64
	ClockFrequency() float64
	StartCounting(ctx context.Context) error
	StopCounting(ctx context.Context) error
}

// Module registers the counterlogic factory.
type Module struct{}

// Register wires the package's constructor into the module registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(module.Logic, "counterlogic", "CounterLogic", New)
}

// Logic computes a sliding-window count rate from its counter source.
type Logic struct {
	module.Base

	window int

	mu      sync.Mutex
	samples []int64
}

// New builds the logic module. Recognized config keys: window (number of
// samples the rate is averaged over).
func New(host module.Host, name string, cfg map[string]any) (module.Module, error) {
	l := &Logic{
		Base:   module.NewBase(host, name, cfg),
		window: intOr(cfg, "window", defaultWindow),
	}
	if l.window <= 0 {
		return nil, fmt.Errorf("counterlogic %s: window must be positive", name)
	}
	if err := l.Connectors().DeclareIn("counter", "SlowCounterInterface"); err != nil {
		return nil, err
	}
	if err := l.Connectors().DeclareOut("counts", Interface); err != nil {
		return nil, err
	}
	return l, nil
}

// OnActivate checks that the counter binding resolves to something usable.
func (l *Logic) OnActivate(ctx context.Context) error {
	if _, err := l.source(); err != nil {
		return err
	}
	return nil
}

// OnDeactivate stops a running measurement. The state is already committed
// when the hook runs, so the thread table decides whether cleanup is due.
func (l *Logic) OnDeactivate(ctx context.Context) error {
	if _, ok := l.Host().Threads().Thread(l.threadName()); !ok {
		return nil
	}
	l.Host().Threads().QuitThread(l.threadName())
	l.Host().Threads().JoinThread(l.threadName())
	if src, err := l.source(); err == nil {
		// The hardware may already be idle or gone; stopping it here is
		// best effort.
		_ = src.StopCounting(ctx)
	}
	return nil
}

// StartMeasurement starts the hardware acquisition and a registry thread
// polling it into the averaging window.
func (l *Logic) StartMeasurement(ctx context.Context) error {
	src, err := l.source()
	if err != nil {
		return err
	}
	if err := l.State().Fire(ctx, fsm.Run); err != nil {
		return err
	}
	if err := src.StartCounting(ctx); err != nil {
		if stopErr := l.State().Fire(ctx, fsm.Stop); stopErr != nil {
			return fmt.Errorf("%v (and reverting to idle failed: %w)", err, stopErr)
		}
		return err
	}
	t := l.Host().Threads().NewThread(l.threadName())
	if t == nil {
		return fmt.Errorf("counterlogic %s: measurement thread already exists", l.Name())
	}
	interval := time.Duration(float64(time.Second) / src.ClockFrequency())
	t.Go(func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				l.record(src.Counts())
			}
		}
	})
	return nil
}

// StopMeasurement stops the polling thread and the hardware acquisition.
func (l *Logic) StopMeasurement(ctx context.Context) error {
	if err := l.State().Fire(ctx, fsm.Stop); err != nil {
		return err
	}
	l.Host().Threads().QuitThread(l.threadName())
	l.Host().Threads().JoinThread(l.threadName())
	src, err := l.source()
	if err != nil {
		return err
	}
	return src.StopCounting(ctx)
}

// CountRate returns the average counts per second over the window, zero
// when no samples have arrived yet.
func (l *Logic) CountRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range l.samples {
		sum += s
	}
	src, err := l.source()
	if err != nil {
		return 0
	}
	perSample := float64(sum) / float64(len(l.samples))
	return perSample * src.ClockFrequency()
}

func (l *Logic) record(counts int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, counts)
	if len(l.samples) > l.window {
		l.samples = l.samples[len(l.samples)-l.window:]
	}
}

// source resolves the bound counter. The binding may go stale between
// calls when the hardware is removed, so every use re-resolves it.
func (l *Logic) source() (CounterSource, error) {
	slot, ok := l.Connectors().In("counter")
	if !ok {
		return nil, fmt.Errorf("counterlogic %s: counter connector not declared", l.Name())
	}
	target, ok := slot.Resolve()
	if !ok {
		return nil, fmt.Errorf("counterlogic %s: counter connector not connected", l.Name())
	}
	src, ok := target.(CounterSource)
	if !ok {
		return nil, fmt.Errorf("counterlogic %s: bound instance %T does not provide a counter", l.Name(), target)
	}
	return src, nil
}

func (l *Logic) threadName() string {
	return "counterlogic/" + l.Name()
}

func intOr(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

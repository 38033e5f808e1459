// Package slowcounter provides a simulated slow photon counter hardware
// module. It exposes the counter through the "counter" out-connector and
// samples on a registry thread while running.
package slowcounter

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/labkit/modhost/internal/fsm"
	"github.com/labkit/modhost/internal/module"
	"github.com/labkit/modhost/internal/registry"
)

// Interface is the name consumers declare on their in-connector.
const Interface = "SlowCounterInterface"

const (
	defaultClockFrequency = 10.0 // samples per second
	defaultCountRate      = 1000.0
	historyLen            = 300
)

// Module registers the slowcounter factories.
type Module struct{}

// Register wires the package's constructors into the module registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(module.Hardware, "slowcounter", "SlowCounterDummy", NewDummy)
}

// Counter is a simulated slow counter. Counts follow a Poisson-ish jitter
// around the configured rate.
type Counter struct {
	module.Base

	clockFrequency float64
	countRate      float64

	mu      sync.Mutex
	latest  int64
	history []int64
	rng     *rand.Rand
}

// NewDummy builds a simulated counter from its config entry. Recognized
// keys: clock_frequency (Hz), count_rate (counts per second).
func NewDummy(host module.Host, name string, cfg map[string]any) (module.Module, error) {
	c := &Counter{
		Base:           module.NewBase(host, name, cfg),
		clockFrequency: floatOr(cfg, "clock_frequency", defaultClockFrequency),
		countRate:      floatOr(cfg, "count_rate", defaultCountRate),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if c.clockFrequency <= 0 {
		return nil, fmt.Errorf("slowcounter %s: clock_frequency must be positive", name)
	}
	if err := c.Connectors().DeclareOut("counter", Interface); err != nil {
		return nil, err
	}
	return c, nil
}

// OnActivate brings the simulated device online.
func (c *Counter) OnActivate(ctx context.Context) error {
	c.Host().Logger().Info("Slow counter ready.",
		"instance", c.Name(), "clock_frequency", c.clockFrequency)
	return nil
}

// OnDeactivate stops a running acquisition before the device goes away.
// The state is already committed when the hook runs, so the thread table
// decides whether anything is left to clean up.
func (c *Counter) OnDeactivate(ctx context.Context) error {
	if _, ok := c.Host().Threads().Thread(c.threadName()); ok {
		c.Host().Threads().QuitThread(c.threadName())
		c.Host().Threads().JoinThread(c.threadName())
	}
	return nil
}

// StartCounting begins sampling on a registry thread. The module must be
// idle.
func (c *Counter) StartCounting(ctx context.Context) error {
	if err := c.State().Fire(ctx, fsm.Run); err != nil {
		return err
	}
	t := c.Host().Threads().NewThread(c.threadName())
	if t == nil {
		// A stale thread with our name is still winding down.
		if err := c.State().Fire(ctx, fsm.Stop); err != nil {
			return err
		}
		return fmt.Errorf("slowcounter %s: acquisition thread already exists", c.Name())
	}
	interval := time.Duration(float64(time.Second) / c.clockFrequency)
	t.Go(func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				c.sample()
			}
		}
	})
	return nil
}

// StopCounting halts the acquisition and joins the sampling thread.
func (c *Counter) StopCounting(ctx context.Context) error {
	if err := c.State().Fire(ctx, fsm.Stop); err != nil {
		return err
	}
	c.Host().Threads().QuitThread(c.threadName())
	c.Host().Threads().JoinThread(c.threadName())
	return nil
}

// Counts returns the most recent sample.
func (c *Counter) Counts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// History returns up to the last 300 samples, oldest first.
func (c *Counter) History() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.history))
	copy(out, c.history)
	return out
}

// ClockFrequency returns the configured sample rate in Hz.
func (c *Counter) ClockFrequency() float64 { return c.clockFrequency }

func (c *Counter) sample() {
	c.mu.Lock()
	defer c.mu.Unlock()
	jitter := 1 + 0.1*(c.rng.Float64()*2-1)
	c.latest = int64(c.countRate / c.clockFrequency * jitter)
	c.history = append(c.history, c.latest)
	if len(c.history) > historyLen {
		c.history = c.history[len(c.history)-historyLen:]
	}
}

func (c *Counter) threadName() string {
	return "slowcounter/" + c.Name()
}

func floatOr(cfg map[string]any, key string, def float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

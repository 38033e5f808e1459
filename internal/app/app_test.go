package app

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labkit/modhost/internal/fsm"
	"github.com/labkit/modhost/internal/module"
)

type mapLoader struct {
	cfg map[string]any
}

func (l *mapLoader) Load(ctx context.Context, path string) (map[string]any, error) {
	return l.cfg, nil
}

func (l *mapLoader) LoadNamed(ctx context.Context, dir, name string) (map[string]any, error) {
	return l.cfg, nil
}

func countingConfig() map[string]any {
	return map[string]any{
		"hardware": map[string]any{
			"nic1": map[string]any{
				"module":          "slowcounter.SlowCounterDummy",
				"clock_frequency": 50,
			},
		},
		"startup": map[string]any{
			"logic": map[string]any{
				"counterlogic1": map[string]any{
					"module": "counterlogic.CounterLogic",
					"connect": map[string]any{
						"counter": "nic1.counter",
					},
				},
			},
		},
	}
}

func TestNewConfigValidation(t *testing.T) {
	_, err := NewConfig(Config{})
	assert.Error(t, err)

	_, err = NewConfig(Config{ConfigPath: "lab.yml", ConfigName: "counting"})
	assert.Error(t, err)

	cfg, err := NewConfig(Config{ConfigPath: "lab.yml"})
	require.NoError(t, err)
	assert.Equal(t, "lab.yml", cfg.ConfigPath)
}

func TestRunStartsAndShutsDown(t *testing.T) {
	cfg, err := NewConfig(Config{ConfigPath: "lab.yml", LogLevel: "error"})
	require.NoError(t, err)

	var out bytes.Buffer
	a := New(&out, cfg, &mapLoader{cfg: countingConfig()})

	done := make(chan error, 1)
	go func() {
		done <- a.Run(context.Background())
	}()

	// The startup chain comes up, hardware included.
	require.Eventually(t, func() bool {
		inst, ok := a.Manager().Instance(module.Logic, "counterlogic1")
		return ok && inst.State().Current() == fsm.Idle
	}, 5*time.Second, 10*time.Millisecond)

	_, ok := a.Manager().Instance(module.Hardware, "nic1")
	assert.True(t, ok)

	a.Manager().Quit()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after quit")
	}

	for _, cat := range module.Categories() {
		assert.Empty(t, a.Manager().LoadedModules(cat))
	}
}

func TestRunHonorsNoAutoStart(t *testing.T) {
	cfg, err := NewConfig(Config{ConfigPath: "lab.yml", NoAutoStart: true, LogLevel: "error"})
	require.NoError(t, err)

	var out bytes.Buffer
	a := New(&out, cfg, &mapLoader{cfg: countingConfig()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	// Definitions arrive, instances do not.
	require.Eventually(t, func() bool {
		return len(a.Manager().DefinedModules(module.Hardware)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, a.Manager().LoadedModules(module.Logic))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunWatchWithNamedConfig(t *testing.T) {
	cfg, err := NewConfig(Config{
		ConfigName:  "counting",
		WatchConfig: true,
		NoAutoStart: true,
		LogLevel:    "warn",
	})
	require.NoError(t, err)

	var out bytes.Buffer
	a := New(&out, cfg, &mapLoader{cfg: countingConfig()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	// With a named configuration there is no file path to watch; the run
	// continues without a watcher instead of watching a bogus path.
	require.Eventually(t, func() bool {
		return len(a.Manager().DefinedModules(module.Hardware)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "not supported with named configurations")
}

func TestRunStartsRequestedModule(t *testing.T) {
	cfg, err := NewConfig(Config{
		ConfigPath:   "lab.yml",
		StartModules: []string{"logic.counterlogic1"},
		LogLevel:     "error",
	})
	require.NoError(t, err)

	var out bytes.Buffer
	a := New(&out, cfg, &mapLoader{cfg: countingConfig()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		inst, ok := a.Manager().Instance(module.Logic, "counterlogic1")
		return ok && inst.State().Current() == fsm.Idle
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleConfig = `
hardware:
  nic1:
    module: slowcounter.SlowCounter
    clock_frequency: 100
logic:
  counterlogic1:
    module: counterlogic.CounterLogic
    connect:
      counter: nic1.counter
global:
  storagedir: /tmp/labdata
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileLoader(t *testing.T) {
	t.Run("loads nested yaml", func(t *testing.T) {
		path := writeConfig(t, "lab.yml", sampleConfig)

		cfg, err := NewFileLoader().Load(context.Background(), path)
		require.NoError(t, err)

		hw, ok := SubMap(cfg, "hardware")
		require.True(t, ok)
		nic, ok := SubMap(hw, "nic1")
		require.True(t, ok)
		mod, ok := String(nic, "module")
		require.True(t, ok)
		assert.Equal(t, "slowcounter.SlowCounter", mod)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := NewFileLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope.yml"))
		assert.Error(t, err)
	})

	t.Run("loads by configuration name", func(t *testing.T) {
		dir := filepath.Dir(writeConfig(t, "default.yml", sampleConfig))

		cfg, err := NewFileLoader().LoadNamed(context.Background(), dir, "default")
		require.NoError(t, err)
		_, ok := SubMap(cfg, "logic")
		assert.True(t, ok)
	})
}

func TestMerge(t *testing.T) {
	var dst, src map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(`
units:
  length: m
theme: dark
`), &dst))
	require.NoError(t, yaml.Unmarshal([]byte(`
units:
  time: s
theme: light
extra: 1
`), &src))

	Merge(dst, src)

	units, ok := SubMap(dst, "units")
	require.True(t, ok)
	assert.Equal(t, "m", units["length"])
	assert.Equal(t, "s", units["time"])
	assert.Equal(t, "light", dst["theme"])
	assert.Equal(t, 1, dst["extra"])
}

func TestWatcher(t *testing.T) {
	path := writeConfig(t, "lab.yml", sampleConfig)

	changed := make(chan struct{}, 4)
	w, err := NewWatcher(nil, path, func() { changed <- struct{}{} })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watcher a moment to arm before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig+"\n"), 0o644))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}

package threads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewThread(t *testing.T) {
	t.Run("registers a named thread", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		th := r.NewThread("mod-hardware-nic1")
		require.NotNil(t, th)
		assert.Equal(t, "mod-hardware-nic1", th.Name())

		got, ok := r.Thread("mod-hardware-nic1")
		require.True(t, ok)
		assert.Same(t, th, got)
	})

	t.Run("duplicate name yields nil", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		require.NotNil(t, r.NewThread("poller"))
		assert.Nil(t, r.NewThread("poller"))
		assert.Len(t, r.Names(), 1)
	})
}

func TestThreadLifecycle(t *testing.T) {
	t.Run("completion reaps the entry and notifies", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		th := r.NewThread("poller")
		require.NotNil(t, th)

		th.Go(func(ctx context.Context) error { return nil })

		select {
		case c := <-r.Completions():
			assert.Equal(t, "poller", c.Name)
			assert.NoError(t, c.Err)
		case <-time.After(time.Second):
			t.Fatal("no completion notification")
		}

		_, ok := r.Thread("poller")
		assert.False(t, ok)
	})

	t.Run("work errors are reported", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		th := r.NewThread("acquisition")
		boom := errors.New("device timeout")
		th.Go(func(ctx context.Context) error { return boom })

		select {
		case c := <-r.Completions():
			assert.ErrorIs(t, c.Err, boom)
		case <-time.After(time.Second):
			t.Fatal("no completion notification")
		}
	})

	t.Run("cleanup of a running thread is a no-op", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		th := r.NewThread("poller")
		release := make(chan struct{})
		th.Go(func(ctx context.Context) error {
			<-release
			return nil
		})

		r.CleanupThread("poller")
		_, ok := r.Thread("poller")
		assert.True(t, ok)

		close(release)
		r.JoinThread("poller")
	})
}

func TestQuitThread(t *testing.T) {
	t.Run("cancels the thread context", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		th := r.NewThread("poller")
		stopped := make(chan struct{})
		th.Go(func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		})

		r.QuitThread("poller")
		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("thread did not observe cancellation")
		}
	})

	t.Run("unknown name is not fatal", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		r.QuitThread("nope")
	})

	t.Run("never-started thread is reaped", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		require.NotNil(t, r.NewThread("idle"))
		r.QuitThread("idle")
		_, ok := r.Thread("idle")
		assert.False(t, ok)
	})
}

func TestQuitAllThreads(t *testing.T) {
	r := NewRegistry(nil, nil)

	okErr := errors.New("interrupted mid-sweep")
	for _, name := range []string{"a", "b"} {
		th := r.NewThread(name)
		th.Go(func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	}
	failing := r.NewThread("c")
	failing.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return okErr
	})
	r.NewThread("never-started")

	err := r.QuitAllThreads()
	assert.ErrorIs(t, err, okErr)
	assert.Empty(t, r.Names())
}

func TestUptime(t *testing.T) {
	t.Run("zero before start", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		th := r.NewThread("idle")
		assert.Zero(t, th.Uptime())
	})

	t.Run("safe to read while starting", func(t *testing.T) {
		r := NewRegistry(nil, nil)
		th := r.NewThread("poller")

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 1000; i++ {
				assert.GreaterOrEqual(t, th.Uptime(), time.Duration(0))
			}
		}()

		release := make(chan struct{})
		th.Go(func(ctx context.Context) error {
			<-release
			return nil
		})
		<-done

		assert.GreaterOrEqual(t, th.Uptime(), time.Duration(0))
		close(release)
		r.JoinThread("poller")
	})
}

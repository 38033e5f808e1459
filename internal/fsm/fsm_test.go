package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New()
	require.NotNil(t, m)
	assert.Equal(t, Deactivated, m.Current())
}

func TestFire(t *testing.T) {
	t.Run("full lifecycle", func(t *testing.T) {
		m := New()
		require.NoError(t, m.Fire(context.Background(), Activate))
		assert.Equal(t, Idle, m.Current())

		require.NoError(t, m.Fire(context.Background(), Run))
		assert.Equal(t, Running, m.Current())

		require.NoError(t, m.Fire(context.Background(), Stop))
		assert.Equal(t, Idle, m.Current())

		require.NoError(t, m.Fire(context.Background(), Deactivate))
		assert.Equal(t, Deactivated, m.Current())
	})

	t.Run("deactivate directly from running", func(t *testing.T) {
		m := New()
		require.NoError(t, m.Fire(context.Background(), Activate))
		require.NoError(t, m.Fire(context.Background(), Run))
		require.NoError(t, m.Fire(context.Background(), Deactivate))
		assert.Equal(t, Deactivated, m.Current())
	})

	t.Run("illegal event leaves state unchanged", func(t *testing.T) {
		m := New()
		err := m.Fire(context.Background(), Run)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIllegalTransition)
		assert.Equal(t, Deactivated, m.Current())

		err = m.Fire(context.Background(), Activate)
		require.NoError(t, err)
		err = m.Fire(context.Background(), Activate)
		assert.ErrorIs(t, err, ErrIllegalTransition)
		assert.Equal(t, Idle, m.Current())
	})

	t.Run("activation is repeatable after clean deactivation", func(t *testing.T) {
		m := New()
		require.NoError(t, m.Fire(context.Background(), Activate))
		require.NoError(t, m.Fire(context.Background(), Deactivate))
		require.NoError(t, m.Fire(context.Background(), Activate))
		assert.Equal(t, Idle, m.Current())
	})

	t.Run("lock and block variants", func(t *testing.T) {
		m := New()
		require.NoError(t, m.Fire(context.Background(), Activate))

		require.NoError(t, m.Fire(context.Background(), Lock))
		assert.Equal(t, Locked, m.Current())
		require.NoError(t, m.Fire(context.Background(), LockToBlock))
		assert.Equal(t, Blocked, m.Current())
		require.NoError(t, m.Fire(context.Background(), RunBlock))
		assert.Equal(t, Running, m.Current())
		require.NoError(t, m.Fire(context.Background(), Block))
		assert.Equal(t, Blocked, m.Current())
		require.NoError(t, m.Fire(context.Background(), Unblock))
		assert.Equal(t, Idle, m.Current())
		require.NoError(t, m.Fire(context.Background(), Lock))
		require.NoError(t, m.Fire(context.Background(), RunLock))
		assert.Equal(t, Running, m.Current())
		require.NoError(t, m.Fire(context.Background(), Lock))
		require.NoError(t, m.Fire(context.Background(), Unlock))
		assert.Equal(t, Idle, m.Current())
	})
}

func TestHooks(t *testing.T) {
	t.Run("hooks fire once per transition", func(t *testing.T) {
		m := New()
		var activated, deactivated int
		m.SetHooks(
			func(ctx context.Context) error { activated++; return nil },
			func(ctx context.Context) error { deactivated++; return nil },
		)

		require.NoError(t, m.Fire(context.Background(), Activate))
		require.NoError(t, m.Fire(context.Background(), Deactivate))
		require.NoError(t, m.Fire(context.Background(), Activate))
		assert.Equal(t, 2, activated)
		assert.Equal(t, 1, deactivated)
	})

	t.Run("hook is not invoked on illegal transition", func(t *testing.T) {
		m := New()
		var activated int
		m.SetHooks(func(ctx context.Context) error { activated++; return nil }, nil)

		require.NoError(t, m.Fire(context.Background(), Activate))
		require.Error(t, m.Fire(context.Background(), Activate))
		assert.Equal(t, 1, activated)
	})

	t.Run("hook failure does not revert the transition", func(t *testing.T) {
		m := New()
		hookErr := errors.New("device not found")
		m.SetHooks(func(ctx context.Context) error { return hookErr }, nil)

		err := m.Fire(context.Background(), Activate)
		require.Error(t, err)

		var he *HookError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, Activate, he.Event)
		assert.ErrorIs(t, err, hookErr)

		// The transition is committed even though the hook failed.
		assert.Equal(t, Idle, m.Current())
	})
}

func TestCanFire(t *testing.T) {
	m := New()
	assert.True(t, m.CanFire(Activate))
	assert.False(t, m.CanFire(Run))

	require.NoError(t, m.Fire(context.Background(), Activate))
	assert.True(t, m.CanFire(Run))
	assert.True(t, m.CanFire(Lock))
	assert.False(t, m.CanFire(Unlock))
}

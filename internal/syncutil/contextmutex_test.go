package syncutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_LockUnlock(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "storage/access_log.csv")
	require.NoError(t, err)
	unlock()

	unlock, err = m.Lock(context.Background(), "storage/access_log.csv")
	require.NoError(t, err)
	unlock()
}

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	const n = 100

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "counter")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, n, counter)
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "busy")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = m.Lock(ctx, "busy")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestKeyedMutex_DoubleUnlockIsSafe(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	unlock()

	// A second release must not have left an extra token behind.
	first, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer first()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "k")
	assert.Error(t, err)
}

func TestKeyedMutex_ZeroValue(t *testing.T) {
	var m KeyedMutex
	unlock, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
}

func TestPathKey(t *testing.T) {
	assert.Equal(t, PathKey("storage/access_log.csv"), PathKey("./storage/../storage/access_log.csv"))
	assert.NotEqual(t, PathKey("storage/a.csv"), PathKey("storage/b.csv"))
}

func TestKeyedMutex_LockPath(t *testing.T) {
	m := NewKeyedMutex()

	unlock, err := m.LockPath(context.Background(), "storage/access_log.csv")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.LockPath(ctx, "./storage/access_log.csv")
	assert.Error(t, err)
}

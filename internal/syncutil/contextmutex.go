// Package syncutil provides keyed locks for serializing access to shared
// files across goroutines.
package syncutil

import (
	"context"
	"hash/fnv"
	"path/filepath"
	"sync"
)

const shardCount = 64

// KeyedMutex is a fixed pool of channel-based mutexes selected by key. A
// waiter can give up when its context is cancelled.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewKeyedMutex returns a ready KeyedMutex. The zero value is also usable.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	m.init()
	return m
}

func (m *KeyedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{}
		}
	})
}

// Lock acquires the mutex for key. The caller must call the returned unlock
// function exactly once. On cancellation it returns the context error.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := m.shards[shardIdx(key)]

	select {
	case <-shard:
		var once sync.Once
		return func() { once.Do(func() { shard <- struct{}{} }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LockPath is Lock keyed by the cleaned absolute form of a file path, so
// "./a.csv" and "a.csv" share a lock.
func (m *KeyedMutex) LockPath(ctx context.Context, path string) (func(), error) {
	return m.Lock(ctx, PathKey(path))
}

// PathKey normalizes a file path into a lock key.
func PathKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

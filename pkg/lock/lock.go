// Package lock provides the mutual-exclusion primitives used by the engine:
// a try-lock keyed by name with a TTL (Locker), and a blocking per-key mutex
// (KeyedMutex) for serializing work on a single aggregate.
package lock

import (
	"context"
	"sync"
	"time"
)

// Release gives a held lock back. It is safe to call more than once.
type Release func()

// Locker acquires named, TTL-bounded locks without blocking.
// acquired is false when somebody else holds the key.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release Release, acquired bool, err error)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu      sync.Mutex
	held    map[string]localHold
	nextTok uint64
	now     func() time.Time
}

type localHold struct {
	token   uint64
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held: make(map[string]localHold),
		now:  time.Now,
	}
}

func (l *LocalLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && (ttl <= 0 || now.Before(h.expires)) {
		return nil, false, nil
	}

	l.nextTok++
	token := l.nextTok
	hold := localHold{token: token}
	if ttl > 0 {
		hold.expires = now.Add(ttl)
	}
	l.held[key] = hold

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// 过期后被他人重新获取的锁不能被释放
			if h, ok := l.held[key]; ok && h.token == token {
				delete(l.held, key)
			}
		})
	}, true, nil
}

// Held reports the number of keys currently held.
func (l *LocalLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// KeyedMutex serializes callers per key. Entries are dropped once no caller
// holds or waits on them.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len reports how many keys are tracked.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

package resolve

import (
	"sort"
	"sync"
)

// Lockset is a keyed mutex. Callers lock a whole key set in one call; keys
// are acquired in sorted order so overlapping sets cannot deadlock.
type Lockset struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLockset returns an empty lockset.
func NewLockset() *Lockset {
	return &Lockset{locks: make(map[string]*keyLock)}
}

// Lock blocks until every key is held and returns the matching unlock.
// Never call Lock while holding a set from the same Lockset.
func (l *Lockset) Lock(keys []string) func() {
	sorted := dedupeSorted(append([]string(nil), keys...))
	held := make([]*keyLock, 0, len(sorted))
	for _, k := range sorted {
		kl := l.acquire(k)
		kl.mu.Lock()
		held = append(held, kl)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				l.release(sorted[i])
			}
		})
	}
}

func (l *Lockset) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *Lockset) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size reports how many keys are currently tracked.
func (l *Lockset) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// covers reports whether every key in want is in the sorted held set.
func covers(held, want []string) bool {
	for _, k := range want {
		i := sort.SearchStrings(held, k)
		if i == len(held) || held[i] != k {
			return false
		}
	}
	return true
}

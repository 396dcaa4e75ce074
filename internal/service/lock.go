package service

import "sync"

// keyedLocks serialises check-then-act sequences per entity identity.
// Operations on different keys proceed concurrently; entries are never
// evicted because the key sets here (groups per term, in-flight requests)
// are small and bounded.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	return lock
}

// Lock acquires the mutex for one key and returns its unlock func.
func (k *keyedLocks) Lock(key string) func() {
	lock := k.get(key)
	lock.Lock()
	return lock.Unlock
}

// LockPair acquires two mutexes in lexicographic key order so that
// concurrent operations on the same pair cannot deadlock.
func (k *keyedLocks) LockPair(firstKey, secondKey string) func() {
	if firstKey == secondKey {
		return k.Lock(firstKey)
	}
	a, b := firstKey, secondKey
	if b < a {
		a, b = b, a
	}
	lockA := k.get(a)
	lockB := k.get(b)
	lockA.Lock()
	lockB.Lock()
	return func() {
		lockB.Unlock()
		lockA.Unlock()
	}
}

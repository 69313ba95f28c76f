package bus

import "sync"

// KeyedMutex serializes work per instance key.
//
// Two levels of locking:
// 1. The outer mutex (mu) protects the locks map itself
// 2. Each key has its own mutex held while that instance handles a message
//
// Different keys proceed in parallel; operations on the same key queue up
// behind each other.
type KeyedMutex struct {
	mu    sync.Mutex             // Protects the locks map
	locks map[string]*sync.Mutex // Per-key locks
}

// NewKeyedMutex creates an empty keyed mutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*sync.Mutex),
	}
}

func (km *KeyedMutex) lockFor(key string) *sync.Mutex {
	km.mu.Lock()
	defer km.mu.Unlock()

	lock, exists := km.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		km.locks[key] = lock
	}
	return lock
}

// Lock blocks until the lock for key is held.
func (km *KeyedMutex) Lock(key string) {
	km.lockFor(key).Lock()
}

// TryLock attempts to acquire the lock for key without blocking.
// Returns false if another caller currently holds it.
func (km *KeyedMutex) TryLock(key string) bool {
	return km.lockFor(key).TryLock()
}

// Unlock releases the lock for key. It is a no-op for keys never locked.
func (km *KeyedMutex) Unlock(key string) {
	km.mu.Lock()
	lock := km.locks[key]
	km.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}

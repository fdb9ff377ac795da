package concurrency

import "sync"

// OwnerLockManager serializes access to a persistent environment per owner.
// A persistent environment is mutated only through sequential execute calls,
// so concurrent completions for the same owner must take turns.
type OwnerLockManager struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

func NewOwnerLockManager() *OwnerLockManager {
	return &OwnerLockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *OwnerLockManager) Lock(ownerID string) {
	m.mu.Lock()
	lock, ok := m.locks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[ownerID] = lock
	}
	m.mu.Unlock()
	lock.Lock()
}

func (m *OwnerLockManager) Unlock(ownerID string) {
	m.mu.Lock()
	lock, ok := m.locks[ownerID]
	if ok {
		lock.Unlock()
	}
	m.mu.Unlock()
}

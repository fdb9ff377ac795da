package sandbox

import (
	"sync"

	"github.com/rekurlabs/rekur/internal/concurrency"
)

// Manager hands out persistent environments keyed by owner. An owner's
// environment is created on first acquire and survives until removed;
// acquisition is exclusive, so two completions for the same owner
// never interleave their execute calls.
type Manager struct {
	mu    sync.Mutex
	envs  map[string]*LocalEnv
	locks *concurrency.OwnerLockManager
	opts  Options
}

func NewManager(opts Options) *Manager {
	return &Manager{
		envs:  make(map[string]*LocalEnv),
		locks: concurrency.NewOwnerLockManager(),
		opts:  opts,
	}
}

// Acquire returns the owner's environment with its lock held. Callers
// must Release with the same owner when done.
func (m *Manager) Acquire(owner string) *LocalEnv {
	m.locks.Lock(owner)

	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envs[owner]
	if !ok {
		env = NewLocalEnv(m.opts)
		m.envs[owner] = env
	}
	return env
}

func (m *Manager) Release(owner string) {
	m.locks.Unlock(owner)
}

// Remove tears down the owner's environment. The caller must hold the
// owner's lock.
func (m *Manager) Remove(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if env, ok := m.envs[owner]; ok {
		env.Cleanup()
		delete(m.envs, owner)
	}
}

// Close tears down every environment.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for owner, env := range m.envs {
		env.Cleanup()
		delete(m.envs, owner)
	}
}

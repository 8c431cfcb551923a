// Package lock provides per-key mutual exclusion for the agent registries and
// the single-instance daemon lock file.
package lock

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// KeyedMutex hands out one RWMutex per key. Writers of a key exclude each
// other and readers of that key; different keys never contend.
type KeyedMutex struct {
	mu      sync.Mutex
	mutexes map[string]*sync.RWMutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		mutexes: make(map[string]*sync.RWMutex),
	}
}

func (m *KeyedMutex) Lock(key string)    { m.get(key).Lock() }
func (m *KeyedMutex) Unlock(key string)  { m.get(key).Unlock() }
func (m *KeyedMutex) RLock(key string)   { m.get(key).RLock() }
func (m *KeyedMutex) RUnlock(key string) { m.get(key).RUnlock() }

// WithLock runs fn while holding the exclusive lock for key.
func (m *KeyedMutex) WithLock(key string, fn func()) {
	mu := m.get(key)
	mu.Lock()
	defer mu.Unlock()
	fn()
}

// WithRLock runs fn while holding the shared lock for key.
func (m *KeyedMutex) WithRLock(key string, fn func()) {
	mu := m.get(key)
	mu.RLock()
	defer mu.RUnlock()
	fn()
}

// Forget drops the mutex for key. Callers must not hold it.
func (m *KeyedMutex) Forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mutexes, key)
}

// Len reports how many keys currently have a mutex.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mutexes)
}

func (m *KeyedMutex) get(key string) *sync.RWMutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mu, ok := m.mutexes[key]; ok {
		return mu
	}
	mu := &sync.RWMutex{}
	m.mutexes[key] = mu
	return mu
}

// FileLock is an flock(2)-based exclusive lock holding the owner's PID.
type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

func (fl *FileLock) TryLock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("acquire lock (is another orchestra daemon running?): %w", err)
	}

	release := func(step string, err error) error {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("%s lock file: %w", step, err)
	}
	if err := f.Truncate(0); err != nil {
		return release("truncate", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return release("seek", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return release("write PID to", err)
	}
	if err := f.Sync(); err != nil {
		return release("sync", err)
	}

	fl.file = f
	return nil
}

func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		fl.file.Close()
		return fmt.Errorf("release lock: %w", err)
	}
	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	os.Remove(fl.path)
	fl.file = nil
	return nil
}

package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_DifferentKeysDoNotContend(t *testing.T) {
	m := NewKeyedMutex()
	done := make(chan struct{})

	m.Lock("dev-1")
	go func() {
		m.Lock("qa-1")
		m.Unlock("qa-1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on qa-1 blocked by dev-1")
	}
	m.Unlock("dev-1")
}

func TestKeyedMutex_SameKeySerializes(t *testing.T) {
	m := NewKeyedMutex()
	var counter int64
	var inside int32

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.WithLock("shared", func() {
				if !atomic.CompareAndSwapInt32(&inside, 0, 1) {
					t.Error("two writers inside the same key")
				}
				counter++
				atomic.StoreInt32(&inside, 0)
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), counter)
}

func TestKeyedMutex_ReadersShare(t *testing.T) {
	m := NewKeyedMutex()
	m.RLock("dev-1")
	defer m.RUnlock("dev-1")

	done := make(chan struct{})
	go func() {
		m.WithRLock("dev-1", func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked")
	}
}

func TestKeyedMutex_Forget(t *testing.T) {
	m := NewKeyedMutex()
	m.Lock("dev-1")
	m.Unlock("dev-1")
	m.Forget("dev-1")

	m.mu.Lock()
	_, ok := m.mutexes["dev-1"]
	m.mu.Unlock()
	assert.False(t, ok)
	assert.Zero(t, m.Len())

	m.Lock("dev-1")
	m.Unlock("dev-1")
}

func TestFileLock_WritesPID(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "daemon.lock")

	fl := NewFileLock(lockPath)
	require.NoError(t, fl.TryLock())
	defer fl.Unlock()

	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))
}

func TestFileLock_DoubleLockRejected(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "daemon.lock")

	fl1 := NewFileLock(lockPath)
	require.NoError(t, fl1.TryLock())
	defer fl1.Unlock()

	fl2 := NewFileLock(lockPath)
	err := fl2.TryLock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another orchestra daemon")
}

func TestFileLock_UnlockAllowsRelock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "daemon.lock")

	fl1 := NewFileLock(lockPath)
	require.NoError(t, fl1.TryLock())
	require.NoError(t, fl1.Unlock())

	fl2 := NewFileLock(lockPath)
	require.NoError(t, fl2.TryLock())
	require.NoError(t, fl2.Unlock())

	// second unlock is a no-op
	assert.NoError(t, fl2.Unlock())
}

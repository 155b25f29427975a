package tree

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/benz9527/xcrbt/lib/infra"
)

// segmentedMutex is the per node lock.
// The version identifies the owner, a lock must be released
// with the same version it was acquired by.
type segmentedMutex interface {
	lock(version uint64)
	unlock(version uint64) bool
}

type mutexEnum uint8

const (
	goNativeMutex mutexEnum = iota
	spinLockMutex
)

func (mu mutexEnum) String() string {
	switch mu {
	case goNativeMutex:
		return "go-native"
	case spinLockMutex:
		return "spin"
	default:
		return "unknown"
	}
}

func mutexFactory(e mutexEnum) segmentedMutex {
	switch e {
	case spinLockMutex:
		return new(spinMutex)
	case goNativeMutex:
		fallthrough
	default:
		return new(goSyncMutex)
	}
}

const (
	unlocked = 0
)

type spinMutex uint64

func (m *spinMutex) lock(version uint64) {
	backoff := uint8(1)
	for !atomic.CompareAndSwapUint64((*uint64)(m), unlocked, version) {
		if backoff <= 32 {
			for i := uint8(0); i < backoff; i++ {
				infra.ProcYield(20)
			}
			backoff <<= 1
		} else {
			runtime.Gosched()
		}
	}
}

func (m *spinMutex) unlock(version uint64) bool {
	return atomic.CompareAndSwapUint64((*uint64)(m), version, unlocked)
}

type goSyncMutex struct {
	mu sync.Mutex
}

func (m *goSyncMutex) lock(version uint64) {
	m.mu.Lock()
}

func (m *goSyncMutex) unlock(version uint64) bool {
	m.mu.Unlock()
	return true
}

const cacheLinePadSize = unsafe.Sizeof(cpu.CacheLinePad{})

// monotonicNonZeroID is the lock version generator.
// Only increase, if it overflows, it will be reset to 1.
// It occupies a whole cache line to avoid false sharing
// with the tree fields around it.
type monotonicNonZeroID struct {
	_   [cacheLinePadSize - unsafe.Sizeof(*new(uint64))]byte
	val uint64
	_   [cacheLinePadSize - unsafe.Sizeof(*new(uint64))]byte
}

func (c *monotonicNonZeroID) next() uint64 {
	var v uint64
	if v = atomic.AddUint64(&c.val, 1); v == unlocked {
		v = atomic.AddUint64(&c.val, 1)
	}
	return v
}

func newMonotonicNonZeroID() *monotonicNonZeroID {
	return &monotonicNonZeroID{val: 0}
}

package tree

import (
	"math/rand/v2"
	"strconv"
	"sync"
	"testing"

	"github.com/alphadose/haxmap"
	"github.com/cornelk/hashmap"
	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/google/btree"
	"github.com/petar/GoLLRB/llrb"
)

const benchKeySpace = 1 << 16

func BenchmarkConcRBTreePut(b *testing.B) {
	tree, _ := NewConcRBTree[int, int]()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = tree.Put(rand.IntN(benchKeySpace), i)
	}
}

func BenchmarkConcRBTreeParallelMixed(b *testing.B) {
	for _, tc := range []struct {
		name string
		opts []ConcRBTreeOption[int, int]
	}{
		{"go-sync-mutex", nil},
		{"spin-mutex", []ConcRBTreeOption[int, int]{WithConcRBTreeSpinMutex[int, int]()}},
	} {
		b.Run(tc.name, func(bb *testing.B) {
			tree, _ := NewConcRBTree[int, int](tc.opts...)
			for i := 0; i < benchKeySpace; i += 2 {
				_, _, _ = tree.Put(i, i)
			}
			bb.ReportAllocs()
			bb.ResetTimer()
			bb.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					key := rand.IntN(benchKeySpace)
					switch rand.IntN(10) {
					case 0:
						_, _, _ = tree.Put(key, key)
					case 1:
						_, _, _ = tree.Remove(key)
					default:
						_, _, _ = tree.Get(key)
					}
				}
			})
		})
	}
}

func BenchmarkConcRBTreeStringKeys(b *testing.B) {
	keys := make([]string, benchKeySpace)
	for i := range keys {
		keys[i] = "key-" + strconv.Itoa(i)
	}
	tree, _ := NewConcRBTree[string, int]()
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			idx := rand.IntN(benchKeySpace)
			if idx&1 == 0 {
				_, _, _ = tree.Put(keys[idx], idx)
			} else {
				_, _, _ = tree.Get(keys[idx])
			}
		}
	})
}

// Sequential ordered maps.

func BenchmarkGoogleBTreePut(b *testing.B) {
	tree := btree.NewOrderedG[int](32)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.ReplaceOrInsert(rand.IntN(benchKeySpace))
	}
}

func BenchmarkGodsRBTreePut(b *testing.B) {
	tree := redblacktree.NewWithIntComparator()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.Put(rand.IntN(benchKeySpace), i)
	}
}

func BenchmarkGoLLRBPut(b *testing.B) {
	tree := llrb.New()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.ReplaceOrInsert(llrb.Int(rand.IntN(benchKeySpace)))
	}
}

func BenchmarkGoLLRBRWMutexParallelMixed(b *testing.B) {
	var mu sync.RWMutex
	tree := llrb.New()
	for i := 0; i < benchKeySpace; i += 2 {
		tree.ReplaceOrInsert(llrb.Int(i))
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := llrb.Int(rand.IntN(benchKeySpace))
			switch rand.IntN(10) {
			case 0:
				mu.Lock()
				tree.ReplaceOrInsert(key)
				mu.Unlock()
			case 1:
				mu.Lock()
				tree.Delete(key)
				mu.Unlock()
			default:
				mu.RLock()
				_ = tree.Get(key)
				mu.RUnlock()
			}
		}
	})
}

// Concurrent unordered maps.

func BenchmarkHaxMapParallelMixed(b *testing.B) {
	m := haxmap.New[int, int]()
	for i := 0; i < benchKeySpace; i += 2 {
		m.Set(i, i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := rand.IntN(benchKeySpace)
			switch rand.IntN(10) {
			case 0:
				m.Set(key, key)
			case 1:
				m.Del(key)
			default:
				_, _ = m.Get(key)
			}
		}
	})
}

func BenchmarkCornelkHashMapParallelMixed(b *testing.B) {
	m := hashmap.New[int, int]()
	for i := 0; i < benchKeySpace; i += 2 {
		m.Set(i, i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := rand.IntN(benchKeySpace)
			switch rand.IntN(10) {
			case 0:
				m.Set(key, key)
			case 1:
				m.Del(key)
			default:
				_, _ = m.Get(key)
			}
		}
	})
}

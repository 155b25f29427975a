package tree

import (
	"fmt"
	"strings"

	"github.com/benz9527/xcrbt/lib/xlog"
)

type ConcRBTreeOption[K any, V any] func(*concRBTree[K, V]) error

// WithConcRBTreeDesc reverses the key order.
func WithConcRBTreeDesc[K any, V any]() ConcRBTreeOption[K, V] {
	return func(tree *concRBTree[K, V]) error {
		tree.isDesc = true
		return nil
	}
}

// WithConcRBTreeSpinCount sets how many times a reader re-reads a changing
// node before yielding.
func WithConcRBTreeSpinCount[K any, V any](n uint32) ConcRBTreeOption[K, V] {
	return func(tree *concRBTree[K, V]) error {
		tree.spinCount = n
		return nil
	}
}

// WithConcRBTreeYieldCount sets how many times a reader yields before
// it blocks on the changing node's lock.
func WithConcRBTreeYieldCount[K any, V any](n uint32) ConcRBTreeOption[K, V] {
	return func(tree *concRBTree[K, V]) error {
		tree.yieldCount = n
		return nil
	}
}

func WithConcRBTreeGrowCountBits[K any, V any](bits uint8) ConcRBTreeOption[K, V] {
	return func(tree *concRBTree[K, V]) error {
		if bits == 0 || bits > maxOVLGrowCountBits {
			return fmt.Errorf("%w: grow count bits %d out of [1, %d]", ErrConcRBTreeInvalidOption, bits, maxOVLGrowCountBits)
		}
		tree.growCountBits = bits
		return nil
	}
}

func WithConcRBTreeSpinMutex[K any, V any]() ConcRBTreeOption[K, V] {
	return func(tree *concRBTree[K, V]) error {
		tree.mutexType = spinLockMutex
		return nil
	}
}

func WithConcRBTreeGoSyncMutex[K any, V any]() ConcRBTreeOption[K, V] {
	return func(tree *concRBTree[K, V]) error {
		tree.mutexType = goNativeMutex
		return nil
	}
}

func withConcRBTreeKeyValidator[K any, V any](fn func(K) error) ConcRBTreeOption[K, V] {
	return func(tree *concRBTree[K, V]) error {
		tree.keyValidators = append(tree.keyValidators, fn)
		return nil
	}
}

// WithConcRBTreeKeyValidator adds a caller check run before every key
// access. Its errors are reported as ErrConcRBTreeInvalidKey.
func WithConcRBTreeKeyValidator[K any, V any](fn func(K) error) ConcRBTreeOption[K, V] {
	return func(tree *concRBTree[K, V]) error {
		if fn == nil {
			return fmt.Errorf("%w: nil key validator", ErrConcRBTreeInvalidOption)
		}
		tree.keyValidators = append(tree.keyValidators, func(key K) error {
			if err := fn(key); err != nil {
				return fmt.Errorf("%w: %w", ErrConcRBTreeInvalidKey, err)
			}
			return nil
		})
		return nil
	}
}

func WithConcRBTreeLogger[K any, V any](logger xlog.XLogger) ConcRBTreeOption[K, V] {
	return func(tree *concRBTree[K, V]) error {
		if logger == nil {
			return fmt.Errorf("%w: nil logger", ErrConcRBTreeInvalidOption)
		}
		tree.logger = logger.Named("x-conc-rbtree")
		return nil
	}
}

// WithConcRBTreeStats enables the OpenTelemetry instruments
// under the meter ConcRBTreeStatsName/name.
func WithConcRBTreeStats[K any, V any](name string) ConcRBTreeOption[K, V] {
	return func(tree *concRBTree[K, V]) error {
		if name = strings.TrimSpace(name); name == "" {
			name = "default"
		}
		tree.statsName = name
		return nil
	}
}

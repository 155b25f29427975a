package tree

import (
	"sync/atomic"
)

var _ RBNode[uint8, uint8] = (*concRBNode[uint8, uint8])(nil)

// concRBNode fields other than key are shared with lock-free readers,
// so every one of them is accessed atomically.
//
// Writers follow these rules:
//   - val, color and child links change under the node's own lock.
//   - color additionally requires the parent's lock.
//   - parent changes under the locks of the old and new parent.
//   - ovl changes under the node's own lock.
type concRBNode[K any, V any] struct {
	key    K
	mu     segmentedMutex
	val    atomic.Pointer[V] // nil means a routing node
	ovl    atomic.Uint64
	color  atomic.Uint32
	parent atomic.Pointer[concRBNode[K, V]]
	left   atomic.Pointer[concRBNode[K, V]]
	right  atomic.Pointer[concRBNode[K, V]]
	gen    *concRBTreeGen // nil for the root holder
	holder bool
}

// concRBTreeGen is one lifetime of the tree between two Clear calls.
// Every node counts its key against the generation it was linked in.
type concRBTreeGen struct {
	count atomic.Int64
}

func newConcRBNode[K any, V any](key K, val *V, color RBColor, mu mutexEnum, gen *concRBTreeGen) *concRBNode[K, V] {
	node := &concRBNode[K, V]{
		key: key,
		mu:  mutexFactory(mu),
		gen: gen,
	}
	node.val.Store(val)
	node.color.Store(uint32(color))
	return node
}

// newRootHolder builds the permanent black sentinel.
// Its left child is the real root, its right child is always nil.
func newRootHolder[K any, V any](mu mutexEnum) *concRBNode[K, V] {
	node := &concRBNode[K, V]{
		mu:     mutexFactory(mu),
		holder: true,
	}
	node.color.Store(uint32(Black))
	return node
}

func (node *concRBNode[K, V]) Key() K {
	return node.key
}

func (node *concRBNode[K, V]) Val() V {
	if v := node.val.Load(); v != nil {
		return *v
	}
	return *new(V)
}

func (node *concRBNode[K, V]) HasKeyVal() bool {
	if node == nil {
		return false
	}
	return node.val.Load() != nil
}

func (node *concRBNode[K, V]) Color() RBColor {
	return node.loadColor()
}

func (node *concRBNode[K, V]) Left() RBNode[K, V] {
	if node == nil {
		return nil
	}
	if l := node.left.Load(); l != nil {
		return l
	}
	return nil
}

func (node *concRBNode[K, V]) Right() RBNode[K, V] {
	if node == nil {
		return nil
	}
	if r := node.right.Load(); r != nil {
		return r
	}
	return nil
}

func (node *concRBNode[K, V]) Parent() RBNode[K, V] {
	if node == nil {
		return nil
	}
	if p := node.parent.Load(); p != nil && !p.holder {
		return p
	}
	return nil
}

func (node *concRBNode[K, V]) loadColor() RBColor {
	return RBColor(node.color.Load())
}

func (node *concRBNode[K, V]) storeColor(color RBColor) {
	node.color.Store(uint32(color))
}

func (node *concRBNode[K, V]) isRed() bool {
	return node != nil && node.loadColor() == Red
}

func (node *concRBNode[K, V]) isDoubleBlack() bool {
	return node != nil && node.loadColor() == DoubleBlack
}

func (node *concRBNode[K, V]) isRouting() bool {
	return node != nil && !node.holder && node.val.Load() == nil
}

func (node *concRBNode[K, V]) child(dir RBDirection) *concRBNode[K, V] {
	if dir == Left {
		return node.left.Load()
	}
	return node.right.Load()
}

func (node *concRBNode[K, V]) setChild(dir RBDirection, child *concRBNode[K, V]) {
	if dir == Left {
		node.left.Store(child)
	} else {
		node.right.Store(child)
	}
}

// dirOf returns which side child hangs on, Root if it is not a child.
func (node *concRBNode[K, V]) dirOf(child *concRBNode[K, V]) RBDirection {
	if child == nil {
		return Root
	}
	if node.left.Load() == child {
		return Left
	} else if node.right.Load() == child {
		return Right
	}
	return Root
}

func (node *concRBNode[K, V]) childCount() int {
	count := 0
	if node.left.Load() != nil {
		count++
	}
	if node.right.Load() != nil {
		count++
	}
	return count
}

// onlyChild returns the single child, nil if there are none or two.
func (node *concRBNode[K, V]) onlyChild() *concRBNode[K, V] {
	l, r := node.left.Load(), node.right.Load()
	if l != nil && r != nil {
		return nil
	} else if l != nil {
		return l
	}
	return r
}

// unlink retires the node, it must be detached already.
func (node *concRBNode[K, V]) unlink() {
	node.ovl.Store(ovlUnlinked)
	node.left.Store(nil)
	node.right.Store(nil)
	node.parent.Store(nil)
}

func (dir RBDirection) opposite() RBDirection {
	return -dir
}

package tree

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/benz9527/xcrbt/lib/infra"
	"github.com/benz9527/xcrbt/lib/xlog"
)

var (
	ErrConcRBTreeInvalidKey    = errors.New("[x-conc-rbtree] invalid key")
	ErrConcRBTreeNilComparator = errors.New("[x-conc-rbtree] nil comparator")
	ErrConcRBTreeInvalidOption = errors.New("[x-conc-rbtree] invalid option")

	errConcRBTreeMissingSibling    = errors.New("[x-conc-rbtree] deficit node without sibling")
	errConcRBTreeNonRedSpliceChild = errors.New("[x-conc-rbtree] black routing node with a non red only child")
)

const (
	defaultSpinCount  uint32 = 100
	defaultYieldCount uint32 = 0
)

var _ ConcRBTree[uint8, uint8] = (*concRBTree[uint8, uint8])(nil)

// References:
// https://github.com/nbronson/snaptree
// https://github.com/ValarDragon/conc-bst
//
// concRBTree keys live in a root holder rooted tree.
// Removed keys stay as routing nodes until they have at most one child,
// then they are unlinked by the repair driver.
type concRBTree[K any, V any] struct {
	holder        *concRBNode[K, V]
	cmp           infra.Comparator[K]
	keyValidators []func(K) error
	layout        ovlLayout
	idGen         *monotonicNonZeroID
	pool          *concRBTreePool[K, V]
	logger        xlog.XLogger
	stats         *concRBTreeStats
	statsName     string
	gen           atomic.Pointer[concRBTreeGen]
	spinCount     uint32
	yieldCount    uint32
	growCountBits uint8
	mutexType     mutexEnum
	isDesc        bool
}

func (t *concRBTree[K, V]) compare(i, j K) int64 {
	if t.isDesc {
		return t.cmp(j, i)
	}
	return t.cmp(i, j)
}

func (t *concRBTree[K, V]) Comparator() infra.Comparator[K] {
	return t.compare
}

func (t *concRBTree[K, V]) validateKey(key K) error {
	for _, validate := range t.keyValidators {
		if err := validate(key); err != nil {
			return err
		}
	}
	return nil
}

func (t *concRBTree[K, V]) Len() int64 {
	return t.gen.Load().count.Load()
}

func (t *concRBTree[K, V]) IsEmpty() bool {
	return t.holder.left.Load() == nil
}

func (t *concRBTree[K, V]) Root() RBNode[K, V] {
	if root := t.holder.left.Load(); root != nil {
		return root
	}
	return nil
}

// waitUntilChangeCompleted blocks until the node's ovl moves on from ovl.
// It must not be called with any lock held.
func (t *concRBTree[K, V]) waitUntilChangeCompleted(node *concRBNode[K, V], ovl uint64) {
	if !isOVLChanging(ovl) {
		return
	}
	for i := uint32(0); i < t.spinCount; i++ {
		if node.ovl.Load() != ovl {
			return
		}
	}
	for i := uint32(0); i < t.yieldCount; i++ {
		runtime.Gosched()
		if node.ovl.Load() != ovl {
			return
		}
	}
	// Structural changes are made under the node lock.
	version := t.idGen.next()
	node.mu.lock(version)
	node.mu.unlock(version)
	t.stats.increaseWaitFallback()
}

type seekState uint8

const (
	seekNotFound seekState = iota
	seekFound
	seekVisited
)

// seek descends from the root holder without locks.
// Every step is validated against the parent's ovl, any conflict restarts
// the descent from the top.
// On seekNotFound the returned node is the attach point, dir the empty side
// and ovl the attach point's version observed with that side nil.
// A non nil visitor is applied to every validated node before its key is
// compared, returning true stops the descent with seekVisited.
func (t *concRBTree[K, V]) seek(
	key K,
	visitor func(node *concRBNode[K, V]) bool,
) (*concRBNode[K, V], uint64, RBDirection, seekState) {
retry:
	for {
		node := t.holder
		nodeOVL := node.ovl.Load()
		if isOVLShrinking(nodeOVL) {
			t.waitUntilChangeCompleted(node, nodeOVL)
			continue
		}
		dir := Left
		for {
			child := node.child(dir)
			if child == nil {
				if t.layout.hasShrunkOrUnlinked(nodeOVL, node.ovl.Load()) {
					t.stats.increaseRetry()
					continue retry
				}
				return node, nodeOVL, dir, seekNotFound
			}
			childOVL := child.ovl.Load()
			if isOVLShrinkingOrUnlinked(childOVL) {
				t.waitUntilChangeCompleted(child, childOVL)
				t.stats.increaseRetry()
				continue retry
			}
			if child != node.child(dir) || t.layout.hasShrunkOrUnlinked(nodeOVL, node.ovl.Load()) {
				t.stats.increaseRetry()
				continue retry
			}
			node, nodeOVL = child, childOVL
			if visitor != nil && visitor(node) {
				return node, nodeOVL, Root, seekVisited
			}
			res := t.compare(key, node.key)
			if res == 0 {
				return node, nodeOVL, Root, seekFound
			} else if res < 0 {
				dir = Left
			} else {
				dir = Right
			}
		}
	}
}

func (t *concRBTree[K, V]) Get(key K) (V, bool, error) {
	if err := t.validateKey(key); err != nil {
		return *new(V), false, err
	}
	node, _, _, state := t.seek(key, nil)
	if state != seekFound {
		return *new(V), false, nil
	}
	if val := node.val.Load(); val != nil {
		return *val, true, nil
	}
	return *new(V), false, nil
}

func (t *concRBTree[K, V]) ContainsKey(key K) (bool, error) {
	_, ok, err := t.Get(key)
	return ok, err
}

type updateMode uint8

const (
	updateAlways updateMode = iota
	updateIfAbsent
	updateIfPresent
	updateRemove
)

// update applies mode to key and returns the value present before.
// For updateIfAbsent the current value is returned when it blocks the update.
func (t *concRBTree[K, V]) update(key K, newVal *V, mode updateMode) (*V, error) {
	if err := t.validateKey(key); err != nil {
		return nil, err
	}
	version := t.idGen.next()
	for {
		node, nodeOVL, dir, state := t.seek(key, nil)
		if state == seekFound {
			switch cur := node.val.Load(); {
			case cur == nil && (mode == updateIfPresent || mode == updateRemove):
				return nil, nil
			case cur != nil && mode == updateIfAbsent:
				return cur, nil
			}
			prev, ok := t.updateNode(node, newVal, mode, version)
			if !ok {
				t.stats.increaseRetry()
				continue
			}
			return prev, nil
		}
		if mode == updateIfPresent || mode == updateRemove {
			return nil, nil
		}
		if !t.attachNode(node, nodeOVL, dir, key, newVal, version) {
			t.stats.increaseRetry()
			continue
		}
		return nil, nil
	}
}

// updateNode fails only if the node was unlinked before its lock was taken.
func (t *concRBTree[K, V]) updateNode(
	node *concRBNode[K, V],
	newVal *V,
	mode updateMode,
	version uint64,
) (*V, bool) {
	node.mu.lock(version)
	if isOVLUnlinked(node.ovl.Load()) {
		node.mu.unlock(version)
		return nil, false
	}
	prev, needRepair := node.val.Load(), false
	switch mode {
	case updateAlways:
		node.val.Store(newVal)
		if prev == nil {
			node.gen.count.Add(1)
		}
	case updateIfAbsent:
		if prev == nil {
			node.val.Store(newVal)
			node.gen.count.Add(1)
		}
	case updateIfPresent:
		if prev != nil {
			node.val.Store(newVal)
		}
	case updateRemove:
		if prev != nil {
			node.val.Store(nil)
			node.gen.count.Add(-1)
			needRepair = node.childCount() <= 1
		}
	}
	node.mu.unlock(version)

	if needRepair {
		t.repair(node)
	}
	return prev, true
}

// attachNode links a new node into the nil side of parent.
// It fails if parent shrank or the side was filled since the descent.
func (t *concRBTree[K, V]) attachNode(
	parent *concRBNode[K, V],
	parentOVL uint64,
	dir RBDirection,
	key K,
	val *V,
	version uint64,
) bool {
	parent.mu.lock(version)
	if t.layout.hasShrunkOrUnlinked(parentOVL, parent.ovl.Load()) || parent.child(dir) != nil {
		parent.mu.unlock(version)
		return false
	}
	color, gen := Red, parent.gen
	if parent.holder {
		// Clear swaps the generation under the holder lock.
		color, gen = Black, t.gen.Load()
	}
	node := newConcRBNode[K, V](key, val, color, t.mutexType, gen)
	node.parent.Store(parent)
	parent.setChild(dir, node)
	gen.count.Add(1)
	needRepair := parent.isRed()
	parent.mu.unlock(version)

	if needRepair {
		t.repair(node)
	}
	return true
}

func (t *concRBTree[K, V]) Put(key K, val V) (V, bool, error) {
	prev, err := t.update(key, &val, updateAlways)
	if err != nil || prev == nil {
		return *new(V), false, err
	}
	return *prev, true, nil
}

func (t *concRBTree[K, V]) PutIfAbsent(key K, val V) (V, bool, error) {
	cur, err := t.update(key, &val, updateIfAbsent)
	if err != nil || cur == nil {
		return *new(V), false, err
	}
	return *cur, true, nil
}

func (t *concRBTree[K, V]) Replace(key K, val V) (V, bool, error) {
	prev, err := t.update(key, &val, updateIfPresent)
	if err != nil || prev == nil {
		return *new(V), false, err
	}
	return *prev, true, nil
}

func (t *concRBTree[K, V]) Remove(key K) (V, bool, error) {
	prev, err := t.update(key, nil, updateRemove)
	if err != nil || prev == nil {
		return *new(V), false, err
	}
	return *prev, true, nil
}

// Clear detaches the whole tree under the root holder lock and starts
// a new generation. Writers still working inside the detached nodes are
// not visible afterwards, they count against the old generation.
func (t *concRBTree[K, V]) Clear() {
	region := lockedRegion[K, V]{version: t.idGen.next()}
	defer region.unlock()

	region.lock(t.holder)
	t.gen.Store(new(concRBTreeGen))
	root := t.holder.left.Load()
	if root == nil {
		return
	}
	region.lock(root)
	holderOVL := t.holder.ovl.Load()
	t.holder.ovl.Store(t.layout.beginShrink(holderOVL))
	t.holder.left.Store(nil)
	root.unlink()
	t.holder.ovl.Store(t.layout.endShrink(holderOVL))
}

// fault reports a broken tree invariant. It never returns.
func (t *concRBTree[K, V]) fault(err error, node *concRBNode[K, V]) {
	es := infra.WrapErrorStackWithMessage(err, fmt.Sprintf("key %v", node.key))
	t.logger.ErrorStack(es, "concurrent rbtree internal consistency fault",
		zap.String("color", node.loadColor().String()),
		zap.Bool("routing", node.isRouting()),
	)
	panic(es)
}

func orderedKeyValidator[K infra.OrderedKey](key K) error {
	if infra.IsIncomparableKey[K](key) {
		return fmt.Errorf("%w: incomparable key %v", ErrConcRBTreeInvalidKey, key)
	}
	return nil
}

// nilKeyValidator rejects nil keys of the nil-able kinds.
// The kind is resolved once, non nil-able kinds get no validator.
func nilKeyValidator[K any]() func(K) error {
	typ := reflect.TypeOf((*K)(nil)).Elem()
	switch typ.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice,
		reflect.Func, reflect.Chan, reflect.UnsafePointer:
	default:
		return nil
	}
	return func(key K) error {
		if reflect.ValueOf(&key).Elem().IsNil() {
			return fmt.Errorf("%w: nil key", ErrConcRBTreeInvalidKey)
		}
		return nil
	}
}

func newConcRBTree[K any, V any](cmp infra.Comparator[K], opts ...ConcRBTreeOption[K, V]) (*concRBTree[K, V], error) {
	if cmp == nil {
		return nil, ErrConcRBTreeNilComparator
	}
	t := &concRBTree[K, V]{
		cmp:           cmp,
		idGen:         newMonotonicNonZeroID(),
		pool:          newConcRBTreePool[K, V](),
		logger:        xlog.NopXLogger(),
		spinCount:     defaultSpinCount,
		yieldCount:    defaultYieldCount,
		growCountBits: defaultOVLGrowCountBits,
		mutexType:     goNativeMutex,
	}
	if validate := nilKeyValidator[K](); validate != nil {
		t.keyValidators = append(t.keyValidators, validate)
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(t); err != nil {
			return nil, err
		}
	}
	t.layout = newOVLLayout(t.growCountBits)
	t.holder = newRootHolder[K, V](t.mutexType)
	t.gen.Store(new(concRBTreeGen))
	if t.statsName != "" {
		t.stats = newConcRBTreeStats(t.statsName, t.Len)
	}
	return t, nil
}

// NewConcRBTree orders keys by their natural order.
func NewConcRBTree[K infra.OrderedKey, V any](opts ...ConcRBTreeOption[K, V]) (ConcRBTree[K, V], error) {
	opts = append([]ConcRBTreeOption[K, V]{
		withConcRBTreeKeyValidator[K, V](orderedKeyValidator[K]),
	}, opts...)
	t, err := newConcRBTree[K, V](infra.OrderedKeyCompare[K], opts...)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// NewConcRBTreeWithComparator orders keys by cmp, which must be a total order.
func NewConcRBTreeWithComparator[K any, V any](cmp infra.Comparator[K], opts ...ConcRBTreeOption[K, V]) (ConcRBTree[K, V], error) {
	t, err := newConcRBTree[K, V](cmp, opts...)
	if err != nil {
		return nil, err
	}
	return t, nil
}

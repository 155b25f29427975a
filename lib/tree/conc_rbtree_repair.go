package tree

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/benz9527/xcrbt/lib/infra"
)

// Repair protocol.
//
// A writer that leaves a node violating the red-black rules records the
// node in its worklist. For every recorded node the writer walks the parent
// links up to the root holder and fixes the topmost violation met on that
// path by one locked local step. Each step records the violations left in
// the region it touched, so every violation stays owned by some writer
// until it is gone. The walk never calls the comparator, once a write is
// applied no caller code runs until the tree is balanced again.
//
// Locks are taken top-down. Every lock after the first one is taken on a
// child of a node already held, checked while the parent is held.

type violation uint8

const (
	noViolation violation = iota
	doubleBlackViolation
	redRootViolation
	redRedViolation
	routingViolation
)

const (
	repairRetryStormThreshold = 1 << 10
	repairWalkDepthLimit      = 1 << 10
)

func (t *concRBTree[K, V]) violationOf(node *concRBNode[K, V]) violation {
	if node == nil || node.holder || isOVLUnlinked(node.ovl.Load()) {
		return noViolation
	}
	switch node.loadColor() {
	case DoubleBlack:
		return doubleBlackViolation
	case Red:
		if parent := node.parent.Load(); parent != nil {
			if parent.holder {
				return redRootViolation
			} else if parent.isRed() {
				return redRedViolation
			}
		}
	default:
	}
	if node.isRouting() && node.childCount() <= 1 {
		return routingViolation
	}
	return noViolation
}

// findViolation walks from node up to the root holder and returns the
// topmost violating node on the way. A false result means the path changed
// under the walk and it has to be restarted. Nodes unlinked or left behind
// by Clear have nothing to repair.
func (t *concRBTree[K, V]) findViolation(node *concRBNode[K, V]) (*concRBNode[K, V], violation, bool) {
	if node.gen != t.gen.Load() || isOVLUnlinked(node.ovl.Load()) {
		return nil, noViolation, true
	}
	var (
		top  *concRBNode[K, V]
		kind = noViolation
	)
	for cur, depth := node, 0; !cur.holder; depth++ {
		if depth >= repairWalkDepthLimit {
			return nil, noViolation, false
		}
		if k := t.violationOf(cur); k != noViolation {
			top, kind = cur, k
		}
		if cur = cur.parent.Load(); cur == nil {
			// An ancestor was unlinked meanwhile.
			return nil, noViolation, false
		}
	}
	return top, kind, true
}

// repair returns once no violation is left on the path of any node
// recorded while repairing node.
func (t *concRBTree[K, V]) repair(node *concRBNode[K, V]) {
	wl := t.pool.loadWorklist()
	defer t.pool.releaseWorklist(wl)

	wl.push(node)
	retries := 0
	for !wl.isEmpty() {
		n := wl.pop()
		top, kind, ok := t.findViolation(n)
		if ok && top == nil {
			continue
		}
		wl.push(n)
		if ok && t.fix(top, kind, wl) {
			retries = 0
			continue
		}
		retries++
		t.stats.increaseRetry()
		t.backoff(retries)
	}
}

func (t *concRBTree[K, V]) backoff(retries int) {
	if retries%repairRetryStormThreshold == 0 {
		t.logger.Debug("concurrent rbtree repair retry storm", zap.Int("retries", retries))
	}
	if retries <= 8 {
		infra.ProcYield(uint32(retries) << 2)
		return
	}
	runtime.Gosched()
}

// fix reports whether a step was applied. A false result means
// the region changed before it could be locked.
func (t *concRBTree[K, V]) fix(node *concRBNode[K, V], kind violation, wl *concRBTreeWorklist[K, V]) bool {
	switch kind {
	case doubleBlackViolation:
		if parent := node.parent.Load(); parent != nil && parent.holder {
			return t.fixRoot(node)
		}
		return t.fixDoubleBlack(node, false, wl)
	case redRootViolation:
		return t.fixRoot(node)
	case redRedViolation:
		return t.fixRedRed(node, wl)
	case routingViolation:
		return t.fixRouting(node, wl)
	default:
	}
	return true
}

type lockedRegion[K any, V any] struct {
	nodes   [8]*concRBNode[K, V]
	size    int
	version uint64
}

func (r *lockedRegion[K, V]) lock(node *concRBNode[K, V]) {
	node.mu.lock(r.version)
	r.nodes[r.size] = node
	r.size++
}

// lockChild locks child if it still hangs under parent, parent must be held.
func (r *lockedRegion[K, V]) lockChild(parent, child *concRBNode[K, V]) RBDirection {
	dir := parent.dirOf(child)
	if dir != Root {
		r.lock(child)
	}
	return dir
}

func (r *lockedRegion[K, V]) unlock() {
	for i := r.size - 1; i >= 0; i-- {
		r.nodes[i].mu.unlock(r.version)
		r.nodes[i] = nil
	}
	r.size = 0
}

// record pushes the held nodes and their children
// that still violate after a step.
func (r *lockedRegion[K, V]) record(t *concRBTree[K, V], wl *concRBTreeWorklist[K, V]) {
	for i := 0; i < r.size; i++ {
		node := r.nodes[i]
		if t.violationOf(node) != noViolation {
			wl.push(node)
		}
		for _, child := range [2]*concRBNode[K, V]{node.left.Load(), node.right.Load()} {
			if t.violationOf(child) != noViolation {
				wl.push(child)
			}
		}
	}
}

// rotateUp lifts child (parent's dir side) into parent's place.
// All three nodes are held by the caller.
func (t *concRBTree[K, V]) rotateUp(grand, parent, child *concRBNode[K, V], dir RBDirection) {
	parentOVL, childOVL := parent.ovl.Load(), child.ovl.Load()
	parent.ovl.Store(t.layout.beginShrink(parentOVL))
	child.ovl.Store(t.layout.beginGrow(childOVL))

	parentDir := grand.dirOf(parent)
	inner := child.child(dir.opposite())
	parent.setChild(dir, inner)
	if inner != nil {
		inner.parent.Store(parent)
	}
	child.setChild(dir.opposite(), parent)
	// New parent links are stored top first, so walking up never loops.
	child.parent.Store(grand)
	grand.setChild(parentDir, child)
	parent.parent.Store(child)

	child.ovl.Store(t.layout.endGrow(childOVL))
	parent.ovl.Store(t.layout.endShrink(parentOVL))
	t.stats.increaseRotation()
}

// rotateUpTwice lifts grandChild, the inner child of child
// (parent's dir side), into parent's place.
func (t *concRBTree[K, V]) rotateUpTwice(grand, parent, child, grandChild *concRBNode[K, V], dir RBDirection) {
	parentOVL, childOVL, gcOVL := parent.ovl.Load(), child.ovl.Load(), grandChild.ovl.Load()
	parent.ovl.Store(t.layout.beginShrink(parentOVL))
	child.ovl.Store(t.layout.beginShrink(childOVL))
	grandChild.ovl.Store(t.layout.beginGrow(gcOVL))

	parentDir := grand.dirOf(parent)
	toChild, toParent := grandChild.child(dir), grandChild.child(dir.opposite())
	grandChild.parent.Store(grand)
	child.setChild(dir.opposite(), toChild)
	if toChild != nil {
		toChild.parent.Store(child)
	}
	parent.setChild(dir, toParent)
	if toParent != nil {
		toParent.parent.Store(parent)
	}
	grandChild.setChild(dir, child)
	child.parent.Store(grandChild)
	grandChild.setChild(dir.opposite(), parent)
	grand.setChild(parentDir, grandChild)
	parent.parent.Store(grandChild)

	grandChild.ovl.Store(t.layout.endGrow(gcOVL))
	child.ovl.Store(t.layout.endShrink(childOVL))
	parent.ovl.Store(t.layout.endShrink(parentOVL))
	t.stats.increaseRotation(2)
}

// fixRoot repaints a red or double black root black.
func (t *concRBTree[K, V]) fixRoot(node *concRBNode[K, V]) bool {
	region := lockedRegion[K, V]{version: t.idGen.next()}
	defer region.unlock()

	region.lock(t.holder)
	if region.lockChild(t.holder, node) == Root {
		return false
	}
	if node.loadColor() != Black {
		node.storeColor(Black)
		t.stats.increaseRecolor()
	}
	return true
}

// fixRedRed resolves a red node under a red parent.
//
//	      gg               gg               gg
//	      |                |                |
//	     [g]              [x]              [y]
//	     / \              / \              / \
//	   <x>  u    ==>    <y> <g>    or    <x> <g>
//	   /                      \
//	 <y>                       u
func (t *concRBTree[K, V]) fixRedRed(y *concRBNode[K, V], wl *concRBTreeWorklist[K, V]) bool {
	x := y.parent.Load()
	if x == nil || x.holder {
		return false
	}
	g := x.parent.Load()
	if g == nil || g.holder {
		return false
	}
	gg := g.parent.Load()
	if gg == nil {
		return false
	}

	region := lockedRegion[K, V]{version: t.idGen.next()}
	defer region.unlock()

	region.lock(gg)
	if region.lockChild(gg, g) == Root {
		return false
	}
	dx := region.lockChild(g, x)
	if dx == Root {
		return false
	}
	dy := region.lockChild(x, y)
	if dy == Root {
		return false
	}
	u := g.child(dx.opposite())
	if u != nil {
		region.lock(u)
	}
	if !y.isRed() || !x.isRed() || g.isRed() {
		return false
	}

	gColor := g.loadColor()
	switch {
	case u.isRed():
		// Push the red up.
		x.storeColor(Black)
		u.storeColor(Black)
		if gColor == DoubleBlack {
			g.storeColor(Black)
		} else {
			g.storeColor(Red)
		}
		t.stats.increaseRecolor(3)
	case dx == dy:
		t.rotateUp(gg, g, x, dx)
		x.storeColor(Black)
		if gColor == DoubleBlack {
			g.storeColor(Black)
			y.storeColor(Black)
		} else {
			g.storeColor(Red)
		}
		t.stats.increaseRecolor(2)
	default:
		t.rotateUpTwice(gg, g, x, y, dx)
		y.storeColor(Black)
		if gColor == DoubleBlack {
			g.storeColor(Black)
			x.storeColor(Black)
		} else {
			g.storeColor(Red)
		}
		t.stats.increaseRecolor(2)
	}
	region.record(t, wl)
	return true
}

// addBlack moves one black unit into node.
func (t *concRBTree[K, V]) addBlack(node *concRBNode[K, V]) {
	if node.isRed() {
		node.storeColor(Black)
	} else {
		node.storeColor(DoubleBlack)
	}
	t.stats.increaseRecolor()
}

// fixDoubleBlack resolves the black-height deficit below d's parent.
// The deficit is d's extra black unit, or, with unlinkLeaf, the unit lost
// by unlinking d as a black routing leaf.
func (t *concRBTree[K, V]) fixDoubleBlack(d *concRBNode[K, V], unlinkLeaf bool, wl *concRBTreeWorklist[K, V]) bool {
	p := d.parent.Load()
	if p == nil || p.holder {
		return false
	}
	gp := p.parent.Load()
	if gp == nil {
		return false
	}

	region := lockedRegion[K, V]{version: t.idGen.next()}
	defer region.unlock()

	region.lock(gp)
	if region.lockChild(gp, p) == Root {
		return false
	}
	dd := region.lockChild(p, d)
	if dd == Root {
		return false
	}
	if unlinkLeaf {
		if !d.isRouting() || d.loadColor() != Black || d.childCount() != 0 {
			return false
		}
	} else if !d.isDoubleBlack() {
		return false
	}
	if p.isDoubleBlack() {
		return false
	}
	s := p.child(dd.opposite())
	if s == nil {
		t.fault(errConcRBTreeMissingSibling, d)
	}
	region.lock(s)
	sn, sf := s.child(dd), s.child(dd.opposite())
	if sn != nil {
		region.lock(sn)
	}
	if sf != nil {
		region.lock(sf)
	}

	pColor := p.loadColor()
	switch {
	case s.isRed():
		if pColor == Red {
			// Someone else's red-red, help it first.
			wl.push(s)
			return false
		}
		t.rotateUp(gp, p, s, dd.opposite())
		s.storeColor(Black)
		p.storeColor(Red)
		t.stats.increaseRecolor(2)
	case s.isDoubleBlack():
		s.storeColor(Black)
		t.finishDeficit(p, d, dd, unlinkLeaf)
		t.addBlack(p)
	case !sn.isRed() && !sf.isRed():
		s.storeColor(Red)
		t.finishDeficit(p, d, dd, unlinkLeaf)
		t.addBlack(p)
	case sf.isRed():
		t.rotateUp(gp, p, s, dd.opposite())
		s.storeColor(pColor)
		p.storeColor(Black)
		sf.storeColor(Black)
		t.finishDeficit(p, d, dd, unlinkLeaf)
		t.stats.increaseRecolor(3)
	default:
		t.rotateUpTwice(gp, p, s, sn, dd.opposite())
		sn.storeColor(pColor)
		p.storeColor(Black)
		t.finishDeficit(p, d, dd, unlinkLeaf)
		t.stats.increaseRecolor(2)
	}
	region.record(t, wl)
	return true
}

// finishDeficit drops d's share of a deficit that moved up into p.
func (t *concRBTree[K, V]) finishDeficit(p, d *concRBNode[K, V], dd RBDirection, unlinkLeaf bool) {
	if unlinkLeaf {
		p.setChild(dd, nil)
		d.unlink()
		t.stats.increaseUnlink()
		return
	}
	d.storeColor(Black)
	t.stats.increaseRecolor()
}

// fixRouting unlinks a routing node left with at most one child.
func (t *concRBTree[K, V]) fixRouting(node *concRBNode[K, V], wl *concRBTreeWorklist[K, V]) bool {
	p := node.parent.Load()
	if p == nil {
		return false
	}
	if !p.holder && node.loadColor() == Black && node.childCount() == 0 {
		return t.fixDoubleBlack(node, true, wl)
	}

	region := lockedRegion[K, V]{version: t.idGen.next()}
	defer region.unlock()

	region.lock(p)
	dir := region.lockChild(p, node)
	if dir == Root {
		return false
	}
	if !node.isRouting() || node.childCount() > 1 {
		// Revived or refilled meanwhile.
		return true
	}
	color := node.loadColor()
	if color == DoubleBlack {
		return false
	}
	child := node.onlyChild()
	if color == Black {
		if child == nil && !p.holder {
			return false
		}
		if child != nil {
			region.lock(child)
			if !child.isRed() {
				t.fault(errConcRBTreeNonRedSpliceChild, node)
			}
			child.storeColor(Black)
			t.stats.increaseRecolor()
		}
	}
	p.setChild(dir, child)
	if child != nil {
		child.parent.Store(p)
	}
	node.unlink()
	t.stats.increaseUnlink()
	region.record(t, wl)
	return true
}

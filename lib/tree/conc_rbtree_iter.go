package tree

// seekNeighbor returns the node next to key towards dir, routing nodes
// included. Right looks for the smallest greater key, Left for the largest
// smaller one. Without key it returns the first node in dir order,
// the minimum for Right and the maximum for Left.
// It is validated like seek, the result is weakly consistent.
func (t *concRBTree[K, V]) seekNeighbor(key K, hasKey bool, dir RBDirection) *concRBNode[K, V] {
retry:
	for {
		node := t.holder
		nodeOVL := node.ovl.Load()
		if isOVLShrinking(nodeOVL) {
			t.waitUntilChangeCompleted(node, nodeOVL)
			continue
		}
		var candidate *concRBNode[K, V]
		next := Left
		for {
			child := node.child(next)
			if child == nil {
				if t.layout.hasShrunkOrUnlinked(nodeOVL, node.ovl.Load()) {
					t.stats.increaseRetry()
					continue retry
				}
				return candidate
			}
			childOVL := child.ovl.Load()
			if isOVLShrinkingOrUnlinked(childOVL) {
				t.waitUntilChangeCompleted(child, childOVL)
				t.stats.increaseRetry()
				continue retry
			}
			if child != node.child(next) || t.layout.hasShrunkOrUnlinked(nodeOVL, node.ovl.Load()) {
				t.stats.increaseRetry()
				continue retry
			}
			node, nodeOVL = child, childOVL

			beyond := !hasKey
			if hasKey {
				res := t.compare(key, node.key)
				beyond = (dir == Right && res < 0) || (dir == Left && res > 0)
			}
			if beyond {
				candidate = node
				next = dir.opposite()
			} else {
				next = dir
			}
		}
	}
}

// firstPresent returns the first entry holding a value in dir order.
func (t *concRBTree[K, V]) firstPresent(dir RBDirection) (K, V, bool) {
	for node := t.seekNeighbor(*new(K), false, dir); node != nil; node = t.seekNeighbor(node.key, true, dir) {
		if val := node.val.Load(); val != nil {
			return node.key, *val, true
		}
	}
	return *new(K), *new(V), false
}

// Foreach visits the present entries in ascending order.
// Entries changed during the walk may or may not be visited.
func (t *concRBTree[K, V]) Foreach(action func(idx int64, color RBColor, key K, val V) bool) {
	if action == nil {
		return
	}
	idx := int64(0)
	for node := t.seekNeighbor(*new(K), false, Right); node != nil; node = t.seekNeighbor(node.key, true, Right) {
		val := node.val.Load()
		if val == nil {
			continue
		}
		if !action(idx, node.loadColor(), node.key, *val) {
			return
		}
		idx++
	}
}

func (t *concRBTree[K, V]) Keys() []K {
	keys := make([]K, 0, max(t.Len(), 0))
	t.Foreach(func(idx int64, color RBColor, key K, val V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

func (t *concRBTree[K, V]) Values() []V {
	vals := make([]V, 0, max(t.Len(), 0))
	t.Foreach(func(idx int64, color RBColor, key K, val V) bool {
		vals = append(vals, val)
		return true
	})
	return vals
}

func (t *concRBTree[K, V]) Min() (K, V, bool) {
	return t.firstPresent(Right)
}

func (t *concRBTree[K, V]) Max() (K, V, bool) {
	return t.firstPresent(Left)
}

// RemoveMin removes the smallest present entry.
// It retries when another writer removes that entry first.
func (t *concRBTree[K, V]) RemoveMin() (K, V, bool) {
	for {
		key, _, ok := t.firstPresent(Right)
		if !ok {
			return *new(K), *new(V), false
		}
		if val, removed, err := t.Remove(key); err == nil && removed {
			return key, val, true
		}
		t.stats.increaseRetry()
	}
}

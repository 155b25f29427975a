package tree

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

func isBlack[K any, V any](node RBNode[K, V]) bool {
	return node == nil || node.Color() == Black
}

func isRed[K any, V any](node RBNode[K, V]) bool {
	return node != nil && node.Color() == Red
}

func isRoot[K any, V any](node RBNode[K, V]) bool {
	return node != nil && node.Parent() == nil
}

// blackDepthTo counts the black nodes from target up to, but excluding, to.
func blackDepthTo[K any, V any](target, to RBNode[K, V]) int {
	depth := 0
	for aux := target; aux != nil && aux != to; aux = aux.Parent() {
		if isBlack[K, V](aux) {
			depth++
		}
	}
	return depth
}

// rbtree rule validation utilities.
// They expect a quiescent tree, no writer may run meanwhile.

// References:
// https://github1s.com/minghu6/rust-minghu6/blob/master/coll_st/src/bst/rb.rs

// inorder visits every node, routing nodes included, in key order.
func inorder[K any, V any](tree ConcRBTree[K, V], fn func(node RBNode[K, V]) bool) {
	aux := tree.Root()
	stack := make([]RBNode[K, V], 0, 32)
	defer func() {
		clear(stack)
	}()

	for ; aux != nil; aux = aux.Left() {
		stack = append(stack, aux)
	}
	for size := len(stack); size > 0; size = len(stack) {
		aux = stack[size-1]
		stack = stack[:size-1]
		if !fn(aux) {
			return
		}
		for aux = aux.Right(); aux != nil; aux = aux.Left() {
			stack = append(stack, aux)
		}
	}
}

// Inorder traversal to validate the rbtree red properties.
func RedViolationValidate[K any, V any](tree ConcRBTree[K, V]) error {
	if isRed[K, V](tree.Root()) {
		return errors.New("rbtree red root violation")
	}
	var err error
	inorder[K, V](tree, func(node RBNode[K, V]) bool {
		if isRed[K, V](node) && (isRed[K, V](node.Left()) || isRed[K, V](node.Right())) {
			err = fmt.Errorf("rbtree red violation at key %v", node.Key())
			return false
		}
		return true
	})
	return err
}

// BFS traversal to load all nodes with a nil child.
func bfsLeaves[K any, V any](tree ConcRBTree[K, V]) []RBNode[K, V] {
	aux := tree.Root()
	if aux == nil {
		return nil
	}

	leaves := make([]RBNode[K, V], 0, 16)
	queue := make([]RBNode[K, V], 0, 16)
	defer func() {
		clear(queue)
	}()
	queue = append(queue, aux)

	for len(queue) > 0 {
		aux = queue[0]
		l, r := aux.Left(), aux.Right()
		if /* nil leaves, keep one */ l == nil || r == nil {
			leaves = append(leaves, aux)
		}
		if l != nil {
			queue = append(queue, l)
		}
		if r != nil {
			queue = append(queue, r)
		}
		queue = queue[1:]
	}
	return leaves
}

/*
<X> is a RED node.
[X] is a BLACK node (or NIL).

	        [13]
			/  \
		 <8>    [15]
		 / \    /  \
	  [6] [11] [14] [17]
	  /              /
	<1>            [16]

2-3-4 tree like:

	       <8> --- [13] --- <15>
		  /  \             /    \
		 /    \           /      \
	  <1>-[6][11]      [14] <16>-[17]

Each leaf node to root node black depth are equal.
*/
func BlackViolationValidate[K any, V any](tree ConcRBTree[K, V]) error {
	leaves := bfsLeaves[K, V](tree)
	if leaves == nil {
		return nil
	}

	blackDepth := blackDepthTo[K, V](leaves[0], nil)
	for i := 1; i < len(leaves); i++ {
		if depth := blackDepthTo[K, V](leaves[i], nil); depth != blackDepth {
			return fmt.Errorf("rbtree black violation at key %v, black depth %d, expected %d",
				leaves[i].Key(), depth, blackDepth)
		}
	}
	return nil
}

// BlackHeight is the number of black nodes on every root to nil path.
func BlackHeight[K any, V any](tree ConcRBTree[K, V]) int {
	depth := 0
	for aux := tree.Root(); aux != nil; aux = aux.Left() {
		if isBlack[K, V](aux) {
			depth++
		}
	}
	return depth
}

// DoubleBlackViolationValidate reports the transient double black color.
func DoubleBlackViolationValidate[K any, V any](tree ConcRBTree[K, V]) error {
	var err error
	inorder[K, V](tree, func(node RBNode[K, V]) bool {
		if node.Color() == DoubleBlack {
			err = fmt.Errorf("rbtree double black violation at key %v", node.Key())
			return false
		}
		return true
	})
	return err
}

// RoutingViolationValidate reports routing nodes with less than two children.
func RoutingViolationValidate[K any, V any](tree ConcRBTree[K, V]) error {
	var err error
	inorder[K, V](tree, func(node RBNode[K, V]) bool {
		if !node.HasKeyVal() && (node.Left() == nil || node.Right() == nil) {
			err = fmt.Errorf("rbtree routing violation at key %v", node.Key())
			return false
		}
		return true
	})
	return err
}

// OrderViolationValidate checks the inorder keys are strictly increasing
// and every parent link matches.
func OrderViolationValidate[K any, V any](tree ConcRBTree[K, V]) error {
	var (
		err  error
		prev RBNode[K, V]
	)
	cmp := tree.Comparator()
	inorder[K, V](tree, func(node RBNode[K, V]) bool {
		if prev != nil && cmp(prev.Key(), node.Key()) >= 0 {
			err = fmt.Errorf("rbtree order violation between key %v and %v", prev.Key(), node.Key())
			return false
		}
		for _, child := range []RBNode[K, V]{node.Left(), node.Right()} {
			if child != nil && child.Parent() != node {
				err = fmt.Errorf("rbtree parent link violation at key %v", child.Key())
				return false
			}
		}
		prev = node
		return true
	})
	if err == nil && !isRoot[K, V](tree.Root()) && tree.Root() != nil {
		err = errors.New("rbtree root has a parent")
	}
	return err
}

// InvariantsValidate runs every validator and combines their errors.
func InvariantsValidate[K any, V any](tree ConcRBTree[K, V]) error {
	return multierr.Combine(
		OrderViolationValidate[K, V](tree),
		RedViolationValidate[K, V](tree),
		BlackViolationValidate[K, V](tree),
		DoubleBlackViolationValidate[K, V](tree),
		RoutingViolationValidate[K, V](tree),
	)
}

package tree

import (
	"testing"

	"github.com/google/btree"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/benz9527/xcrbt/lib/infra"
	"github.com/benz9527/xcrbt/lib/xlog"
)

type referenceItem struct {
	key, val int
}

// referenceTree is the sequential model the tree is checked against.
type referenceTree struct {
	tree *btree.BTreeG[referenceItem]
}

func newReferenceTree() *referenceTree {
	return &referenceTree{
		tree: btree.NewG[referenceItem](8, func(a, b referenceItem) bool {
			return a.key < b.key
		}),
	}
}

func (ref *referenceTree) put(key, val int) (int, bool) {
	prev, ok := ref.tree.ReplaceOrInsert(referenceItem{key: key, val: val})
	return prev.val, ok
}

func (ref *referenceTree) remove(key int) (int, bool) {
	prev, ok := ref.tree.Delete(referenceItem{key: key})
	return prev.val, ok
}

func (ref *referenceTree) get(key int) (int, bool) {
	item, ok := ref.tree.Get(referenceItem{key: key})
	return item.val, ok
}

func (ref *referenceTree) len() int {
	return ref.tree.Len()
}

func (ref *referenceTree) keys() []int {
	keys := make([]int, 0, ref.tree.Len())
	ref.tree.Ascend(func(item referenceItem) bool {
		keys = append(keys, item.key)
		return true
	})
	return keys
}

func newTestTree(t *testing.T, opts ...ConcRBTreeOption[int, int]) *concRBTree[int, int] {
	t.Helper()
	opts = append([]ConcRBTreeOption[int, int]{
		WithConcRBTreeLogger[int, int](xlog.NopXLogger()),
	}, opts...)
	tree, err := newConcRBTree[int, int](infra.OrderedKeyCompare[int], opts...)
	require.NoError(t, err)
	return tree
}

// testNode builds a detached node, a routing one unless present.
func (t *concRBTree[K, V]) testNode(key K, color RBColor, present bool) *concRBNode[K, V] {
	var val *V
	if present {
		val = new(V)
	}
	return newConcRBNode[K, V](key, val, color, t.mutexType, t.gen.Load())
}

func testLink[K any, V any](parent, child *concRBNode[K, V], dir RBDirection) {
	parent.setChild(dir, child)
	child.parent.Store(parent)
}

// buildScenarioTree links 10B(5B(3R,7R),15B(12R,18R)) by hand.
func buildScenarioTree(t *testing.T) (*concRBTree[int, int], map[int]*concRBNode[int, int]) {
	tree := newTestTree(t)
	nodes := make(map[int]*concRBNode[int, int])
	for _, key := range []int{10, 5, 15} {
		nodes[key] = tree.testNode(key, Black, true)
	}
	for _, key := range []int{3, 7, 12, 18} {
		nodes[key] = tree.testNode(key, Red, true)
	}
	testLink(tree.holder, nodes[10], Left)
	testLink(nodes[10], nodes[5], Left)
	testLink(nodes[10], nodes[15], Right)
	testLink(nodes[5], nodes[3], Left)
	testLink(nodes[5], nodes[7], Right)
	testLink(nodes[15], nodes[12], Left)
	testLink(nodes[15], nodes[18], Right)
	tree.gen.Load().count.Store(7)
	return tree, nodes
}

func TestInvariantsValidate(t *testing.T) {
	tree, _ := buildScenarioTree(t)
	require.NoError(t, RedViolationValidate[int, int](tree))
	require.NoError(t, BlackViolationValidate[int, int](tree))
	require.NoError(t, DoubleBlackViolationValidate[int, int](tree))
	require.NoError(t, RoutingViolationValidate[int, int](tree))
	require.NoError(t, OrderViolationValidate[int, int](tree))
	require.NoError(t, InvariantsValidate[int, int](tree))
	require.Equal(t, 2, BlackHeight[int, int](tree))
	require.Equal(t, []int{3, 5, 7, 10, 12, 15, 18}, tree.Keys())

	empty := newTestTree(t)
	require.NoError(t, InvariantsValidate[int, int](empty))
	require.Equal(t, 0, BlackHeight[int, int](empty))
}

func TestInvariantsValidateViolations(t *testing.T) {
	testcases := []struct {
		name     string
		build    func(tree *concRBTree[int, int])
		validate func(tree ConcRBTree[int, int]) error
	}{
		{
			name: "red root",
			build: func(tree *concRBTree[int, int]) {
				testLink(tree.holder, tree.testNode(10, Red, true), Left)
			},
			validate: RedViolationValidate[int, int],
		},
		{
			name: "red under red",
			build: func(tree *concRBTree[int, int]) {
				root, l := tree.testNode(10, Black, true), tree.testNode(5, Red, true)
				testLink(tree.holder, root, Left)
				testLink(root, l, Left)
				testLink(l, tree.testNode(3, Red, true), Left)
			},
			validate: RedViolationValidate[int, int],
		},
		{
			name: "unequal black height",
			build: func(tree *concRBTree[int, int]) {
				root := tree.testNode(10, Black, true)
				testLink(tree.holder, root, Left)
				testLink(root, tree.testNode(5, Black, true), Left)
			},
			validate: BlackViolationValidate[int, int],
		},
		{
			name: "double black left over",
			build: func(tree *concRBTree[int, int]) {
				testLink(tree.holder, tree.testNode(10, DoubleBlack, true), Left)
			},
			validate: DoubleBlackViolationValidate[int, int],
		},
		{
			name: "routing node with one child",
			build: func(tree *concRBTree[int, int]) {
				root := tree.testNode(10, Black, false)
				testLink(tree.holder, root, Left)
				testLink(root, tree.testNode(5, Red, true), Left)
			},
			validate: RoutingViolationValidate[int, int],
		},
		{
			name: "routing leaf",
			build: func(tree *concRBTree[int, int]) {
				testLink(tree.holder, tree.testNode(10, Black, false), Left)
			},
			validate: RoutingViolationValidate[int, int],
		},
		{
			name: "out of order",
			build: func(tree *concRBTree[int, int]) {
				root := tree.testNode(10, Black, true)
				testLink(tree.holder, root, Left)
				testLink(root, tree.testNode(15, Red, true), Left)
			},
			validate: OrderViolationValidate[int, int],
		},
		{
			name: "broken parent link",
			build: func(tree *concRBTree[int, int]) {
				root := tree.testNode(10, Black, true)
				testLink(tree.holder, root, Left)
				root.setChild(Right, tree.testNode(15, Red, true))
			},
			validate: OrderViolationValidate[int, int],
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(tt *testing.T) {
			tree := newTestTree(tt)
			tc.build(tree)
			require.Error(tt, tc.validate(tree))
			require.Error(tt, InvariantsValidate[int, int](tree))
		})
	}
}

func TestInvariantsValidateCombinesErrors(t *testing.T) {
	tree := newTestTree(t)
	root := tree.testNode(10, Red, false)
	testLink(tree.holder, root, Left)
	testLink(root, tree.testNode(15, Red, true), Left)
	err := InvariantsValidate[int, int](tree)
	require.Error(t, err)
	// Order, red root and routing rules fail together.
	require.Len(t, multierr.Errors(err), 3)
}

package tree

import "github.com/benz9527/xcrbt/lib/infra"

// go install golang.org/x/tools/cmd/stringer@latest

//go:generate stringer -type=RBColor
type RBColor uint8

const (
	Black RBColor = iota
	Red
	// DoubleBlack marks a black-height deficit. It only exists
	// while a removal repair is in progress.
	DoubleBlack
)

//go:generate stringer -type=RBDirection
type RBDirection int8

const (
	Left RBDirection = -1 + iota
	Root
	Right
)

// RBNode is a read-only view of a tree node.
// The root holder is never exposed, the real root's Parent() is nil.
type RBNode[K any, V any] interface {
	Key() K
	Val() V
	HasKeyVal() bool
	Color() RBColor
	Left() RBNode[K, V]
	Right() RBNode[K, V]
	Parent() RBNode[K, V]
}

// ConcRBTree is an ordered map safe for concurrent use.
// Reads never take locks, writers lock a bounded neighborhood of nodes.
// Enumeration is weakly consistent.
type ConcRBTree[K any, V any] interface {
	Len() int64
	IsEmpty() bool
	Root() RBNode[K, V]
	Comparator() infra.Comparator[K]
	Get(key K) (V, bool, error)
	ContainsKey(key K) (bool, error)
	Put(key K, val V) (V, bool, error)
	PutIfAbsent(key K, val V) (V, bool, error)
	Replace(key K, val V) (V, bool, error)
	Remove(key K) (V, bool, error)
	RemoveMin() (K, V, bool)
	Min() (K, V, bool)
	Max() (K, V, bool)
	Foreach(action func(idx int64, color RBColor, key K, val V) bool)
	Keys() []K
	Values() []V
	Clear()
}

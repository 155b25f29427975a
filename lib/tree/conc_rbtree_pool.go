package tree

import (
	"sync"
)

const defaultWorklistCap = 16

// concRBTreeWorklist is the LIFO of nodes whose paths up to the root
// holder still have to be checked by the repair driver.
type concRBTreeWorklist[K any, V any] struct {
	nodes []*concRBNode[K, V]
}

func (wl *concRBTreeWorklist[K, V]) push(node *concRBNode[K, V]) {
	wl.nodes = append(wl.nodes, node)
}

func (wl *concRBTreeWorklist[K, V]) pop() *concRBNode[K, V] {
	last := len(wl.nodes) - 1
	node := wl.nodes[last]
	wl.nodes[last] = nil
	wl.nodes = wl.nodes[:last]
	return node
}

func (wl *concRBTreeWorklist[K, V]) isEmpty() bool {
	return len(wl.nodes) == 0
}

type concRBTreePool[K any, V any] struct {
	worklistPool *sync.Pool
}

func newConcRBTreePool[K any, V any]() *concRBTreePool[K, V] {
	p := &concRBTreePool[K, V]{
		worklistPool: &sync.Pool{
			New: func() any {
				return &concRBTreeWorklist[K, V]{
					nodes: make([]*concRBNode[K, V], 0, defaultWorklistCap),
				}
			},
		},
	}
	return p
}

func (p *concRBTreePool[K, V]) loadWorklist() *concRBTreeWorklist[K, V] {
	return p.worklistPool.Get().(*concRBTreeWorklist[K, V])
}

func (p *concRBTreePool[K, V]) releaseWorklist(wl *concRBTreeWorklist[K, V]) {
	clear(wl.nodes)
	wl.nodes = wl.nodes[:0]
	p.worklistPool.Put(wl)
}

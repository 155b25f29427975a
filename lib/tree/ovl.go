package tree

// Optimistic version lock (OVL) word layout, low bits first:
//
//	bit 0: unlinked, the whole word equals ovlUnlinked once set
//	bit 1: grow lock
//	bit 2: shrink lock
//	bits [3, 3+growBits): grow counter
//	bits [3+growBits, 64): shrink counter
//
// The grow counter is allowed to carry into the shrink counter.
// A carry only costs readers a spurious retry.
const (
	ovlUnlinked       uint64 = 0x1
	ovlGrowLock       uint64 = 0x2
	ovlShrinkLock     uint64 = 0x4
	ovlGrowCountShift        = 3
	ovlGrowCountUnit  uint64 = 1 << ovlGrowCountShift

	defaultOVLGrowCountBits uint8 = 8
	maxOVLGrowCountBits     uint8 = 32
)

type ovlLayout struct {
	growCountMask   uint64
	shrinkCountUnit uint64
}

func newOVLLayout(growCountBits uint8) ovlLayout {
	if growCountBits == 0 || growCountBits > maxOVLGrowCountBits {
		growCountBits = defaultOVLGrowCountBits
	}
	return ovlLayout{
		growCountMask:   ((uint64(1) << growCountBits) - 1) << ovlGrowCountShift,
		shrinkCountUnit: uint64(1) << (ovlGrowCountShift + growCountBits),
	}
}

func (layout ovlLayout) beginGrow(ovl uint64) uint64 {
	return ovl | ovlGrowLock
}

// endGrow takes the word read before beginGrow.
func (layout ovlLayout) endGrow(ovl uint64) uint64 {
	return ovl + ovlGrowCountUnit
}

func (layout ovlLayout) beginShrink(ovl uint64) uint64 {
	return ovl | ovlShrinkLock
}

// endShrink takes the word read before beginShrink.
func (layout ovlLayout) endShrink(ovl uint64) uint64 {
	return ovl + layout.shrinkCountUnit
}

func (layout ovlLayout) hasShrunkOrUnlinked(orig, current uint64) bool {
	return ((orig ^ current) &^ (ovlGrowLock | layout.growCountMask)) != 0
}

func isOVLChanging(ovl uint64) bool {
	return ovl&(ovlGrowLock|ovlShrinkLock) != 0
}

func isOVLShrinking(ovl uint64) bool {
	return ovl&ovlShrinkLock != 0
}

func isOVLShrinkingOrUnlinked(ovl uint64) bool {
	return ovl&(ovlShrinkLock|ovlUnlinked) != 0
}

func isOVLUnlinked(ovl uint64) bool {
	return ovl == ovlUnlinked
}

package bptree

import (
	"unsafe"

	"github.com/cbehopkins/canopy"
)

// leaf is a bottom-level node: a packed prefix of count key/value pairs held
// in inline arrays. Under the strict policy keys are always ascending; under
// the lazy policy they are an unordered distinct set until sorted reports
// otherwise. Slots beyond count are dead storage and are never read.
type leaf[K, V any] struct {
	count  uint8
	sorted bool
	keys   [MaxFanout]K
	vals   [MaxFanout]V
}

// branch is an internal node: separator keys and child pointers, no values.
// A branch with n keys has n+1 live children.
type branch[K any] struct {
	count    uint8
	keys     [MaxFanout]K
	children [MaxFanout + 1]unsafe.Pointer
}

// insert shift-inserts a pair at ix. The caller has checked there is room.
func (lf *leaf[K, V]) insert(ix int, key K, value V) {
	n := int(lf.count)
	copy(lf.keys[ix+1:n+1], lf.keys[ix:n])
	copy(lf.vals[ix+1:n+1], lf.vals[ix:n])
	lf.keys[ix] = key
	lf.vals[ix] = value
	lf.count++
}

// sort orders the live prefix in place, values moving with their keys.
// Insertion sort is fine at inline-array sizes.
func (lf *leaf[K, V]) sort(less canopy.Less[K]) {
	n := int(lf.count)
	for i := 1; i < n; i++ {
		k, v := lf.keys[i], lf.vals[i]
		j := i - 1
		for j >= 0 && less(k, lf.keys[j]) {
			lf.keys[j+1] = lf.keys[j]
			lf.vals[j+1] = lf.vals[j]
			j--
		}
		lf.keys[j+1] = k
		lf.vals[j+1] = v
	}
	lf.sorted = true
}

// insert shift-inserts a separator at ix and its right child at ix+1. The
// caller has checked there is room.
func (b *branch[K]) insert(ix int, key K, child unsafe.Pointer) {
	n := int(b.count)
	copy(b.keys[ix+1:n+1], b.keys[ix:n])
	copy(b.children[ix+2:n+2], b.children[ix+1:n+1])
	b.keys[ix] = key
	b.children[ix+1] = child
	b.count++
}

// splitLeaf splits the full, sorted leaf lf at mid = leafFanout/2: rt takes
// the keys from mid upward and the separator is a COPY of the last key of
// the left half, which stays addressable in lf. The inbound pair lands on
// whichever side its sorted position ix falls. Neither half can drop below
// the minimum fill: the left keeps mid keys and the right keeps the rest.
func (m *Map[K, V]) splitLeaf(lf, rt *leaf[K, V], ix int, key K, value V) K {
	c := m.leafFanout
	mid := c / 2
	sep := lf.keys[mid-1]

	copy(rt.keys[:], lf.keys[mid:c])
	copy(rt.vals[:], lf.vals[mid:c])
	rt.count = uint8(c - mid)
	rt.sorted = true
	lf.count = uint8(mid)
	lf.sorted = true

	if ix < mid {
		lf.insert(ix, key, value)
	} else {
		rt.insert(ix-mid, key, value)
	}
	return sep
}

// splitBranch splits the full branch b, which is receiving a separator at ix
// with its right child. Unlike the leaf split, the promoted separator MOVES
// up: branches hold no data of their own. The inbound separator participates
// in the median choice, so both halves keep at least floor(branchFanout/2)
// keys for every legal fan-out.
func (m *Map[K, V]) splitBranch(b, rb *branch[K], ix int, key K, child unsafe.Pointer) K {
	c := m.branchFanout
	p := (c + 1) / 2
	var sep K
	switch {
	case ix < p:
		sep = b.keys[p-1]
		copy(rb.keys[:], b.keys[p:c])
		copy(rb.children[:], b.children[p:c+1])
		rb.count = uint8(c - p)
		b.count = uint8(p - 1)
		b.insert(ix, key, child)
	case ix == p:
		// The inbound separator is itself the median.
		sep = key
		copy(rb.keys[:], b.keys[p:c])
		rb.children[0] = child
		copy(rb.children[1:], b.children[p+1:c+1])
		rb.count = uint8(c - p)
		b.count = uint8(p)
	default:
		sep = b.keys[p]
		copy(rb.keys[:], b.keys[p+1:c])
		copy(rb.children[:], b.children[p+1:c+1])
		rb.count = uint8(c - p - 1)
		b.count = uint8(p)
		rb.insert(ix-p-1, key, child)
	}
	return sep
}

package btree

import "unsafe"

// leaf is a bottom-level node: a packed prefix of count key/value pairs held
// in inline arrays. Slots beyond count are dead storage and are never read.
type leaf[K, V any] struct {
	count uint8
	keys  [MaxFanout]K
	vals  [MaxFanout]V
}

// branch is an internal node. Branches carry values too: any key may
// terminate its search at an internal level. A branch with n keys has n+1
// live children.
type branch[K, V any] struct {
	count    uint8
	keys     [MaxFanout]K
	vals     [MaxFanout]V
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

// insert shift-inserts a separator pair at ix and its right child at ix+1.
// The caller has checked there is room.
func (b *branch[K, V]) insert(ix int, key K, value V, child unsafe.Pointer) {
	n := int(b.count)
	copy(b.keys[ix+1:n+1], b.keys[ix:n])
	copy(b.vals[ix+1:n+1], b.vals[ix:n])
	copy(b.children[ix+2:n+2], b.children[ix+1:n+1])
	b.keys[ix] = key
	b.vals[ix] = value
	b.children[ix+1] = child
	b.count++
}

// splitLeaf splits the full leaf lf around the median of the virtual
// (fanout+1)-entry sequence that includes the inbound pair at ix. The entry
// at virtual position p = ceil(fanout/2) is promoted; lf keeps the p entries
// below it and rt receives the rest. Counting the inbound entry in the median
// choice keeps both halves at or above the minimum fill for every legal
// fan-out, including fanout 2.
func (m *Map[K, V]) splitLeaf(lf, rt *leaf[K, V], ix int, key K, value V) (K, V) {
	c := m.fanout
	p := (c + 1) / 2
	var sepK K
	var sepV V
	switch {
	case ix < p:
		sepK, sepV = lf.keys[p-1], lf.vals[p-1]
		copy(rt.keys[:], lf.keys[p:c])
		copy(rt.vals[:], lf.vals[p:c])
		rt.count = uint8(c - p)
		lf.count = uint8(p - 1)
		lf.insert(ix, key, value)
	case ix == p:
		// The inbound pair is itself the median.
		sepK, sepV = key, value
		copy(rt.keys[:], lf.keys[p:c])
		copy(rt.vals[:], lf.vals[p:c])
		rt.count = uint8(c - p)
		lf.count = uint8(p)
	default:
		sepK, sepV = lf.keys[p], lf.vals[p]
		copy(rt.keys[:], lf.keys[p+1:c])
		copy(rt.vals[:], lf.vals[p+1:c])
		rt.count = uint8(c - p - 1)
		lf.count = uint8(p)
		rt.insert(ix-p-1, key, value)
	}
	return sepK, sepV
}

// splitBranch is splitLeaf's analogue for internal nodes: the inbound
// separator pair arrives at ix with its right child, and the promoted median
// moves up to the caller. Child slots move with their keys.
func (m *Map[K, V]) splitBranch(b, rb *branch[K, V], ix int, key K, value V, child unsafe.Pointer) (K, V) {
	c := m.fanout
	p := (c + 1) / 2
	var sepK K
	var sepV V
	switch {
	case ix < p:
		sepK, sepV = b.keys[p-1], b.vals[p-1]
		copy(rb.keys[:], b.keys[p:c])
		copy(rb.vals[:], b.vals[p:c])
		copy(rb.children[:], b.children[p:c+1])
		rb.count = uint8(c - p)
		b.count = uint8(p - 1)
		b.insert(ix, key, value, child)
	case ix == p:
		sepK, sepV = key, value
		copy(rb.keys[:], b.keys[p:c])
		copy(rb.vals[:], b.vals[p:c])
		rb.children[0] = child
		copy(rb.children[1:], b.children[p+1:c+1])
		rb.count = uint8(c - p)
		b.count = uint8(p)
	default:
		sepK, sepV = b.keys[p], b.vals[p]
		copy(rb.keys[:], b.keys[p+1:c])
		copy(rb.vals[:], b.vals[p+1:c])
		copy(rb.children[:], b.children[p+1:c+1])
		rb.count = uint8(c - p - 1)
		b.count = uint8(p)
		rb.insert(ix-p-1, key, value, child)
	}
	return sepK, sepV
}

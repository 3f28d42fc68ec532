// Package btree implements a cache-optimised in-memory B-tree map: keys and
// values are stored at every level, so a lookup that hits a separator key
// terminates without descending to a leaf. Nodes are fixed-capacity value
// aggregates with inline key and value arrays; fan-out and search strategy
// are chosen per map through Options.
package btree

import (
	"errors"
	"unsafe"

	"go.uber.org/zap"

	"github.com/cbehopkins/canopy"
	"github.com/cbehopkins/canopy/arena"
	"github.com/cbehopkins/canopy/search"
)

var (
	ErrBadFanout  = errors.New("btree: fanout must be between 2 and MaxFanout")
	ErrNilLess    = errors.New("btree: a Less function is required")
	ErrLazySearch = errors.New("btree: linear-lazy is a bptree leaf strategy")
	ErrInvariant  = errors.New("btree: invariant violation")
)

const (
	// MaxFanout bounds per-node key capacity. Node arrays are inline at this
	// size; the live prefix is governed by Options.Fanout.
	MaxFanout = 32

	// maxDepth bounds the ancestry stack recorded during Put. The smallest
	// legal fan-out gives binary branching, so 64 levels cover any count
	// representable in a machine word.
	maxDepth = 64
)

// Options configures a Map. Fanout and the search strategy are fixed for the
// life of the map.
type Options[K any] struct {
	// Fanout is the per-node key capacity C, 2..MaxFanout.
	Fanout int
	// Search selects the lower-bound strategy for branches and leaves.
	// LinearLazy is rejected; lazy ordering exists only for bptree leaves.
	Search search.Strategy
	// DynamicCutoff is the interval length at which the Dynamic strategy
	// stops bisecting. Defaults to search.DefaultDynamicCutoff.
	DynamicCutoff int
	// Less is the strict weak ordering over keys. Required.
	Less canopy.Less[K]
	// Equal is the key equivalence. Derived from Less when nil.
	Equal canopy.Equal[K]
	// Arena accounts node allocations. Defaults to an unbounded arena.
	Arena *arena.Arena
	// Debug re-validates the tree after every Put (panicking on violation)
	// and traces operations through Log when one is supplied.
	Debug bool
	// Log receives debug traces when Debug is set.
	Log *zap.Logger
}

// Map is an ordered map backed by a B-tree. A Map has a single logical owner;
// it is not safe for concurrent use.
type Map[K, V any] struct {
	fanout int
	less   canopy.Less[K]
	eq     canopy.Equal[K]
	lower  func([]K, K) int
	ar     *arena.Arena
	debug  bool
	log    *zap.Logger

	// root points at a leaf when depth is 0, otherwise at a branch. Child
	// slots are untagged; a node's concrete type is recovered by comparing
	// its level to depth.
	root  unsafe.Pointer
	depth int
	count int
}

// crumb records one ancestor visited during descent: the branch and the child
// slot that was followed.
type crumb[K, V any] struct {
	node *branch[K, V]
	ix   int
}

// New returns an empty map: one empty leaf, depth 0, count 0.
func New[K, V any](opts Options[K]) (*Map[K, V], error) {
	if opts.Fanout < 2 || opts.Fanout > MaxFanout {
		return nil, ErrBadFanout
	}
	if opts.Less == nil {
		return nil, ErrNilLess
	}
	if opts.Search == search.LinearLazy {
		return nil, ErrLazySearch
	}
	cutoff := opts.DynamicCutoff
	if cutoff == 0 {
		cutoff = search.DefaultDynamicCutoff
	}
	lower, err := search.Lower[K](opts.Search, cutoff, opts.Less)
	if err != nil {
		return nil, err
	}
	eq := opts.Equal
	if eq == nil {
		eq = canopy.EqualFromLess[K](opts.Less)
	}
	ar := opts.Arena
	if ar == nil {
		ar = arena.Unbounded()
	}

	if err := ar.Alloc(); err != nil {
		return nil, err
	}
	m := &Map[K, V]{
		fanout: opts.Fanout,
		less:   opts.Less,
		eq:     eq,
		lower:  lower,
		ar:     ar,
		debug:  opts.Debug,
		log:    opts.Log,
		root:   unsafe.Pointer(new(leaf[K, V])),
	}
	return m, nil
}

// Len returns the number of distinct keys stored.
func (m *Map[K, V]) Len() int { return m.count }

// Depth returns the number of branch levels above the leaves. A map whose
// root is a leaf has depth 0.
func (m *Map[K, V]) Depth() int { return m.depth }

// Get returns the value stored for key. The descent short-circuits as soon
// as a branch holds an equal key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	p := m.root
	for level := 0; level < m.depth; level++ {
		b := (*branch[K, V])(p)
		ix := m.lower(b.keys[:b.count], key)
		if ix < int(b.count) && m.eq(b.keys[ix], key) {
			return b.vals[ix], true
		}
		p = b.children[ix]
	}
	lf := (*leaf[K, V])(p)
	ix := m.lower(lf.keys[:lf.count], key)
	if ix < int(lf.count) && m.eq(lf.keys[ix], key) {
		return lf.vals[ix], true
	}
	var zero V
	return zero, false
}

// Put inserts key with value, or replaces the value when key is present at
// any level. Worst-case split storage is reserved from the arena before the
// tree is touched, so an allocation refusal leaves the map unchanged.
func (m *Map[K, V]) Put(key K, value V) (canopy.Outcome, error) {
	out, err := m.put(key, value)
	if m.debug {
		m.trace("put", key, out, err)
		if err == nil {
			if verr := m.Validate(); verr != nil {
				panic(verr)
			}
		}
	}
	return out, err
}

func (m *Map[K, V]) put(key K, value V) (canopy.Outcome, error) {
	var stack [maxDepth + 1]crumb[K, V]

	p := m.root
	for level := 0; level < m.depth; level++ {
		b := (*branch[K, V])(p)
		ix := m.lower(b.keys[:b.count], key)
		if ix < int(b.count) && m.eq(b.keys[ix], key) {
			b.vals[ix] = value
			return canopy.Replaced, nil
		}
		stack[level] = crumb[K, V]{node: b, ix: ix}
		p = b.children[ix]
	}

	lf := (*leaf[K, V])(p)
	ix := m.lower(lf.keys[:lf.count], key)
	if ix < int(lf.count) && m.eq(lf.keys[ix], key) {
		lf.vals[ix] = value
		return canopy.Replaced, nil
	}

	if int(lf.count) < m.fanout {
		lf.insert(ix, key, value)
		m.count++
		return canopy.Inserted, nil
	}

	// Full leaf: a split chain needs at most one new sibling per level plus
	// a new root. Reserve it all before mutating anything.
	reserve := m.depth + 2
	if err := m.ar.Reserve(reserve); err != nil {
		return 0, err
	}
	used := 0
	newNode := func() { _ = m.ar.Alloc(); used++ }

	newNode()
	right := new(leaf[K, V])
	sepK, sepV := m.splitLeaf(lf, right, ix, key, value)
	child := unsafe.Pointer(right)

	for level := m.depth - 1; level >= 0; level-- {
		b, bix := stack[level].node, stack[level].ix
		if int(b.count) < m.fanout {
			b.insert(bix, sepK, sepV, child)
			m.ar.Release(reserve - used)
			m.count++
			return canopy.Inserted, nil
		}
		newNode()
		rb := new(branch[K, V])
		sepK, sepV = m.splitBranch(b, rb, bix, sepK, sepV, child)
		child = unsafe.Pointer(rb)
	}

	// The split chain ran past the root.
	newNode()
	nr := new(branch[K, V])
	nr.count = 1
	nr.keys[0], nr.vals[0] = sepK, sepV
	nr.children[0] = m.root
	nr.children[1] = child
	m.root = unsafe.Pointer(nr)
	m.depth++
	m.ar.Release(reserve - used)
	m.count++
	return canopy.Inserted, nil
}

// Close releases every node back to the arena. The map must not be used
// afterwards.
func (m *Map[K, V]) Close() error {
	if m.root != nil {
		m.free(m.root, 0)
		m.root = nil
		m.count = 0
		m.depth = 0
	}
	return nil
}

func (m *Map[K, V]) free(p unsafe.Pointer, level int) {
	if level < m.depth {
		b := (*branch[K, V])(p)
		for i := 0; i <= int(b.count); i++ {
			m.free(b.children[i], level+1)
		}
	}
	m.ar.Free(1)
}

func (m *Map[K, V]) trace(op string, key K, out canopy.Outcome, err error) {
	if m.log == nil {
		return
	}
	m.log.Debug(op,
		zap.Any("key", key),
		zap.Stringer("outcome", out),
		zap.Int("count", m.count),
		zap.Int("depth", m.depth),
		zap.Error(err),
	)
}

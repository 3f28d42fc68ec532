// Package bptree implements a cache-optimised in-memory B+-tree map: values
// live only in the leaves, while internal branches carry separator keys and
// child pointers. Branch and leaf fan-out are configured independently, and
// leaves support two ordering policies: strict (sorted on every insert) and
// lazy (appended unordered, sorted only when a split demands it).
package bptree

import (
	"errors"
	"unsafe"

	"go.uber.org/zap"

	"github.com/cbehopkins/canopy"
	"github.com/cbehopkins/canopy/arena"
	"github.com/cbehopkins/canopy/search"
)

var (
	ErrBadFanout  = errors.New("bptree: fanout must be between 2 and MaxFanout")
	ErrNilLess    = errors.New("bptree: a Less function is required")
	ErrLazyBranch = errors.New("bptree: linear-lazy is a leaf-only strategy")
	ErrInvariant  = errors.New("bptree: invariant violation")
)

const (
	// MaxFanout bounds per-node key capacity for both node kinds. Node
	// arrays are inline at this size; the live prefix is governed by the
	// configured fan-outs.
	MaxFanout = 32

	// maxDepth bounds the ancestry stack recorded during Put. The smallest
	// legal branch fan-out gives binary branching, so 64 levels cover any
	// count representable in a machine word.
	maxDepth = 64
)

// Options configures a Map. Fan-outs and search strategies are fixed for the
// life of the map.
type Options[K any] struct {
	// BranchFanout is the separator-key capacity of internal nodes,
	// 2..MaxFanout.
	BranchFanout int
	// LeafFanout is the pair capacity of leaves, 2..MaxFanout.
	LeafFanout int
	// BranchSearch selects the lower-bound strategy for branches.
	// LinearLazy is rejected here.
	BranchSearch search.Strategy
	// LeafSearch selects the leaf strategy. LinearLazy additionally selects
	// the lazy leaf-ordering policy: inserts append unordered and leaves are
	// sorted only when a split requires it.
	LeafSearch search.Strategy
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

// Map is an ordered map backed by a B+-tree. A Map has a single logical
// owner; it is not safe for concurrent use.
type Map[K, V any] struct {
	branchFanout int
	leafFanout   int
	lazy         bool
	less         canopy.Less[K]
	eq           canopy.Equal[K]
	lowerBranch  func([]K, K) int
	lowerLeaf    func([]K, K) int // strict policy, and split-time under lazy
	scan         func([]K, K) int // lazy policy only
	ar           *arena.Arena
	debug        bool
	log          *zap.Logger

	// root points at a leaf when depth is 0, otherwise at a branch. Child
	// slots are untagged; a node's concrete type is recovered by comparing
	// its level to depth.
	root  unsafe.Pointer
	depth int
	count int
}

// crumb records one ancestor visited during descent: the branch and the
// child slot that was followed.
type crumb[K any] struct {
	node *branch[K]
	ix   int
}

// New returns an empty map: one empty leaf, depth 0, count 0.
func New[K, V any](opts Options[K]) (*Map[K, V], error) {
	if opts.BranchFanout < 2 || opts.BranchFanout > MaxFanout {
		return nil, ErrBadFanout
	}
	if opts.LeafFanout < 2 || opts.LeafFanout > MaxFanout {
		return nil, ErrBadFanout
	}
	if opts.Less == nil {
		return nil, ErrNilLess
	}
	if opts.BranchSearch == search.LinearLazy {
		return nil, ErrLazyBranch
	}
	cutoff := opts.DynamicCutoff
	if cutoff == 0 {
		cutoff = search.DefaultDynamicCutoff
	}
	lowerBranch, err := search.Lower[K](opts.BranchSearch, cutoff, opts.Less)
	if err != nil {
		return nil, err
	}
	eq := opts.Equal
	if eq == nil {
		eq = canopy.EqualFromLess[K](opts.Less)
	}

	m := &Map[K, V]{
		branchFanout: opts.BranchFanout,
		leafFanout:   opts.LeafFanout,
		lazy:         opts.LeafSearch == search.LinearLazy,
		less:         opts.Less,
		eq:           eq,
		lowerBranch:  lowerBranch,
		debug:        opts.Debug,
		log:          opts.Log,
	}
	if m.lazy {
		m.scan = search.Scan(eq)
		// Splits sort the leaf first and then need a lower bound; a plain
		// scan suffices at leaf sizes.
		m.lowerLeaf, err = search.Lower[K](search.Linear, cutoff, opts.Less)
	} else {
		m.lowerLeaf, err = search.Lower[K](opts.LeafSearch, cutoff, opts.Less)
	}
	if err != nil {
		return nil, err
	}

	m.ar = opts.Arena
	if m.ar == nil {
		m.ar = arena.Unbounded()
	}
	if err := m.ar.Alloc(); err != nil {
		return nil, err
	}
	lf := new(leaf[K, V])
	lf.sorted = true
	m.root = unsafe.Pointer(lf)
	return m, nil
}

// Len returns the number of distinct keys stored.
func (m *Map[K, V]) Len() int { return m.count }

// Depth returns the number of branch levels above the leaves. A map whose
// root is a leaf has depth 0.
func (m *Map[K, V]) Depth() int { return m.depth }

// Get returns the value stored for key. Branches are never consulted for
// values; the descent always reaches a leaf.
func (m *Map[K, V]) Get(key K) (V, bool) {
	p := m.root
	for level := 0; level < m.depth; level++ {
		b := (*branch[K])(p)
		p = b.children[m.lowerBranch(b.keys[:b.count], key)]
	}
	lf := (*leaf[K, V])(p)
	if m.lazy {
		if ix := m.scan(lf.keys[:lf.count], key); ix < int(lf.count) {
			return lf.vals[ix], true
		}
	} else {
		ix := m.lowerLeaf(lf.keys[:lf.count], key)
		if ix < int(lf.count) && m.eq(lf.keys[ix], key) {
			return lf.vals[ix], true
		}
	}
	var zero V
	return zero, false
}

// Put inserts key with value, or replaces the value when key is present.
// Worst-case split storage is reserved from the arena before the tree is
// touched, so an allocation refusal leaves the map unchanged.
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
	var stack [maxDepth + 1]crumb[K]

	p := m.root
	for level := 0; level < m.depth; level++ {
		b := (*branch[K])(p)
		ix := m.lowerBranch(b.keys[:b.count], key)
		stack[level] = crumb[K]{node: b, ix: ix}
		p = b.children[ix]
	}

	lf := (*leaf[K, V])(p)
	n := int(lf.count)

	// The existing-key check always runs first; under lazy ordering it is an
	// equality scan against the unordered prefix.
	var ix int
	if m.lazy {
		if hit := m.scan(lf.keys[:n], key); hit < n {
			lf.vals[hit] = value
			return canopy.Replaced, nil
		}
	} else {
		ix = m.lowerLeaf(lf.keys[:n], key)
		if ix < n && m.eq(lf.keys[ix], key) {
			lf.vals[ix] = value
			return canopy.Replaced, nil
		}
	}

	if n < m.leafFanout {
		if m.lazy {
			lf.keys[n] = key
			lf.vals[n] = value
			lf.count++
			lf.sorted = false
		} else {
			lf.insert(ix, key, value)
		}
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

	if m.lazy && !lf.sorted {
		lf.sort(m.less)
	}
	if m.lazy {
		ix = m.lowerLeaf(lf.keys[:n], key)
	}

	newNode()
	right := new(leaf[K, V])
	sep := m.splitLeaf(lf, right, ix, key, value)
	child := unsafe.Pointer(right)

	for level := m.depth - 1; level >= 0; level-- {
		b, bix := stack[level].node, stack[level].ix
		if int(b.count) < m.branchFanout {
			b.insert(bix, sep, child)
			m.ar.Release(reserve - used)
			m.count++
			return canopy.Inserted, nil
		}
		newNode()
		rb := new(branch[K])
		sep = m.splitBranch(b, rb, bix, sep, child)
		child = unsafe.Pointer(rb)
	}

	// The split chain ran past the root.
	newNode()
	nr := new(branch[K])
	nr.count = 1
	nr.keys[0] = sep
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
		b := (*branch[K])(p)
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

// Package search provides the lower-bound primitives shared by the btree and
// bptree packages. Each strategy operates on a packed slice of keys (the live
// prefix of a node's inline array) and returns the first index whose key is
// not less than the search key. The strategies differ only in how they spend
// the comparisons: plain scans, branch-free scans driven by two-element index
// tables, branch-free bisection, or a hybrid that bisects down to a cutoff and
// finishes linearly.
package search

import (
	"errors"
	"fmt"

	"github.com/cbehopkins/canopy"
)

var (
	ErrUnknownStrategy = errors.New("unknown search strategy")
	ErrLazyLowerBound  = errors.New("linear-lazy does not compute a lower bound")
	ErrBadCutoff       = errors.New("dynamic cutoff must be at least 1")
)

// Strategy selects how a node's key array is searched.
type Strategy uint8

const (
	// Linear scans from index zero. Predictable for small nodes.
	Linear Strategy = iota
	// LinearBranchless scans from the high end, folding the comparison into
	// a two-element index table instead of a conditional branch.
	LinearBranchless
	// BinaryBranchless bisects with a two-element index table per step and a
	// final boolean correction.
	BinaryBranchless
	// Dynamic bisects while the remaining interval is longer than the cutoff,
	// then scans linearly.
	Dynamic
	// LinearLazy is an equality scan for unordered leaves. It is only valid
	// as a leaf strategy and does not compute a lower bound.
	LinearLazy
)

// DefaultDynamicCutoff is the interval length at or below which Dynamic
// switches from bisection to a linear scan.
const DefaultDynamicCutoff = 8

// String returns the flag-style name of the strategy.
func (s Strategy) String() string {
	switch s {
	case Linear:
		return "linear"
	case LinearBranchless:
		return "linear-branchless"
	case BinaryBranchless:
		return "binary-branchless"
	case Dynamic:
		return "dynamic"
	case LinearLazy:
		return "linear-lazy"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

// Parse converts a flag-style name into a Strategy.
func Parse(name string) (Strategy, error) {
	switch name {
	case "linear":
		return Linear, nil
	case "linear-branchless":
		return LinearBranchless, nil
	case "binary-branchless":
		return BinaryBranchless, nil
	case "dynamic":
		return Dynamic, nil
	case "linear-lazy":
		return LinearLazy, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Lower returns a lower-bound function specialised for the strategy. The
// returned function reports the first index i in keys such that
// !less(keys[i], key), or len(keys) when every key is smaller. LinearLazy is
// rejected: it has no lower-bound semantics.
func Lower[K any](strat Strategy, cutoff int, less canopy.Less[K]) (func(keys []K, key K) int, error) {
	switch strat {
	case Linear:
		return lowerLinear(less), nil
	case LinearBranchless:
		return lowerLinearBranchless(less), nil
	case BinaryBranchless:
		return lowerBinaryBranchless(less), nil
	case Dynamic:
		if cutoff < 1 {
			return nil, ErrBadCutoff
		}
		return lowerDynamic(cutoff, less), nil
	case LinearLazy:
		return nil, ErrLazyLowerBound
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, uint8(strat))
	}
}

// Scan returns an equality scan for unordered leaves: the index of the first
// key equal to the search key, or len(keys) when none is present.
func Scan[K any](eq canopy.Equal[K]) func(keys []K, key K) int {
	return func(keys []K, key K) int {
		for i := range keys {
			if eq(keys[i], key) {
				return i
			}
		}
		return len(keys)
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func lowerLinear[K any](less canopy.Less[K]) func([]K, K) int {
	return func(keys []K, key K) int {
		for i := range keys {
			if !less(keys[i], key) {
				return i
			}
		}
		return len(keys)
	}
}

func lowerLinearBranchless[K any](less canopy.Less[K]) func([]K, K) int {
	return func(keys []K, key K) int {
		ix := len(keys)
		for i := len(keys) - 1; i >= 0; i-- {
			cand := [2]int{ix, i}
			ix = cand[b2i(!less(keys[i], key))]
		}
		return ix
	}
}

func lowerBinaryBranchless[K any](less canopy.Less[K]) func([]K, K) int {
	return func(keys []K, key K) int {
		base, n := 0, len(keys)
		for n > 1 {
			half := n >> 1
			step := [2]int{0, half}
			base += step[b2i(less(keys[base+half-1], key))]
			n -= half
		}
		// Final correction for the single remaining candidate.
		if base < len(keys) && less(keys[base], key) {
			base++
		}
		return base
	}
}

func lowerDynamic[K any](cutoff int, less canopy.Less[K]) func([]K, K) int {
	return func(keys []K, key K) int {
		base, n := 0, len(keys)
		for n > cutoff {
			half := n >> 1
			step := [2]int{0, half}
			base += step[b2i(less(keys[base+half-1], key))]
			n -= half
		}
		for i := base; i < base+n; i++ {
			if !less(keys[i], key) {
				return i
			}
		}
		return base + n
	}
}

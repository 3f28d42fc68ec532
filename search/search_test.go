package search

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/cbehopkins/canopy"
)

func uintLess(a, b uint64) bool { return a < b }

// naiveLower is the reference lower bound the strategies must agree with.
func naiveLower(keys []uint64, key uint64) int {
	for i, k := range keys {
		if k >= key {
			return i
		}
	}
	return len(keys)
}

// TestLowerBoundAgreement verifies that every lower-bound strategy agrees with
// the naive reference on random sorted slices of every length up to a full
// node, probing present keys, absent keys, and the extremes.
func TestLowerBoundAgreement(t *testing.T) {
	strategies := []Strategy{Linear, LinearBranchless, BinaryBranchless, Dynamic}

	rng := rand.New(rand.NewSource(42))
	for _, strat := range strategies {
		lower, err := Lower[uint64](strat, DefaultDynamicCutoff, uintLess)
		if err != nil {
			t.Fatalf("Lower(%v): %v", strat, err)
		}

		for n := 0; n <= 32; n++ {
			keys := make([]uint64, n)
			seen := make(map[uint64]bool)
			for i := range keys {
				k := uint64(rng.Intn(1000))*2 + 2 // even, so odd probes miss
				for seen[k] {
					k = uint64(rng.Intn(1000))*2 + 2
				}
				seen[k] = true
				keys[i] = k
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

			probes := []uint64{0, 1}
			for _, k := range keys {
				probes = append(probes, k, k-1, k+1)
			}
			probes = append(probes, 5000)

			for _, probe := range probes {
				want := naiveLower(keys, probe)
				got := lower(keys, probe)
				if got != want {
					t.Errorf("%v: lower(%v, %d) = %d, want %d", strat, keys, probe, got, want)
				}
			}
		}
	}
}

// TestDynamicCutoffOne verifies the hybrid strategy degenerates correctly at
// the smallest legal cutoff, where it is almost pure bisection.
func TestDynamicCutoffOne(t *testing.T) {
	lower, err := Lower[uint64](Dynamic, 1, uintLess)
	if err != nil {
		t.Fatalf("Lower(Dynamic, 1): %v", err)
	}
	keys := []uint64{2, 4, 6, 8, 10, 12, 14}
	for probe := uint64(0); probe <= 16; probe++ {
		want := naiveLower(keys, probe)
		if got := lower(keys, probe); got != want {
			t.Errorf("lower(%d) = %d, want %d", probe, got, want)
		}
	}
}

// TestScanFindsFirstEqual verifies the lazy equality scan returns the first
// matching index on an unordered slice, and the length when absent.
func TestScanFindsFirstEqual(t *testing.T) {
	eq := canopy.EqualFromLess[uint64](uintLess)
	scan := Scan(eq)

	keys := []uint64{9, 3, 7, 3, 1}
	if got := scan(keys, 3); got != 1 {
		t.Errorf("scan for 3 = %d, want 1", got)
	}
	if got := scan(keys, 1); got != 4 {
		t.Errorf("scan for 1 = %d, want 4", got)
	}
	if got := scan(keys, 5); got != len(keys) {
		t.Errorf("scan for 5 = %d, want %d", got, len(keys))
	}
	if got := scan(nil, 5); got != 0 {
		t.Errorf("scan on empty = %d, want 0", got)
	}
}

// TestLowerRejectsLazy verifies that LinearLazy cannot be used where a lower
// bound is required.
func TestLowerRejectsLazy(t *testing.T) {
	if _, err := Lower[uint64](LinearLazy, DefaultDynamicCutoff, uintLess); err == nil {
		t.Error("expected error for LinearLazy lower bound, got nil")
	}
}

// TestParseRoundTrip verifies the flag-name round trip for every strategy.
func TestParseRoundTrip(t *testing.T) {
	for _, strat := range []Strategy{Linear, LinearBranchless, BinaryBranchless, Dynamic, LinearLazy} {
		parsed, err := Parse(strat.String())
		if err != nil {
			t.Errorf("Parse(%q): %v", strat.String(), err)
		}
		if parsed != strat {
			t.Errorf("Parse(%q) = %v, want %v", strat.String(), parsed, strat)
		}
	}
	if _, err := Parse("bogus"); err == nil {
		t.Error("expected error for unknown strategy name")
	}
}

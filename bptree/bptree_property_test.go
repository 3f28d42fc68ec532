package bptree

import (
	"math"
	"math/rand"
	"testing"

	tidwall "github.com/tidwall/btree"

	"github.com/cbehopkins/canopy"
	"github.com/cbehopkins/canopy/search"
)

// xorshift64 is the harness's reproducible key generator, duplicated here so
// the property tests stay self-contained.
type xorshift64 struct{ a uint64 }

func newXorshift64() *xorshift64 { return &xorshift64{a: 123456789} }

func (x *xorshift64) next() uint64 {
	v := x.a
	v ^= v << 13
	v ^= v >> 7
	v ^= v << 17
	x.a = v
	return v
}

// TestRandomWorkloadRoundTrip drives 2^14 xorshift-generated puts under every
// leaf strategy against a Go map and a tidwall btree in lock-step, asserts
// every recorded value reads back, then re-puts every original pair and
// asserts each reports Replaced with the count unchanged.
func TestRandomWorkloadRoundTrip(t *testing.T) {
	const n = 1 << 14

	leafStrats := []search.Strategy{
		search.Linear, search.LinearBranchless, search.BinaryBranchless, search.Dynamic, search.LinearLazy,
	}
	for _, strat := range leafStrats {
		m := newTestMap(t, 8, 8, strat)

		rng := newXorshift64()
		oracle := make(map[uint64]uint64, n)
		tw := tidwall.NewMap[uint64, uint64](4)

		type pair struct{ k, v uint64 }
		var pairs []pair
		for i := 0; i < n; i++ {
			k := rng.next()
			v := rng.next()
			pairs = append(pairs, pair{k, v})
			if _, err := m.Put(k, v); err != nil {
				t.Fatalf("%v: Put(%d, %d): %v", strat, k, v, err)
			}
			oracle[k] = v
			tw.Set(k, v)
		}

		if m.Len() != len(oracle) {
			t.Errorf("%v: Len() = %d, oracle has %d keys", strat, m.Len(), len(oracle))
		}
		if m.Len() != tw.Len() {
			t.Errorf("%v: Len() = %d, tidwall reports %d", strat, m.Len(), tw.Len())
		}
		for k, want := range oracle {
			got, ok := m.Get(k)
			if !ok || got != want {
				t.Fatalf("%v: Get(%d) = %d, %v, want %d, true", strat, k, got, ok, want)
			}
		}
		if err := m.Validate(); err != nil {
			t.Errorf("%v: Validate after workload: %v", strat, err)
		}

		before := m.Len()
		for _, p := range pairs {
			out, err := m.Put(p.k, p.v)
			if err != nil {
				t.Fatalf("%v: re-Put(%d): %v", strat, p.k, err)
			}
			if out != canopy.Replaced {
				t.Fatalf("%v: re-Put(%d) = %v, want replaced", strat, p.k, out)
			}
		}
		if m.Len() != before {
			t.Errorf("%v: Len() moved from %d to %d across re-puts", strat, before, m.Len())
		}

		m.Close()
	}
}

// TestLazyStrictEquivalence feeds the identical key/value sequence to a
// strict map and a lazy map and verifies they answer Get identically for hit
// and miss probes and report the same count.
func TestLazyStrictEquivalence(t *testing.T) {
	strict := newTestMap(t, 4, 6, search.Linear)
	defer strict.Close()
	lazy := newTestMap(t, 4, 6, search.LinearLazy)
	defer lazy.Close()

	rng := rand.New(rand.NewSource(321))
	for i := 0; i < 4000; i++ {
		k := uint64(rng.Intn(2500)) // plenty of overwrites
		v := rng.Uint64()
		sOut, err := strict.Put(k, v)
		if err != nil {
			t.Fatalf("strict Put(%d): %v", k, err)
		}
		lOut, err := lazy.Put(k, v)
		if err != nil {
			t.Fatalf("lazy Put(%d): %v", k, err)
		}
		if sOut != lOut {
			t.Fatalf("outcome diverged on Put(%d): strict %v, lazy %v", k, sOut, lOut)
		}
	}

	if strict.Len() != lazy.Len() {
		t.Errorf("counts diverged: strict %d, lazy %d", strict.Len(), lazy.Len())
	}
	for probe := uint64(0); probe < 3000; probe++ {
		sv, sok := strict.Get(probe)
		lv, lok := lazy.Get(probe)
		if sok != lok || sv != lv {
			t.Errorf("Get(%d) diverged: strict %d,%v lazy %d,%v", probe, sv, sok, lv, lok)
		}
	}
	if err := strict.Validate(); err != nil {
		t.Errorf("strict Validate: %v", err)
	}
	if err := lazy.Validate(); err != nil {
		t.Errorf("lazy Validate: %v", err)
	}
}

// TestOrderingIndependence inserts the same pair set under several
// permutations and verifies all maps answer Get identically.
func TestOrderingIndependence(t *testing.T) {
	const n = 300
	rng := rand.New(rand.NewSource(7))

	base := make([]uint64, n)
	for i := range base {
		base[i] = uint64(rng.Intn(10 * n))
	}
	reference := make(map[uint64]uint64)
	for _, k := range base {
		reference[k] = k * 3
	}

	for trial := 0; trial < 5; trial++ {
		perm := rng.Perm(n)
		m := newTestMap(t, 5, 3, search.Dynamic)

		for _, i := range perm {
			mustPut(t, m, base[i], base[i]*3)
		}
		if m.Len() != len(reference) {
			t.Errorf("trial %d: Len() = %d, want %d", trial, m.Len(), len(reference))
		}
		for k, want := range reference {
			if got, ok := m.Get(k); !ok || got != want {
				t.Errorf("trial %d: Get(%d) = %d, %v, want %d, true", trial, k, got, ok, want)
			}
		}
		if err := m.Validate(); err != nil {
			t.Errorf("trial %d: Validate: %v", trial, err)
		}
		m.Close()
	}
}

// TestBoundedDepth inserts random keys at several fan-out pairs and checks
// the depth never exceeds the logarithmic bound implied by the minimum
// branch fill.
func TestBoundedDepth(t *testing.T) {
	rng := rand.New(rand.NewSource(99))

	for _, fanouts := range [][2]int{{2, 2}, {3, 5}, {4, 4}, {8, 16}, {16, 8}} {
		m := newTestMap(t, fanouts[0], fanouts[1], search.BinaryBranchless)

		const n = 5000
		for i := 0; i < n; i++ {
			mustPut(t, m, rng.Uint64(), uint64(i))
		}

		base := float64(fanouts[0]/2 + 1)
		bound := int(math.Ceil(math.Log(float64(m.Len()+1))/math.Log(base))) + 1
		if m.Depth() > bound {
			t.Errorf("fanouts %v: depth %d exceeds bound %d for %d keys", fanouts, m.Depth(), bound, m.Len())
		}
		if err := m.Validate(); err != nil {
			t.Errorf("fanouts %v: Validate: %v", fanouts, err)
		}
		m.Close()
	}
}

// TestEveryFanoutSmall exercises every legal fan-out for both node kinds
// under both leaf policies, validating after a mixed workload.
func TestEveryFanoutSmall(t *testing.T) {
	for _, strat := range []search.Strategy{search.Linear, search.LinearLazy} {
		for fanout := 2; fanout <= MaxFanout; fanout++ {
			m := newTestMap(t, fanout, fanout, strat)
			rng := rand.New(rand.NewSource(int64(fanout)))

			oracle := make(map[uint64]uint64)
			for i := 0; i < 400; i++ {
				k := uint64(rng.Intn(200))
				v := rng.Uint64()
				mustPut(t, m, k, v)
				oracle[k] = v
			}
			if m.Len() != len(oracle) {
				t.Errorf("%v fanout %d: Len() = %d, want %d", strat, fanout, m.Len(), len(oracle))
			}
			for k, want := range oracle {
				if got, ok := m.Get(k); !ok || got != want {
					t.Errorf("%v fanout %d: Get(%d) = %d, %v, want %d, true", strat, fanout, k, got, ok, want)
				}
			}
			if err := m.Validate(); err != nil {
				t.Errorf("%v fanout %d: Validate: %v", strat, fanout, err)
			}
			m.Close()
		}
	}
}

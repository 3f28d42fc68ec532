// Package bench is the measurement harness for the tree containers: it
// drives any map implementation through a fixed workload schedule — keyed by
// a reproducible xorshift stream — and aggregates per-operation latencies
// into size-binned metrics. The trees are compared against the built-in Go
// map and a general-purpose B-tree as baselines.
package bench

import (
	"errors"
	"fmt"
	"io"
	"time"

	tidwall "github.com/tidwall/btree"
)

var (
	ErrMapNotEmpty   = errors.New("bench: map under test is not empty")
	ErrMissingKey    = errors.New("bench: inserted key did not read back")
	ErrUnexpectedKey = errors.New("bench: missing-key probe found a value")
)

// MapUnderTest is the contract the harness drives. Free releases the map's
// storage; the map must not be used afterwards.
type MapUnderTest interface {
	Put(key, value uint64) error
	Get(key uint64) (uint64, bool)
	Len() int
	Free()
}

// FuncMap adapts any map implementation into a MapUnderTest from four
// closures. Free may be nil.
type FuncMap struct {
	PutFunc  func(key, value uint64) error
	GetFunc  func(key uint64) (uint64, bool)
	LenFunc  func() int
	FreeFunc func()
}

func (f *FuncMap) Put(key, value uint64) error { return f.PutFunc(key, value) }

func (f *FuncMap) Get(key uint64) (uint64, bool) { return f.GetFunc(key) }

func (f *FuncMap) Len() int { return f.LenFunc() }

func (f *FuncMap) Free() {
	if f.FreeFunc != nil {
		f.FreeFunc()
	}
}

// GoMap is the built-in hash map baseline.
type GoMap struct {
	m map[uint64]uint64
}

// NewGoMap returns an empty hash map baseline.
func NewGoMap() *GoMap {
	return &GoMap{m: make(map[uint64]uint64)}
}

func (g *GoMap) Put(key, value uint64) error {
	g.m[key] = value
	return nil
}

func (g *GoMap) Get(key uint64) (uint64, bool) {
	v, ok := g.m[key]
	return v, ok
}

func (g *GoMap) Len() int { return len(g.m) }

func (g *GoMap) Free() { g.m = nil }

// TidwallMap is the general-purpose ordered-map baseline.
type TidwallMap struct {
	m *tidwall.Map[uint64, uint64]
}

// NewTidwallMap returns an empty tidwall btree baseline of the given degree.
func NewTidwallMap(degree int) *TidwallMap {
	return &TidwallMap{m: tidwall.NewMap[uint64, uint64](degree)}
}

func (tm *TidwallMap) Put(key, value uint64) error {
	tm.m.Set(key, value)
	return nil
}

func (tm *TidwallMap) Get(key uint64) (uint64, bool) {
	return tm.m.Get(key)
}

func (tm *TidwallMap) Len() int { return tm.m.Len() }

func (tm *TidwallMap) Free() { tm.m = nil }

// Run drives one freshly created, empty map through the workload phases for
// 2^logCount keys: first-time inserts, repeat inserts, a batched
// lookup-everything pass, per-operation hit lookups, and per-operation miss
// lookups. Samples land in mt binned by the map's size at measurement time.
// Freeing the map is the caller's phase; Run leaves the map populated.
func Run(m MapUnderTest, rng *XorShift64, logCount int, mt *Metrics) error {
	if m.Len() != 0 {
		return ErrMapNotEmpty
	}

	count := 1 << logCount

	keys := make([]uint64, count)
	for i := range keys {
		keys[i] = rng.Next()
	}
	keysMissing := make([]uint64, count)
	for i := range keysMissing {
		keysMissing[i] = rng.Next()
	}
	// Value streams are keys rotated by one, as good as any.
	values := make([]uint64, count)
	for i := range values {
		values[i] = keys[(i+1)%count]
	}

	for i, k := range keys {
		before := time.Now()
		if err := m.Put(k, values[i]); err != nil {
			return err
		}
		mt.InsertMiss.Observe(m.Len(), uint64(time.Since(before)))
	}

	for i, k := range keys {
		before := time.Now()
		if err := m.Put(k, values[i]); err != nil {
			return err
		}
		mt.InsertHit.Observe(m.Len(), uint64(time.Since(before)))
	}

	{
		before := time.Now()
		for _, k := range keys {
			if _, ok := m.Get(k); !ok {
				return fmt.Errorf("%w: %d", ErrMissingKey, k)
			}
		}
		elapsed := uint64(time.Since(before))
		mt.LookupHitAll.Observe(m.Len(), elapsed/uint64(count))
	}

	for _, k := range keys {
		before := time.Now()
		_, ok := m.Get(k)
		d := uint64(time.Since(before))
		if !ok {
			return fmt.Errorf("%w: %d", ErrMissingKey, k)
		}
		mt.LookupHitOne.Observe(m.Len(), d)
	}

	for _, k := range keysMissing {
		before := time.Now()
		_, ok := m.Get(k)
		d := uint64(time.Since(before))
		if ok {
			return fmt.Errorf("%w: %d", ErrUnexpectedKey, k)
		}
		mt.LookupMiss.Observe(m.Len(), d)
	}

	return nil
}

// RunAll runs the full schedule against maps produced by newMap: for every
// size 2^k below logCount, enough repetitions that each size contributes a
// comparable amount of work, with the Free phase timed per map.
func RunAll(newMap func() (MapUnderTest, error), rng *XorShift64, logCount int) (*Metrics, error) {
	mt := NewMetrics(logCount)
	for one := 0; one < logCount; one++ {
		reps := 1 << (logCount - one)
		for r := 0; r < reps; r++ {
			m, err := newMap()
			if err != nil {
				return nil, err
			}
			if err := Run(m, rng, one, mt); err != nil {
				return nil, err
			}
			l := m.Len()
			before := time.Now()
			m.Free()
			mt.Free.Observe(l, uint64(time.Since(before)))
		}
	}
	return mt, nil
}

// groups returns the workloads in report order.
func (mt *Metrics) groups() []struct {
	name string
	bins *Bins
} {
	return []struct {
		name string
		bins *Bins
	}{
		{"insert_miss", mt.InsertMiss},
		{"insert_hit", mt.InsertHit},
		{"lookup_hit_all", mt.LookupHitAll},
		{"lookup_miss", mt.LookupMiss},
		{"lookup_hit_one", mt.LookupHitOne},
		{"free", mt.Free},
	}
}

// Report writes min/avg/max rows per workload, one column per size bin.
func Report(w io.Writer, mt *Metrics) error {
	for _, g := range mt.groups() {
		if _, err := fmt.Fprintln(w, g.name); err != nil {
			return err
		}
		bins := g.bins.Snapshot()
		rows := []struct {
			label string
			get   func(*Bin) uint64
		}{
			{"min", func(b *Bin) uint64 { return b.Min }},
			{"avg", func(b *Bin) uint64 { return b.Mean() }},
			{"max", func(b *Bin) uint64 { return b.Max }},
		}
		for _, row := range rows {
			if _, err := fmt.Fprintf(w, "%s =", row.label); err != nil {
				return err
			}
			for i := range bins {
				if _, err := fmt.Fprintf(w, " %8d", row.get(&bins[i])); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
	}
	return nil
}

// Summary writes whole-run percentile lines per workload from the histogram
// samples.
func Summary(w io.Writer, mt *Metrics) error {
	for _, g := range mt.groups() {
		h := g.bins.Histogram()
		ps := h.Percentiles([]float64{0.5, 0.95, 0.99})
		_, err := fmt.Fprintf(w, "%-15s p50 %8.0f  p95 %8.0f  p99 %8.0f  mean %8.0f\n",
			g.name, ps[0], ps[1], ps[2], h.Mean())
		if err != nil {
			return err
		}
	}
	return nil
}

package bench

import (
	"math"
	"math/bits"

	"github.com/rcrowley/go-metrics"
)

// Bin aggregates one group of latency samples.
type Bin struct {
	Min   uint64
	Max   uint64
	Sum   uint64
	Count uint64
}

func newBin() Bin {
	return Bin{Min: math.MaxUint64}
}

// Add folds one measurement into the bin.
func (b *Bin) Add(measurement uint64) {
	if measurement < b.Min {
		b.Min = measurement
	}
	if measurement > b.Max {
		b.Max = measurement
	}
	b.Sum += measurement
	b.Count++
}

// Mean returns the ceiling of the average sample, or zero for an empty bin.
func (b *Bin) Mean() uint64 {
	if b.Count == 0 {
		return 0
	}
	return (b.Sum + b.Count - 1) / b.Count
}

// Bins groups samples by the magnitude of the map at measurement time: a
// sample taken against a map holding n pairs lands in bin ceil(log2(n)).
// A histogram accumulates the same samples unbinned for whole-run
// percentiles.
type Bins struct {
	bins []Bin
	hist metrics.Histogram
}

// NewBins returns logCount empty bins, covering map sizes up to
// 2^(logCount-1).
func NewBins(logCount int) *Bins {
	bs := &Bins{
		bins: make([]Bin, logCount),
		hist: metrics.NewHistogram(metrics.NewUniformSample(4096)),
	}
	for i := range bs.bins {
		bs.bins[i] = newBin()
	}
	return bs
}

// ceilLog2 returns ceil(log2(n)) with n >= 1.
func ceilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// Observe records one sample against the bin for mapCount.
func (bs *Bins) Observe(mapCount int, measurement uint64) {
	ix := ceilLog2(mapCount)
	if ix >= len(bs.bins) {
		ix = len(bs.bins) - 1
	}
	bs.bins[ix].Add(measurement)
	bs.hist.Update(int64(measurement))
}

// Snapshot returns the per-size bins.
func (bs *Bins) Snapshot() []Bin {
	out := make([]Bin, len(bs.bins))
	copy(out, bs.bins)
	return out
}

// Histogram returns a snapshot of the whole-run sample distribution.
func (bs *Bins) Histogram() metrics.Histogram {
	return bs.hist.Snapshot()
}

// Metrics holds one Bins per workload, mirroring the phases Run drives.
type Metrics struct {
	InsertMiss   *Bins
	InsertHit    *Bins
	LookupHitAll *Bins
	LookupHitOne *Bins
	LookupMiss   *Bins
	Free         *Bins
}

// NewMetrics returns empty metrics sized for map counts up to
// 2^(logCount-1).
func NewMetrics(logCount int) *Metrics {
	return &Metrics{
		InsertMiss:   NewBins(logCount),
		InsertHit:    NewBins(logCount),
		LookupHitAll: NewBins(logCount),
		LookupHitOne: NewBins(logCount),
		LookupMiss:   NewBins(logCount),
		Free:         NewBins(logCount),
	}
}

package sim

import (
	"math"
	"math/rand"
)

// PortTimer stands in for the two hardware port timers. It accumulates the
// number of oscillator and reference edges and hands out the free-running
// 16-bit counts a real port would return.
type PortTimer struct {
	MclkCount float64 // oscillator edges counted so far
	RefCount  float64 // reference-port edges counted so far

	// JitterCounts is the standard deviation, in oscillator edges, of the
	// sampling instant. Zero disables jitter.
	JitterCounts float64
	rng          *rand.Rand
}

// NewPortTimer returns a timer with the given sampling jitter. The random
// source belongs to the caller so runs are reproducible; rng may be nil when
// jitter is zero.
func NewPortTimer(jitterCounts float64, rng *rand.Rand) *PortTimer {
	return &PortTimer{JitterCounts: jitterCounts, rng: rng}
}

// Advance moves time forward by one call interval, during which mclkEdges
// oscillator edges and refEdges reference-port edges occur, and returns the
// sampled port timer values.
func (pt *PortTimer) Advance(mclkEdges, refEdges float64) (mclkPt, refPt uint16) {
	pt.MclkCount += mclkEdges
	pt.RefCount += refEdges

	sample := pt.MclkCount
	if pt.JitterCounts > 0 && pt.rng != nil {
		sample += pt.rng.NormFloat64() * pt.JitterCounts
	}
	return wrap16(sample), wrap16(pt.RefCount)
}

func wrap16(count float64) uint16 {
	return uint16(int64(math.Floor(count)) & 0xffff)
}

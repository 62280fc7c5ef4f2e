package swpll

import (
	"errors"
	"fmt"
	"math"
)

// Errors returned while validating a loop configuration.
var (
	ErrNumericOverflow = errors.New("loop configuration overflows 64-bit arithmetic")
	ErrBadDecimation   = errors.New("loop rate count must be positive")
	ErrBadRatio        = errors.New("pll ratio must be positive")
	ErrBadPPMRange     = errors.New("ppm range must not be negative")
)

// PfdState is the port-timer phase/frequency detector. It turns two wrapping
// 16-bit port timer samples per control tick into a signed frequency error.
type PfdState struct {
	MclkPtLast        uint16 // oscillator port timer at the previous control tick
	RefClkPtLast      uint16 // reference port timer at the previous control tick
	RefClkExpectedInc uint32 // expected reference increment per control tick; 0 disables compensation
	MclkExpectedPtInc uint32 // expected oscillator increment per control tick
	MclkMaxDiff       uint16 // largest |MclkDiff| accepted before a resync
	MclkDiff          int16  // most recent error sample
}

// NewPfdState creates a detector for a loop that runs its control every
// loopRateCount calls, where the oscillator runs pllRatio times faster than the
// reference. refClkExpectedInc is the expected reference count per call (0 if
// the oscillator sample is taken at a precise reference edge). A difference of
// more than twice ppmRange triggers a resync.
func NewPfdState(loopRateCount, pllRatio, refClkExpectedInc, ppmRange int) (*PfdState, error) {
	if loopRateCount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrBadDecimation, loopRateCount)
	}
	if pllRatio <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrBadRatio, pllRatio)
	}
	if ppmRange < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrBadPPMRange, ppmRange)
	}
	if refClkExpectedInc < 0 {
		return nil, fmt.Errorf("reference increment must not be negative: got %d", refClkExpectedInc)
	}

	p := new(PfdState)
	refInc := uint64(refClkExpectedInc) * uint64(loopRateCount)
	mclkInc := uint64(loopRateCount) * uint64(pllRatio)
	if refInc > math.MaxUint32 || mclkInc > math.MaxUint32 {
		return nil, fmt.Errorf("%w: loop rate count %d, pll ratio %d, ref inc %d",
			ErrNumericOverflow, loopRateCount, pllRatio, refClkExpectedInc)
	}
	p.RefClkExpectedInc = uint32(refInc)
	p.MclkExpectedPtInc = uint32(mclkInc)

	// The compensated increment is mclkInc*(refInc+refDiff) before the divide,
	// formed in int64. Leave 10% headroom.
	const calcMax = float64(math.MaxInt64) / 1.1
	worst := float64(mclkInc) * (float64(refInc) + math.MaxInt16)
	if refInc != 0 && worst >= calcMax {
		return nil, fmt.Errorf("%w: reduce loop rate count (%d) or pll ratio (%d)",
			ErrNumericOverflow, loopRateCount, pllRatio)
	}

	maxDiff := uint64(ppmRange) * 2 * uint64(pllRatio) * uint64(loopRateCount) / 1000000
	if maxDiff > math.MaxUint16 {
		maxDiff = math.MaxUint16
	}
	p.MclkMaxDiff = uint16(maxDiff)
	return p, nil
}

// Seed loads the baseline samples used by the next CalcError.
func (p *PfdState) Seed(mclkPt, refClkPt uint16) {
	p.MclkPtLast = mclkPt
	p.RefClkPtLast = refClkPt
	p.MclkDiff = 0
}

// CalcError computes the oscillator error since the last tick and stores the
// samples for the next one. resync reports a difference too large to be a real
// frequency error (for example a reference clock stop/start); the caller must
// discard it.
func (p *PfdState) CalcError(mclkPt, refClkPt uint16) (diff int16, resync bool) {
	expectedInc := p.MclkExpectedPtInc
	if p.RefClkExpectedInc != 0 {
		// Scale the expected oscillator count by the measured reference interval.
		refExpected := p.RefClkPtLast + uint16(p.RefClkExpectedInc)
		refDiff := PortTimeDiff(refClkPt, refExpected)
		p.RefClkPtLast = refClkPt

		refActual := int64(p.RefClkExpectedInc) + int64(refDiff)
		expectedInc = uint32(int64(p.MclkExpectedPtInc) * refActual / int64(p.RefClkExpectedInc))
	}

	mclkExpected := p.MclkPtLast + uint16(expectedInc)
	p.MclkDiff = PortTimeDiff(mclkPt, mclkExpected)
	p.MclkPtLast = mclkPt

	return p.MclkDiff, abs16(p.MclkDiff) > int32(p.MclkMaxDiff)
}

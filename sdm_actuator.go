package swpll

import "fmt"

// Absolute limits of the sigma-delta modulator input (20-bit range).
const (
	SDMUpperLimit int32 = 980000
	SDMLowerLimit int32 = 60000
)

// SdmActuatorState maps corrections onto an absolute DCO control value, which is
// later modulated by a SigmaDelta running in its own task.
type SdmActuatorState struct {
	CtrlMidPoint int32
	Lower        int32
	Upper        int32
	DcoCtl       int32 // control value from the last tick
}

// NewSdmActuator returns an actuator centred on mid and clamped to [lower, upper].
func NewSdmActuator(mid, lower, upper int32) (*SdmActuatorState, error) {
	if lower >= upper {
		return nil, fmt.Errorf("SDM range [%d, %d] is empty", lower, upper)
	}
	if mid < lower || mid > upper {
		return nil, fmt.Errorf("SDM mid point %d outside range [%d, %d]", mid, lower, upper)
	}
	return &SdmActuatorState{CtrlMidPoint: mid, Lower: lower, Upper: upper, DcoCtl: mid}, nil
}

// Range returns the width of the control range.
func (a *SdmActuatorState) Range() int64 {
	return int64(a.Upper) - int64(a.Lower)
}

// PostControl low-pass filters the correction (A = 1/8), adds it to the mid
// point and clamps the result, updating lock.
func (a *SdmActuatorState) PostControl(correction int32, pi *PiState, lock *LockState) int32 {
	pi.IIRY += int32((int64(correction) - int64(pi.IIRY)) >> 3)

	dcoCtl := int64(a.CtrlMidPoint) + int64(pi.IIRY)
	switch {
	case dcoCtl > int64(a.Upper):
		dcoCtl = int64(a.Upper)
		lock.Saturated(UnlockedHigh)
	case dcoCtl < int64(a.Lower):
		dcoCtl = int64(a.Lower)
		lock.Saturated(UnlockedLow)
	default:
		lock.InRange()
	}
	a.DcoCtl = int32(dcoCtl)
	return a.DcoCtl
}

// SigmaDelta is a third order, 9 level output sigma-delta modulator taking a
// 20 bit unsigned input.
type SigmaDelta struct {
	X1, X2, X3 int32
}

// Step advances the modulator by one sample and returns its output in [0, 8].
func (sd *SigmaDelta) Step(in int32) int32 {
	out := ((sd.X3 << 4) + (sd.X3 << 1)) >> 13
	if out > 8 {
		out = 8
	}
	if out < 0 {
		out = 0
	}
	sd.X3 += (sd.X2 >> 5) - (out << 9) - (out << 8)
	sd.X2 += (sd.X1 >> 5) - (out << 14)
	sd.X1 += in - (out << 17)
	return out
}

// Reset zeroes the integrators.
func (sd *SigmaDelta) Reset() {
	*sd = SigmaDelta{}
}

// FracRegFromSDM encodes a modulator output as a fractional-n register value.
// Bits 15..8 hold f and bits 7..0 hold p, giving a fraction of (f+1)/(p+1).
// Output 0 disables the fractional block (step 0/8); 1..8 select steps 1/8..8/8.
func FracRegFromSDM(out int32) uint32 {
	if out == 0 {
		return 0x00000007
	}
	return uint32(out-1)<<8 | FracEnable | 0x00000007
}

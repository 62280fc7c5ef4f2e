package swpll

import "math"

// PiState holds the gains and accumulators of the PI(II) controller.
type PiState struct {
	Kp  Q1516 // proportional gain
	Ki  Q1516 // integral gain
	Kii Q1516 // double integral gain (0 disables the term)

	IWindupLimit  int32 // |ErrorAccum| never exceeds this
	IIWindupLimit int32 // |ErrorAccumAccum| never exceeds this

	ErrorAccum      int32 // integral of the error
	ErrorAccumAccum int32 // integral of ErrorAccum
	IIRY            int32 // low-pass filter state, used by the SDM actuator
}

// WindupLimit returns the clamp for an integral term with the given gain, such
// that the term alone cannot drive the correction past actuatorRange. A zero
// gain yields a zero limit, which holds the accumulator at zero.
func WindupLimit(actuatorRange int64, gain Q1516) int32 {
	if gain == 0 {
		return 0
	}
	if gain < 0 {
		gain = -gain
	}
	limit := (actuatorRange << NumFracBits) / int64(gain)
	if limit > math.MaxInt32 {
		return math.MaxInt32
	}
	if limit < 0 {
		return 0
	}
	return int32(limit)
}

// NewPiState returns a controller with the given gains and zeroed accumulators.
func NewPiState(kp, ki, kii Q1516, actuatorRange int64) PiState {
	var pi PiState
	pi.Reset(kp, ki, kii, actuatorRange)
	return pi
}

// Reset replaces the gains, recomputes the windup limits and zeroes all
// accumulated state, so no integral history carries over to the new gains.
func (pi *PiState) Reset(kp, ki, kii Q1516, actuatorRange int64) {
	pi.Kp = kp
	pi.Ki = ki
	pi.Kii = kii
	pi.IWindupLimit = WindupLimit(actuatorRange, ki)
	pi.IIWindupLimit = WindupLimit(actuatorRange, kii)
	pi.ClearAccumulators()
}

// ClearAccumulators zeroes the integrators and the filter state.
func (pi *PiState) ClearAccumulators() {
	pi.ErrorAccum = 0
	pi.ErrorAccumAccum = 0
	pi.IIRY = 0
}

func clamp32(v int64, limit int32) int32 {
	if v > int64(limit) {
		return limit
	}
	if v < -int64(limit) {
		return -limit
	}
	return int32(v)
}

// Do integrates err and returns the total correction
// (Kp*err + Ki*I + Kii*II) >> NumFracBits.
func (pi *PiState) Do(err int16) int32 {
	pi.ErrorAccum = clamp32(int64(pi.ErrorAccum)+int64(err), pi.IWindupLimit)
	pi.ErrorAccumAccum = clamp32(int64(pi.ErrorAccumAccum)+int64(pi.ErrorAccum), pi.IIWindupLimit)

	// 64-bit products: accumulators near their limits times large gains overflow 32 bits.
	errorP := int64(pi.Kp) * int64(err)
	errorI := int64(pi.Ki) * int64(pi.ErrorAccum)
	errorII := int64(pi.Kii) * int64(pi.ErrorAccumAccum)

	return int32((errorP + errorI + errorII) >> NumFracBits)
}

package sim

import (
	"github.com/usnistgov/swpll"
	"github.com/usnistgov/swpll/appll"
)

// DCO models the oscillator a controller drives: given the output of one
// control tick it returns the frequency the oscillator runs at until the next.
type DCO interface {
	Apply(output uint32) float64
	Frequency() float64
}

// LUTDCO is an application PLL whose fractional divider is loaded with LUT codes.
type LUTDCO struct {
	Settings appll.Settings
	hz       float64
}

// NewLUTDCO returns a LUT oscillator starting at the given table code.
func NewLUTDCO(s appll.Settings, initialCode uint16) *LUTDCO {
	d := &LUTDCO{Settings: s}
	d.Apply(uint32(initialCode))
	return d
}

// Apply loads a table code into the fractional divider.
func (d *LUTDCO) Apply(code uint32) float64 {
	d.Settings = d.Settings.WithFracReg(swpll.FracRegFromLUT(uint16(code)))
	d.hz = d.Settings.OutputHz()
	return d.hz
}

// Frequency returns the current output frequency.
func (d *LUTDCO) Frequency() float64 {
	return d.hz
}

// SDMDCO is an application PLL whose fractional divider is driven by the
// sigma-delta modulator. The frequency seen over one control tick is the mean
// of StepsPerTick modulator outputs.
type SDMDCO struct {
	Settings     appll.Settings
	StepsPerTick int
	Modulator    swpll.SigmaDelta
	hz           float64
}

// NewSDMDCO returns an SDM oscillator settled at the control value dcoCtl.
func NewSDMDCO(s appll.Settings, stepsPerTick int, dcoCtl int32) *SDMDCO {
	if stepsPerTick < 1 {
		stepsPerTick = 1
	}
	d := &SDMDCO{Settings: s, StepsPerTick: stepsPerTick}
	d.Apply(uint32(dcoCtl))
	return d
}

// Apply runs the modulator for one control tick at the given dco_ctl.
func (d *SDMDCO) Apply(dcoCtl uint32) float64 {
	sum := 0.0
	for i := 0; i < d.StepsPerTick; i++ {
		out := d.Modulator.Step(int32(dcoCtl))
		sum += d.Settings.WithFracReg(swpll.FracRegFromSDM(out)).Fraction()
	}
	d.hz = d.Settings.OutputHzWithFraction(sum / float64(d.StepsPerTick))
	return d.hz
}

// Frequency returns the mean output frequency over the last control tick.
func (d *SDMDCO) Frequency() float64 {
	return d.hz
}

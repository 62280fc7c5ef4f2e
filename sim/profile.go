package sim

import (
	"fmt"

	"github.com/usnistgov/swpll"
	"github.com/usnistgov/swpll/profile"
)

// maxStepsPerTick caps the modulator steps averaged per control tick.
const maxStepsPerTick = 4096

// NewDCO returns the oscillator model for a profile, starting at the setting
// the controller treats as zero error. table is the LUT returned by
// profile.NewController and is ignored for SDM profiles.
func NewDCO(p profile.Profile, table []int16) (DCO, error) {
	kind, err := p.Kind()
	if err != nil {
		return nil, err
	}
	switch kind {
	case swpll.LUTActuator:
		if len(table) == 0 {
			return nil, fmt.Errorf("profile %q: no LUT", p.Name)
		}
		nominal := p.Nominal(table)
		if nominal < 0 || nominal >= len(table) {
			return nil, fmt.Errorf("profile %q: nominal index %d outside a table of %d", p.Name, nominal, len(table))
		}
		return NewLUTDCO(p.Settings(), uint16(table[nominal])), nil
	case swpll.SDMActuator:
		return NewSDMDCO(p.Settings(), StepsPerTick(p), p.CtrlMidPoint), nil
	}
	return nil, fmt.Errorf("profile %q: no oscillator model for %v", p.Name, kind)
}

// StepsPerTick returns how many modulator steps of an SDM profile fall in one
// control tick, capped to keep the model fast.
func StepsPerTick(p profile.Profile) int {
	if p.RefHz <= 0 || p.SDMRateHz <= 0 {
		return 1
	}
	steps := int(p.SDMRateHz * float64(p.LoopRateCount) / p.RefHz)
	if steps < 1 {
		return 1
	}
	if steps > maxStepsPerTick {
		return maxStepsPerTick
	}
	return steps
}

// ConfigFor returns the run configuration matching a profile's reference and
// ratio, with the reference offset by refPPM.
func ConfigFor(p profile.Profile, ticks int, refPPM float64) RunConfig {
	return RunConfig{
		RefHz:             p.RefHz,
		RefPPM:            refPPM,
		PLLRatio:          p.PLLRatio,
		RefClkExpectedInc: p.RefClkExpectedInc,
		Ticks:             ticks,
	}
}

package appll

import "fmt"

// Settings are the application PLL parameters in datasheet terms. Each field
// holds the register value, which is one less than the divide/multiply ratio.
type Settings struct {
	InputHz    float64
	F          int // feedback multiplier, 1..8191
	R          int // reference divider, 0..63
	OD         int // output divider, 0..7
	ACD        int // application clock divider
	Frac       int // fractional numerator f: fraction is (f+1)/(p+1)
	Prescale   int // fractional denominator p
	FracEnable bool
}

// FromRegisters decodes register values into Settings.
func FromRegisters(inputHz float64, ctl, div, frac uint32) Settings {
	s := Settings{
		InputHz: inputHz,
		F:       int((ctl >> 8) & 0x1fff),
		R:       int(ctl & 0x3f),
		OD:      int((ctl >> 23) & 0x7),
		ACD:     int(div & 0xff),
	}
	return s.WithFracReg(frac)
}

// WithFracReg returns s with the fractional register fields replaced.
func (s Settings) WithFracReg(reg uint32) Settings {
	s.Frac = int((reg >> 8) & 0xff)
	s.Prescale = int(reg & 0xff)
	s.FracEnable = reg&fracEnable != 0
	return s
}

// FracReg encodes the fractional fields as a register value.
func (s Settings) FracReg() uint32 {
	reg := uint32(s.Prescale&0xff) | uint32(s.Frac&0xff)<<8
	if s.FracEnable {
		reg |= fracEnable
	}
	return reg
}

// CtlReg encodes F, R and OD as an enabled control register value.
func (s Settings) CtlReg() uint32 {
	return 0x08000000 | uint32(s.OD&0x7)<<23 | uint32(s.F&0x1fff)<<8 | uint32(s.R&0x3f)
}

// VCOHz returns the VCO frequency.
func (s Settings) VCOHz() float64 {
	return s.InputHz * float64(s.F+1) / 2.0 / float64(s.R+1)
}

// Validate checks the settings against the datasheet limits.
func (s Settings) Validate() error {
	if s.F < 1 || s.F > 8191 {
		return fmt.Errorf("invalid F setting %d", s.F)
	}
	if s.R < 0 || s.R > 63 {
		return fmt.Errorf("invalid R setting %d", s.R)
	}
	if s.OD < 0 || s.OD > 7 {
		return fmt.Errorf("invalid OD setting %d", s.OD)
	}
	if vco := s.VCOHz(); vco < 360e6 || vco > 1800e6 {
		return fmt.Errorf("invalid VCO frequency %.0f Hz", vco)
	}
	return nil
}

// Fraction returns the fractional multiplier in use, 0 when disabled.
func (s Settings) Fraction() float64 {
	if !s.FracEnable {
		return 0
	}
	return float64(s.Frac+1) / float64(s.Prescale+1)
}

// OutputHz returns the application clock frequency.
func (s Settings) OutputHz() float64 {
	ratio := (float64(s.F+1) + s.Fraction()) / 2.0 / float64(s.R+1) / float64(s.OD+1) / (2.0 * float64(s.ACD+1))
	return s.InputHz * ratio
}

// OutputHzWithFraction returns the output frequency for an arbitrary fractional
// multiplier, as produced on average by a sigma-delta modulated divider.
func (s Settings) OutputHzWithFraction(fraction float64) float64 {
	ratio := (float64(s.F+1) + fraction) / 2.0 / float64(s.R+1) / float64(s.OD+1) / (2.0 * float64(s.ACD+1))
	return s.InputHz * ratio
}

// Package appll is the register boundary of the application (secondary) PLL:
// the bring-up sequence, fixed clock settings and a model of the output
// frequency produced by a set of register values.
package appll

import (
	"errors"
	"fmt"
	"time"
)

// Register names an application PLL register.
type Register int

// Names for the application PLL registers
const (
	CtlReg          Register = iota // F, R, OD and enable
	FracNDividerReg                 // fractional-n divider, bit 31 enables it
	ClkDividerReg                   // output clock divider (ACD), bit 31 enables the output
)

func (r Register) String() string {
	switch r {
	case CtlReg:
		return "APP_PLL_CTL"
	case FracNDividerReg:
		return "APP_PLL_FRAC_N_DIVIDER"
	case ClkDividerReg:
		return "APP_CLK_DIVIDER"
	}
	return fmt.Sprintf("Register(%d)", int(r))
}

// RegisterWriter writes application PLL registers.
type RegisterWriter interface {
	WriteReg(reg Register, val uint32) error
}

// ErrUnsupportedFrequency is returned by FixedClock for frequencies not in its table.
var ErrUnsupportedFrequency = errors.New("no fixed clock setting for frequency")

const (
	ctlDisableMask uint32 = 0xF7FFFFFF // clears the enable bit
	fracEnable     uint32 = 0x80000000

	// SettleTime is how long the PLL needs after reset before the fractional
	// and divider registers are written.
	SettleTime = 500 * time.Microsecond
)

// Init programs the PLL and starts it at the nominal fractional setting. The
// control register is written with the enable bit toggled so the PLL resets with
// the new F and R values captured on a running clock. sleep is used for the
// settle delay; pass time.Sleep outside of tests.
func Init(w RegisterWriter, sleep func(time.Duration), ctl, div uint32, fracNominal uint16) error {
	sequence := []uint32{ctl & ctlDisableMask, ctl, ctl, ctl & ctlDisableMask, ctl}
	for i, val := range sequence {
		if err := w.WriteReg(CtlReg, val); err != nil {
			return fmt.Errorf("app PLL init step %d: %w", i, err)
		}
	}
	if sleep != nil {
		sleep(SettleTime)
	}
	if err := w.WriteReg(FracNDividerReg, fracEnable|uint32(fracNominal)); err != nil {
		return fmt.Errorf("app PLL init fractional register: %w", err)
	}
	if err := w.WriteReg(ClkDividerReg, div); err != nil {
		return fmt.Errorf("app PLL init divider register: %w", err)
	}
	return nil
}

// FracWriter writes fractional register values through a RegisterWriter. It
// satisfies swpll.OscillatorWriter.
type FracWriter struct {
	W RegisterWriter
}

// WriteFracReg writes val to the fractional-n divider register.
func (fw FracWriter) WriteFracReg(val uint32) error {
	return fw.W.WriteReg(FracNDividerReg, val)
}

type fixedSetting struct {
	ctl, div, frac uint32
}

// Fixed (not phase locked) clocks from a 24 MHz crystal.
var fixedClocks = map[int]fixedSetting{
	44100 * 256:  {0x09009100, 0x80000019, 0x80000C10}, // 11.2896 MHz
	48000 * 256:  {0x0A006500, 0x80000009, 0x80000104}, // 12.288 MHz
	44100 * 512:  {0x09009100, 0x8000000C, 0x80000C10}, // 22.5792 MHz, -0.641 ppm
	48000 * 512:  {0x0A006500, 0x80000004, 0x80000104}, // 24.576 MHz
	44100 * 1024: {0x0A006F00, 0x80000002, 0x80001012}, // 45.1584 MHz, -11.19 ppm
	48000 * 1024: {0x0B808200, 0x80000001, 0x8000000D}, // 49.152 MHz, -4.36 ppm
}

// FixedClockFrequencies returns the frequencies FixedClock supports, besides 0.
func FixedClockFrequencies() []int {
	return []int{44100 * 256, 48000 * 256, 44100 * 512, 48000 * 512, 44100 * 1024, 48000 * 1024}
}

// FixedClock programs one of the fixed clock settings. A frequency of 0 turns
// the output divider off.
func FixedClock(w RegisterWriter, sleep func(time.Duration), hz int) error {
	if hz == 0 {
		return w.WriteReg(ClkDividerReg, 0)
	}
	s, ok := fixedClocks[hz]
	if !ok {
		return fmt.Errorf("%w: %d Hz", ErrUnsupportedFrequency, hz)
	}
	return Init(w, sleep, s.ctl, s.div, uint16(s.frac&0xffff))
}

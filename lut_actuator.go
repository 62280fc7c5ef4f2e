package swpll

import (
	"errors"
	"fmt"
)

// ErrEmptyTable is returned when a LUT actuator is built without a table.
var ErrEmptyTable = errors.New("LUT table is empty")

// FracEnable is the frac-n enable bit of the application PLL fractional register.
const FracEnable uint32 = 0x80000000

// LutActuatorState selects fractional divider codes from a precomputed table.
// The table is owned by the caller and never modified.
type LutActuatorState struct {
	Table         []int16
	NominalIndex  int
	Index         int    // index selected at the last control tick
	CurrentRegVal uint16 // code selected at the last control tick
}

// NewLutActuator returns an actuator over table whose zero-error operating point
// is table[nominal].
func NewLutActuator(table []int16, nominal int) (*LutActuatorState, error) {
	if len(table) == 0 {
		return nil, ErrEmptyTable
	}
	if nominal < 0 || nominal >= len(table) {
		return nil, fmt.Errorf("nominal LUT index %d outside table of %d entries", nominal, len(table))
	}
	return &LutActuatorState{
		Table:         table,
		NominalIndex:  nominal,
		Index:         nominal,
		CurrentRegVal: uint16(table[nominal]),
	}, nil
}

// Len returns the number of table entries.
func (a *LutActuatorState) Len() int {
	return len(a.Table)
}

// Lookup maps a correction to a table code and updates lock. A positive
// correction moves the index down, which slows the oscillator.
func (a *LutActuatorState) Lookup(correction int32, lock *LockState) uint16 {
	set := int64(a.NominalIndex) - int64(correction)
	n := int64(len(a.Table))

	switch {
	case set < 0:
		set = 0
		lock.Saturated(UnlockedLow)
	case set >= n:
		set = n - 1
		lock.Saturated(UnlockedHigh)
	default:
		lock.InRange()
	}

	a.Index = int(set)
	a.CurrentRegVal = uint16(a.Table[set])
	return a.CurrentRegVal
}

// FracRegFromLUT returns the fractional-n register value for a table code.
func FracRegFromLUT(code uint16) uint32 {
	return FracEnable | uint32(code)
}

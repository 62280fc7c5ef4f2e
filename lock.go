package swpll

import (
	"encoding/json"
	"fmt"
)

// LockStatus reports whether the loop output is within range of the reference.
type LockStatus int8

// Names for the possible values of LockStatus
const (
	UnlockedLow  LockStatus = -1 // actuator saturated at its low end
	Locked       LockStatus = 0  // in range for at least the lock count
	UnlockedHigh LockStatus = 1  // actuator saturated at its high end
)

// DefaultLockCount is the number of consecutive in-range control ticks needed
// before the loop reports Locked.
const DefaultLockCount = 10

func (s LockStatus) String() string {
	switch s {
	case UnlockedLow:
		return "UNLOCKED LOW"
	case Locked:
		return "LOCKED"
	case UnlockedHigh:
		return "UNLOCKED HIGH"
	}
	return fmt.Sprintf("LockStatus(%d)", int8(s))
}

// MarshalJSON encodes the status by name, for status publishing.
func (s LockStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts a status name or its number.
func (s *LockStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		var n int8
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*s = LockStatus(n)
		return nil
	}
	for _, v := range []LockStatus{UnlockedLow, Locked, UnlockedHigh} {
		if v.String() == name {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown lock status %q", name)
}

// LockState is the hysteresis shared by both actuators.
type LockState struct {
	Status    LockStatus
	Counter   int // in-range ticks still needed before Locked
	LockCount int
}

// NewLockState returns an UnlockedLow state needing count in-range ticks to lock.
func NewLockState(count int) LockState {
	if count < 0 {
		count = 0
	}
	return LockState{Status: UnlockedLow, Counter: count, LockCount: count}
}

// Saturated records an actuator clamp in the given direction.
func (l *LockState) Saturated(status LockStatus) {
	l.Status = status
	l.Counter = l.LockCount
}

// InRange records a tick where the actuator was within its range.
func (l *LockState) InRange() {
	if l.Counter > 0 {
		// Keep the last unlocked status until the count runs out.
		l.Counter--
		return
	}
	l.Status = Locked
}

// Restart returns to UnlockedLow with a full count.
func (l *LockState) Restart() {
	l.Saturated(UnlockedLow)
}

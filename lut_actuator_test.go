package swpll

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLutActuator(t *testing.T) {
	_, err := NewLutActuator(nil, 0)
	assert.ErrorIs(t, err, ErrEmptyTable)
	_, err = NewLutActuator([]int16{1, 2, 3}, 3)
	assert.Error(t, err)
	_, err = NewLutActuator([]int16{1, 2, 3}, -1)
	assert.Error(t, err)

	a, err := NewLutActuator([]int16{1, 2, 3}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, 1, a.NominalIndex)
}

func TestLutLookup(t *testing.T) {
	table := []int16{0x0F16, 0x0B10, 0x0E13, 0x1016, 0x0302}
	a, err := NewLutActuator(table, 2)
	require.NoError(t, err)
	lock := NewLockState(2)

	tests := []struct {
		correction int32
		index      int
		status     LockStatus
	}{
		{0, 2, UnlockedLow},
		{1, 1, UnlockedLow},
		{-2, 4, Locked},
		{3, 0, UnlockedLow}, // index -1 clamps
		{-3, 4, UnlockedHigh},
		{-1000000, 4, UnlockedHigh},
		{2, 0, UnlockedHigh},
		{-1, 3, UnlockedHigh},
		{0, 2, Locked},
		{2147483647, 0, UnlockedLow},
		{-2147483648, 4, UnlockedHigh},
	}
	for i, tt := range tests {
		code := a.Lookup(tt.correction, &lock)
		assert.Equal(t, tt.index, a.Index, "step %d: index", i)
		assert.Equal(t, uint16(table[tt.index]), code, "step %d: code", i)
		assert.Equal(t, code, a.CurrentRegVal, "step %d", i)
		assert.Equal(t, tt.status, lock.Status, "step %d: status", i)
	}
}

func TestFracRegFromLUT(t *testing.T) {
	assert.Equal(t, uint32(0x80000F16), FracRegFromLUT(0x0F16))
	assert.Equal(t, uint32(0x8000FFFF), FracRegFromLUT(0xFFFF))
}

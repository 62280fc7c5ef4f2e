package swpll

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPfdStateErrors(t *testing.T) {
	tests := []struct {
		name                         string
		loopRate, ratio, refInc, ppm int
		want                         error
	}{
		{"zero decimation", 0, 256, 0, 150, ErrBadDecimation},
		{"negative decimation", -1, 256, 0, 150, ErrBadDecimation},
		{"zero ratio", 512, 0, 0, 150, ErrBadRatio},
		{"negative ppm", 512, 256, 0, -1, ErrBadPPMRange},
		{"oscillator increment too large", 1 << 20, 1 << 20, 0, 150, ErrNumericOverflow},
		{"reference increment too large", 1 << 16, 1, 1 << 17, 150, ErrNumericOverflow},
		{"compensation overflows", 65536, 65535, 65535, 150, ErrNumericOverflow},
	}
	for _, tt := range tests {
		_, err := NewPfdState(tt.loopRate, tt.ratio, tt.refInc, tt.ppm)
		assert.ErrorIs(t, err, tt.want, tt.name)
	}
	_, err := NewPfdState(512, 256, -3, 150)
	assert.Error(t, err)
}

func TestPfdLimits(t *testing.T) {
	p, err := NewPfdState(512, 256, 0, 150)
	require.NoError(t, err)
	assert.Equal(t, uint32(131072), p.MclkExpectedPtInc)
	assert.Equal(t, uint32(0), p.RefClkExpectedInc)
	assert.Equal(t, uint16(39), p.MclkMaxDiff)

	p, err = NewPfdState(512, 512, 0, 150)
	require.NoError(t, err)
	assert.Equal(t, uint16(78), p.MclkMaxDiff)

	p, err = NewPfdState(4096, 4096, 0, 1000000)
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), p.MclkMaxDiff, "limit should saturate")

	p, err = NewPfdState(512, 256, 100, 150)
	require.NoError(t, err)
	assert.Equal(t, uint32(51200), p.RefClkExpectedInc)
}

func TestPfdCalcError(t *testing.T) {
	p, err := NewPfdState(1, 256, 0, 150)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), p.MclkMaxDiff)

	p.MclkMaxDiff = 39
	p.Seed(65500, 0)
	diff, resync := p.CalcError(223, 0) // 65500+256+3 wrapped
	assert.Equal(t, int16(3), diff)
	assert.False(t, resync)
	assert.Equal(t, uint16(223), p.MclkPtLast)

	diff, resync = p.CalcError(223+256-39, 0)
	assert.Equal(t, int16(-39), diff)
	assert.False(t, resync)

	diff, resync = p.CalcError(440+256+40, 0)
	assert.Equal(t, int16(40), diff)
	assert.True(t, resync)
	assert.Equal(t, int16(40), p.MclkDiff)
}

func TestPfdReferenceCompensation(t *testing.T) {
	p, err := NewPfdState(1, 256, 100, 150000)
	require.NoError(t, err)
	p.Seed(0, 0)

	// One extra reference count: expect 256*101/100 = 258 oscillator counts.
	diff, resync := p.CalcError(260, 101)
	assert.Equal(t, int16(2), diff)
	assert.False(t, resync)
	assert.Equal(t, uint16(101), p.RefClkPtLast)

	// One fewer: 256*99/100 truncates to 253.
	diff, _ = p.CalcError(260+253, 200)
	assert.Equal(t, int16(0), diff)

	// Across the reference wrap.
	ref := uint16(65500)
	p.Seed(1000, ref)
	diff, _ = p.CalcError(1000+256, ref+100)
	assert.Equal(t, int16(0), diff)
}

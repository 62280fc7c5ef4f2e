package swpll

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindupLimit(t *testing.T) {
	assert.Equal(t, int32(413), WindupLimit(413, ToQ1516(1.0)))
	assert.Equal(t, int32(826), WindupLimit(413, ToQ1516(0.5)))
	assert.Equal(t, int32(28750), WindupLimit(920000, ToQ1516(32.0)))
	assert.Equal(t, int32(0), WindupLimit(413, 0))
	assert.Equal(t, int32(413), WindupLimit(413, ToQ1516(-1.0)))
	assert.Equal(t, int32(math.MaxInt32), WindupLimit(1<<20, 1))
}

func TestPiDo(t *testing.T) {
	pi := NewPiState(0, ToQ1516(1.0), 0, 413)
	assert.Equal(t, int32(5), pi.Do(5))
	assert.Equal(t, int32(10), pi.Do(5))
	assert.Equal(t, int32(7), pi.Do(-3))
	assert.Equal(t, int32(0), pi.ErrorAccumAccum, "Kii=0 must hold the double integral at zero")

	pi = NewPiState(ToQ1516(0.5), ToQ1516(1.0), 0, 413)
	assert.Equal(t, int32(4+8), pi.Do(8))

	// Negative corrections floor toward minus infinity like an arithmetic shift.
	pi = NewPiState(ToQ1516(0.5), 0, 0, 413)
	assert.Equal(t, int32(-2), pi.Do(-3))

	pi = NewPiState(0, ToQ1516(1.0), ToQ1516(0.5), 1000)
	pi.Do(2) // I=2, II=2: 2 + 1
	assert.Equal(t, int32(2), pi.ErrorAccum)
	assert.Equal(t, int32(2), pi.ErrorAccumAccum)
	assert.Equal(t, int32(4+3), pi.Do(2)) // I=4, II=6
}

func TestPiWindup(t *testing.T) {
	pi := NewPiState(0, ToQ1516(1.0), 0, 10)
	for i := 0; i < 100; i++ {
		pi.Do(1000)
	}
	assert.Equal(t, int32(10), pi.ErrorAccum)
	assert.Equal(t, int32(10), pi.Do(1000))
	for i := 0; i < 100; i++ {
		pi.Do(-32768)
	}
	assert.Equal(t, int32(-10), pi.ErrorAccum)
}

func TestPiWindupInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		kp := Q1516(rng.Int31n(1 << 22))
		ki := Q1516(rng.Int31n(1<<22) + 1)
		kii := Q1516(rng.Int31n(1 << 18))
		actuatorRange := int64(rng.Int31n(1<<20) + 1)
		pi := NewPiState(kp, ki, kii, actuatorRange)
		for i := 0; i < 1000; i++ {
			pi.Do(int16(rng.Intn(65536) - 32768))
			if pi.ErrorAccum > pi.IWindupLimit || pi.ErrorAccum < -pi.IWindupLimit {
				t.Fatalf("trial %d step %d: |I| = %d exceeds %d", trial, i, pi.ErrorAccum, pi.IWindupLimit)
			}
			if pi.ErrorAccumAccum > pi.IIWindupLimit || pi.ErrorAccumAccum < -pi.IIWindupLimit {
				t.Fatalf("trial %d step %d: |II| = %d exceeds %d", trial, i, pi.ErrorAccumAccum, pi.IIWindupLimit)
			}
		}
	}
}

func TestPiReset(t *testing.T) {
	pi := NewPiState(ToQ1516(0.1), ToQ1516(1.0), ToQ1516(0.01), 413)
	for i := 0; i < 20; i++ {
		pi.Do(100)
	}
	pi.IIRY = 1234
	pi.Reset(ToQ1516(2), ToQ1516(4), 0, 413)
	assert.Equal(t, PiState{
		Kp:            ToQ1516(2),
		Ki:            ToQ1516(4),
		IWindupLimit:  103,
		IIWindupLimit: 0,
	}, pi)
}

package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/swpll"
	"github.com/usnistgov/swpll/profile"
)

func runProfile(t *testing.T, name string, ticks int, refPPM float64) *Trace {
	p, err := profile.Lookup(name)
	require.NoError(t, err)
	ctrl, table, err := p.NewController()
	require.NoError(t, err)
	dco, err := NewDCO(p, table)
	require.NoError(t, err)
	trace, err := Run(ctrl, dco, ConfigFor(p, ticks, refPPM), nil)
	require.NoError(t, err)
	return trace
}

func tailMeanPPM(trace *Trace, from int) float64 {
	sum := 0.0
	for _, v := range trace.PPM[from:] {
		sum += v
	}
	return sum / float64(len(trace.PPM)-from)
}

func TestLUTProfileLocks(t *testing.T) {
	trace := runProfile(t, "lut-12.288MHz", 400, 0)
	stats := trace.Stats()
	assert.GreaterOrEqual(t, stats.FirstLockTick, 0, "loop never locked")
	assert.Equal(t, 0, stats.Resyncs)
	assert.Less(t, math.Abs(tailMeanPPM(trace, 200)), 20.0)
}

func TestSDMProfileHoldsFrequency(t *testing.T) {
	trace := runProfile(t, "sdm-24.576MHz", 200, 0)
	stats := trace.Stats()
	assert.Equal(t, 0, stats.Resyncs)
	assert.GreaterOrEqual(t, stats.FirstLockTick, 0, "loop never locked")
	assert.Less(t, math.Abs(tailMeanPPM(trace, 100)), 5.0)
}

func TestNewDCO(t *testing.T) {
	p, err := profile.Lookup("lut-12.288MHz")
	require.NoError(t, err)
	_, err = NewDCO(p, nil)
	assert.Error(t, err, "a LUT profile needs its table")

	p.NominalIndex = 5
	_, err = NewDCO(p, []int16{1, 2})
	assert.Error(t, err)

	p.Actuator = "vco"
	_, err = NewDCO(p, []int16{1, 2})
	assert.Error(t, err)
}

func TestStepsPerTick(t *testing.T) {
	p := profile.Profile{RefHz: 48000, LoopRateCount: 48, SDMRateHz: 1e5}
	assert.Equal(t, 100, StepsPerTick(p))
	p.SDMRateHz = 1e6
	p.LoopRateCount = 512
	assert.Equal(t, maxStepsPerTick, StepsPerTick(p))
	assert.Equal(t, 1, StepsPerTick(profile.Profile{}))
}

func TestConfigFor(t *testing.T) {
	p, err := profile.Lookup("sdm-24.576MHz")
	require.NoError(t, err)
	cfg := ConfigFor(p, 10, 25)
	assert.Equal(t, RunConfig{RefHz: 48000, RefPPM: 25, PLLRatio: 512, Ticks: 10}, cfg)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, swpll.SDMActuator, mustKind(t, p))
}

func mustKind(t *testing.T, p profile.Profile) swpll.ActuatorKind {
	kind, err := p.Kind()
	require.NoError(t, err)
	return kind
}

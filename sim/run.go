// Package sim runs a Controller in closed loop against a model oscillator, in
// the way the loop was tuned before running it on hardware.
package sim

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/oklog/ulid/v2"
	"github.com/usnistgov/swpll"
)

// RunConfig describes one closed-loop run.
type RunConfig struct {
	RefHz             float64 // nominal reference frequency
	RefPPM            float64 // offset of the actual reference from nominal
	PLLRatio          int     // target oscillator frequency / reference frequency
	RefClkExpectedInc int     // reference-port edges per call, 0 if not compensated
	Ticks             int     // control ticks to record; only used by Run
	JitterCounts      float64 // sampling jitter, oscillator edges RMS
}

// Validate checks the loop parameters.
func (cfg RunConfig) Validate() error {
	if cfg.RefHz <= 0 {
		return fmt.Errorf("reference frequency must be positive: got %g", cfg.RefHz)
	}
	if cfg.PLLRatio <= 0 {
		return fmt.Errorf("pll ratio must be positive: got %d", cfg.PLLRatio)
	}
	if cfg.Ticks < 0 {
		return fmt.Errorf("tick count must not be negative: got %d", cfg.Ticks)
	}
	if cfg.JitterCounts < 0 {
		return fmt.Errorf("jitter must not be negative: got %g", cfg.JitterCounts)
	}
	return nil
}

// ErrNeedRandom is returned when jitter is requested without a random source.
var ErrNeedRandom = errors.New("jitter requires a random source")

// maxCallsPerTick bounds how long Next waits for the controller to tick.
const maxCallsPerTick = 1 << 20

// Loop couples a controller to a model oscillator, one reference period per
// DoControl call.
type Loop struct {
	ctrl     *swpll.Controller
	dco      DCO
	timer    *PortTimer
	refHz    float64
	targetHz float64
	refEdges float64
	call     int
}

// NewLoop prepares a closed loop. rng supplies the sampling jitter and may be
// nil when cfg.JitterCounts is zero.
func NewLoop(ctrl *swpll.Controller, dco DCO, cfg RunConfig, rng *rand.Rand) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.JitterCounts > 0 && rng == nil {
		return nil, ErrNeedRandom
	}
	refHz := cfg.RefHz * (1 + cfg.RefPPM/1e6)
	return &Loop{
		ctrl:     ctrl,
		dco:      dco,
		timer:    NewPortTimer(cfg.JitterCounts, rng),
		refHz:    refHz,
		targetHz: refHz * float64(cfg.PLLRatio),
		refEdges: float64(cfg.RefClkExpectedInc) * (1 + cfg.RefPPM/1e6),
	}, nil
}

// TargetHz returns the frequency the loop should settle at.
func (l *Loop) TargetHz() float64 {
	return l.targetHz
}

// Next calls DoControl until the controller seeds, resyncs or produces a
// correction, applies any correction to the oscillator and returns the tick.
func (l *Loop) Next() (Sample, swpll.TickResult, error) {
	for n := 0; n < maxCallsPerTick; n++ {
		mclkPt, refPt := l.timer.Advance(l.dco.Frequency()/l.refHz, l.refEdges)
		r, status := l.ctrl.DoControl(mclkPt, refPt)
		call := l.call
		l.call++
		if !r.Controlled && !r.Seeded && !r.Resync {
			continue
		}
		hz := l.dco.Frequency()
		if r.Controlled {
			hz = l.dco.Apply(r.Output)
		}
		return Sample{
			Call:       call,
			Diff:       r.Diff,
			Correction: r.Correction,
			Output:     r.Output,
			Hz:         hz,
			PPM:        (hz/l.targetHz - 1) * 1e6,
			Status:     status,
			Resync:     r.Resync,
		}, r, nil
	}
	return Sample{}, swpll.TickResult{}, fmt.Errorf("no control tick in %d calls", maxCallsPerTick)
}

// Run records cfg.Ticks control ticks of a closed loop.
func Run(ctrl *swpll.Controller, dco DCO, cfg RunConfig, rng *rand.Rand) (*Trace, error) {
	if cfg.Ticks <= 0 {
		return nil, fmt.Errorf("tick count must be positive: got %d", cfg.Ticks)
	}
	loop, err := NewLoop(ctrl, dco, cfg, rng)
	if err != nil {
		return nil, err
	}
	trace := newTrace(cfg.Ticks)
	trace.RunID = ulid.Make()
	trace.TargetHz = loop.TargetHz()
	for trace.Len() < cfg.Ticks {
		s, _, err := loop.Next()
		if err != nil {
			return trace, err
		}
		trace.add(s)
	}
	return trace, nil
}

package swpll

import (
	"errors"
	"fmt"
	"math"
)

// ErrNotLUT is returned by operations that only make sense for a LUT actuator.
var ErrNotLUT = errors.New("controller does not drive a LUT actuator")

// ActuatorKind selects how a Controller turns a correction into an oscillator setting.
type ActuatorKind int

// Names for the possible values of ActuatorKind
const (
	LUTActuator ActuatorKind = iota // select codes from a precomputed table
	SDMActuator                     // drive a sigma-delta modulated fractional divider
)

func (k ActuatorKind) String() string {
	switch k {
	case LUTActuator:
		return "LUT"
	case SDMActuator:
		return "SDM"
	}
	return fmt.Sprintf("ActuatorKind(%d)", int(k))
}

// LoopPhase is the lifecycle state of a Controller.
type LoopPhase int

// Names for the possible values of LoopPhase
const (
	Uninitialized LoopPhase = iota // zero value, not usable
	FirstLoop                      // next control tick only seeds the detector
	Steady                         // control ticks produce corrections
)

func (p LoopPhase) String() string {
	switch p {
	case Uninitialized:
		return "UNINITIALIZED"
	case FirstLoop:
		return "FIRST LOOP"
	case Steady:
		return "STEADY"
	}
	return fmt.Sprintf("LoopPhase(%d)", int(p))
}

// Config holds the construction-time parameters shared by both actuators.
type Config struct {
	Kp, Ki, Kii       Q1516
	LoopRateCount     int // run control once every this many DoControl calls
	PLLRatio          int // oscillator frequency / reference frequency
	RefClkExpectedInc int // reference count per DoControl call, 0 to disable compensation
	PPMRange          int // resync when the error exceeds twice this
	LockCount         int // in-range ticks before Locked; 0 means DefaultLockCount
}

// Validate checks the parameters that do not depend on the actuator.
func (cfg Config) Validate() error {
	if cfg.LoopRateCount <= 0 {
		return fmt.Errorf("%w: got %d", ErrBadDecimation, cfg.LoopRateCount)
	}
	if cfg.PLLRatio <= 0 {
		return fmt.Errorf("%w: got %d", ErrBadRatio, cfg.PLLRatio)
	}
	if cfg.LockCount < 0 {
		return fmt.Errorf("lock count must not be negative: got %d", cfg.LockCount)
	}
	return nil
}

func (cfg Config) lockCount() int {
	if cfg.LockCount == 0 {
		return DefaultLockCount
	}
	return cfg.LockCount
}

// TickResult describes what a call to DoControl or DoControlFromError did.
type TickResult struct {
	Controlled bool   // a correction was computed and Output is valid
	Seeded     bool   // this tick only loaded the detector baseline
	Resync     bool   // the detector saw a glitch; the correction was discarded
	Diff       int16  // detector error, or the error passed to DoControlFromError
	Correction int32  // PI(II) output
	Output     uint32 // LUT code, or SDM dco_ctl
}

// Controller is one software PLL: a detector, a PI(II) controller, lock
// hysteresis and exactly one actuator. It is not safe for concurrent use.
type Controller struct {
	kind          ActuatorKind
	phase         LoopPhase
	loopRateCount int
	loopCounter   int

	pfd  PfdState
	pi   PiState
	lock LockState

	lut *LutActuatorState // set iff kind == LUTActuator
	sdm *SdmActuatorState // set iff kind == SDMActuator
}

func newController(cfg Config, kind ActuatorKind) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pfd, err := NewPfdState(cfg.LoopRateCount, cfg.PLLRatio, cfg.RefClkExpectedInc, cfg.PPMRange)
	if err != nil {
		return nil, err
	}
	return &Controller{
		kind:          kind,
		phase:         FirstLoop,
		loopRateCount: cfg.LoopRateCount,
		pfd:           *pfd,
		lock:          NewLockState(cfg.lockCount()),
	}, nil
}

// NewLUTController returns a controller driving the LUT actuator over table,
// with table[nominal] as the zero-error setting. The table must outlive the
// controller and is never written.
func NewLUTController(cfg Config, table []int16, nominal int) (*Controller, error) {
	lut, err := NewLutActuator(table, nominal)
	if err != nil {
		return nil, err
	}
	c, err := newController(cfg, LUTActuator)
	if err != nil {
		return nil, err
	}
	c.lut = lut
	c.pi = NewPiState(cfg.Kp, cfg.Ki, cfg.Kii, int64(lut.Len()))
	return c, nil
}

// NewSDMController returns a controller driving the SDM actuator around the
// control value mid, clamped to [lower, upper].
func NewSDMController(cfg Config, mid, lower, upper int32) (*Controller, error) {
	sdm, err := NewSdmActuator(mid, lower, upper)
	if err != nil {
		return nil, err
	}
	c, err := newController(cfg, SDMActuator)
	if err != nil {
		return nil, err
	}
	c.sdm = sdm
	c.pi = NewPiState(cfg.Kp, cfg.Ki, cfg.Kii, sdm.Range())
	return c, nil
}

// DoControl is called at a fixed rate with the latest oscillator and reference
// port timer samples. Only every LoopRateCount-th call runs the loop.
func (c *Controller) DoControl(mclkPt, refClkPt uint16) (TickResult, LockStatus) {
	if c.phase == Uninitialized {
		return TickResult{}, c.lock.Status
	}
	c.loopCounter++
	if c.loopCounter < c.loopRateCount {
		return TickResult{}, c.lock.Status
	}
	c.loopCounter = 0

	if c.phase == FirstLoop {
		// Keep the current oscillator setting: the last one is probably the best.
		c.pfd.Seed(mclkPt, refClkPt)
		c.pi.ClearAccumulators()
		c.lock.Restart()
		c.phase = Steady
		return TickResult{Seeded: true}, c.lock.Status
	}

	diff, resync := c.pfd.CalcError(mclkPt, refClkPt)
	if resync {
		// Something went badly wrong, eg the reference stopped. Start again.
		c.phase = FirstLoop
		c.lock.Restart()
		return TickResult{Resync: true, Diff: diff}, c.lock.Status
	}

	if c.kind == SDMActuator {
		// A larger control value raises the SDM frequency, so invert the error.
		r, status := c.DoControlFromError(negate16(diff))
		r.Diff = diff
		return r, status
	}
	return c.DoControlFromError(diff)
}

// DoControlFromError runs the PI(II) controller and actuator on an error
// computed elsewhere. It bypasses decimation and the detector.
func (c *Controller) DoControlFromError(err int16) (TickResult, LockStatus) {
	r := TickResult{Controlled: true, Diff: err}
	r.Correction = c.pi.Do(err)
	switch c.kind {
	case LUTActuator:
		r.Output = uint32(c.lut.Lookup(r.Correction, &c.lock))
	case SDMActuator:
		r.Output = uint32(c.sdm.PostControl(r.Correction, &c.pi, &c.lock))
	}
	return r, c.lock.Status
}

// ResetGains replaces the controller gains. Both integrators are zeroed in the
// same step, so no history from the old gains survives.
func (c *Controller) ResetGains(kp, ki, kii Q1516) {
	c.pi.Reset(kp, ki, kii, c.actuatorRange())
}

// Restart forces the next control tick to reseed the detector.
func (c *Controller) Restart() {
	if c.phase != Uninitialized {
		c.phase = FirstLoop
		c.loopCounter = 0
	}
}

// Apply writes the result of a LUT control tick to the oscillator. Ticks that
// did not compute a correction write nothing.
func (c *Controller) Apply(w OscillatorWriter, r TickResult) error {
	if c.kind != LUTActuator {
		return ErrNotLUT
	}
	if !r.Controlled {
		return nil
	}
	return w.WriteFracReg(FracRegFromLUT(uint16(r.Output)))
}

func (c *Controller) actuatorRange() int64 {
	if c.kind == SDMActuator {
		return c.sdm.Range()
	}
	return int64(c.lut.Len())
}

// Kind returns the actuator kind.
func (c *Controller) Kind() ActuatorKind { return c.kind }

// Phase returns the lifecycle phase.
func (c *Controller) Phase() LoopPhase { return c.phase }

// Status returns the current lock status.
func (c *Controller) Status() LockStatus { return c.lock.Status }

// Lock returns a copy of the lock hysteresis state.
func (c *Controller) Lock() LockState { return c.lock }

// PFD returns a copy of the detector state.
func (c *Controller) PFD() PfdState { return c.pfd }

// PI returns a copy of the controller state.
func (c *Controller) PI() PiState { return c.pi }

// LUT returns the LUT actuator, or nil for an SDM controller.
func (c *Controller) LUT() *LutActuatorState { return c.lut }

// SDM returns the SDM actuator, or nil for a LUT controller.
func (c *Controller) SDM() *SdmActuatorState { return c.sdm }

// FirstLoopPending reports whether the next control tick only seeds the detector.
func (c *Controller) FirstLoopPending() bool { return c.phase == FirstLoop }

func negate16(v int16) int16 {
	if v == math.MinInt16 {
		return math.MaxInt16
	}
	return -v
}

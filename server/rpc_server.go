// Package server runs a software PLL behind a JSON-RPC control port, and
// publishes its state on a ZMQ status port.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/viper"
	"github.com/usnistgov/swpll"
	"github.com/usnistgov/swpll/appll"
	"github.com/usnistgov/swpll/internal/plldb"
	"github.com/usnistgov/swpll/internal/ticklog"
	"github.com/usnistgov/swpll/profile"
	"github.com/usnistgov/swpll/sim"
)

// LoopSettings are the run parameters that persist between loops. They are
// stored under the "loop" key of the config file.
type LoopSettings struct {
	Profile      string        `mapstructure:"profile"`       // empty means the catalogue default
	TickInterval time.Duration `mapstructure:"tick_interval"` // wall time per control tick
	RefPPM       float64       `mapstructure:"ref_ppm"`       // offset of the modelled reference
	JitterCounts float64       `mapstructure:"jitter_counts"` // port timer jitter, oscillator edges RMS
	Seed         int64         `mapstructure:"seed"`          // jitter seed, 0 for the clock
	SDMPeriod    time.Duration `mapstructure:"sdm_period"`    // modulator write period on hardware
	TickLog      string        `mapstructure:"tick_log"`      // file for one line per tick, if set
	TraceDir     string        `mapstructure:"trace_dir"`     // directory for per-run .npy traces, if set
}

// DefaultLoopSettings returns the settings used before any are configured.
func DefaultLoopSettings() LoopSettings {
	return LoopSettings{
		TickInterval: 10 * time.Millisecond,
		SDMPeriod:    time.Millisecond,
	}
}

// Validate checks the settings without looking up the profile.
func (ls LoopSettings) Validate() error {
	if ls.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive: got %v", ls.TickInterval)
	}
	if ls.SDMPeriod <= 0 {
		return fmt.Errorf("SDM period must be positive: got %v", ls.SDMPeriod)
	}
	if ls.JitterCounts < 0 {
		return fmt.Errorf("jitter must not be negative: got %g", ls.JitterCounts)
	}
	return nil
}

// LoopStatus is the status that LoopControl reports to clients.
type LoopStatus struct {
	Running     bool
	Profile     string
	Actuator    string
	RunID       string
	Hardware    bool
	Ticks       int64
	Resyncs     int64
	Lock        swpll.LockStatus
	Phase       string
	Diff        int16
	Correction  int32
	Output      uint32
	Hz          float64
	PPM         float64
	Kp, Ki, Kii float64
	Error       string
}

// GainsArgs holds the arguments to a ResetGains operation.
type GainsArgs struct {
	Kp, Ki, Kii float64
}

// LoopControl is the sub-server that configures and runs the software PLL.
// The loop drives a model oscillator; when a register writer is attached, every
// oscillator setting is also written to the real application PLL.
type LoopControl struct {
	runMu sync.Mutex // serializes Start and Stop

	mu       sync.Mutex // protects everything below
	settings LoopSettings
	status   LoopStatus
	ctrl     *swpll.Controller
	loop     *sim.Loop
	mailbox  *swpll.Mailbox
	tracker  plldb.LockTracker
	run      *plldb.RunMessage
	ticks    *ticklog.Writer
	tickFile *os.File
	trace    *traceFiles
	cancel   context.CancelFunc

	wg            sync.WaitGroup
	hw            appll.RegisterWriter
	db            *plldb.Connection
	clientUpdates chan<- ClientUpdate
}

// NewLoopControl returns an idle LoopControl. hw and db may be nil.
func NewLoopControl(clientUpdates chan<- ClientUpdate, hw appll.RegisterWriter, db *plldb.Connection) *LoopControl {
	if db == nil {
		db = plldb.Dummy()
	}
	return &LoopControl{
		settings:      DefaultLoopSettings(),
		hw:            hw,
		db:            db,
		clientUpdates: clientUpdates,
	}
}

// Profiles lists the names of the known loop profiles.
func (lc *LoopControl) Profiles(dummy *string, reply *[]string) error {
	*reply = profile.Names()
	return nil
}

// Configure replaces the loop settings. It fails while a loop is running.
func (lc *LoopControl) Configure(args *LoopSettings, reply *bool) error {
	if err := lc.configure(*args); err != nil {
		return err
	}
	saveSettings(*args)
	*reply = true
	return nil
}

func (lc *LoopControl) configure(ls LoopSettings) error {
	if err := ls.Validate(); err != nil {
		return err
	}
	if ls.Profile != "" {
		if _, err := profile.Lookup(ls.Profile); err != nil {
			return err
		}
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.cancel != nil {
		return fmt.Errorf("loop is running (you should call Stop)")
	}
	lc.settings = ls
	log.Printf("Loop settings: %+v\n", ls)
	lc.clientUpdates <- ClientUpdate{"CONFIG", ls}
	return nil
}

// saveSettings stores the settings in the config file, if there is one.
func saveSettings(ls LoopSettings) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.Set("loop", map[string]any{
		"profile":       ls.Profile,
		"tick_interval": ls.TickInterval.String(),
		"ref_ppm":       ls.RefPPM,
		"jitter_counts": ls.JitterCounts,
		"seed":          ls.Seed,
		"sdm_period":    ls.SDMPeriod.String(),
		"tick_log":      ls.TickLog,
		"trace_dir":     ls.TraceDir,
	})
	if err := viper.WriteConfig(); err != nil {
		swpll.ProblemLogger.Printf("Could not save loop settings: %v", err)
	}
}

// Start builds the loop named by profileName (or the configured profile when
// empty) and runs it until Stop.
func (lc *LoopControl) Start(profileName *string, reply *bool) error {
	lc.runMu.Lock()
	defer lc.runMu.Unlock()
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.cancel != nil {
		return fmt.Errorf("loop is running (you should call Stop)")
	}

	name := lc.settings.Profile
	if profileName != nil && *profileName != "" {
		name = *profileName
	}
	if name == "" {
		name = profile.Default()
	}
	p, err := profile.Lookup(name)
	if err != nil {
		return err
	}
	kind, err := p.Kind()
	if err != nil {
		return err
	}
	ctrl, table, err := p.NewController()
	if err != nil {
		return err
	}
	dco, err := sim.NewDCO(p, table)
	if err != nil {
		return err
	}
	cfg := sim.ConfigFor(p, 0, lc.settings.RefPPM)
	cfg.JitterCounts = lc.settings.JitterCounts
	var rng *rand.Rand
	if cfg.JitterCounts > 0 {
		seed := lc.settings.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}
	loop, err := sim.NewLoop(ctrl, dco, cfg, rng)
	if err != nil {
		return err
	}
	runID := ulid.Make().String()
	if lc.settings.TraceDir != "" {
		if lc.trace, err = createTraceFiles(lc.settings.TraceDir, runID); err != nil {
			return err
		}
	}
	if lc.settings.TickLog != "" {
		f, err := os.Create(lc.settings.TickLog)
		if err != nil {
			lc.closeFiles()
			return err
		}
		lc.tickFile = f
		lc.ticks = ticklog.NewWriter(f, 1024, time.Second)
	}

	fracNominal := uint16(p.AppPLLFrac)
	if kind == swpll.LUTActuator {
		fracNominal = uint16(table[p.Nominal(table)])
	}

	lc.ctrl = ctrl
	lc.loop = loop
	lc.tracker = plldb.LockTracker{RunID: runID}
	lc.run = &plldb.RunMessage{
		ID:            runID,
		Profile:       p.Name,
		Actuator:      kind.String(),
		Kp:            p.Kp,
		Ki:            p.Ki,
		Kii:           p.Kii,
		LoopRateCount: p.LoopRateCount,
		PLLRatio:      p.PLLRatio,
		PPMRange:      p.PPMRange,
		Start:         time.Now(),
	}
	lc.db.RecordRun(lc.run)
	lc.status = LoopStatus{
		Running:  true,
		Profile:  p.Name,
		Actuator: kind.String(),
		RunID:    runID,
		Hardware: lc.hw != nil,
		Lock:     ctrl.Status(),
		Phase:    ctrl.Phase().String(),
		Kp:       p.Kp,
		Ki:       p.Ki,
		Kii:      p.Kii,
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.cancel = cancel
	ready := make(chan struct{})
	lc.wg.Add(1)
	go lc.runLoop(ctx, ready, p.AppPLLCtl, p.AppPLLDiv, fracNominal, lc.settings.TickInterval)
	if kind == swpll.SDMActuator && lc.hw != nil {
		lc.mailbox = swpll.NewMailbox()
		task := swpll.NewSDMTask(lc.settings.SDMPeriod, appll.FracWriter{W: lc.hw})
		lc.wg.Add(1)
		go func(mb *swpll.Mailbox) {
			defer lc.wg.Done()
			if err := task.Run(ctx, mb, ready); err != nil && !errors.Is(err, context.Canceled) {
				lc.fail(err)
			}
		}(lc.mailbox)
	}

	swpll.UpdateLogger.Printf("Starting loop %s with profile %s\n", runID, p.Name)
	lc.broadcastUpdate()
	*reply = true
	return nil
}

// runLoop programs the application PLL, if attached, then runs one control
// tick per interval until ctx is done. ready is closed once the PLL is programmed.
func (lc *LoopControl) runLoop(ctx context.Context, ready chan<- struct{}, ctl, div uint32, frac uint16, interval time.Duration) {
	defer lc.wg.Done()
	if lc.hw != nil {
		if err := appll.Init(lc.hw, time.Sleep, ctl, div, frac); err != nil {
			lc.fail(err)
			return
		}
	}
	close(ready)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := lc.step(); err != nil {
			lc.fail(err)
			return
		}
	}
}

// step runs the controller to its next control tick.
func (lc *LoopControl) step() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	s, r, err := lc.loop.Next()
	if err != nil {
		return err
	}
	if r.Controlled && lc.hw != nil {
		if lc.mailbox != nil {
			lc.mailbox.Offer(int32(r.Output))
		} else if err := lc.ctrl.Apply(appll.FracWriter{W: lc.hw}, r); err != nil {
			return err
		}
	}

	st := &lc.status
	st.Ticks++
	if r.Resync {
		st.Resyncs++
	}
	st.Lock = s.Status
	st.Phase = lc.ctrl.Phase().String()
	st.Diff = r.Diff
	st.Correction = r.Correction
	if r.Controlled {
		st.Output = r.Output
	}
	st.Hz = s.Hz
	st.PPM = s.PPM

	if ev, ok := lc.tracker.Observe(st.Ticks, r, s.Status); ok {
		lc.db.RecordLockEvent(ev)
		lc.clientUpdates <- ClientUpdate{"LOCK", ev}
	}
	if lc.trace != nil {
		if err := lc.trace.add(s); err != nil {
			return err
		}
	}
	if lc.ticks != nil {
		pi := lc.ctrl.PI()
		var seeded int64
		if r.Seeded {
			seeded = 1
		}
		lc.ticks.TryWrite(ticklog.FormatLine(int64(s.Status), int64(st.Output), int64(r.Diff),
			int64(pi.ErrorAccum), int64(pi.ErrorAccumAccum), seeded))
	}
	return nil
}

// fail stops the loop goroutines after an error. Stop must still be called.
func (lc *LoopControl) fail(err error) {
	swpll.ProblemLogger.Printf("Loop stopped: %v\n", err)
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.cancel != nil {
		lc.cancel()
	}
	lc.status.Running = false
	lc.status.Error = err.Error()
	lc.broadcastUpdate()
}

// Stop stops the running loop, if any.
func (lc *LoopControl) Stop(dummy *string, reply *bool) error {
	lc.runMu.Lock()
	defer lc.runMu.Unlock()
	lc.mu.Lock()
	cancel := lc.cancel
	lc.mu.Unlock()
	if cancel == nil {
		return fmt.Errorf("no loop is running")
	}
	log.Printf("Stopping loop\n")
	cancel()
	lc.wg.Wait()

	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.closeFiles()
	lc.db.FinishRun(lc.run)
	swpll.UpdateLogger.Printf("Stopped loop %s after %d ticks\n", lc.status.RunID, lc.status.Ticks)
	lc.cancel = nil
	lc.ctrl = nil
	lc.loop = nil
	lc.mailbox = nil
	lc.run = nil
	lc.status.Running = false
	lc.broadcastUpdate()
	*reply = true
	return nil
}

// closeFiles closes the tick log and trace files of a run. Hold lc.mu.
func (lc *LoopControl) closeFiles() {
	if lc.ticks != nil {
		if err := lc.ticks.Close(); err != nil {
			swpll.ProblemLogger.Printf("Tick log: %v\n", err)
		}
		if dropped := lc.ticks.Dropped(); dropped > 0 {
			swpll.ProblemLogger.Printf("Tick log dropped %d lines\n", dropped)
		}
		lc.tickFile.Close()
		lc.ticks = nil
		lc.tickFile = nil
	}
	if lc.trace != nil {
		if err := lc.trace.Close(); err != nil {
			swpll.ProblemLogger.Printf("Trace files: %v\n", err)
		}
		lc.trace = nil
	}
}

// ResetGains replaces the gains of the running loop and clears its integrators.
func (lc *LoopControl) ResetGains(args *GainsArgs, reply *bool) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.ctrl == nil || !lc.status.Running {
		return fmt.Errorf("no loop is running")
	}
	lc.ctrl.ResetGains(swpll.ToQ1516(args.Kp), swpll.ToQ1516(args.Ki), swpll.ToQ1516(args.Kii))
	lc.status.Kp, lc.status.Ki, lc.status.Kii = args.Kp, args.Ki, args.Kii
	lc.clientUpdates <- ClientUpdate{"GAINS", args}
	*reply = true
	return nil
}

// Restart makes the running loop reseed its detector on the next control tick.
func (lc *LoopControl) Restart(dummy *string, reply *bool) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.ctrl == nil || !lc.status.Running {
		return fmt.Errorf("no loop is running")
	}
	lc.ctrl.Restart()
	*reply = true
	return nil
}

// Status returns the latest loop status.
func (lc *LoopControl) Status(dummy *string, reply *LoopStatus) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	*reply = lc.status
	return nil
}

// broadcastUpdate sends the status to clients. Hold lc.mu.
func (lc *LoopControl) broadcastUpdate() {
	lc.clientUpdates <- ClientUpdate{"STATUS", lc.status}
}

// SendAllStatus causes a broadcast to clients containing all broadcastable status info
func (lc *LoopControl) SendAllStatus(dummy *string, reply *bool) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.broadcastUpdate()
	lc.clientUpdates <- ClientUpdate{"CONFIG", lc.settings}
	lc.clientUpdates <- ClientUpdate{"SENDALL", 0}
	*reply = true
	return nil
}

func newRPCServer(lc *LoopControl) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.Register(lc); err != nil {
		return nil, err
	}
	return server, nil
}

// RunRPCServer loads the stored loop settings into lc and serves JSON-RPC on
// portrpc. With block it serves until the listener fails; otherwise it serves
// on a new goroutine and returns once listening.
func RunRPCServer(lc *LoopControl, portrpc int, block bool) error {
	log.Printf("swpll is using config file %s\n", viper.ConfigFileUsed())
	ls := DefaultLoopSettings()
	if err := viper.UnmarshalKey("loop", &ls); err == nil {
		if err := lc.configure(ls); err != nil {
			swpll.ProblemLogger.Printf("Stored loop settings rejected: %v\n", err)
		}
	}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			lc.mu.Lock()
			lc.broadcastUpdate()
			lc.mu.Unlock()
		}
	}()

	server, err := newRPCServer(lc)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", portrpc))
	if err != nil {
		return fmt.Errorf("listen error: %w", err)
	}
	serve := func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				swpll.ProblemLogger.Printf("accept error: %v\n", err)
				return
			}
			log.Printf("new connection established\n")
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}
	if block {
		serve()
		return nil
	}
	go serve()
	return nil
}

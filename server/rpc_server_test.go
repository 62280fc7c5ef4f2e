package server

import (
	"bufio"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/swpll"
	"github.com/usnistgov/swpll/appll"
)

// updateSink collects everything LoopControl broadcasts.
type updateSink struct {
	mu   sync.Mutex
	tags map[string]int
	done chan struct{}
}

func newTestControl(t *testing.T, hw appll.RegisterWriter) (*LoopControl, *updateSink) {
	updates := make(chan ClientUpdate, 100)
	sink := &updateSink{tags: make(map[string]int), done: make(chan struct{})}
	go func() {
		defer close(sink.done)
		for u := range updates {
			sink.mu.Lock()
			sink.tags[u.Tag]++
			sink.mu.Unlock()
		}
	}()
	lc := NewLoopControl(updates, hw, nil)
	t.Cleanup(func() {
		var okay bool
		lc.Stop(nil, &okay)
		close(updates)
		<-sink.done
	})

	settings := DefaultLoopSettings()
	settings.TickInterval = time.Millisecond
	settings.SDMPeriod = 100 * time.Microsecond
	var okay bool
	require.NoError(t, lc.Configure(&settings, &okay))
	require.True(t, okay)
	return lc, sink
}

func (s *updateSink) count(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags[tag]
}

func status(t *testing.T, lc *LoopControl) LoopStatus {
	var st LoopStatus
	require.NoError(t, lc.Status(nil, &st))
	return st
}

func waitTicks(t *testing.T, lc *LoopControl, n int64) {
	require.Eventually(t, func() bool {
		return status(t, lc).Ticks >= n
	}, 5*time.Second, time.Millisecond, "loop did not reach %d ticks", n)
}

// regWriter records application PLL register writes, optionally failing one.
type regWriter struct {
	mu     sync.Mutex
	regs   []appll.Register
	vals   []uint32
	failAt int
}

func (w *regWriter) WriteReg(reg appll.Register, val uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAt > 0 && len(w.regs) == w.failAt {
		return errors.New("bus error")
	}
	w.regs = append(w.regs, reg)
	w.vals = append(w.vals, val)
	return nil
}

func (w *regWriter) countFrac() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, r := range w.regs {
		if r == appll.FracNDividerReg {
			n++
		}
	}
	return n
}

func TestLoopControlLifecycle(t *testing.T) {
	lc, sink := newTestControl(t, nil)
	var okay bool

	name := "lut-12.288MHz"
	require.NoError(t, lc.Start(&name, &okay))
	assert.True(t, okay)
	assert.Error(t, lc.Start(&name, &okay), "second Start should fail")

	waitTicks(t, lc, 20)
	st := status(t, lc)
	assert.True(t, st.Running)
	assert.Equal(t, name, st.Profile)
	assert.Equal(t, "LUT", st.Actuator)
	assert.Len(t, st.RunID, 26)
	assert.False(t, st.Hardware)
	assert.Equal(t, 1.0, st.Ki)
	assert.Zero(t, st.Resyncs)

	require.NoError(t, lc.ResetGains(&GainsArgs{Ki: 2}, &okay))
	assert.Equal(t, 2.0, status(t, lc).Ki)
	require.NoError(t, lc.Restart(nil, &okay))
	require.NoError(t, lc.SendAllStatus(nil, &okay))

	okay = false
	require.NoError(t, lc.Stop(nil, &okay))
	assert.True(t, okay)
	assert.Error(t, lc.Stop(nil, &okay), "second Stop should fail")
	assert.False(t, status(t, lc).Running)
	assert.Error(t, lc.ResetGains(&GainsArgs{Ki: 1}, &okay))
	assert.Error(t, lc.Restart(nil, &okay))

	assert.Eventually(t, func() bool {
		return sink.count("STATUS") >= 3 && sink.count("LOCK") >= 1 &&
			sink.count("GAINS") == 1 && sink.count("SENDALL") == 1
	}, time.Second, time.Millisecond)
}

func TestStartDefaultProfile(t *testing.T) {
	lc, _ := newTestControl(t, nil)
	var okay bool
	require.NoError(t, lc.Start(nil, &okay))
	waitTicks(t, lc, 2)
	assert.Equal(t, "lut-12.288MHz", status(t, lc).Profile)
	require.NoError(t, lc.Stop(nil, &okay))

	empty := ""
	settings := DefaultLoopSettings()
	settings.TickInterval = time.Millisecond
	settings.Profile = "sdm-24.576MHz"
	require.NoError(t, lc.Configure(&settings, &okay))
	require.NoError(t, lc.Start(&empty, &okay))
	waitTicks(t, lc, 2)
	st := status(t, lc)
	assert.Equal(t, "sdm-24.576MHz", st.Profile)
	assert.Equal(t, "SDM", st.Actuator)
}

func TestStartUnknownProfile(t *testing.T) {
	lc, _ := newTestControl(t, nil)
	var okay bool
	name := "harrypotter"
	assert.Error(t, lc.Start(&name, &okay))
	assert.False(t, okay)
	assert.Error(t, lc.Stop(nil, &okay), "nothing should be running")
}

func TestConfigure(t *testing.T) {
	lc, _ := newTestControl(t, nil)
	var okay bool
	for _, bad := range []LoopSettings{
		{TickInterval: 0, SDMPeriod: time.Millisecond},
		{TickInterval: time.Millisecond, SDMPeriod: 0},
		{TickInterval: time.Millisecond, SDMPeriod: time.Millisecond, JitterCounts: -1},
		{TickInterval: time.Millisecond, SDMPeriod: time.Millisecond, Profile: "harrypotter"},
	} {
		assert.Error(t, lc.Configure(&bad, &okay), "%+v", bad)
	}

	name := "lut-12.288MHz"
	require.NoError(t, lc.Start(&name, &okay))
	good := DefaultLoopSettings()
	assert.Error(t, lc.Configure(&good, &okay), "Configure while running should fail")
}

func TestJitteredLoop(t *testing.T) {
	lc, _ := newTestControl(t, nil)
	settings := DefaultLoopSettings()
	settings.TickInterval = time.Millisecond
	settings.JitterCounts = 0.5
	settings.Seed = 7
	settings.RefPPM = 20
	var okay bool
	require.NoError(t, lc.Configure(&settings, &okay))
	name := "lut-12.288MHz"
	require.NoError(t, lc.Start(&name, &okay))
	waitTicks(t, lc, 10)
	assert.Zero(t, status(t, lc).Resyncs)
}

func TestHardwareLUT(t *testing.T) {
	hw := new(regWriter)
	lc, _ := newTestControl(t, hw)
	var okay bool
	name := "lut-12.288MHz"
	require.NoError(t, lc.Start(&name, &okay))
	waitTicks(t, lc, 10)
	assert.True(t, status(t, lc).Hardware)
	require.NoError(t, lc.Stop(nil, &okay))

	hw.mu.Lock()
	defer hw.mu.Unlock()
	require.Greater(t, len(hw.regs), 7)
	for i := 0; i < 5; i++ {
		assert.Equal(t, appll.CtlReg, hw.regs[i], "write %d", i)
	}
	assert.Equal(t, appll.FracNDividerReg, hw.regs[5])
	assert.Equal(t, appll.ClkDividerReg, hw.regs[6])
	for i := 7; i < len(hw.regs); i++ {
		assert.Equal(t, appll.FracNDividerReg, hw.regs[i], "write %d", i)
		assert.Equal(t, uint32(0x80000000), hw.vals[i]&0x80000000, "write %d", i)
	}
}

func TestHardwareSDM(t *testing.T) {
	hw := new(regWriter)
	lc, _ := newTestControl(t, hw)
	var okay bool
	name := "sdm-24.576MHz"
	require.NoError(t, lc.Start(&name, &okay))
	waitTicks(t, lc, 5)
	require.Eventually(t, func() bool {
		return hw.countFrac() > 10
	}, 5*time.Second, time.Millisecond, "SDM task made no writes")
	require.NoError(t, lc.Stop(nil, &okay))
}

func TestHardwareFailure(t *testing.T) {
	hw := &regWriter{failAt: 9}
	lc, sink := newTestControl(t, hw)
	var okay bool
	name := "lut-12.288MHz"
	require.NoError(t, lc.Start(&name, &okay))
	require.Eventually(t, func() bool {
		return status(t, lc).Error != ""
	}, 5*time.Second, time.Millisecond)
	st := status(t, lc)
	assert.False(t, st.Running)
	assert.Contains(t, st.Error, "bus error")
	assert.Error(t, lc.Start(&name, &okay), "a failed loop must be stopped first")
	require.NoError(t, lc.Stop(nil, &okay))
	assert.Eventually(t, func() bool {
		return sink.count("STATUS") >= 3
	}, time.Second, time.Millisecond)
}

func TestTickLog(t *testing.T) {
	lc, _ := newTestControl(t, nil)
	settings := DefaultLoopSettings()
	settings.TickInterval = time.Millisecond
	settings.TickLog = filepath.Join(t.TempDir(), "ticks.txt")
	var okay bool
	require.NoError(t, lc.Configure(&settings, &okay))
	name := "lut-12.288MHz"
	require.NoError(t, lc.Start(&name, &okay))
	waitTicks(t, lc, 5)
	require.NoError(t, lc.Stop(nil, &okay))

	f, err := os.Open(settings.TickLog)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		assert.Len(t, fields, 6, "line %d", lines)
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.GreaterOrEqual(t, lines, 5)
}

func TestServer(t *testing.T) {
	lc, _ := newTestControl(t, nil)
	server, err := newRPCServer(lc)
	require.NoError(t, err)
	serverConn, clientConn := net.Pipe()
	go server.ServeCodec(jsonrpc.NewServerCodec(serverConn))
	client := jsonrpc.NewClient(clientConn)
	defer client.Close()

	var names []string
	require.NoError(t, client.Call("LoopControl.Profiles", "", &names))
	assert.Contains(t, names, "lut-12.288MHz")
	assert.Contains(t, names, "sdm-24.576MHz")

	var okay bool
	err = client.Call("LoopControl.Start", "harrypotter", &okay)
	assert.Error(t, err)
	_, isServerError := err.(rpc.ServerError)
	assert.True(t, isServerError, "expected a server error, got %v", err)

	require.NoError(t, client.Call("LoopControl.Start", "sdm-24.576MHz", &okay))
	assert.True(t, okay)
	waitTicks(t, lc, 3)

	var st LoopStatus
	require.NoError(t, client.Call("LoopControl.Status", "", &st))
	assert.True(t, st.Running)
	assert.Equal(t, "SDM", st.Actuator)
	assert.Contains(t, []swpll.LockStatus{swpll.UnlockedLow, swpll.Locked, swpll.UnlockedHigh}, st.Lock)

	require.NoError(t, client.Call("LoopControl.ResetGains", GainsArgs{Ki: 16}, &okay))
	require.NoError(t, client.Call("LoopControl.Stop", "", &okay))
	require.NoError(t, client.Call("LoopControl.Status", "", &st))
	assert.False(t, st.Running)
	assert.Equal(t, 16.0, st.Ki)
}

func TestTraceFiles(t *testing.T) {
	lc, _ := newTestControl(t, nil)
	settings := DefaultLoopSettings()
	settings.TickInterval = time.Millisecond
	settings.TraceDir = t.TempDir()
	var okay bool
	require.NoError(t, lc.Configure(&settings, &okay))
	name := "sdm-24.576MHz"
	require.NoError(t, lc.Start(&name, &okay))
	waitTicks(t, lc, 5)
	runID := status(t, lc).RunID
	require.NoError(t, lc.Stop(nil, &okay))
	ticks := status(t, lc).Ticks

	f, err := os.Open(filepath.Join(settings.TraceDir, runID+"_ppm.npy"))
	require.NoError(t, err)
	defer f.Close()
	var ppm []float64
	require.NoError(t, npyio.Read(f, &ppm))
	assert.Len(t, ppm, int(ticks))

	for _, column := range []string{"output", "status"} {
		_, err := os.Stat(filepath.Join(settings.TraceDir, runID+"_"+column+".npy"))
		assert.NoError(t, err, column)
	}

	settings.TraceDir = filepath.Join(settings.TraceDir, "missing")
	require.NoError(t, lc.Configure(&settings, &okay))
	assert.Error(t, lc.Start(&name, &okay))
	assert.Error(t, lc.Stop(nil, &okay), "a failed Start leaves nothing running")
}

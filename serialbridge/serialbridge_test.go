package serialbridge

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/swpll"
	"github.com/usnistgov/swpll/appll"
)

// fakeBridge decodes command frames written to it and queues the replies.
type fakeBridge struct {
	regs    map[appll.Register][]uint32
	replies bytes.Buffer
	status  byte // reply status for register writes
	garble  bool
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{regs: make(map[appll.Register][]uint32)}
}

func (f *fakeBridge) Write(p []byte) (int, error) {
	if len(p) < 2 || int(p[1]) != len(p) {
		f.replies.Write([]byte{p[0], AckBadCommand})
		return len(p), nil
	}
	code := p[0]
	if f.garble {
		code++
	}
	switch p[0] {
	case CmdPing:
		f.replies.Write([]byte{code, AckOkay})
	case CmdWriteReg:
		reg := appll.Register(p[2])
		if reg > appll.ClkDividerReg {
			f.replies.Write([]byte{code, AckBadRegister})
			break
		}
		if f.status == AckOkay {
			f.regs[reg] = append(f.regs[reg], binary.LittleEndian.Uint32(p[3:]))
		}
		f.replies.Write([]byte{code, f.status})
	default:
		f.replies.Write([]byte{code, AckBadCommand})
	}
	return len(p), nil
}

func (f *fakeBridge) Read(p []byte) (int, error) {
	return f.replies.Read(p)
}

func TestWriteReg(t *testing.T) {
	dev := newFakeBridge()
	c := New(dev)
	require.NoError(t, c.Ping())
	require.NoError(t, c.WriteReg(appll.FracNDividerReg, 0x80000F16))
	require.NoError(t, c.WriteReg(appll.FracNDividerReg, 0x80000B10))
	assert.Equal(t, []uint32{0x80000F16, 0x80000B10}, dev.regs[appll.FracNDividerReg])
	assert.NoError(t, c.Close())
}

func TestBridgeAsAppPLL(t *testing.T) {
	dev := newFakeBridge()
	c := New(dev)
	require.NoError(t, appll.Init(c, func(time.Duration) {}, 0x0881FA03, 0x8000001E, 0x0F16))
	assert.Len(t, dev.regs[appll.CtlReg], 5)
	assert.Equal(t, []uint32{0x8000001E}, dev.regs[appll.ClkDividerReg])

	var osc swpll.OscillatorWriter = appll.FracWriter{W: c}
	require.NoError(t, osc.WriteFracReg(swpll.FracRegFromSDM(3)))
	assert.Equal(t, []uint32{0x80000F16, 0x80000207}, dev.regs[appll.FracNDividerReg])
}

func TestBridgeErrors(t *testing.T) {
	dev := newFakeBridge()
	dev.status = AckBusError
	c := New(dev)
	err := c.WriteReg(appll.CtlReg, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register bus error")
	assert.Contains(t, err.Error(), "APP_PLL_CTL")

	dev = newFakeBridge()
	c = New(dev)
	assert.ErrorContains(t, c.WriteReg(appll.Register(9), 1), "bad register")

	dev = newFakeBridge()
	dev.garble = true
	c = New(dev)
	assert.ErrorContains(t, c.Ping(), "garbage")

	// No reply at all.
	c = New(&silentPort{})
	err = c.Ping()
	assert.Error(t, err)
}

type silentPort struct{}

var errTimeout = errors.New("timeout")

func (silentPort) Write(p []byte) (int, error) { return len(p), nil }
func (silentPort) Read(p []byte) (int, error)  { return 0, errTimeout }

func TestAckError(t *testing.T) {
	assert.NoError(t, ackError(AckOkay))
	assert.ErrorContains(t, ackError(AckBadCommand), "bad command")
	assert.ErrorContains(t, ackError(200), "unknown error")
}

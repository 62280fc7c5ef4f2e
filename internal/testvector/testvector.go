// Package testvector drives controllers from line-oriented test vectors: each
// input line holds whitespace-separated integers for one tick, and each tick
// produces one output line of integers.
package testvector

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/usnistgov/swpll"
	"github.com/usnistgov/swpll/internal/ticklog"
)

const defaultFlush = 100 * time.Millisecond

// ParseError reports a malformed input line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// scan calls handle with the fields of each non-blank line of r, parsed as
// integers of the given bit size. Every line must hold exactly n fields.
func scan(r io.Reader, n, bits int, handle func(fields []int64) error) error {
	scanner := bufio.NewScanner(r)
	fields := make([]int64, n)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		text := scanner.Text()
		words := strings.Fields(text)
		if len(words) == 0 {
			continue
		}
		if len(words) != n {
			return &ParseError{lineNum, text, fmt.Errorf("want %d fields, got %d", n, len(words))}
		}
		for i, w := range words {
			v, err := strconv.ParseInt(w, 10, bits)
			if err != nil {
				return &ParseError{lineNum, text, err}
			}
			fields[i] = v
		}
		if err := handle(fields); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// RunLUT reads "mclk_pt ref_pt" lines and writes, per line,
// "status reg diff accum accum_accum first_loop".
func RunLUT(ctrl *swpll.Controller, r io.Reader, w io.Writer) error {
	if ctrl.Kind() != swpll.LUTActuator {
		return swpll.ErrNotLUT
	}
	out := ticklog.NewWriter(w, 256, defaultFlush)
	err := scan(r, 2, 17, func(f []int64) error {
		if f[0] < 0 || f[0] > 0xffff || f[1] < 0 || f[1] > 0xffff {
			return fmt.Errorf("port timer samples must be in [0, 65535]: %d %d", f[0], f[1])
		}
		_, status := ctrl.DoControl(uint16(f[0]), uint16(f[1]))
		pfd, pi := ctrl.PFD(), ctrl.PI()
		return out.Tick(int64(status), int64(ctrl.LUT().CurrentRegVal), int64(pfd.MclkDiff),
			int64(pi.ErrorAccum), int64(pi.ErrorAccumAccum), boolInt(ctrl.FirstLoopPending()))
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

// RunSDMControl reads "mclk_diff" lines and writes "error dco_ctl status". The
// detector difference is negated before the controller, as the SDM loop does.
func RunSDMControl(ctrl *swpll.Controller, r io.Reader, w io.Writer) error {
	if ctrl.Kind() != swpll.SDMActuator {
		return fmt.Errorf("controller drives a %v actuator, not SDM", ctrl.Kind())
	}
	out := ticklog.NewWriter(w, 256, defaultFlush)
	err := scan(r, 1, 16, func(f []int64) error {
		res, status := ctrl.DoControlFromError(negate(int16(f[0])))
		return out.Tick(int64(res.Correction), int64(res.Output), int64(status))
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

// RunSDMDCO reads "ds_in" lines and writes "ds_out frac_reg".
func RunSDMDCO(r io.Reader, w io.Writer) error {
	var sd swpll.SigmaDelta
	out := ticklog.NewWriter(w, 256, defaultFlush)
	err := scan(r, 1, 32, func(f []int64) error {
		dsOut := sd.Step(int32(f[0]))
		return out.Tick(int64(dsOut), int64(swpll.FracRegFromSDM(dsOut)))
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func negate(v int16) int16 {
	if v == -32768 {
		return 32767
	}
	return -v
}

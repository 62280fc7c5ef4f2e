package server

import (
	"path/filepath"

	"github.com/usnistgov/swpll"
	"github.com/usnistgov/swpll/internal/npyappend"
	"github.com/usnistgov/swpll/sim"
)

// traceFiles streams the per-tick frequency, output and lock status of a run
// into <dir>/<runID>_<column>.npy.
type traceFiles struct {
	ppm    *npyappend.Appender[float64]
	output *npyappend.Appender[uint32]
	status *npyappend.Appender[swpll.LockStatus]
}

// flushEvery is how many ticks pass between header updates.
const flushEvery = 256

func createTraceFiles(dir, runID string) (*traceFiles, error) {
	name := func(column string) string {
		return filepath.Join(dir, runID+"_"+column+".npy")
	}
	tf := new(traceFiles)
	var err error
	if tf.ppm, err = npyappend.Create[float64](name("ppm")); err != nil {
		return nil, err
	}
	if tf.output, err = npyappend.Create[uint32](name("output")); err != nil {
		tf.ppm.Close()
		return nil, err
	}
	if tf.status, err = npyappend.Create[swpll.LockStatus](name("status")); err != nil {
		tf.ppm.Close()
		tf.output.Close()
		return nil, err
	}
	return tf, nil
}

func (tf *traceFiles) add(s sim.Sample) error {
	if err := tf.ppm.Append(s.PPM); err != nil {
		return err
	}
	if err := tf.output.Append(s.Output); err != nil {
		return err
	}
	if err := tf.status.Append(s.Status); err != nil {
		return err
	}
	if tf.ppm.Len()%flushEvery == 0 {
		return tf.flush()
	}
	return nil
}

func (tf *traceFiles) flush() error {
	for _, f := range []interface{ Flush() error }{tf.ppm, tf.output, tf.status} {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (tf *traceFiles) Close() error {
	var first error
	for _, f := range []interface{ Close() error }{tf.ppm, tf.output, tf.status} {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

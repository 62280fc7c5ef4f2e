package sim

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"
	"github.com/sbinet/npyio"
	"github.com/usnistgov/swpll"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Sample is the record of one control tick.
type Sample struct {
	Call       int // DoControl call number
	Diff       int16
	Correction int32
	Output     uint32
	Hz         float64 // oscillator frequency after the tick
	PPM        float64 // frequency error relative to the reference times the ratio
	Status     swpll.LockStatus
	Resync     bool
}

// Trace holds the column-wise record of a run.
type Trace struct {
	RunID    ulid.ULID
	TargetHz float64

	Call       []int64
	Diff       []int16
	Correction []int32
	Output     []uint32
	Hz         []float64
	PPM        []float64
	Status     []int8
	Resync     []int8
}

func newTrace(capacity int) *Trace {
	return &Trace{
		Call:       make([]int64, 0, capacity),
		Diff:       make([]int16, 0, capacity),
		Correction: make([]int32, 0, capacity),
		Output:     make([]uint32, 0, capacity),
		Hz:         make([]float64, 0, capacity),
		PPM:        make([]float64, 0, capacity),
		Status:     make([]int8, 0, capacity),
		Resync:     make([]int8, 0, capacity),
	}
}

func (t *Trace) add(s Sample) {
	t.Call = append(t.Call, int64(s.Call))
	t.Diff = append(t.Diff, s.Diff)
	t.Correction = append(t.Correction, s.Correction)
	t.Output = append(t.Output, s.Output)
	t.Hz = append(t.Hz, s.Hz)
	t.PPM = append(t.PPM, s.PPM)
	t.Status = append(t.Status, int8(s.Status))
	resync := int8(0)
	if s.Resync {
		resync = 1
	}
	t.Resync = append(t.Resync, resync)
}

// Len returns the number of recorded ticks.
func (t *Trace) Len() int {
	return len(t.Call)
}

// At returns the record of tick i.
func (t *Trace) At(i int) Sample {
	return Sample{
		Call:       int(t.Call[i]),
		Diff:       t.Diff[i],
		Correction: t.Correction[i],
		Output:     t.Output[i],
		Hz:         t.Hz[i],
		PPM:        t.PPM[i],
		Status:     swpll.LockStatus(t.Status[i]),
		Resync:     t.Resync[i] != 0,
	}
}

// Stats summarizes a run.
type Stats struct {
	Ticks         int
	FirstLockTick int // -1 if the loop never locked
	LockedTicks   int
	Resyncs       int
	MeanPPM       float64 // over ticks from the first lock on
	StdDevPPM     float64
	MaxAbsPPM     float64
}

// Stats computes the run summary. Frequency statistics cover the ticks from the
// first lock onwards, or are zero if the loop never locked.
func (t *Trace) Stats() Stats {
	s := Stats{Ticks: t.Len(), FirstLockTick: -1}
	for i, status := range t.Status {
		if swpll.LockStatus(status) == swpll.Locked {
			s.LockedTicks++
			if s.FirstLockTick < 0 {
				s.FirstLockTick = i
			}
		}
		if t.Resync[i] != 0 {
			s.Resyncs++
		}
	}
	if s.FirstLockTick < 0 {
		return s
	}
	ppm := t.PPM[s.FirstLockTick:]
	s.MeanPPM, s.StdDevPPM = stat.MeanStdDev(ppm, nil)
	abs := make([]float64, len(ppm))
	for i, v := range ppm {
		if v < 0 {
			v = -v
		}
		abs[i] = v
	}
	s.MaxAbsPPM = floats.Max(abs)
	return s
}

// WriteNPY writes each column of the trace to dir/<prefix>_<column>.npy.
func (t *Trace) WriteNPY(dir, prefix string) error {
	columns := []struct {
		name string
		data any
	}{
		{"call", t.Call},
		{"diff", t.Diff},
		{"correction", t.Correction},
		{"output", t.Output},
		{"hz", t.Hz},
		{"ppm", t.PPM},
		{"status", t.Status},
		{"resync", t.Resync},
	}
	for _, col := range columns {
		filename := filepath.Join(dir, fmt.Sprintf("%s_%s.npy", prefix, col.name))
		if err := writeColumn(filename, col.data); err != nil {
			return err
		}
	}
	return nil
}

func writeColumn(filename string, data any) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := npyio.Write(f, data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	return f.Close()
}

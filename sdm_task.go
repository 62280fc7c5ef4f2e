package swpll

import (
	"context"
	"fmt"
	"time"
)

// Mailbox carries dco_ctl values from the control loop to an SDMTask. It holds
// at most one value; a new value replaces one that has not been taken yet, so
// the sender never blocks.
type Mailbox struct {
	ch chan int32
}

// NewMailbox returns an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan int32, 1)}
}

// Offer stores v, discarding any value not yet taken. It reports whether an
// older value was discarded. Offer assumes a single sender.
func (m *Mailbox) Offer(v int32) (replaced bool) {
	for {
		select {
		case m.ch <- v:
			return replaced
		default:
		}
		select {
		case <-m.ch:
			replaced = true
		default:
		}
	}
}

// Poll takes the waiting value, if any, without blocking.
func (m *Mailbox) Poll() (int32, bool) {
	select {
	case v := <-m.ch:
		return v, true
	default:
		return 0, false
	}
}

// SDMTask runs the sigma-delta modulator at a fixed period and writes each
// output to the oscillator.
type SDMTask struct {
	Period time.Duration
	Writer OscillatorWriter

	modulator SigmaDelta
	writes    uint64
}

// NewSDMTask returns a task writing to w every period.
func NewSDMTask(period time.Duration, w OscillatorWriter) *SDMTask {
	return &SDMTask{Period: period, Writer: w}
}

// Writes returns how many register writes Run has made. Only valid after Run returns.
func (t *SDMTask) Writes() uint64 {
	return t.writes
}

// Run modulates the latest value from mb until ctx is done. It does nothing
// until ready is closed, so it cannot race the routine that first programs the
// oscillator, and it writes nothing until the first value arrives. A nil ready
// channel means the oscillator is already programmed.
func (t *SDMTask) Run(ctx context.Context, mb *Mailbox, ready <-chan struct{}) error {
	if ready != nil {
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ticker := time.NewTicker(t.Period)
	defer ticker.Stop()

	var dsIn int32
	haveInput := false
	for {
		if v, ok := mb.Poll(); ok {
			dsIn = v
			haveInput = true
		}

		// Compute the next value before the tick so the write lands on time.
		var frac uint32
		if haveInput {
			frac = FracRegFromSDM(t.modulator.Step(dsIn))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if haveInput {
			if err := t.Writer.WriteFracReg(frac); err != nil {
				return fmt.Errorf("SDM task register write %d: %w", t.writes, err)
			}
			t.writes++
		}
	}
}

package swpll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox(t *testing.T) {
	mb := NewMailbox()
	_, ok := mb.Poll()
	assert.False(t, ok)

	assert.False(t, mb.Offer(1))
	assert.True(t, mb.Offer(2))
	assert.True(t, mb.Offer(3))
	v, ok := mb.Poll()
	assert.True(t, ok)
	assert.Equal(t, int32(3), v, "latest value wins")
	_, ok = mb.Poll()
	assert.False(t, ok)
}

// chanOscillator forwards each write to a channel.
type chanOscillator chan uint32

func (c chanOscillator) WriteFracReg(val uint32) error {
	c <- val
	return nil
}

func TestSDMTaskWaitsForReady(t *testing.T) {
	osc := make(chanOscillator, 1000)
	task := NewSDMTask(time.Millisecond, osc)
	mb := NewMailbox()
	ready := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- task.Run(ctx, mb, ready) }()

	mb.Offer(478151)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, osc, "no writes before the oscillator is programmed")

	close(ready)
	var sd SigmaDelta
	for i := 0; i < 20; i++ {
		select {
		case got := <-osc:
			assert.Equal(t, FracRegFromSDM(sd.Step(478151)), got, "write %d", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for write %d", i)
		}
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.GreaterOrEqual(t, task.Writes(), uint64(20))
}

func TestSDMTaskWaitsForFirstValue(t *testing.T) {
	osc := make(chanOscillator, 1000)
	task := NewSDMTask(time.Millisecond, osc)
	mb := NewMailbox()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() { done <- task.Run(ctx, mb, nil) }()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, osc, "no writes before the first control value")

	mb.Offer(SDMUpperLimit)
	select {
	case got := <-osc:
		var sd SigmaDelta
		assert.Equal(t, FracRegFromSDM(sd.Step(SDMUpperLimit)), got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the first write")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSDMTaskCancelBeforeReady(t *testing.T) {
	task := NewSDMTask(time.Millisecond, make(chanOscillator, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := task.Run(ctx, NewMailbox(), make(chan struct{}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(0), task.Writes())
}

func TestSDMTaskWriteError(t *testing.T) {
	errBus := errors.New("bus error")
	calls := 0
	w := OscillatorWriterFunc(func(val uint32) error {
		calls++
		if calls == 3 {
			return errBus
		}
		return nil
	})
	task := NewSDMTask(time.Millisecond, w)
	mb := NewMailbox()
	mb.Offer(300000)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := task.Run(ctx, mb, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBus)
	assert.Equal(t, uint64(2), task.Writes())
}

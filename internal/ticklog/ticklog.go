// Package ticklog writes one text line per control tick from a background
// goroutine, so the goroutine running the loop does not wait on I/O.
package ticklog

import (
	"bufio"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Writer moves lines through a channel to a buffered writer owned by its
// write loop. It is flushed on a timer, on Flush and on Close.
type Writer struct {
	writer        *bufio.Writer
	lines         chan []byte
	flushNow      chan struct{}
	flushComplete chan error
	flushInterval time.Duration
	dropped       atomic.Uint64
	closeOnce     sync.Once
	err           error // first write error, owned by writeLoop
}

// NewWriter creates a Writer holding up to depth lines in flight.
func NewWriter(w io.Writer, depth int, flushInterval time.Duration) *Writer {
	tw := &Writer{
		writer:        bufio.NewWriter(w),
		lines:         make(chan []byte, depth),
		flushNow:      make(chan struct{}),
		flushComplete: make(chan error),
		flushInterval: flushInterval,
	}
	go tw.writeLoop()
	return tw
}

// Write queues a copy of p, blocking while the queue is full.
func (tw *Writer) Write(p []byte) (int, error) {
	tw.lines <- append([]byte(nil), p...)
	return len(p), nil
}

// TryWrite queues a copy of p without blocking. A full queue drops the line
// and counts it.
func (tw *Writer) TryWrite(p []byte) (int, error) {
	select {
	case tw.lines <- append([]byte(nil), p...):
		return len(p), nil
	default:
		tw.dropped.Add(1)
		return 0, io.ErrShortWrite
	}
}

// Tick queues the values as one space-separated line, blocking while the queue is full.
func (tw *Writer) Tick(values ...int64) error {
	_, err := tw.Write(FormatLine(values...))
	return err
}

// FormatLine renders values as decimal integers separated by spaces, ending in a newline.
func FormatLine(values ...int64) []byte {
	line := make([]byte, 0, 12*len(values)+1)
	for i, v := range values {
		if i > 0 {
			line = append(line, ' ')
		}
		line = strconv.AppendInt(line, v, 10)
	}
	return append(line, '\n')
}

// Dropped returns the number of lines TryWrite discarded.
func (tw *Writer) Dropped() uint64 {
	return tw.dropped.Load()
}

// Flush writes every queued line and returns the first error the underlying
// writer reported, if any.
func (tw *Writer) Flush() error {
	tw.flushNow <- struct{}{}
	return <-tw.flushComplete
}

// Close flushes and stops the write loop. Writing after Close panics.
func (tw *Writer) Close() error {
	var err error
	tw.closeOnce.Do(func() {
		close(tw.flushNow)
		err = <-tw.flushComplete
	})
	return err
}

func (tw *Writer) writeLoop() {
	ticker := time.NewTicker(tw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case line := <-tw.lines:
			tw.write(line)

		case _, ok := <-tw.flushNow:
			tw.flush()
			tw.flushComplete <- tw.err
			if !ok {
				return
			}

		case <-ticker.C:
			tw.flush()
		}
	}
}

func (tw *Writer) write(line []byte) {
	if _, err := tw.writer.Write(line); err != nil && tw.err == nil {
		tw.err = err
	}
}

// flush drains the queue before flushing the buffered writer.
func (tw *Writer) flush() {
	for {
		select {
		case line := <-tw.lines:
			tw.write(line)
		default:
			if err := tw.writer.Flush(); err != nil && tw.err == nil {
				tw.err = err
			}
			return
		}
	}
}

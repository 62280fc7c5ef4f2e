package plldb

import "sync/atomic"

// eventQueue connects a producer that must never wait on the database to a
// slow consumer. Values go in through In and come out of Out in order. When
// more than limit values are waiting, the oldest is discarded.
type eventQueue[T any] struct {
	in      chan T
	out     chan T
	queue   []T
	limit   int
	dropped atomic.Int64
}

func newEventQueue[T any](limit int) *eventQueue[T] {
	q := &eventQueue[T]{
		in:    make(chan T),
		out:   make(chan T),
		limit: limit,
	}
	go q.run()
	return q
}

func (q *eventQueue[T]) push(v T) {
	q.queue = append(q.queue, v)
	if q.limit > 0 && len(q.queue) > q.limit {
		q.queue = q.queue[1:]
		q.dropped.Add(1)
	}
}

func (q *eventQueue[T]) run() {
	for {
		if len(q.queue) == 0 {
			v, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			q.push(v)
			continue
		}
		select {
		case q.out <- q.queue[0]:
			q.queue = q.queue[1:]
		case v, ok := <-q.in:
			if !ok {
				// Drain what is waiting, then close the output.
				for _, item := range q.queue {
					q.out <- item
				}
				close(q.out)
				return
			}
			q.push(v)
		}
	}
}

// In returns the input channel. Close it when done.
func (q *eventQueue[T]) In() chan<- T {
	return q.in
}

// Out returns the output channel, closed after In is closed and drained.
func (q *eventQueue[T]) Out() <-chan T {
	return q.out
}

// Dropped returns how many values were discarded to respect the limit.
func (q *eventQueue[T]) Dropped() int64 {
	return q.dropped.Load()
}

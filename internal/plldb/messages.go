package plldb

import (
	"time"

	"github.com/usnistgov/swpll"
)

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the swpllactivity table: one row per
// server process.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// RunMessage is the information for the loopruns table: one row per started loop.
type RunMessage struct {
	ID            string
	ActivityID    string
	Profile       string
	Actuator      string
	Kp, Ki, Kii   float64
	LoopRateCount int
	PLLRatio      int
	PPMRange      int
	Start         time.Time
	End           time.Time
}

// LockEventMessage is one lock status transition, for the lockevents table.
type LockEventMessage struct {
	RunID  string
	Tick   int64
	From   swpll.LockStatus
	To     swpll.LockStatus
	Diff   int16
	Output uint32
	Time   time.Time
}

// LockTracker turns a stream of per-tick lock statuses into transitions.
type LockTracker struct {
	RunID string
	last  swpll.LockStatus
	seen  bool
}

// Observe records the status after a control tick and returns an event when it
// differs from the previous tick. The first observation is always an event.
func (lt *LockTracker) Observe(tick int64, r swpll.TickResult, status swpll.LockStatus) (*LockEventMessage, bool) {
	if lt.seen && status == lt.last {
		return nil, false
	}
	from := lt.last
	if !lt.seen {
		from = status
	}
	lt.last = status
	lt.seen = true
	return &LockEventMessage{
		RunID:  lt.RunID,
		Tick:   tick,
		From:   from,
		To:     status,
		Diff:   r.Diff,
		Output: r.Output,
		Time:   time.Now(),
	}, true
}

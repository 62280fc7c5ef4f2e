// Package plldb records software PLL activity, loop runs and lock transitions
// in a ClickHouse database. Every method is a no-op on a connection that
// failed to open, so callers need not check.
package plldb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Connection is a handle on the database. Inserts happen on one goroutine,
// started by Start.
type Connection struct {
	conn     clickhouse.Conn
	mu       sync.Mutex // protects err
	err      error
	activity *ActivityMessage
	runmsg   chan *RunMessage
	events   *eventQueue[*LockEventMessage]
	sync.WaitGroup
}

const (
	databaseName = "swpll" // SQL name of the database
	defaultAddr  = "localhost:9000"
	eventLimit   = 10000 // lock events held while the server is slow
	timeFormat   = "2006-01-02 15:04:05.000000"
)

// IsConnected reports whether the connection opened and has not failed since.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.Err() == nil)
}

// Err returns the error that closed the connection, if any.
func (db *Connection) Err() error {
	if db == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.err
}

func (db *Connection) setErr(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.err == nil {
		db.err = err
	}
}

// Options returns the client options, with credentials and address taken from
// SWPLL_DB_USER, SWPLL_DB_PASSWORD and SWPLL_DB_ADDR.
func Options(version string) *clickhouse.Options {
	addr := os.Getenv("SWPLL_DB_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	return &clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: os.Getenv("SWPLL_DB_USER"),
			Password: os.Getenv("SWPLL_DB_PASSWORD"),
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "swpll", Version: version},
			},
		},
		DialTimeout: 5 * time.Second,
	}
}

// PingServer opens a connection, reports the server version and closes it.
func PingServer(version string) (string, error) {
	db := open(Options(version))
	if !db.IsConnected() {
		return "", fmt.Errorf("database is not connected: %w", db.Err())
	}
	defer db.conn.Close()
	v, err := db.conn.ServerVersion()
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

// Start opens the database, records the activity row and starts the insert
// goroutine, which runs until abort is closed. Call Wait to block until the
// final activity row is written.
func Start(activity *ActivityMessage, abort <-chan struct{}) *Connection {
	db := open(Options(activity.Version))
	db.activity = activity
	if !db.IsConnected() {
		return db
	}
	db.logActivity()
	db.Add(1)
	go db.handleConnection(abort)
	return db
}

// Dummy returns a connection that records nothing.
func Dummy() *Connection {
	return &Connection{}
}

func open(opt *clickhouse.Options) *Connection {
	db := &Connection{}
	conn, err := clickhouse.Open(opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn

	ctx, cancel := context.WithTimeout(context.Background(), opt.DialTimeout)
	defer cancel()
	if err = conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			err = fmt.Errorf("exception [%d] %s: %w", exception.Code, exception.Message, err)
		}
		db.err = err
		conn.Close()
		return db
	}
	db.runmsg = make(chan *RunMessage)
	db.events = newEventQueue[*LockEventMessage](eventLimit)
	return db
}

func (db *Connection) logActivity() {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	a := db.activity
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO swpllactivity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		a.ID, a.Hostname, a.Githash, a.Version, a.GoVersion, a.CPUs,
		a.Start.Format(timeFormat), a.End.Format(timeFormat),
	); err != nil {
		db.setErr(fmt.Errorf("insert into swpllactivity: %w", err))
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.disconnect()
			return
		case m := <-db.runmsg:
			db.insertRun(m)
		case e, ok := <-db.events.Out():
			if ok {
				db.insertLockEvent(e)
			}
		}
	}
}

func (db *Connection) disconnect() {
	close(db.events.In())
	for e := range db.events.Out() {
		db.insertLockEvent(e)
	}
	if db.IsConnected() {
		db.activity.End = time.Now()
		db.logActivity()
	}
	db.conn.Close()
}

// RecordRun stores the start of a loop run. It blocks until the insert
// goroutine accepts the message, so the run row always precedes its lock events.
func (db *Connection) RecordRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	if msg.ActivityID == "" && db.activity != nil {
		msg.ActivityID = db.activity.ID
	}
	db.runmsg <- msg
}

// FinishRun stores the end time of a run.
func (db *Connection) FinishRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.End = time.Now()
	go func() { db.runmsg <- msg }()
}

// RecordLockEvent queues a lock transition. It never waits on the database.
// Do not call it after closing the abort channel passed to Start.
func (db *Connection) RecordLockEvent(msg *LockEventMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	db.events.In() <- msg
}

// DroppedEvents returns how many lock events were discarded while the
// database fell behind.
func (db *Connection) DroppedEvents() int64 {
	if db == nil || db.events == nil {
		return 0
	}
	return db.events.Dropped()
}

func (db *Connection) insertRun(m *RunMessage) {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO loopruns VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, m.ActivityID, m.Profile, m.Actuator, m.Kp, m.Ki, m.Kii,
		m.LoopRateCount, m.PLLRatio, m.PPMRange,
		m.Start.Format(timeFormat), m.End.Format(timeFormat),
	); err != nil {
		db.setErr(fmt.Errorf("insert into loopruns: %w", err))
	}
}

func (db *Connection) insertLockEvent(e *LockEventMessage) {
	if !db.IsConnected() {
		return
	}
	const nowait = true
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO lockevents VALUES (?, ?, ?, ?, ?, ?, ?)`, nowait,
		e.RunID, e.Tick, int8(e.From), int8(e.To), e.Diff, e.Output,
		e.Time.Format(timeFormat),
	); err != nil {
		db.setErr(fmt.Errorf("insert into lockevents: %w", err))
	}
}

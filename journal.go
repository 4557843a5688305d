package main

import (
	"sync"
	"time"
)

// Journal event types
const (
	EvtConnect     = "connect"
	EvtLogin       = "login"
	EvtLoginFailed = "login_failed"
	EvtSpawn       = "spawn"
	EvtDespawn     = "despawn"
	EvtDisconnect  = "disconnect"
)

const (
	journalBuffer     = 1024
	journalBatchSize  = 50
	journalFlushEvery = 5 * time.Second
)

// AuditEvent is a single connection lifecycle event
type AuditEvent struct {
	Type      string
	SessionID string
	Username  string
	Data      string
	Timestamp time.Time
}

// Journal records lifecycle events with batched background writes. A nil
// *Journal accepts and discards events.
type Journal struct {
	db     *DB
	events chan AuditEvent
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewJournal creates and starts the background writer
func NewJournal(db *DB) *Journal {
	j := &Journal{
		db:     db,
		events: make(chan AuditEvent, journalBuffer),
		stop:   make(chan struct{}),
	}
	j.wg.Add(1)
	go j.writer()
	return j
}

// Track enqueues an event (non-blocking). It is called with the world lock
// held, so a full buffer drops the event.
func (j *Journal) Track(evtType, sessionID, username, data string) {
	if j == nil {
		return
	}
	select {
	case j.events <- AuditEvent{
		Type:      evtType,
		SessionID: sessionID,
		Username:  username,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}:
	default:
	}
}

// Stop drains pending events and waits for the writer to exit
func (j *Journal) Stop() {
	if j == nil {
		return
	}
	close(j.stop)
	j.wg.Wait()
}

// EventCounts returns counts per event type for the last N days
func (j *Journal) EventCounts(days int) (map[string]int, error) {
	if j == nil {
		return nil, nil
	}
	return j.db.EventCounts(days)
}

func (j *Journal) writer() {
	defer j.wg.Done()

	batch := make([]AuditEvent, 0, journalBatchSize)
	ticker := time.NewTicker(journalFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case evt := <-j.events:
			batch = append(batch, evt)
			if len(batch) >= journalBatchSize {
				j.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				j.flush(batch)
				batch = batch[:0]
			}
		case <-j.stop:
			for {
				select {
				case evt := <-j.events:
					batch = append(batch, evt)
				default:
					j.flush(batch)
					return
				}
			}
		}
	}
}

func (j *Journal) flush(events []AuditEvent) {
	if len(events) == 0 {
		return
	}
	if err := j.db.InsertEvents(events); err != nil {
		Log.Errorf("journal: writing %d events: %v", len(events), err)
	}
}

// RecentEvents returns the newest persisted events
func (j *Journal) RecentEvents(limit int) ([]AuditRow, error) {
	if j == nil {
		return nil, nil
	}
	return j.db.RecentEvents(limit)
}

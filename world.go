package main

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

// Outbound is the send side of one connection. Send must not block: it
// returns false when the message was dropped. Close tears the connection down
// so its read loop ends and runs the normal cleanup.
type Outbound interface {
	Send(msg Msg) bool
	Close()
}

// ConnectionEntry is the registry record for one live connection
type ConnectionEntry struct {
	out      Outbound
	lastPing time.Time
}

// World is the shared game state. One mutex guards every field below it;
// command handling, the movement ticker and the liveness supervisor all
// serialize through it.
type World struct {
	cfg        *Config
	wmap       *WorldMap
	privileged map[string]bool

	now     func() time.Time
	rng     *rand.Rand
	metrics *Metrics
	journal *Journal

	mu         sync.Mutex
	units      map[int]*Unit
	order      []int // live unit ids, ascending
	occupancy  *Occupancy
	conns      map[int]*ConnectionEntry
	nextUnitID int
	nextConnID int
}

// WorldOpt configures optional World collaborators
type WorldOpt func(*World)

// WithClock replaces time.Now, for deterministic tests
func WithClock(now func() time.Time) WorldOpt {
	return func(w *World) { w.now = now }
}

// WithRand sets the spawn point RNG
func WithRand(r *rand.Rand) WorldOpt {
	return func(w *World) { w.rng = r }
}

// WithJournal records lifecycle events to the audit journal
func WithJournal(j *Journal) WorldOpt {
	return func(w *World) { w.journal = j }
}

// NewWorld creates an empty world on the given map
func NewWorld(cfg *Config, wmap *WorldMap, opts ...WorldOpt) *World {
	w := &World{
		cfg:        cfg,
		wmap:       wmap,
		privileged: make(map[string]bool, len(cfg.Privileged)),
		now:        time.Now,
		metrics:    NewMetrics(),
		units:      make(map[int]*Unit),
		occupancy:  NewOccupancy(wmap),
		conns:      make(map[int]*ConnectionEntry),
	}
	for _, name := range cfg.Privileged {
		w.privileged[name] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Metrics returns the world's metrics sink
func (w *World) Metrics() *Metrics { return w.metrics }

// Connect registers a new connection and returns its per-connection state
func (w *World) Connect(out Outbound, remoteAddr string) *Session {
	w.mu.Lock()
	w.nextConnID++
	connID := w.nextConnID
	w.conns[connID] = &ConnectionEntry{out: out, lastPing: w.now()}
	w.mu.Unlock()

	w.metrics.IncConnections()
	sess := NewSession(connID, remoteAddr)
	w.journal.Track(EvtConnect, sess.ID, "", remoteAddr)
	return sess
}

// Disconnect removes every unit the connection owns, broadcasting each
// removal, then drops the connection from the registry.
func (w *World) Disconnect(sess *Session) {
	w.mu.Lock()
	for _, id := range slices.Clone(sess.owned) {
		sess.detach(id)
		w.removeUnitLocked(id)
		w.journal.Track(EvtDespawn, sess.ID, sess.Username, fmt.Sprintf("unit=%d", id))
	}
	delete(w.conns, sess.ConnID)
	w.mu.Unlock()

	w.journal.Track(EvtDisconnect, sess.ID, sess.Username, "")
}

// Unit returns a copy of a live unit
func (w *World) Unit(id int) (Unit, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	u, ok := w.units[id]
	if !ok {
		return Unit{}, false
	}
	return *u, true
}

// OccupantsAt returns a copy of the unit ids standing on (x,y)
func (w *World) OccupantsAt(x, y int) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.wmap.InBounds(x, y) {
		return nil
	}
	return slices.Clone(w.occupancy.At(x, y))
}

// WorldStats is a consistent snapshot for the admin endpoint
type WorldStats struct {
	Width       int  `json:"width"`
	Height      int  `json:"height"`
	Units       int  `json:"units"`
	Moving      int  `json:"moving"`
	Connections int  `json:"connections"`
	LastUnitID  int  `json:"last_unit_id"`
	Consistent  bool `json:"consistent"`
}

// Stats snapshots the registry sizes under the lock
func (w *World) Stats() WorldStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := WorldStats{
		Width:       w.wmap.Width,
		Height:      w.wmap.Height,
		Units:       len(w.units),
		Connections: len(w.conns),
		LastUnitID:  w.nextUnitID,
		Consistent:  w.checkLocked() == nil,
	}
	for _, u := range w.units {
		if !u.Speed.IsZero() {
			s.Moving++
		}
	}
	return s
}

// CheckInvariants verifies that every live unit appears exactly once in the
// occupancy index, on its own tile, and nothing else does.
func (w *World) CheckInvariants() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checkLocked()
}

func (w *World) checkLocked() error {
	if n := w.occupancy.Count(); n != len(w.units) {
		return fmt.Errorf("occupancy has %d entries for %d units", n, len(w.units))
	}
	for id, u := range w.units {
		seen := 0
		for _, v := range w.occupancy.At(u.X, u.Y) {
			if v == id {
				seen++
			}
		}
		if seen != 1 {
			return fmt.Errorf("unit %d listed %d times on its tile (%d,%d)", id, seen, u.X, u.Y)
		}
	}
	if len(w.order) != len(w.units) {
		return fmt.Errorf("order has %d ids for %d units", len(w.order), len(w.units))
	}
	return nil
}

// addUnitLocked registers u in the registry and the occupancy index
func (w *World) addUnitLocked(u *Unit) {
	w.units[u.ID] = u
	w.order = append(w.order, u.ID)
	w.occupancy.Add(u.X, u.Y, u.ID)
}

// removeUnitLocked deletes a unit and broadcasts its removal
func (w *World) removeUnitLocked(id int) bool {
	u, ok := w.units[id]
	if !ok {
		return false
	}
	w.occupancy.Remove(u.X, u.Y, id)
	delete(w.units, id)
	if i, found := slices.BinarySearch(w.order, id); found {
		w.order = slices.Delete(w.order, i, i+1)
	}
	w.broadcastLocked(Msg{Cmd: MsgRemove, ID: intPtr(id)})
	return true
}

func (w *World) isPrivileged(username string) bool {
	return w.privileged[username]
}

func (w *World) spawnPoint() Vec {
	points := w.wmap.SpawnPoints
	if w.rng != nil {
		return points[w.rng.IntN(len(points))]
	}
	return points[rand.IntN(len(points))]
}

// deliver enqueues one message, counting drops
func (w *World) deliver(out Outbound, msg Msg) {
	if !out.Send(msg) {
		w.metrics.IncDropped()
	}
}

// broadcastLocked sends msg to every registered connection
func (w *World) broadcastLocked(msg Msg) {
	for _, c := range w.conns {
		w.deliver(c.out, msg)
	}
}

// recipientsLocked snapshots the registered outbound handles
func (w *World) recipientsLocked() []Outbound {
	outs := make([]Outbound, 0, len(w.conns))
	for _, c := range w.conns {
		outs = append(outs, c.out)
	}
	return outs
}

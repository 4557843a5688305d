package main

import (
	"sync/atomic"
)

// Metrics records runtime counters for the admin endpoint
type Metrics struct {
	TickCount     int64 // movement passes run
	TotalTickNs   int64 // cumulative pass duration
	Moves         int64 // timed steps and warps
	Warps         int64
	Commands      int64 // inbound commands handled
	CommandErrors int64 // commands that closed their connection
	Dropped       int64 // outbound messages dropped on a full queue
	Connections   int64 // connections accepted since start
	Kicked        int64 // connections closed by the liveness supervisor
}

// NewMetrics creates a zeroed metrics sink
func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) IncCommands()      { atomic.AddInt64(&m.Commands, 1) }
func (m *Metrics) IncCommandErrors() { atomic.AddInt64(&m.CommandErrors, 1) }
func (m *Metrics) IncDropped()       { atomic.AddInt64(&m.Dropped, 1) }
func (m *Metrics) IncConnections()   { atomic.AddInt64(&m.Connections, 1) }
func (m *Metrics) IncKicked()        { atomic.AddInt64(&m.Kicked, 1) }

// AddTick records one movement pass
func (m *Metrics) AddTick(ns int64, moves, warps int) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
	atomic.AddInt64(&m.Moves, int64(moves))
	atomic.AddInt64(&m.Warps, int64(warps))
}

// Snapshot returns a read-only copy for HTTP output
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":     tick,
		"avg_tick_ms":    avgMs,
		"moves":          atomic.LoadInt64(&m.Moves),
		"warps":          atomic.LoadInt64(&m.Warps),
		"commands":       atomic.LoadInt64(&m.Commands),
		"command_errors": atomic.LoadInt64(&m.CommandErrors),
		"dropped_sends":  atomic.LoadInt64(&m.Dropped),
		"connections":    atomic.LoadInt64(&m.Connections),
		"kicked":         atomic.LoadInt64(&m.Kicked),
	}
}

package main

import (
	"context"
	"time"
)

// RunSupervisor closes stale connections every interval until ctx is cancelled
func (w *World) RunSupervisor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := w.Sweep(w.now()); n > 0 {
				Log.Infof("liveness: closed %d stale connections", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep force-closes every connection whose last ping is at least the
// configured timeout old. Registry cleanup is left to the connection's own
// read loop, which observes the closed socket.
func (w *World) Sweep(now time.Time) int {
	timeout := w.cfg.PingTimeoutDuration()

	w.mu.Lock()
	var stale []Outbound
	for _, c := range w.conns {
		if now.Sub(c.lastPing) >= timeout {
			stale = append(stale, c.out)
		}
	}
	w.mu.Unlock()

	for _, out := range stale {
		out.Close()
		w.metrics.IncKicked()
	}
	return len(stale)
}

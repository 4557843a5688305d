package main

import (
	"context"
	"time"
)

// RunTicker advances moving units every interval until ctx is cancelled
func (w *World) RunTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Step(w.now())
		case <-ctx.Done():
			return
		}
	}
}

// Step runs one movement pass at time now and returns the number of units
// that moved. Moves are broadcast after the lock is released, to the
// connections registered when the pass ran.
func (w *World) Step(now time.Time) int {
	start := time.Now()

	w.mu.Lock()
	var moves []Msg
	warps := 0
	for _, id := range w.order {
		msg, warped, ok := w.advanceLocked(w.units[id], now)
		if !ok {
			continue
		}
		if warped {
			warps++
		}
		moves = append(moves, msg)
	}
	var recipients []Outbound
	if len(moves) > 0 {
		recipients = w.recipientsLocked()
	}
	w.mu.Unlock()

	for _, msg := range moves {
		for _, out := range recipients {
			w.deliver(out, msg)
		}
	}

	w.metrics.AddTick(time.Since(start).Nanoseconds(), len(moves), warps)
	return len(moves)
}

// advanceLocked moves u one tile along its speed if it is off cooldown and
// the step is allowed. A warp trigger on the next tile overrides both the
// destination and the vacancy check; the last registered trigger wins.
func (w *World) advanceLocked(u *Unit, now time.Time) (Msg, bool, bool) {
	if u.Speed.IsZero() || u.Cooldown.After(now) {
		return Msg{}, false, false
	}

	nx, ny := u.X+u.Speed.X, u.Y+u.Speed.Y
	if !w.wmap.InBounds(nx, ny) {
		return Msg{}, false, false
	}

	speed := w.cfg.UnitSpeed
	warped := false
	for _, t := range w.wmap.TriggersAt(nx, ny) {
		nx, ny = t.TargetX, t.TargetY
		speed = 0
		warped = true
	}

	if !warped && !w.wmap.IsVacant(nx, ny) {
		return Msg{}, false, false
	}
	if !w.wmap.InBounds(nx, ny) {
		return Msg{}, false, false
	}

	w.occupancy.Move(u.X, u.Y, nx, ny, u.ID)
	u.X, u.Y = nx, ny
	u.Cooldown = now.Add(w.cfg.CooldownDuration())

	return Msg{
		Cmd:   MsgMove,
		ID:    intPtr(u.ID),
		X:     intPtr(u.X),
		Y:     intPtr(u.Y),
		Speed: intPtr(speed),
	}, warped, true
}

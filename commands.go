package main

import (
	"fmt"
)

// HandleCommand validates and applies one inbound command for sess. The world
// lock is held for validation, mutation and message emission. Any returned
// error is fatal for the connection.
func (w *World) HandleCommand(sess *Session, msg Msg) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.metrics.IncCommands()
	err := w.dispatchLocked(sess, msg)
	if err != nil {
		w.metrics.IncCommandErrors()
	}
	return err
}

func (w *World) dispatchLocked(sess *Session, msg Msg) error {
	switch msg.Cmd {
	case CmdLogin:
		return w.handleLogin(sess, msg)
	case CmdStart:
		return w.handleStart(sess, msg)
	case CmdSpeed:
		return w.handleSpeed(sess, msg)
	case CmdClick:
		return w.handleClick(sess, msg)
	case CmdRemove:
		return w.handleRemove(sess, msg)
	case CmdChat:
		return w.handleChat(sess, msg)
	case CmdURL:
		return w.handleURL(sess, msg)
	case CmdPing:
		return w.handlePing(sess)
	case CmdClose:
		return ErrClosed
	}
	// Unknown commands are ignored so older servers tolerate newer clients
	return nil
}

func (w *World) handleLogin(sess *Session, msg Msg) error {
	if msg.Name == nil || msg.Signature == nil {
		return fmt.Errorf("%w: name and signature must be provided", ErrValidation)
	}
	if !VerifySignature(*msg.Name, *msg.Signature, w.cfg.Key) {
		w.journal.Track(EvtLoginFailed, sess.ID, *msg.Name, sess.RemoteAddr)
		return fmt.Errorf("%w: invalid signature for %q", ErrAuth, *msg.Name)
	}
	sess.Username = *msg.Name
	sess.loggedIn = true
	w.journal.Track(EvtLogin, sess.ID, sess.Username, sess.RemoteAddr)
	return nil
}

func (w *World) handleStart(sess *Session, msg Msg) error {
	if !sess.loggedIn {
		return fmt.Errorf("%w: log in first", ErrAuth)
	}

	spawn := w.spawnPoint()
	u := &Unit{
		X:        spawn.X,
		Y:        spawn.Y,
		Cooldown: w.now(),
		Name:     sess.Username,
		Img:      w.cfg.DefaultImg,
	}

	if w.isPrivileged(sess.Username) {
		if msg.X != nil && msg.Y != nil {
			if !w.wmap.InBounds(*msg.X, *msg.Y) {
				return fmt.Errorf("%w: spawn (%d,%d) outside map", ErrValidation, *msg.X, *msg.Y)
			}
			u.X, u.Y = *msg.X, *msg.Y
		}
		if msg.Img != nil {
			u.Img = *msg.Img
		}
		if msg.Text != nil {
			u.Text = *msg.Text
		}
		if msg.Style != nil {
			u.Style = *msg.Style
		}
	}

	// Allocate only after validation so a rejected override burns no id
	w.nextUnitID++
	u.ID = w.nextUnitID

	w.addUnitLocked(u)
	sess.attach(u.ID)
	w.journal.Track(EvtSpawn, sess.ID, sess.Username, fmt.Sprintf("unit=%d x=%d y=%d", u.ID, u.X, u.Y))

	self := w.conns[sess.ConnID]
	if self != nil {
		w.deliver(self.out, Msg{Cmd: MsgYou, ID: intPtr(u.ID)})
		for _, id := range w.order {
			if id == u.ID {
				continue
			}
			w.deliver(self.out, w.units[id].ToMsg())
		}
	}
	w.broadcastLocked(u.ToMsg())
	return nil
}

// ownedUnit resolves msg.id to a unit the session may command
func (w *World) ownedUnit(sess *Session, msg Msg) (*Unit, error) {
	if msg.ID == nil {
		return nil, fmt.Errorf("%w: id must be provided", ErrValidation)
	}
	id := *msg.ID
	if !sess.Owns(id) {
		return nil, fmt.Errorf("%w: unit %d is not yours", ErrPermission, id)
	}
	u, ok := w.units[id]
	if !ok {
		return nil, fmt.Errorf("%w: unit %d", ErrNotFound, id)
	}
	return u, nil
}

func (w *World) handleSpeed(sess *Session, msg Msg) error {
	if msg.X == nil || msg.Y == nil {
		return fmt.Errorf("%w: speed needs x and y", ErrValidation)
	}
	speed := Vec{X: *msg.X, Y: *msg.Y}
	// Bound each component first so abs and the sum cannot overflow
	if speed.X < -1 || speed.X > 1 || speed.Y < -1 || speed.Y > 1 || abs(speed.X)+abs(speed.Y) > 1 {
		return fmt.Errorf("%w: invalid speed (%d,%d)", ErrValidation, speed.X, speed.Y)
	}
	u, err := w.ownedUnit(sess, msg)
	if err != nil {
		return err
	}
	u.Speed = speed
	if !speed.IsZero() {
		u.Direction = speed
	}
	return nil
}

func (w *World) handleClick(sess *Session, msg Msg) error {
	u, err := w.ownedUnit(sess, msg)
	if err != nil {
		return err
	}
	if u.Direction.IsZero() {
		return nil
	}
	fx, fy := u.X+u.Direction.X, u.Y+u.Direction.Y
	if !w.wmap.InBounds(fx, fy) {
		return nil
	}
	for _, other := range w.occupancy.At(fx, fy) {
		w.broadcastLocked(Msg{Cmd: MsgCall, X: intPtr(u.ID), Y: intPtr(other)})
	}
	return nil
}

func (w *World) handleRemove(sess *Session, msg Msg) error {
	if msg.ID == nil {
		return fmt.Errorf("%w: no unit id provided", ErrValidation)
	}
	id := *msg.ID
	if !sess.detach(id) {
		return fmt.Errorf("%w: unit %d is not yours", ErrPermission, id)
	}
	if !w.removeUnitLocked(id) {
		return fmt.Errorf("%w: unit %d", ErrNotFound, id)
	}
	w.journal.Track(EvtDespawn, sess.ID, sess.Username, fmt.Sprintf("unit=%d", id))
	return nil
}

func (w *World) handleChat(sess *Session, msg Msg) error {
	u, err := w.ownedUnit(sess, msg)
	if err != nil {
		return err
	}
	text := ""
	if msg.Text != nil {
		text = *msg.Text
	}
	w.broadcastLocked(Msg{Cmd: MsgChat, ID: intPtr(u.ID), Text: strPtr(text)})
	return nil
}

func (w *World) handleURL(sess *Session, msg Msg) error {
	if !sess.loggedIn || !w.isPrivileged(sess.Username) {
		return fmt.Errorf("%w: url is reserved for privileged users", ErrPermission)
	}
	w.broadcastLocked(Msg{Cmd: MsgURL, X: msg.X, Text: msg.Text})
	return nil
}

func (w *World) handlePing(sess *Session) error {
	c, ok := w.conns[sess.ConnID]
	if !ok {
		return fmt.Errorf("%w: connection %d", ErrNotFound, sess.ConnID)
	}
	c.lastPing = w.now()
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

package main

import "time"

// Vec is a tile offset. Unit speeds and directions are unit vectors or zero.
type Vec struct {
	X, Y int
}

// IsZero reports whether v is (0,0)
func (v Vec) IsZero() bool { return v.X == 0 && v.Y == 0 }

// Unit is one player-controlled entity
type Unit struct {
	ID        int
	X, Y      int
	Speed     Vec
	Direction Vec       // last nonzero speed, used for click targeting
	Cooldown  time.Time // earliest time of the next timed move
	Name      string
	Img       string
	Text      string
	Style     string
}

// ToMsg describes the unit for clients
func (u *Unit) ToMsg() Msg {
	return Msg{
		Cmd:   MsgUnit,
		ID:    intPtr(u.ID),
		X:     intPtr(u.X),
		Y:     intPtr(u.Y),
		Name:  strPtr(u.Name),
		Img:   strPtr(u.Img),
		Text:  strPtr(u.Text),
		Style: strPtr(u.Style),
	}
}

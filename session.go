package main

import (
	"slices"

	"github.com/google/uuid"
)

// Session is the per-connection state. It is owned by the connection's read
// loop and only consulted by the world while that loop holds the world lock.
type Session struct {
	ConnID     int
	ID         string // audit id, unique across restarts
	RemoteAddr string
	Username   string
	loggedIn   bool
	owned      []int
}

// NewSession creates the state for a freshly accepted connection
func NewSession(connID int, remoteAddr string) *Session {
	return &Session{
		ConnID:     connID,
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
	}
}

// LoggedIn reports whether a login command succeeded on this connection
func (s *Session) LoggedIn() bool { return s.loggedIn }

// Owns reports whether the connection may command unit id
func (s *Session) Owns(id int) bool {
	return slices.Contains(s.owned, id)
}

// OwnedUnits returns a copy of the owned unit ids
func (s *Session) OwnedUnits() []int {
	return slices.Clone(s.owned)
}

func (s *Session) attach(id int) {
	s.owned = append(s.owned, id)
}

func (s *Session) detach(id int) bool {
	i := slices.Index(s.owned, id)
	if i < 0 {
		return false
	}
	s.owned = slices.Delete(s.owned, i, i+1)
	return true
}

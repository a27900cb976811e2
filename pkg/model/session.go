package model

import "time"

// Session represents one live client connection (in-memory only). It is
// created after a successful websocket handshake and destroyed at disconnect;
// there is no grace period or reconnect window.
//
// The User snapshot is fetched once at connect time and not refreshed per
// event. JoinedRooms is mutated only under the SessionManager lock.
type Session struct {
	UserID       int64
	ConnID       string
	User         Summary
	JoinedRooms  map[int64]struct{}
	IsOnline     bool
	LastActivity time.Time
}

// InRoom reports whether this session has joined the room.
func (s *Session) InRoom(roomID int64) bool {
	_, ok := s.JoinedRooms[roomID]
	return ok
}

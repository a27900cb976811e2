package server

// Notifier is the narrow surface the realtime layer exposes to the REST
// handlers. The Server is its only implementation; injecting the interface
// keeps the HTTP layer testable without sockets.
type Notifier interface {
	// NotifyUser pushes an event to a user's live session, silently
	// no-op-ing if the user is offline. Returns whether it was delivered.
	NotifyUser(userID int64, event string, payload any) bool
	// NotifyRoom pushes an event to every connection currently joined to
	// the room.
	NotifyRoom(roomID int64, event string, payload any)
	// IsUserOnline reports whether the user has a live session.
	IsUserOnline(userID int64) bool
	// UserConnectionID returns the user's connection id, or "" if offline.
	UserConnectionID(userID int64) string
}

// NotifyRoom pushes an event to every connection currently joined to the
// room.
func (s *Server) NotifyRoom(roomID int64, event string, payload any) {
	s.broadcastToRoom(roomID, 0, event, payload)
}

// IsUserOnline reports whether the user has a live session.
func (s *Server) IsUserOnline(userID int64) bool {
	return s.sessions.Get(userID) != nil
}

// UserConnectionID returns the user's connection id, or "" if offline.
func (s *Server) UserConnectionID(userID int64) string {
	if sess := s.sessions.Get(userID); sess != nil {
		return sess.ConnID
	}
	return ""
}

// Compile-time check: *Server implements Notifier.
var _ Notifier = (*Server)(nil)

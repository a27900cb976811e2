package server

import (
	"sync"
	"time"

	"github.com/mkarlsson/chatrelay/pkg/model"
)

// Conn is the transport half of a client connection. The websocket client
// implements it; tests substitute a fake.
type Conn interface {
	// Send queues a frame for delivery. Returns false if the client's send
	// buffer is full or the connection is closing; the frame is dropped.
	Send(frame []byte) bool
	// Close tears the connection down. Safe to call more than once.
	Close()
}

type clientSession struct {
	sess *model.Session
	conn Conn
}

// SessionManager manages active client sessions, keyed by user ID. A user has
// at most one live session: a second login replaces the first.
type SessionManager struct {
	mu     sync.RWMutex
	byUser map[int64]*clientSession
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		byUser: make(map[int64]*clientSession),
	}
}

// Attach registers a session for an authenticated user. If the user already
// has a session the old connection and its joined rooms are returned so the
// caller can close the connection and release the memberships (last session
// wins). The fresh session starts with no joined rooms.
func (sm *SessionManager) Attach(user model.Summary, connID string, conn Conn, now time.Time) (sess *model.Session, replaced Conn, replacedRooms []int64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if old, ok := sm.byUser[user.UserID]; ok {
		replaced = old.conn
		for roomID := range old.sess.JoinedRooms {
			replacedRooms = append(replacedRooms, roomID)
		}
	}

	sess = &model.Session{
		UserID:       user.UserID,
		ConnID:       connID,
		User:         user,
		JoinedRooms:  make(map[int64]struct{}),
		IsOnline:     true,
		LastActivity: now,
	}
	sm.byUser[user.UserID] = &clientSession{sess: sess, conn: conn}
	return sess, replaced, replacedRooms
}

// Detach removes the user's session, but only if it still belongs to the
// given connection. Returns the rooms the session had joined. A stale detach
// from a replaced connection is a no-op.
func (sm *SessionManager) Detach(userID int64, connID string) (rooms []int64, ok bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cs, exists := sm.byUser[userID]
	if !exists || cs.sess.ConnID != connID {
		return nil, false
	}
	for roomID := range cs.sess.JoinedRooms {
		rooms = append(rooms, roomID)
	}
	delete(sm.byUser, userID)
	return rooms, true
}

// Get retrieves a session by user ID, or nil.
func (sm *SessionManager) Get(userID int64) *model.Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if cs, ok := sm.byUser[userID]; ok {
		return cs.sess
	}
	return nil
}

// Conn returns the live connection for a user.
func (sm *SessionManager) Conn(userID int64) (Conn, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	cs, ok := sm.byUser[userID]
	if !ok {
		return nil, false
	}
	return cs.conn, true
}

// JoinRoom records room membership on the session.
func (sm *SessionManager) JoinRoom(userID, roomID int64) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	cs, ok := sm.byUser[userID]
	if !ok {
		return false
	}
	cs.sess.JoinedRooms[roomID] = struct{}{}
	return true
}

// LeaveRoom removes room membership from the session.
func (sm *SessionManager) LeaveRoom(userID, roomID int64) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	cs, ok := sm.byUser[userID]
	if !ok {
		return false
	}
	delete(cs.sess.JoinedRooms, roomID)
	return true
}

// InRoom reports whether the user's session has joined the room.
func (sm *SessionManager) InRoom(userID, roomID int64) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	cs, ok := sm.byUser[userID]
	if !ok {
		return false
	}
	return cs.sess.InRoom(roomID)
}

// SetOnline updates the session's presence snapshot and returns the updated
// summary for broadcasting.
func (sm *SessionManager) SetOnline(userID int64, online bool, at time.Time) (model.Summary, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	cs, ok := sm.byUser[userID]
	if !ok {
		return model.Summary{}, false
	}
	cs.sess.IsOnline = online
	cs.sess.User.IsOnline = online
	cs.sess.User.LastSeen = at
	cs.sess.LastActivity = at
	return cs.sess.User, true
}

// Touch bumps the session's last-activity timestamp.
func (sm *SessionManager) Touch(userID int64, at time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if cs, ok := sm.byUser[userID]; ok {
		cs.sess.LastActivity = at
	}
}

// Summary returns the user's presence snapshot.
func (sm *SessionManager) Summary(userID int64) (model.Summary, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	cs, ok := sm.byUser[userID]
	if !ok {
		return model.Summary{}, false
	}
	return cs.sess.User, true
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.byUser)
}

// CloseAll closes every live connection. Used at shutdown; the per-connection
// teardown paths run as each read loop unblocks.
func (sm *SessionManager) CloseAll() {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, cs := range sm.byUser {
		cs.conn.Close()
	}
}

// OnlineSummaries returns presence snapshots for the given users, restricted
// to those with a live session marked online.
func (sm *SessionManager) OnlineSummaries(userIDs []int64) []model.Summary {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	summaries := make([]model.Summary, 0, len(userIDs))
	for _, id := range userIDs {
		if cs, ok := sm.byUser[id]; ok && cs.sess.IsOnline {
			summaries = append(summaries, cs.sess.User)
		}
	}
	return summaries
}

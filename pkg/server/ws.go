package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/mkarlsson/chatrelay/pkg/model"
	"github.com/mkarlsson/chatrelay/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from arbitrary origins; the token check below
	// is the real gate.
	CheckOrigin: func(*http.Request) bool { return true },
}

// bearerToken extracts the access token from the Authorization header or,
// for browser websocket clients that cannot set headers, the token query
// parameter.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// HandleWS upgrades an HTTP request to a websocket session. The token must
// resolve to a user before the upgrade happens.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.Verify(bearerToken(r))
	if err != nil {
		s.metrics.FailedAuths.Add(1)
		slog.Debug("websocket auth rejected", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	client := newWSClient(conn)
	go client.writeFrames()
	s.runSession(client, user)
}

// runSession owns a connection from attach to teardown. It blocks reading
// frames until the connection drops.
func (s *Server) runSession(client *wsClient, user *model.User) {
	now := s.now()
	summary := user.Summarize()
	summary.IsOnline = true
	summary.LastSeen = now

	sess, replaced, replacedRooms := s.sessions.Attach(summary, client.id, client, now)
	if replaced != nil {
		// Last session wins: kick the older connection and release the room
		// memberships it held. The kicked connection's own teardown sees a
		// stale detach and does nothing, so the cleanup happens here.
		slog.Info("replacing existing session", "user", user.ID)
		replaced.Close()
		s.releaseRooms(user.ID, replacedRooms)
	}

	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	s.metrics.SuccessfulAuths.Add(1)
	slog.Info("session started", "user", user.ID, "conn", client.id)

	if err := s.store.NonTx().UpdateOnlineStatus(user.ID, true, now); err != nil {
		slog.Error("persist online status failed", "user", user.ID, "err", err)
	}
	s.broadcastPresence(summary)

	defer s.teardown(sess.UserID, client.id, client)

	client.readFrames(func(e protocol.Envelope) {
		s.dispatch(sess.UserID, e)
	})
}

// teardown runs when a connection drops for any reason. Each cleanup step is
// independent; a failure in one is logged and the rest still run. If the
// session was already replaced by a newer connection this is a no-op apart
// from closing the socket.
func (s *Server) teardown(userID int64, connID string, client Conn) {
	client.Close()
	s.metrics.ActiveConnections.Add(-1)
	s.metrics.TotalDisconnects.Add(1)

	rooms, ok := s.sessions.Detach(userID, connID)
	if !ok {
		slog.Debug("stale connection closed", "user", userID, "conn", connID)
		return
	}

	s.releaseRooms(userID, rooms)

	now := s.now()
	if err := s.store.NonTx().UpdateOnlineStatus(userID, false, now); err != nil {
		slog.Error("persist offline status failed", "user", userID, "err", err)
	}

	s.broadcastPresence(model.Summary{
		UserID:   userID,
		IsOnline: false,
		LastSeen: now,
	})

	slog.Info("session ended", "user", userID, "conn", connID)
}

// releaseRooms drops the user's typing indicators and room memberships,
// broadcasting the departures. Runs on teardown and when a newer connection
// replaces the session that held them.
func (s *Server) releaseRooms(userID int64, rooms []int64) {
	for _, roomID := range s.typing.ClearUser(userID) {
		s.broadcastTyping(roomID, userID)
	}
	for _, roomID := range rooms {
		s.rooms.Leave(roomID, userID)
		s.broadcastToRoom(roomID, userID, protocol.EventUserLeftRoom, protocol.UserLeftRoom{
			RoomID: roomID,
			UserID: userID,
		})
	}
}

package server

import (
	"log/slog"
	"sort"

	"github.com/mkarlsson/chatrelay/pkg/model"
	"github.com/mkarlsson/chatrelay/pkg/protocol"
)

// sendToUser encodes and queues an event for a single user's connection.
// Returns false if the user has no live session or the frame was dropped.
func (s *Server) sendToUser(userID int64, event string, payload any) bool {
	conn, ok := s.sessions.Conn(userID)
	if !ok {
		return false
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		slog.Error("encode event failed", "event", event, "err", err)
		return false
	}
	if !conn.Send(frame) {
		s.metrics.FramesDropped.Add(1)
		slog.Warn("frame dropped, client send buffer full", "user", userID, "event", event)
		return false
	}
	return true
}

// broadcastToRoom sends an event to every user in a room except the excluded
// one. The payload is encoded once for all recipients. Pass exclude=0 to
// reach everyone.
func (s *Server) broadcastToRoom(roomID, exclude int64, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		slog.Error("encode event failed", "event", event, "err", err)
		return
	}
	for _, uid := range s.rooms.Members(roomID) {
		if uid == exclude {
			continue
		}
		conn, ok := s.sessions.Conn(uid)
		if !ok {
			continue
		}
		if !conn.Send(frame) {
			s.metrics.FramesDropped.Add(1)
			slog.Warn("frame dropped, client send buffer full", "user", uid, "event", event)
		}
	}
}

// broadcastTyping sends the room's current typing roster to its members,
// excluding one user (the typist themselves, or a user who just left).
func (s *Server) broadcastTyping(roomID, exclude int64) {
	typists := s.typing.Typists(roomID)
	summaries := make([]model.Summary, 0, len(typists))
	for _, uid := range typists {
		if sum, ok := s.sessions.Summary(uid); ok {
			summaries = append(summaries, sum)
		}
	}
	s.broadcastToRoom(roomID, exclude, protocol.EventTypingUpdate, protocol.TypingUpdate{
		RoomID:      roomID,
		TypingUsers: summaries,
	})
}

// onTypingExpired runs from a typing timer goroutine when an indicator ages
// out without an explicit stop.
func (s *Server) onTypingExpired(roomID, userID int64) {
	s.broadcastTyping(roomID, userID)
}

// contactsOf returns every user who shares a conversation with the given
// user. Presence changes fan out to this set.
func (s *Server) contactsOf(userID int64) ([]int64, error) {
	conversations, err := s.store.NonTx().ListConversationsByParticipant(userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{})
	for _, c := range conversations {
		for _, other := range c.OtherParticipants(userID) {
			seen[other] = struct{}{}
		}
	}
	contacts := make([]int64, 0, len(seen))
	for id := range seen {
		contacts = append(contacts, id)
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i] < contacts[j] })
	return contacts, nil
}

// broadcastPresence pushes a userStatusUpdate to everyone who shares a
// conversation with the user and is currently connected.
func (s *Server) broadcastPresence(user model.Summary) {
	contacts, err := s.contactsOf(user.UserID)
	if err != nil {
		slog.Error("resolve contacts failed", "user", user.UserID, "err", err)
		return
	}
	payload := protocol.UserStatusUpdate{
		UserID:   user.UserID,
		IsOnline: user.IsOnline,
		LastSeen: user.LastSeen,
	}
	for _, contact := range contacts {
		s.sendToUser(contact, protocol.EventUserStatusUpdate, payload)
	}
}

// NotifyUser pushes an arbitrary event to a user's live session, if any.
// The REST API uses it to surface out-of-band changes such as a newly
// created conversation. Returns false when the user is offline.
func (s *Server) NotifyUser(userID int64, event string, payload any) bool {
	return s.sendToUser(userID, event, payload)
}

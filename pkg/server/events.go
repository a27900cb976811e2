package server

import (
	"log/slog"

	"github.com/mkarlsson/chatrelay/pkg/model"
	"github.com/mkarlsson/chatrelay/pkg/protocol"
)

// dispatch routes one inbound envelope to its handler. Handlers run
// sequentially per connection; failures become error events on the caller's
// own socket and never drop the connection.
func (s *Server) dispatch(userID int64, e protocol.Envelope) {
	if s.sessions.Get(userID) == nil {
		return
	}
	s.sessions.Touch(userID, s.now())

	switch e.Event {
	case protocol.EventJoinRoom:
		s.handleJoinRoom(userID, e)
	case protocol.EventLeaveRoom:
		s.handleLeaveRoom(userID, e)
	case protocol.EventSendMessage:
		s.handleSendMessage(userID, e)
	case protocol.EventMessageStatusUpdate:
		s.handleMessageStatusUpdate(userID, e)
	case protocol.EventTyping:
		s.handleTyping(userID, e)
	case protocol.EventMarkMessagesAsSeen:
		s.handleMarkMessagesAsSeen(userID, e)
	case protocol.EventUpdateOnlineStatus:
		s.handleUpdateOnlineStatus(userID, e)
	case protocol.EventGetOnlineUsers:
		s.handleGetOnlineUsers(userID, e)
	default:
		s.sendError(userID, "unknown event: "+e.Event)
	}
}

// sendError emits an error event to the caller's own socket.
func (s *Server) sendError(userID int64, message string) {
	s.sendToUser(userID, protocol.EventError, protocol.Error{Message: message})
}

// sendInternalError logs the real failure and sends a generic message.
func (s *Server) sendInternalError(userID int64, op string, err error) {
	slog.Error(op+" failed", "user", userID, "err", err)
	s.sendError(userID, "internal error")
}

func (s *Server) handleJoinRoom(userID int64, e protocol.Envelope) {
	var p protocol.JoinRoom
	if err := protocol.Decode(e, &p); err != nil {
		s.sendError(userID, err.Error())
		return
	}

	// Authorization is against the persisted participant list, not the
	// in-memory room index.
	conv, err := s.store.NonTx().GetConversation(p.RoomID)
	if err != nil {
		s.sendInternalError(userID, "join room", err)
		return
	}
	if conv == nil {
		s.sendError(userID, model.ErrRoomNotFound.Error())
		return
	}
	if !conv.HasParticipant(userID) {
		s.sendError(userID, model.ErrNotAuthorized.Error())
		return
	}

	s.rooms.Join(p.RoomID, userID)
	s.sessions.JoinRoom(userID, p.RoomID)
	s.metrics.RoomJoins.Add(1)

	if summary, ok := s.sessions.Summary(userID); ok {
		s.broadcastToRoom(p.RoomID, userID, protocol.EventUserJoinedRoom, protocol.UserJoinedRoom{
			RoomID: p.RoomID,
			UserID: userID,
			User:   summary,
		})
	}
	s.sendToUser(userID, protocol.EventJoinedRoom, protocol.JoinedRoom{
		RoomID:  p.RoomID,
		Message: "joined conversation",
	})
	s.broadcastToRoom(p.RoomID, 0, protocol.EventOnlineUsers, protocol.OnlineUsers{
		RoomID:      p.RoomID,
		OnlineUsers: s.sessions.OnlineSummaries(s.rooms.Members(p.RoomID)),
	})
}

func (s *Server) handleLeaveRoom(userID int64, e protocol.Envelope) {
	var p protocol.LeaveRoom
	if err := protocol.Decode(e, &p); err != nil {
		s.sendError(userID, err.Error())
		return
	}

	if !s.rooms.IsMember(p.RoomID, userID) {
		s.sendError(userID, model.ErrNotInRoom.Error())
		return
	}

	if s.typing.Stop(p.RoomID, userID) {
		s.broadcastTyping(p.RoomID, userID)
	}

	s.rooms.Leave(p.RoomID, userID)
	s.sessions.LeaveRoom(userID, p.RoomID)
	s.metrics.RoomLeaves.Add(1)

	s.sendToUser(userID, protocol.EventLeftRoom, protocol.LeftRoom{
		RoomID:  p.RoomID,
		Message: "left conversation",
	})
	s.broadcastToRoom(p.RoomID, userID, protocol.EventUserLeftRoom, protocol.UserLeftRoom{
		RoomID: p.RoomID,
		UserID: userID,
	})
}

func (s *Server) handleSendMessage(userID int64, e protocol.Envelope) {
	var p protocol.SendMessage
	if err := protocol.Decode(e, &p); err != nil {
		s.sendError(userID, err.Error())
		return
	}

	// Join-time authorization is trusted here: a participant removed from
	// the conversation after joining keeps sending until they disconnect.
	if !s.sessions.InRoom(userID, p.RoomID) {
		s.sendError(userID, model.ErrNotInRoom.Error())
		return
	}

	msgType := p.MessageType
	if msgType == "" {
		msgType = model.TypeText
	}
	msg := &model.Message{
		ConversationID: p.RoomID,
		SenderID:       userID,
		Type:           msgType,
		Text:           p.Text,
		MediaURL:       p.MediaURL,
		FileName:       p.FileName,
		FileSize:       p.FileSize,
		RepliedTo:      p.RepliedTo,
	}
	if err := msg.Validate(); err != nil {
		s.sendError(userID, err.Error())
		return
	}
	if err := s.store.NonTx().CreateMessage(msg); err != nil {
		s.sendInternalError(userID, "persist message", err)
		return
	}
	if err := s.store.NonTx().UpdateLastMessage(p.RoomID, msg.ID, msg.CreatedAt); err != nil {
		slog.Error("update last message failed", "conversation", p.RoomID, "err", err)
	}

	if s.typing.Stop(p.RoomID, userID) {
		s.broadcastTyping(p.RoomID, userID)
	}

	// Everyone currently in the room except the sender counts as delivered.
	now := s.now()
	var delivered []int64
	for _, uid := range s.rooms.Members(p.RoomID) {
		if uid == userID {
			continue
		}
		if msg.MarkDelivered(uid, now) {
			delivered = append(delivered, uid)
		}
	}
	if len(delivered) > 0 {
		if err := s.store.NonTx().UpdateMessageReceipts(msg); err != nil {
			slog.Error("persist delivery receipts failed", "message", msg.ID, "err", err)
		}
	}

	sender, _ := s.sessions.Summary(userID)
	s.broadcastToRoom(p.RoomID, 0, protocol.EventReceiveMessage, protocol.ReceiveMessage{
		RoomID:  p.RoomID,
		Message: *msg,
		Sender:  sender,
	})
	for range delivered {
		s.sendToUser(userID, protocol.EventMessageDelivered, protocol.MessageDelivered{
			MessageID:   msg.ID,
			RoomID:      p.RoomID,
			DeliveredAt: now,
		})
	}
	s.metrics.MessagesSent.Add(1)
}

func (s *Server) handleMessageStatusUpdate(userID int64, e protocol.Envelope) {
	var p protocol.MessageStatusUpdate
	if err := protocol.Decode(e, &p); err != nil {
		s.sendError(userID, err.Error())
		return
	}
	if !p.Status.Valid() || p.Status == model.StatusSent {
		s.sendError(userID, model.ErrInvalidMessageStatus.Error())
		return
	}

	msg, err := s.store.NonTx().GetMessage(p.MessageID)
	if err != nil {
		s.sendInternalError(userID, "load message", err)
		return
	}
	if msg == nil {
		s.sendError(userID, model.ErrMessageNotFound.Error())
		return
	}
	// Senders cannot ack their own messages.
	if msg.SenderID == userID {
		return
	}

	now := s.now()
	var changed bool
	switch p.Status {
	case model.StatusDelivered:
		changed = msg.MarkDelivered(userID, now)
	case model.StatusSeen:
		changed = msg.MarkSeen(userID, now)
	}
	if !changed {
		return
	}

	if err := s.store.NonTx().UpdateMessageReceipts(msg); err != nil {
		s.sendInternalError(userID, "persist status update", err)
		return
	}
	s.metrics.StatusUpdates.Add(1)

	s.sendToUser(msg.SenderID, protocol.EventMessageStatusUpdated, protocol.MessageStatusUpdated{
		MessageID: msg.ID,
		Status:    p.Status,
		UserID:    userID,
		UpdatedAt: now,
	})
}

func (s *Server) handleTyping(userID int64, e protocol.Envelope) {
	var p protocol.Typing
	if err := protocol.Decode(e, &p); err != nil {
		s.sendError(userID, err.Error())
		return
	}

	// Typing from outside a joined room is silently ignored.
	if !s.sessions.InRoom(userID, p.RoomID) {
		return
	}

	if p.IsTyping {
		s.typing.Start(p.RoomID, userID)
	} else {
		s.typing.Stop(p.RoomID, userID)
	}
	s.metrics.TypingEvents.Add(1)
	s.broadcastTyping(p.RoomID, userID)
}

func (s *Server) handleMarkMessagesAsSeen(userID int64, e protocol.Envelope) {
	var p protocol.MarkMessagesAsSeen
	if err := protocol.Decode(e, &p); err != nil {
		s.sendError(userID, err.Error())
		return
	}
	if len(p.MessageIDs) == 0 {
		return
	}

	conv, err := s.store.NonTx().GetConversation(p.RoomID)
	if err != nil {
		s.sendInternalError(userID, "mark seen", err)
		return
	}
	if conv == nil {
		s.sendError(userID, model.ErrRoomNotFound.Error())
		return
	}
	if !conv.HasParticipant(userID) {
		s.sendError(userID, model.ErrNotAuthorized.Error())
		return
	}

	now := s.now()
	tx, err := s.store.Tx(s.ctx)
	if err != nil {
		s.sendInternalError(userID, "mark seen", err)
		return
	}
	updated, err := tx.MarkMessagesSeen(p.RoomID, userID, p.MessageIDs, now)
	if err != nil {
		_ = tx.Rollback()
		s.sendInternalError(userID, "mark seen", err)
		return
	}
	if err := tx.Commit(); err != nil {
		s.sendInternalError(userID, "mark seen", err)
		return
	}
	if len(updated) == 0 {
		return
	}
	s.metrics.SeenUpdates.Add(int64(len(updated)))

	// One consolidated event per distinct sender instead of one per message.
	bySender := make(map[int64][]int64)
	for _, m := range updated {
		bySender[m.SenderID] = append(bySender[m.SenderID], m.ID)
	}
	for sender, ids := range bySender {
		s.sendToUser(sender, protocol.EventMessagesMarkedAsSeen, protocol.MessagesMarkedAsSeen{
			RoomID:     p.RoomID,
			MessageIDs: ids,
			SeenBy:     userID,
			SeenAt:     now,
		})
	}
}

func (s *Server) handleUpdateOnlineStatus(userID int64, e protocol.Envelope) {
	var p protocol.UpdateOnlineStatus
	if err := protocol.Decode(e, &p); err != nil {
		s.sendError(userID, err.Error())
		return
	}

	now := s.now()
	summary, ok := s.sessions.SetOnline(userID, p.IsOnline, now)
	if !ok {
		return
	}
	if err := s.store.NonTx().UpdateOnlineStatus(userID, p.IsOnline, now); err != nil {
		slog.Error("persist online status failed", "user", userID, "err", err)
	}
	s.broadcastPresence(summary)
}

func (s *Server) handleGetOnlineUsers(userID int64, e protocol.Envelope) {
	var p protocol.GetOnlineUsers
	if err := protocol.Decode(e, &p); err != nil {
		s.sendError(userID, err.Error())
		return
	}

	// An untracked room yields an empty list, not an error.
	s.sendToUser(userID, protocol.EventOnlineUsers, protocol.OnlineUsers{
		RoomID:      p.RoomID,
		OnlineUsers: s.sessions.OnlineSummaries(s.rooms.Members(p.RoomID)),
	})
}

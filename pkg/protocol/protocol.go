// Package protocol defines the websocket wire format: one JSON envelope per
// text frame, carrying an event name and a typed payload.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mkarlsson/chatrelay/pkg/model"
)

// MaxFrameSize is the maximum inbound frame size in bytes (64KB).
const MaxFrameSize = 65536

// Inbound event names (client -> server).
const (
	EventJoinRoom            = "joinRoom"
	EventLeaveRoom           = "leaveRoom"
	EventSendMessage         = "sendMessage"
	EventMessageStatusUpdate = "messageStatusUpdate"
	EventTyping              = "typing"
	EventMarkMessagesAsSeen  = "markMessagesAsSeen"
	EventUpdateOnlineStatus  = "updateOnlineStatus"
	EventGetOnlineUsers      = "getOnlineUsers"
)

// Outbound event names (server -> client).
const (
	EventJoinedRoom           = "joinedRoom"
	EventLeftRoom             = "leftRoom"
	EventUserJoinedRoom       = "userJoinedRoom"
	EventUserLeftRoom         = "userLeftRoom"
	EventReceiveMessage       = "receiveMessage"
	EventMessageDelivered     = "messageDelivered"
	EventMessageStatusUpdated = "messageStatusUpdated"
	EventMessagesMarkedAsSeen = "messagesMarkedAsSeen"
	EventTypingUpdate         = "typingUpdate"
	EventOnlineUsers          = "onlineUsers"
	EventUserStatusUpdate     = "userStatusUpdate"
	EventNewConversation      = "newConversation"
	EventError                = "error"
)

// Envelope wraps every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals a payload into a complete wire frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", event, err)
	}
	raw, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s envelope: %w", event, err)
	}
	return raw, nil
}

// Decode unmarshals an envelope's payload into dst.
func Decode(e Envelope, dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("protocol: %s: missing payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("protocol: %s: malformed payload: %w", e.Event, err)
	}
	return nil
}

// ---- Inbound payloads ----

type JoinRoom struct {
	RoomID int64 `json:"roomId"`
}

type LeaveRoom struct {
	RoomID int64 `json:"roomId"`
}

type SendMessage struct {
	RoomID      int64             `json:"roomId"`
	Text        string            `json:"text,omitempty"`
	MessageType model.MessageType `json:"messageType,omitempty"`
	MediaURL    string            `json:"mediaUrl,omitempty"`
	FileName    string            `json:"fileName,omitempty"`
	FileSize    int64             `json:"fileSize,omitempty"`
	RepliedTo   int64             `json:"repliedTo,omitempty"`
}

type MessageStatusUpdate struct {
	MessageID int64               `json:"messageId"`
	Status    model.MessageStatus `json:"status"`
}

type Typing struct {
	RoomID   int64 `json:"roomId"`
	IsTyping bool  `json:"isTyping"`
}

type MarkMessagesAsSeen struct {
	RoomID     int64   `json:"roomId"`
	MessageIDs []int64 `json:"messageIds"`
}

type UpdateOnlineStatus struct {
	IsOnline bool `json:"isOnline"`
}

type GetOnlineUsers struct {
	RoomID int64 `json:"roomId"`
}

// ---- Outbound payloads ----

type JoinedRoom struct {
	RoomID  int64  `json:"roomId"`
	Message string `json:"message"`
}

type LeftRoom struct {
	RoomID  int64  `json:"roomId"`
	Message string `json:"message"`
}

type UserJoinedRoom struct {
	RoomID int64         `json:"roomId"`
	UserID int64         `json:"userId"`
	User   model.Summary `json:"user"`
}

type UserLeftRoom struct {
	RoomID int64 `json:"roomId"`
	UserID int64 `json:"userId"`
}

type ReceiveMessage struct {
	RoomID  int64         `json:"roomId"`
	Message model.Message `json:"message"`
	Sender  model.Summary `json:"sender"`
}

type MessageDelivered struct {
	MessageID   int64     `json:"messageId"`
	RoomID      int64     `json:"roomId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

type MessageStatusUpdated struct {
	MessageID int64               `json:"messageId"`
	Status    model.MessageStatus `json:"status"`
	UserID    int64               `json:"userId"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

type MessagesMarkedAsSeen struct {
	RoomID     int64     `json:"roomId"`
	MessageIDs []int64   `json:"messageIds"`
	SeenBy     int64     `json:"seenBy"`
	SeenAt     time.Time `json:"seenAt"`
}

type TypingUpdate struct {
	RoomID      int64           `json:"roomId"`
	TypingUsers []model.Summary `json:"typingUsers"`
}

type OnlineUsers struct {
	RoomID      int64           `json:"roomId"`
	OnlineUsers []model.Summary `json:"onlineUsers"`
}

type UserStatusUpdate struct {
	UserID   int64     `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

type Error struct {
	Message string `json:"message"`
}

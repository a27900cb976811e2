package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MessageMaxTextLength = 4096

var ErrMessageTextEmpty = errors.New("text messages cannot be empty")
var ErrMessageTextTooLong = fmt.Errorf("message text exceeds %d characters", MessageMaxTextLength)
var ErrMessageMediaURLEmpty = errors.New("media messages need a media URL")
var ErrInvalidMessageType = errors.New("invalid message type")
var ErrInvalidMessageStatus = errors.New("invalid message status")

// MessageType identifies what a message carries.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVideo MessageType = "video"
	TypeAudio MessageType = "audio"
	TypeFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeFile:
		return true
	}
	return false
}

// MessageStatus is the coarse delivery state of a message. It only ever moves
// forward: sent -> delivered -> seen.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

func (s MessageStatus) Valid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusSeen:
		return true
	}
	return false
}

// Receipt records one recipient's delivery or read acknowledgement.
type Receipt struct {
	UserID int64     `json:"user"`
	At     time.Time `json:"at"`
}

// Message is a persisted chat message.
type Message struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversation_id"`
	SenderID       int64         `json:"sender_id"`
	Type           MessageType   `json:"message_type"`
	Text           string        `json:"text,omitempty"`
	MediaURL       string        `json:"media_url,omitempty"`
	FileName       string        `json:"file_name,omitempty"`
	FileSize       int64         `json:"file_size,omitempty"`
	RepliedTo      int64         `json:"replied_to,omitempty"`
	Status         MessageStatus `json:"status"`
	DeliveredTo    []Receipt     `json:"delivered_to"`
	SeenBy         []Receipt     `json:"seen_by"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (m *Message) Validate() error {
	if !m.Type.Valid() {
		return ErrInvalidMessageType
	}
	if m.Type == TypeText {
		if strings.TrimSpace(m.Text) == "" {
			return ErrMessageTextEmpty
		}
		if utf8.RuneCountInString(m.Text) > MessageMaxTextLength {
			return ErrMessageTextTooLong
		}
		return nil
	}
	if m.MediaURL == "" {
		return ErrMessageMediaURLEmpty
	}
	return nil
}

// DeliveredToUser reports whether a delivery receipt exists for the user.
func (m *Message) DeliveredToUser(userID int64) bool {
	for _, r := range m.DeliveredTo {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// SeenByUser reports whether a read receipt exists for the user.
func (m *Message) SeenByUser(userID int64) bool {
	for _, r := range m.SeenBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// MarkDelivered idempotently adds a delivery receipt for the user and
// promotes the overall status sent -> delivered. It never downgrades seen.
// Returns true if anything changed.
func (m *Message) MarkDelivered(userID int64, at time.Time) bool {
	if m.DeliveredToUser(userID) {
		return false
	}
	m.DeliveredTo = append(m.DeliveredTo, Receipt{UserID: userID, At: at})
	if m.Status == StatusSent {
		m.Status = StatusDelivered
	}
	return true
}

// MarkSeen idempotently adds a read receipt for the user, backfills the
// delivery receipt if missing, and sets the overall status to seen
// unconditionally (seen implies delivered). Returns true if anything changed.
func (m *Message) MarkSeen(userID int64, at time.Time) bool {
	if m.SeenByUser(userID) {
		return false
	}
	m.SeenBy = append(m.SeenBy, Receipt{UserID: userID, At: at})
	if !m.DeliveredToUser(userID) {
		m.DeliveredTo = append(m.DeliveredTo, Receipt{UserID: userID, At: at})
	}
	m.Status = StatusSeen
	return true
}

// MessageFilters narrows ListMessages queries.
type MessageFilters struct {
	LimitToConversationID *int64
	LimitToSenderID       *int64
	PageSize              *int64
	Offset                *int64
}

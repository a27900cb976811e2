package model

import (
	"errors"
	"time"
)

var ErrTooFewParticipants = errors.New("conversation needs at least two participants")
var ErrGroupNameEmpty = errors.New("group conversations need a name")

// Conversation is a persisted chat between two or more users. Each
// conversation corresponds 1:1 with a realtime room.
type Conversation struct {
	ID               int64     `json:"id"`
	Participants     []int64   `json:"participants"`
	IsGroup          bool      `json:"is_group"`
	GroupName        string    `json:"group_name,omitempty"`
	GroupImage       string    `json:"group_image,omitempty"`
	GroupDescription string    `json:"group_description,omitempty"`
	GroupAdmin       int64     `json:"group_admin,omitempty"`
	LastMessageID    int64     `json:"last_message_id,omitempty"`
	LastMessageTime  time.Time `json:"last_message_time,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func (c *Conversation) Validate() error {
	if len(c.Participants) < 2 {
		return ErrTooFewParticipants
	}
	if c.IsGroup && c.GroupName == "" {
		return ErrGroupNameEmpty
	}
	return nil
}

// HasParticipant reports whether a user belongs to the persisted participant
// list. This is the authorization predicate for joining the room; the
// in-memory membership index is a routing optimization, never a security
// boundary.
func (c *Conversation) HasParticipant(userID int64) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipants returns every participant except the given user.
func (c *Conversation) OtherParticipants(userID int64) []int64 {
	others := make([]int64, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			others = append(others, p)
		}
	}
	return others
}

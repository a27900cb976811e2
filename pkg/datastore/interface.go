package datastore

import (
	"context"
	"time"

	"github.com/mkarlsson/chatrelay/pkg/model"
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for all chatrelay entities.
// Implementations include the default SQLite store and the in-memory store
// used by tests and the single-binary dev mode.
type DataStore interface {
	ConfigReadProvider

	UserReadProvider
	UserWriteProvider

	ConversationReadProvider
	ConversationWriteProvider

	MessageReadProvider
	MessageWriteProvider

	TokenReadProvider
	TokenWriteProvider
}

// Compile-time check: *ProviderFactory implements DataProviderFactory.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type ConfigReadProvider interface {
	ZeroTime() time.Time
	Close() error
}

type UserReadProvider interface {
	GetUserByID(id int64) (*model.User, error)
	GetUserByEmail(email string) (*model.User, error)
	ListUsers() ([]model.User, error)
}

type UserWriteProvider interface {
	CreateUser(user *model.User) error
	// UpdateOnlineStatus persists the denormalized presence fields. Returns
	// model.ErrUserNotFound if the id is unknown.
	UpdateOnlineStatus(userID int64, isOnline bool, lastSeen time.Time) error
}

type ConversationReadProvider interface {
	GetConversation(id int64) (*model.Conversation, error)
	ListConversationsByParticipant(userID int64) ([]model.Conversation, error)
}

type ConversationWriteProvider interface {
	CreateConversation(conversation *model.Conversation) error
	UpdateLastMessage(conversationID, messageID int64, at time.Time) error
}

type MessageReadProvider interface {
	GetMessage(id int64) (*model.Message, error)
	ListMessages(filters model.MessageFilters) ([]model.Message, error)
}

type MessageWriteProvider interface {
	CreateMessage(message *model.Message) error
	// UpdateMessageReceipts persists the message's status, delivered-to and
	// seen-by lists after in-memory receipt mutation.
	UpdateMessageReceipts(message *model.Message) error
	// MarkMessagesSeen is the batch seen-update: within the given
	// conversation it marks every listed message as seen by the viewer,
	// skipping the viewer's own messages and messages already seen by them.
	// It returns only the messages that actually changed.
	MarkMessagesSeen(conversationID, viewerID int64, messageIDs []int64, at time.Time) ([]model.Message, error)
}

type TokenReadProvider interface {
	GetToken(hash string) (*model.Token, error)
}

type TokenWriteProvider interface {
	CreateToken(hash string, userID int64, expiresAt time.Time) error
	DeleteExpiredTokens(now time.Time) (int64, error)
}

// Package store provides an in-memory datastore implementation used by tests
// and the single-binary dev mode.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mkarlsson/chatrelay/pkg/datastore"
	"github.com/mkarlsson/chatrelay/pkg/model"
)

// MemoryStore provides an in-memory DataStore implementation.
// It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextUserID         int64
	nextConversationID int64
	nextMessageID      int64
	nextTokenID        int64

	usersByID         map[int64]*model.User
	usersByEmail      map[string]*model.User
	conversationsByID map[int64]*model.Conversation
	messagesByID      map[int64]*model.Message
	tokensByHash      map[string]*model.Token
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:                now,
		nextUserID:         1,
		nextConversationID: 1,
		nextMessageID:      1,
		nextTokenID:        1,
		usersByID:          make(map[int64]*model.User),
		usersByEmail:       make(map[string]*model.User),
		conversationsByID:  make(map[int64]*model.Conversation),
		messagesByID:       make(map[int64]*model.Message),
		tokensByHash:       make(map[string]*model.Token),
	}
}

// MemoryFactory adapts a MemoryStore to the DataProviderFactory interface.
// Tx hands back the same store; in-memory writes are already serialized under
// the store mutex so there is nothing to roll back.
type MemoryFactory struct {
	Store *MemoryStore
}

// NewMemoryFactory wraps a MemoryStore in a factory.
func NewMemoryFactory(s *MemoryStore) *MemoryFactory {
	return &MemoryFactory{Store: s}
}

func (f *MemoryFactory) NonTx() datastore.DataStore {
	return f.Store
}

func (f *MemoryFactory) Tx(ctx context.Context) (datastore.DataStoreTx, error) {
	return &memoryTx{MemoryStore: f.Store}, nil
}

type memoryTx struct {
	*MemoryStore
}

func (tx *memoryTx) Rollback() error { return nil }
func (tx *memoryTx) Commit() error   { return nil }

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// ZeroTime returns the zero time value (used for no-expiry tokens).
func (s *MemoryStore) ZeroTime() time.Time {
	return time.Time{}
}

func copyConversation(c *model.Conversation) *model.Conversation {
	out := *c
	out.Participants = append([]int64(nil), c.Participants...)
	return &out
}

func copyMessage(m *model.Message) *model.Message {
	out := *m
	out.DeliveredTo = append([]model.Receipt(nil), m.DeliveredTo...)
	out.SeenBy = append([]model.Receipt(nil), m.SeenBy...)
	return &out
}

// CreateUser creates a new user and assigns its ID.
func (s *MemoryStore) CreateUser(user *model.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByEmail[user.Email]; exists {
		return fmt.Errorf("store: create user: constraint failed: UNIQUE constraint failed: users.email")
	}
	user.ID = s.nextUserID
	user.CreatedAt = s.now().UTC()
	if user.LastSeen.IsZero() {
		user.LastSeen = user.CreatedAt
	}
	s.nextUserID++
	copyUser := *user
	s.usersByID[user.ID] = &copyUser
	s.usersByEmail[user.Email] = &copyUser
	return nil
}

// GetUserByID retrieves a user by ID. Returns (nil, nil) if not found.
func (s *MemoryStore) GetUserByID(id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByID[id]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

// GetUserByEmail retrieves a user by email. Returns (nil, nil) if not found.
func (s *MemoryStore) GetUserByEmail(email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByEmail[email]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

// ListUsers returns all users ordered by ID.
func (s *MemoryStore) ListUsers() ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.usersByID))
	for _, user := range s.usersByID {
		users = append(users, *user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// UpdateOnlineStatus persists the denormalized presence fields.
func (s *MemoryStore) UpdateOnlineStatus(userID int64, isOnline bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByID[userID]
	if !ok {
		return fmt.Errorf("store: update online status: %w", model.ErrUserNotFound)
	}
	user.IsOnline = isOnline
	user.LastSeen = lastSeen.UTC()
	return nil
}

// CreateConversation creates a conversation and assigns its ID.
func (s *MemoryStore) CreateConversation(conversation *model.Conversation) error {
	if err := conversation.Validate(); err != nil {
		return fmt.Errorf("store: create conversation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conversation.ID = s.nextConversationID
	conversation.CreatedAt = s.now().UTC()
	s.nextConversationID++
	s.conversationsByID[conversation.ID] = copyConversation(conversation)
	return nil
}

// GetConversation retrieves a conversation by ID. Returns (nil, nil) if not
// found.
func (s *MemoryStore) GetConversation(id int64) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversationsByID[id]
	if !ok {
		return nil, nil
	}
	return copyConversation(c), nil
}

// ListConversationsByParticipant returns every conversation the user belongs
// to, ordered by ID.
func (s *MemoryStore) ListConversationsByParticipant(userID int64) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var conversations []model.Conversation
	for _, c := range s.conversationsByID {
		if c.HasParticipant(userID) {
			conversations = append(conversations, *copyConversation(c))
		}
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].ID < conversations[j].ID
	})
	return conversations, nil
}

// UpdateLastMessage moves the conversation's last-message pointer.
func (s *MemoryStore) UpdateLastMessage(conversationID, messageID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversationsByID[conversationID]
	if !ok {
		return nil
	}
	c.LastMessageID = messageID
	c.LastMessageTime = at.UTC()
	return nil
}

// CreateMessage creates a message and assigns its ID.
func (s *MemoryStore) CreateMessage(message *model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("store: create message: %w", err)
	}
	if message.Status == "" {
		message.Status = model.StatusSent
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	message.ID = s.nextMessageID
	message.CreatedAt = s.now().UTC()
	s.nextMessageID++
	s.messagesByID[message.ID] = copyMessage(message)
	return nil
}

// GetMessage retrieves a message by ID. Returns (nil, nil) if not found.
func (s *MemoryStore) GetMessage(id int64) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messagesByID[id]
	if !ok {
		return nil, nil
	}
	return copyMessage(m), nil
}

// ListMessages returns messages matching the filters, oldest first.
func (s *MemoryStore) ListMessages(filters model.MessageFilters) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var messages []model.Message
	for _, m := range s.messagesByID {
		if filters.LimitToConversationID != nil && m.ConversationID != *filters.LimitToConversationID {
			continue
		}
		if filters.LimitToSenderID != nil && m.SenderID != *filters.LimitToSenderID {
			continue
		}
		messages = append(messages, *copyMessage(m))
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ID < messages[j].ID
	})
	if filters.PageSize != nil {
		offset := int64(0)
		if filters.Offset != nil {
			offset = *filters.Offset
		}
		if offset > int64(len(messages)) {
			offset = int64(len(messages))
		}
		end := offset + *filters.PageSize
		if end > int64(len(messages)) {
			end = int64(len(messages))
		}
		messages = messages[offset:end]
	}
	return messages, nil
}

// UpdateMessageReceipts persists status and receipt lists.
func (s *MemoryStore) UpdateMessageReceipts(message *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.messagesByID[message.ID]
	if !ok {
		return fmt.Errorf("store: update message receipts: %w", model.ErrMessageNotFound)
	}
	stored.Status = message.Status
	stored.DeliveredTo = append([]model.Receipt(nil), message.DeliveredTo...)
	stored.SeenBy = append([]model.Receipt(nil), message.SeenBy...)
	return nil
}

// MarkMessagesSeen marks each listed message in the conversation as seen by
// the viewer, skipping the viewer's own messages and already-seen ones.
// Returns only the messages that changed.
func (s *MemoryStore) MarkMessagesSeen(conversationID, viewerID int64, messageIDs []int64, at time.Time) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated []model.Message
	for _, id := range messageIDs {
		m, ok := s.messagesByID[id]
		if !ok || m.ConversationID != conversationID {
			continue
		}
		if m.SenderID == viewerID {
			continue
		}
		if !m.MarkSeen(viewerID, at) {
			continue
		}
		updated = append(updated, *copyMessage(m))
	}
	return updated, nil
}

// CreateToken stores a new access token (hash only).
func (s *MemoryStore) CreateToken(hash string, userID int64, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokensByHash[hash]; exists {
		return fmt.Errorf("store: create token: constraint failed: UNIQUE constraint failed: tokens.hash")
	}
	if !expiresAt.IsZero() {
		expiresAt = expiresAt.UTC()
	}
	s.tokensByHash[hash] = &model.Token{
		ID:        s.nextTokenID,
		Hash:      hash,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: s.now().UTC(),
	}
	s.nextTokenID++
	return nil
}

// GetToken retrieves a token by hash. Returns (nil, nil) if not found.
func (s *MemoryStore) GetToken(hash string) (*model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokensByHash[hash]
	if !ok {
		return nil, nil
	}
	copyToken := *t
	return &copyToken, nil
}

// DeleteExpiredTokens removes tokens whose expiry has passed.
func (s *MemoryStore) DeleteExpiredTokens(now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for hash, t := range s.tokensByHash {
		if !t.ExpiresAt.IsZero() && t.ExpiresAt.Before(now) {
			delete(s.tokensByHash, hash)
			deleted++
		}
	}
	return deleted, nil
}

// Compile-time checks.
var (
	_ datastore.DataStore           = (*MemoryStore)(nil)
	_ datastore.DataProviderFactory = (*MemoryFactory)(nil)
)

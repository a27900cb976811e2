package datastore_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mkarlsson/chatrelay/pkg/crypto"
	"github.com/mkarlsson/chatrelay/pkg/datastore"
	"github.com/mkarlsson/chatrelay/pkg/model"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func NewTestSqlConn(t *testing.T) (*datastore.ProviderFactory, error) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	st, err := datastore.NewProviderFactory(dbPath)
	if err != nil {
		return nil, fmt.Errorf("store_test: failed to open db: %w", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})

	return st, nil
}

func seedUser(t *testing.T, st datastore.DataStore, email, name string) *model.User {
	t.Helper()

	u := &model.User{Email: email, Name: name}
	if err := st.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: failed to seed user: %v", err)
	}
	return u
}

func seedConversation(t *testing.T, st datastore.DataStore, participants ...int64) *model.Conversation {
	t.Helper()

	c := &model.Conversation{Participants: participants}
	if err := st.CreateConversation(c); err != nil {
		t.Fatalf("CreateConversation: failed to seed conversation: %v", err)
	}
	return c
}

// seedMessageFixture creates two users and a conversation between them so
// message rows satisfy the schema's foreign keys.
func seedMessageFixture(t *testing.T, st datastore.DataStore) *model.Conversation {
	t.Helper()

	u1 := seedUser(t, st, "user1@example.com", "User One")
	u2 := seedUser(t, st, "user2@example.com", "User Two")
	return seedConversation(t, st, u1.ID, u2.ID)
}

func TestZeroTime(t *testing.T) {
	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	if diff := cmp.Diff(time.Time{}, store.NonTx().ZeroTime()); diff != "" {
		t.Errorf("store.NonTx().ZeroTime mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateUser(t *testing.T) {
	t.Parallel()

	type tcase struct {
		user      *model.User
		expectErr bool
	}

	tcases := map[string]tcase{
		"minimum_required_fields": {
			user:      &model.User{Email: "john@example.com", Name: "John Doe"},
			expectErr: false,
		},
		"empty_email": {
			user:      &model.User{Email: "", Name: "John Doe"},
			expectErr: true,
		},
		"invalid_email": { // No @ separator
			user:      &model.User{Email: "john.example.com", Name: "John Doe"},
			expectErr: true,
		},
		"empty_name": {
			user:      &model.User{Email: "john@example.com", Name: ""},
			expectErr: true,
		},
		"name_too_long": { // 65 character name exceeds the limit
			user:      &model.User{Email: "john@example.com", Name: strings.Repeat("a", model.MaxNameLength+1)},
			expectErr: true,
		},
	}

	fn := func(tc tcase) func(*testing.T) {
		return func(t *testing.T) {
			store, err := NewTestSqlConn(t)
			if err != nil {
				t.Fatalf("failed to open test connection: %v", err)
			}

			err = store.NonTx().CreateUser(tc.user)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("CreateUser: expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateUser: unexpected error: %v", err)
			}
			if tc.user.ID == 0 {
				t.Fatalf("CreateUser: expected non-zero ID")
			}
		}
	}

	for name, tc := range tcases {
		t.Run(name, fn(tc))
	}
}

func TestGetUserByEmail(t *testing.T) {
	t.Parallel()

	type tcase struct {
		email      string
		seedUser   bool
		expectUser bool
	}

	tests := map[string]tcase{
		"user_exists": {
			email:      "john@example.com",
			seedUser:   true,
			expectUser: true,
		},
		"no_user_exists": {
			email:      "jane@example.com",
			seedUser:   false,
			expectUser: false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewTestSqlConn(t)
			if err != nil {
				t.Fatalf("failed to open test connection: %v", err)
			}

			var seeded *model.User
			if tc.seedUser {
				seeded = seedUser(t, store.NonTx(), tc.email, "John Doe")
			}

			got, err := store.NonTx().GetUserByEmail(tc.email)
			if err != nil {
				t.Fatalf("GetUserByEmail: unexpected error: %v", err)
			}
			if !tc.expectUser {
				if got != nil {
					t.Fatalf("GetUserByEmail: expected nil, got user")
				}
				return
			}
			if got == nil {
				t.Fatalf("GetUserByEmail: expected user, got nil")
			}

			if diff := cmp.Diff(seeded, got, cmpopts.IgnoreFields(model.User{}, "LastSeen", "CreatedAt")); diff != "" {
				t.Fatalf("GetUserByEmail mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpdateOnlineStatus(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	st := store.NonTx()
	u := seedUser(t, st, "john@example.com", "John Doe")

	lastSeen := time.Date(2026, 2, 3, 12, 30, 0, 0, time.UTC)
	if err := st.UpdateOnlineStatus(u.ID, true, lastSeen); err != nil {
		t.Fatalf("UpdateOnlineStatus: unexpected error: %v", err)
	}

	got, err := st.GetUserByID(u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: unexpected error: %v", err)
	}
	if !got.IsOnline {
		t.Fatalf("UpdateOnlineStatus: expected user to be online")
	}
	if diff := cmp.Diff(lastSeen, got.LastSeen); diff != "" {
		t.Fatalf("UpdateOnlineStatus last_seen mismatch (-want +got):\n%s", diff)
	}

	if err := st.UpdateOnlineStatus(9999, false, lastSeen); err == nil {
		t.Fatalf("UpdateOnlineStatus: expected error for unknown user, got nil")
	}
}

func TestCreateConversation(t *testing.T) {
	t.Parallel()

	type tcase struct {
		conversation *model.Conversation
		expectErr    bool
	}

	tests := map[string]tcase{
		"direct_conversation": {
			conversation: &model.Conversation{Participants: []int64{1, 2}},
			expectErr:    false,
		},
		"group_conversation": {
			conversation: &model.Conversation{
				Participants: []int64{1, 2, 3},
				IsGroup:      true,
				GroupName:    "Weekend plans",
				GroupAdmin:   1,
			},
			expectErr: false,
		},
		"too_few_participants": {
			conversation: &model.Conversation{Participants: []int64{1}},
			expectErr:    true,
		},
		"group_without_name": {
			conversation: &model.Conversation{
				Participants: []int64{1, 2, 3},
				IsGroup:      true,
			},
			expectErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewTestSqlConn(t)
			if err != nil {
				t.Fatalf("failed to open test connection: %v", err)
			}

			err = store.NonTx().CreateConversation(tc.conversation)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("CreateConversation: expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateConversation: unexpected error: %v", err)
			}

			got, err := store.NonTx().GetConversation(tc.conversation.ID)
			if err != nil {
				t.Fatalf("GetConversation: unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.conversation, got, cmpopts.IgnoreFields(model.Conversation{}, "CreatedAt")); diff != "" {
				t.Fatalf("GetConversation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetConversationMissing(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	got, err := store.NonTx().GetConversation(42)
	if err != nil {
		t.Fatalf("GetConversation: unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("GetConversation: expected nil for missing conversation, got %+v", got)
	}
}

func TestListConversationsByParticipant(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	st := store.NonTx()
	seedConversation(t, st, 1, 2)
	seedConversation(t, st, 1, 3)
	seedConversation(t, st, 2, 3)

	got, err := st.ListConversationsByParticipant(1)
	if err != nil {
		t.Fatalf("ListConversationsByParticipant: unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListConversationsByParticipant: expected 2 conversations, got %d", len(got))
	}
	for _, c := range got {
		if !c.HasParticipant(1) {
			t.Fatalf("ListConversationsByParticipant: conversation %d does not include user 1", c.ID)
		}
	}
}

func TestUpdateLastMessage(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	st := store.NonTx()
	c := seedConversation(t, st, 1, 2)

	at := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	if err := st.UpdateLastMessage(c.ID, 7, at); err != nil {
		t.Fatalf("UpdateLastMessage: unexpected error: %v", err)
	}

	got, err := st.GetConversation(c.ID)
	if err != nil {
		t.Fatalf("GetConversation: unexpected error: %v", err)
	}
	if got.LastMessageID != 7 {
		t.Fatalf("UpdateLastMessage: last_message_id want=7 got=%d", got.LastMessageID)
	}
	if diff := cmp.Diff(at, got.LastMessageTime); diff != "" {
		t.Fatalf("UpdateLastMessage time mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateMessage(t *testing.T) {
	t.Parallel()

	type tcase struct {
		message   *model.Message
		expectErr bool
	}

	tests := map[string]tcase{
		"valid_text_message": {
			message: &model.Message{
				ConversationID: 1,
				SenderID:       1,
				Type:           model.TypeText,
				Text:           "Hello, world!",
			},
			expectErr: false,
		},
		"empty_text": {
			message: &model.Message{
				ConversationID: 1,
				SenderID:       1,
				Type:           model.TypeText,
				Text:           "   ",
			},
			expectErr: true,
		},
		"text_exceeds_max_length": {
			message: &model.Message{
				ConversationID: 1,
				SenderID:       1,
				Type:           model.TypeText,
				Text:           strings.Repeat("a", model.MessageMaxTextLength+1),
			},
			expectErr: true,
		},
		"media_without_url": {
			message: &model.Message{
				ConversationID: 1,
				SenderID:       1,
				Type:           model.TypeImage,
			},
			expectErr: true,
		},
		"media_message": {
			message: &model.Message{
				ConversationID: 1,
				SenderID:       1,
				Type:           model.TypeImage,
				MediaURL:       "https://cdn.example.com/cat.png",
				FileName:       "cat.png",
				FileSize:       2048,
			},
			expectErr: false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewTestSqlConn(t)
			if err != nil {
				t.Fatalf("failed to open test connection: %v", err)
			}

			conv := seedMessageFixture(t, store.NonTx())
			tc.message.ConversationID = conv.ID

			err = store.NonTx().CreateMessage(tc.message)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("CreateMessage: expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateMessage: unexpected error: %v", err)
			}

			if tc.message.ID == 0 {
				t.Fatalf("CreateMessage: expected non-zero ID")
			}
			if tc.message.Status != model.StatusSent {
				t.Fatalf("CreateMessage: expected status sent, got %s", tc.message.Status)
			}
		})
	}
}

func TestListMessages(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	st := store.NonTx()

	conv1 := seedMessageFixture(t, st)
	conv2 := seedConversation(t, st, 1, 2)

	msgs := []model.Message{
		{ConversationID: conv1.ID, SenderID: 1, Type: model.TypeText, Text: "msg one"},
		{ConversationID: conv1.ID, SenderID: 2, Type: model.TypeText, Text: "msg two"},
		{ConversationID: conv2.ID, SenderID: 1, Type: model.TypeText, Text: "msg three"},
	}
	for i := range msgs {
		if err := st.CreateMessage(&msgs[i]); err != nil {
			t.Fatalf("CreateMessage[%d]: unexpected error: %v", i, err)
		}
	}

	t.Run("all_messages", func(t *testing.T) {
		got, err := st.ListMessages(model.MessageFilters{})
		if err != nil {
			t.Fatalf("ListMessages: unexpected error: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("ListMessages: expected 3 messages, got %d", len(got))
		}
	})

	t.Run("filter_by_conversation", func(t *testing.T) {
		got, err := st.ListMessages(model.MessageFilters{LimitToConversationID: &conv1.ID})
		if err != nil {
			t.Fatalf("ListMessages: unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("ListMessages: expected 2 messages for conversation 1, got %d", len(got))
		}
	})

	t.Run("filter_by_sender", func(t *testing.T) {
		senderID := int64(2)
		got, err := st.ListMessages(model.MessageFilters{LimitToSenderID: &senderID})
		if err != nil {
			t.Fatalf("ListMessages: unexpected error: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("ListMessages: expected 1 message for sender 2, got %d", len(got))
		}
	})

	t.Run("pagination", func(t *testing.T) {
		pageSize := int64(2)
		offset := int64(2)
		got, err := st.ListMessages(model.MessageFilters{PageSize: &pageSize, Offset: &offset})
		if err != nil {
			t.Fatalf("ListMessages: unexpected error: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("ListMessages: expected 1 message with offset 2, got %d", len(got))
		}
	})
}

func TestUpdateMessageReceipts(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	st := store.NonTx()

	conv := seedMessageFixture(t, st)
	msg := &model.Message{ConversationID: conv.ID, SenderID: 1, Type: model.TypeText, Text: "hello"}
	if err := st.CreateMessage(msg); err != nil {
		t.Fatalf("CreateMessage: unexpected error: %v", err)
	}

	at := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	if !msg.MarkDelivered(2, at) {
		t.Fatalf("MarkDelivered: expected change")
	}
	if err := st.UpdateMessageReceipts(msg); err != nil {
		t.Fatalf("UpdateMessageReceipts: unexpected error: %v", err)
	}

	got, err := st.GetMessage(msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: unexpected error: %v", err)
	}
	if got.Status != model.StatusDelivered {
		t.Fatalf("UpdateMessageReceipts: status want=delivered got=%s", got.Status)
	}
	if !got.DeliveredToUser(2) {
		t.Fatalf("UpdateMessageReceipts: expected delivery receipt for user 2")
	}

	if err := st.UpdateMessageReceipts(&model.Message{ID: 9999, Status: model.StatusSeen}); err == nil {
		t.Fatalf("UpdateMessageReceipts: expected error for unknown message, got nil")
	}
}

func TestMarkMessagesSeen(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	ctx := context.Background()
	st := store.NonTx()

	// Conversation between users 1 and 2. User 2 views the backlog, which
	// includes a message of their own and one they have already seen.
	conv := seedMessageFixture(t, st)
	msgs := []model.Message{
		{ConversationID: conv.ID, SenderID: 1, Type: model.TypeText, Text: "from user 1"},
		{ConversationID: conv.ID, SenderID: 2, Type: model.TypeText, Text: "from user 2"},
		{ConversationID: conv.ID, SenderID: 1, Type: model.TypeText, Text: "already seen"},
	}
	for i := range msgs {
		if err := st.CreateMessage(&msgs[i]); err != nil {
			t.Fatalf("CreateMessage[%d]: unexpected error: %v", i, err)
		}
	}

	earlier := time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)
	msgs[2].MarkSeen(2, earlier)
	if err := st.UpdateMessageReceipts(&msgs[2]); err != nil {
		t.Fatalf("UpdateMessageReceipts: unexpected error: %v", err)
	}

	at := time.Date(2026, 2, 3, 11, 0, 0, 0, time.UTC)
	ids := []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID}

	tx, err := store.Tx(ctx)
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	updated, err := tx.MarkMessagesSeen(conv.ID, 2, ids, at)
	if err != nil {
		t.Fatalf("MarkMessagesSeen: unexpected error: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if len(updated) != 1 {
		t.Fatalf("MarkMessagesSeen: expected 1 updated message, got %d", len(updated))
	}
	if updated[0].ID != msgs[0].ID {
		t.Fatalf("MarkMessagesSeen: updated wrong message: want=%d got=%d", msgs[0].ID, updated[0].ID)
	}

	got, err := st.GetMessage(msgs[0].ID)
	if err != nil {
		t.Fatalf("GetMessage: unexpected error: %v", err)
	}
	if got.Status != model.StatusSeen {
		t.Fatalf("MarkMessagesSeen: status want=seen got=%s", got.Status)
	}
	if !got.SeenByUser(2) || !got.DeliveredToUser(2) {
		t.Fatalf("MarkMessagesSeen: expected seen and delivered receipts for user 2")
	}

	// Second pass is a no-op.
	updated, err = st.MarkMessagesSeen(conv.ID, 2, ids, at.Add(time.Minute))
	if err != nil {
		t.Fatalf("MarkMessagesSeen: unexpected error on repeat: %v", err)
	}
	if len(updated) != 0 {
		t.Fatalf("MarkMessagesSeen: expected no updates on repeat, got %d", len(updated))
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	st := store.NonTx()

	rawToken, err := crypto.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: failed to generate token: %v", err)
	}
	hash := crypto.HashToken(rawToken)

	expiresAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	if err := st.CreateToken(hash, 1, expiresAt); err != nil {
		t.Fatalf("CreateToken: failed to create token: %v", err)
	}

	got, err := st.GetToken(hash)
	if err != nil {
		t.Fatalf("GetToken: unexpected error: %v", err)
	}
	if got == nil {
		t.Fatalf("GetToken: expected token, got nil")
	}
	if got.UserID != 1 {
		t.Fatalf("GetToken: user_id want=1 got=%d", got.UserID)
	}

	missing, err := st.GetToken(crypto.HashToken("nope"))
	if err != nil {
		t.Fatalf("GetToken: unexpected error: %v", err)
	}
	if missing != nil {
		t.Fatalf("GetToken: expected nil for unknown hash")
	}
}

func TestDeleteExpiredTokens(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	st := store.NonTx()
	now := time.Now().UTC()

	expired, err := crypto.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	valid, err := crypto.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	forever, err := crypto.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if err := st.CreateToken(crypto.HashToken(expired), 1, now.Add(-time.Hour)); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if err := st.CreateToken(crypto.HashToken(valid), 1, now.Add(time.Hour)); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	// Zero expiry means the token never expires.
	if err := st.CreateToken(crypto.HashToken(forever), 1, time.Time{}); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	deleted, err := st.DeleteExpiredTokens(now)
	if err != nil {
		t.Fatalf("DeleteExpiredTokens: unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("DeleteExpiredTokens: want=1 got=%d", deleted)
	}

	if got, _ := st.GetToken(crypto.HashToken(valid)); got == nil {
		t.Fatalf("DeleteExpiredTokens: valid token was deleted")
	}
	if got, _ := st.GetToken(crypto.HashToken(forever)); got == nil {
		t.Fatalf("DeleteExpiredTokens: non-expiring token was deleted")
	}
}

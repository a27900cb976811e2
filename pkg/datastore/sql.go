package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mkarlsson/chatrelay/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

func (p *baseProvider) ZeroTime() time.Time {
	return time.Time{}
}

func (p *baseProvider) Close() error {
	return nil
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory provides database access for all chatrelay entities.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf *ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf *ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := DB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: DB}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (sf *ProviderFactory) Close() error {
	return sf.DB.Close()
}

func (sf *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		email         TEXT    NOT NULL UNIQUE CHECK(length(email) > 0),
		phone         TEXT    NOT NULL DEFAULT '',
		name          TEXT    NOT NULL CHECK(length(name) > 0 AND length(name) <= 64),
		about         TEXT    NOT NULL DEFAULT '',
		profile_image TEXT    NOT NULL DEFAULT '',
		is_online     INTEGER NOT NULL DEFAULT 0,
		last_seen     TEXT    NOT NULL DEFAULT (datetime('now')),
		password_hash BLOB,
		password_salt BLOB,
		created_at    TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		is_group          INTEGER NOT NULL DEFAULT 0,
		group_name        TEXT    NOT NULL DEFAULT '',
		group_image       TEXT    NOT NULL DEFAULT '',
		group_description TEXT    NOT NULL DEFAULT '',
		group_admin       INTEGER NOT NULL DEFAULT 0,
		last_message_id   INTEGER NOT NULL DEFAULT 0,
		last_message_time TEXT,
		created_at        TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id         INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id       INTEGER NOT NULL,
		message_type    TEXT    NOT NULL DEFAULT 'text',
		text            TEXT    NOT NULL DEFAULT '',
		media_url       TEXT    NOT NULL DEFAULT '',
		file_name       TEXT    NOT NULL DEFAULT '',
		file_size       INTEGER NOT NULL DEFAULT 0,
		replied_to      INTEGER NOT NULL DEFAULT 0,
		status          TEXT    NOT NULL DEFAULT 'sent',
		delivered_to    TEXT    NOT NULL DEFAULT '[]',
		seen_by         TEXT    NOT NULL DEFAULT '[]',
		created_at      TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

	CREATE TABLE IF NOT EXISTS tokens (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		hash       TEXT    NOT NULL UNIQUE,
		user_id    INTEGER NOT NULL,
		expires_at TEXT,
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	ctx := context.Background()
	if err := sf.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := sf.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := sf.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := sf.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (sf *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := sf.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := sf.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := sf.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (sf *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := sf.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (sf *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := sf.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (sf *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := sf.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

func marshalReceipts(receipts []model.Receipt) (string, error) {
	if len(receipts) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(receipts)
	if err != nil {
		return "", fmt.Errorf("datastore: marshal receipts: %w", err)
	}
	return string(data), nil
}

func unmarshalReceipts(value string) ([]model.Receipt, error) {
	if value == "" || value == "[]" {
		return nil, nil
	}
	var receipts []model.Receipt
	if err := json.Unmarshal([]byte(value), &receipts); err != nil {
		return nil, fmt.Errorf("datastore: unmarshal receipts: %w", err)
	}
	return receipts, nil
}

// ---- Users ----

// CreateUser inserts a new user and assigns its ID. It validates the record
// before inserting.
func (s *baseProvider) CreateUser(user *model.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO users (email, phone, name, about, profile_image, is_online, last_seen, password_hash, password_salt) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		user.Email, user.Phone, user.Name, user.About, user.ProfileImage,
		boolToInt(user.IsOnline), formatDBTime(timeOrNow(user.LastSeen)),
		user.PasswordHash, user.PasswordSalt,
	)
	if err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	user.ID, _ = res.LastInsertId()
	user.CreatedAt = time.Now().UTC()
	return nil
}

const userColumns = "id, email, phone, name, about, profile_image, is_online, last_seen, password_hash, password_salt, created_at"

func (s *baseProvider) scanUser(row *sql.Row) (*model.User, error) {
	u := &model.User{}
	var isOnline int
	var lastSeen, createdAt string
	err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.Name, &u.About, &u.ProfileImage,
		&isOnline, &lastSeen, &u.PasswordHash, &u.PasswordSalt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.IsOnline = isOnline != 0
	if u.LastSeen, err = parseDBTime(lastSeen); err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	if u.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	return u, nil
}

// GetUserByID retrieves a user by ID. Returns (nil, nil) if not found.
func (s *baseProvider) GetUserByID(id int64) (*model.User, error) {
	return s.scanUser(s.QueryRowContext(context.Background(),
		"SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetUserByEmail retrieves a user by email. Returns (nil, nil) if not found.
func (s *baseProvider) GetUserByEmail(email string) (*model.User, error) {
	return s.scanUser(s.QueryRowContext(context.Background(),
		"SELECT "+userColumns+" FROM users WHERE email = ?", email))
}

// ListUsers returns all users.
func (s *baseProvider) ListUsers() ([]model.User, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		var u model.User
		var isOnline int
		var lastSeen, createdAt string
		if err := rows.Scan(&u.ID, &u.Email, &u.Phone, &u.Name, &u.About, &u.ProfileImage,
			&isOnline, &lastSeen, &u.PasswordHash, &u.PasswordSalt, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		u.IsOnline = isOnline != 0
		if u.LastSeen, err = parseDBTime(lastSeen); err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		if u.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateOnlineStatus persists the denormalized presence fields.
func (s *baseProvider) UpdateOnlineStatus(userID int64, isOnline bool, lastSeen time.Time) error {
	res, err := s.ExecContext(context.Background(),
		"UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?",
		boolToInt(isOnline), formatDBTime(lastSeen), userID)
	if err != nil {
		return fmt.Errorf("datastore: update online status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("datastore: update online status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("datastore: update online status: %w", model.ErrUserNotFound)
	}
	return nil
}

// ---- Conversations ----

// CreateConversation inserts a conversation and its participant rows.
func (s *baseProvider) CreateConversation(conversation *model.Conversation) error {
	if err := conversation.Validate(); err != nil {
		return fmt.Errorf("datastore: create conversation: %w", err)
	}
	ctx := context.Background()
	res, err := s.ExecContext(ctx,
		"INSERT INTO conversations (is_group, group_name, group_image, group_description, group_admin) VALUES (?, ?, ?, ?, ?)",
		boolToInt(conversation.IsGroup), conversation.GroupName, conversation.GroupImage,
		conversation.GroupDescription, conversation.GroupAdmin)
	if err != nil {
		return fmt.Errorf("datastore: create conversation: %w", err)
	}
	conversation.ID, _ = res.LastInsertId()
	conversation.CreatedAt = time.Now().UTC()

	for _, userID := range conversation.Participants {
		if _, err := s.ExecContext(ctx,
			"INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)",
			conversation.ID, userID); err != nil {
			return fmt.Errorf("datastore: create conversation participant: %w", err)
		}
	}
	return nil
}

// GetConversation retrieves a conversation with its participant list.
// Returns (nil, nil) if not found.
func (s *baseProvider) GetConversation(id int64) (*model.Conversation, error) {
	ctx := context.Background()
	c := &model.Conversation{}
	var isGroup int
	var lastMessageTime sql.NullString
	var createdAt string
	err := s.QueryRowContext(ctx,
		"SELECT id, is_group, group_name, group_image, group_description, group_admin, last_message_id, last_message_time, created_at FROM conversations WHERE id = ?", id).
		Scan(&c.ID, &isGroup, &c.GroupName, &c.GroupImage, &c.GroupDescription,
			&c.GroupAdmin, &c.LastMessageID, &lastMessageTime, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get conversation: %w", err)
	}
	c.IsGroup = isGroup != 0
	if lastMessageTime.Valid {
		if c.LastMessageTime, err = parseDBTime(lastMessageTime.String); err != nil {
			return nil, fmt.Errorf("datastore: get conversation: %w", err)
		}
	}
	if c.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("datastore: get conversation: %w", err)
	}

	rows, err := s.QueryContext(ctx,
		"SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY user_id", id)
	if err != nil {
		return nil, fmt.Errorf("datastore: get conversation participants: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("datastore: scan participant: %w", err)
		}
		c.Participants = append(c.Participants, userID)
	}
	return c, rows.Err()
}

// ListConversationsByParticipant returns every conversation the user belongs
// to, participant lists included.
func (s *baseProvider) ListConversationsByParticipant(userID int64) ([]model.Conversation, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT conversation_id FROM conversation_participants WHERE user_id = ? ORDER BY conversation_id", userID)
	if err != nil {
		return nil, fmt.Errorf("datastore: list conversations: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("datastore: scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	conversations := make([]model.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetConversation(id)
		if err != nil {
			return nil, err
		}
		if c != nil {
			conversations = append(conversations, *c)
		}
	}
	return conversations, nil
}

// UpdateLastMessage moves the conversation's last-message pointer. Stale
// writes can land last under concurrent sends; readers re-derive display
// state from this field accepting that rare race.
func (s *baseProvider) UpdateLastMessage(conversationID, messageID int64, at time.Time) error {
	_, err := s.ExecContext(context.Background(),
		"UPDATE conversations SET last_message_id = ?, last_message_time = ? WHERE id = ?",
		messageID, formatDBTime(at), conversationID)
	if err != nil {
		return fmt.Errorf("datastore: update last message: %w", err)
	}
	return nil
}

// ---- Messages ----

const messageColumns = "id, conversation_id, sender_id, message_type, text, media_url, file_name, file_size, replied_to, status, delivered_to, seen_by, created_at"

// CreateMessage inserts a message and assigns its ID.
func (s *baseProvider) CreateMessage(message *model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("datastore: create message: %w", err)
	}
	if message.Status == "" {
		message.Status = model.StatusSent
	}
	delivered, err := marshalReceipts(message.DeliveredTo)
	if err != nil {
		return err
	}
	seen, err := marshalReceipts(message.SeenBy)
	if err != nil {
		return err
	}
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO messages (conversation_id, sender_id, message_type, text, media_url, file_name, file_size, replied_to, status, delivered_to, seen_by) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		message.ConversationID, message.SenderID, string(message.Type), message.Text,
		message.MediaURL, message.FileName, message.FileSize, message.RepliedTo,
		string(message.Status), delivered, seen)
	if err != nil {
		return fmt.Errorf("datastore: create message: %w", err)
	}
	message.ID, _ = res.LastInsertId()
	message.CreatedAt = time.Now().UTC()
	return nil
}

func scanMessageRow(scan func(dest ...any) error) (*model.Message, error) {
	m := &model.Message{}
	var msgType, status, delivered, seen, createdAt string
	err := scan(&m.ID, &m.ConversationID, &m.SenderID, &msgType, &m.Text,
		&m.MediaURL, &m.FileName, &m.FileSize, &m.RepliedTo, &status,
		&delivered, &seen, &createdAt)
	if err != nil {
		return nil, err
	}
	m.Type = model.MessageType(msgType)
	m.Status = model.MessageStatus(status)
	if m.DeliveredTo, err = unmarshalReceipts(delivered); err != nil {
		return nil, err
	}
	if m.SeenBy, err = unmarshalReceipts(seen); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessage retrieves a message by ID. Returns (nil, nil) if not found.
func (s *baseProvider) GetMessage(id int64) (*model.Message, error) {
	row := s.QueryRowContext(context.Background(),
		"SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	m, err := scanMessageRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get message: %w", err)
	}
	return m, nil
}

// ListMessages returns messages matching the filters, oldest first.
func (s *baseProvider) ListMessages(filters model.MessageFilters) ([]model.Message, error) {
	query := "SELECT " + messageColumns + " FROM messages"
	var clauses []string
	var args []any
	if filters.LimitToConversationID != nil {
		clauses = append(clauses, "conversation_id = ?")
		args = append(args, *filters.LimitToConversationID)
	}
	if filters.LimitToSenderID != nil {
		clauses = append(clauses, "sender_id = ?")
		args = append(args, *filters.LimitToSenderID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"
	if filters.PageSize != nil {
		query += " LIMIT ?"
		args = append(args, *filters.PageSize)
		if filters.Offset != nil {
			query += " OFFSET ?"
			args = append(args, *filters.Offset)
		}
	}

	rows, err := s.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("datastore: list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessageRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// UpdateMessageReceipts persists status and receipt lists after in-memory
// mutation via Message.MarkDelivered/MarkSeen.
func (s *baseProvider) UpdateMessageReceipts(message *model.Message) error {
	delivered, err := marshalReceipts(message.DeliveredTo)
	if err != nil {
		return err
	}
	seen, err := marshalReceipts(message.SeenBy)
	if err != nil {
		return err
	}
	res, err := s.ExecContext(context.Background(),
		"UPDATE messages SET status = ?, delivered_to = ?, seen_by = ? WHERE id = ?",
		string(message.Status), delivered, seen, message.ID)
	if err != nil {
		return fmt.Errorf("datastore: update message receipts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("datastore: update message receipts: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("datastore: update message receipts: %w", model.ErrMessageNotFound)
	}
	return nil
}

// MarkMessagesSeen marks each listed message in the conversation as seen by
// the viewer, skipping the viewer's own messages and already-seen ones.
// Returns only the messages that changed. Callers wanting atomicity run it
// inside a Tx provider.
func (s *baseProvider) MarkMessagesSeen(conversationID, viewerID int64, messageIDs []int64, at time.Time) ([]model.Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(messageIDs)), ", ")
	args := make([]any, 0, len(messageIDs)+1)
	args = append(args, conversationID)
	for _, id := range messageIDs {
		args = append(args, id)
	}

	rows, err := s.QueryContext(context.Background(),
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? AND id IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("datastore: mark messages seen: %w", err)
	}
	var candidates []model.Message
	for rows.Next() {
		m, err := scanMessageRow(rows.Scan)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		candidates = append(candidates, *m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	var updated []model.Message
	for i := range candidates {
		m := &candidates[i]
		if m.SenderID == viewerID {
			continue
		}
		if !m.MarkSeen(viewerID, at) {
			continue
		}
		if err := s.UpdateMessageReceipts(m); err != nil {
			return nil, err
		}
		updated = append(updated, *m)
	}
	return updated, nil
}

// ---- Tokens ----

// CreateToken stores a new access token (hash only).
func (s *baseProvider) CreateToken(hash string, userID int64, expiresAt time.Time) error {
	var expires any
	if !expiresAt.IsZero() {
		expires = formatDBTime(expiresAt)
	}
	_, err := s.ExecContext(context.Background(),
		"INSERT INTO tokens (hash, user_id, expires_at) VALUES (?, ?, ?)",
		hash, userID, expires)
	if err != nil {
		return fmt.Errorf("datastore: create token: %w", err)
	}
	return nil
}

// GetToken retrieves a token by hash. Returns (nil, nil) if not found.
func (s *baseProvider) GetToken(hash string) (*model.Token, error) {
	t := &model.Token{}
	var expiresAt sql.NullString
	var createdAt string
	err := s.QueryRowContext(context.Background(),
		"SELECT id, hash, user_id, expires_at, created_at FROM tokens WHERE hash = ?", hash).
		Scan(&t.ID, &t.Hash, &t.UserID, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get token: %w", err)
	}
	if expiresAt.Valid {
		if t.ExpiresAt, err = parseDBTime(expiresAt.String); err != nil {
			return nil, fmt.Errorf("datastore: get token: %w", err)
		}
	}
	if t.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("datastore: get token: %w", err)
	}
	return t, nil
}

// DeleteExpiredTokens removes tokens whose expiry has passed and reports how
// many were removed.
func (s *baseProvider) DeleteExpiredTokens(now time.Time) (int64, error) {
	res, err := s.ExecContext(context.Background(),
		"DELETE FROM tokens WHERE expires_at IS NOT NULL AND expires_at < ?",
		formatDBTime(now))
	if err != nil {
		return 0, fmt.Errorf("datastore: delete expired tokens: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("datastore: delete expired tokens: %w", err)
	}
	return deleted, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// ABOUTME: SQLite implementation of intake-gateway persistence using modernc.org/sqlite
// ABOUTME: Provides conversation/message/profile storage with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists conversations, messages, and user profiles.
// Every public operation is transactional as a unit: it either commits or
// leaves the database untouched.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// createSchema creates the tables if they don't already exist
func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT 'User',
		gender TEXT,
		date_of_birth TEXT,
		address_line1 TEXT,
		city TEXT,
		province TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		topic TEXT NOT NULL DEFAULT 'New Chat',
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_user
		ON conversations(user_id, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation starts a new conversation for the given user and
// returns it. Conversation ids are never reused.
func (s *SQLiteStore) CreateConversation(ctx context.Context, userID, topic string) (*Conversation, error) {
	if topic == "" {
		topic = "New Chat"
	}
	conv := &Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Topic:     topic,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, topic, started_at) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Topic, conv.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	s.logger.Debug("conversation created", "conversation_id", conv.ID, "user_id", userID)
	return conv, nil
}

// GetConversation returns conversation metadata, or ErrNotFound.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, topic, started_at, ended_at FROM conversations WHERE id = ?`,
		conversationID)

	var conv Conversation
	var endedAt sql.NullTime
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Topic, &conv.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	if endedAt.Valid {
		conv.EndedAt = &endedAt.Time
	}
	return &conv, nil
}

// CheckOwnership verifies the conversation exists and belongs to the user.
// Returns ErrNotFound for an unknown conversation and ErrAccessDenied for
// one owned by somebody else.
func (s *SQLiteStore) CheckOwnership(ctx context.Context, conversationID, userID string) error {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.UserID != userID {
		return ErrAccessDenied
	}
	return nil
}

// InsertMessage appends a message to a conversation and returns it with
// its generated id and timestamp.
func (s *SQLiteStore) InsertMessage(ctx context.Context, conversationID, sender, content string) (*Message, error) {
	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Sender, msg.Content, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	s.logger.Debug("message saved",
		"message_id", msg.ID,
		"conversation_id", conversationID,
		"sender", sender)
	return msg, nil
}

// DeleteMessage removes a message by id. Used to roll back a turn whose
// agent call failed after the user message was recorded.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

// History returns all messages for a conversation in creation order.
func (s *SQLiteStore) History(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender, content, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// CreateUser inserts a user profile. Mostly used by tests and bootstrap.
func (s *SQLiteStore) CreateUser(ctx context.Context, profile *Profile) error {
	if profile.UserID == "" {
		profile.UserID = uuid.New().String()
	}
	var dob any
	if profile.DateOfBirth != nil {
		dob = profile.DateOfBirth.Format("2006-01-02")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, gender, date_of_birth, address_line1, city, province)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		profile.UserID, profile.DisplayName, profile.Gender, dob,
		profile.Address, profile.City, profile.Province)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetProfile returns the demographic profile for a user, or ErrNotFound.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, gender, date_of_birth, address_line1, city, province
		 FROM users WHERE id = ?`, userID)

	var p Profile
	var gender, dob, address, city, province sql.NullString
	err := row.Scan(&p.UserID, &p.DisplayName, &gender, &dob, &address, &city, &province)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	p.Gender = gender.String
	p.Address = address.String
	p.City = city.String
	p.Province = province.String
	if dob.Valid && dob.String != "" {
		t, perr := time.Parse("2006-01-02", dob.String)
		if perr == nil {
			p.DateOfBirth = &t
		} else {
			s.logger.Warn("unparseable date_of_birth", "user_id", userID, "value", dob.String)
		}
	}
	return &p, nil
}

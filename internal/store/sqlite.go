// Package store persists users and conversation history in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

type User struct {
	ID           int64
	Username     string
	LanguageCode string
	ActiveModel  string
	SystemPrompt string
	ChatCount    int
	LastChatDate string
}

type Message struct {
	ID            string
	UserID        int64
	Role          string
	Content       string
	ReasoningText string
	CreatedAt     time.Time
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			language_code TEXT NOT NULL DEFAULT 'en',
			active_model TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			chat_count INTEGER NOT NULL DEFAULT 0,
			last_chat_date TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			reasoning_text TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_created
			ON messages(user_id, created_at);`,
	}
	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	alterQueries := []string{
		`ALTER TABLE users ADD COLUMN system_prompt TEXT NOT NULL DEFAULT '';`,
		`ALTER TABLE messages ADD COLUMN reasoning_text TEXT NOT NULL DEFAULT '';`,
	}
	for _, query := range alterQueries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			message := strings.ToLower(err.Error())
			if strings.Contains(message, "duplicate column name") || strings.Contains(message, "no such table") {
				continue
			}
			return fmt.Errorf("run migration alter: %w", err)
		}
	}
	return nil
}

// GetOrCreateUser loads the user row, creating it with defaults on first
// contact. Username and language are refreshed from the connector on every
// call so the row tracks the account's current state.
func (s *Store) GetOrCreateUser(ctx context.Context, userID int64, username, languageCode string) (User, error) {
	if strings.TrimSpace(languageCode) == "" {
		languageCode = "en"
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO users (id, username, language_code) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET username = excluded.username`,
		userID, username, languageCode,
	)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}

	var user User
	err = s.db.QueryRowContext(
		ctx,
		`SELECT id, username, language_code, active_model, system_prompt, chat_count, last_chat_date
			FROM users WHERE id = ?`,
		userID,
	).Scan(&user.ID, &user.Username, &user.LanguageCode, &user.ActiveModel, &user.SystemPrompt, &user.ChatCount, &user.LastChatDate)
	if err != nil {
		return User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// History returns the user's most recent messages in chronological order.
func (s *Store) History(ctx context.Context, userID int64, limit int) ([]Message, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, user_id, role, content, reasoning_text, created_at FROM (
			SELECT rowid AS seq, id, user_id, role, content, reasoning_text, created_at
				FROM messages WHERE user_id = ?
				ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var message Message
		var createdAt string
		if err := rows.Scan(&message.ID, &message.UserID, &message.Role, &message.Content, &message.ReasoningText, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if parsed, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
			message.CreatedAt = parsed
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

// AppendMessage stores one turn and returns its generated id.
func (s *Store) AppendMessage(ctx context.Context, userID int64, role, content, reasoningText string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO messages (id, user_id, role, content, reasoning_text) VALUES (?, ?, ?, ?, ?)`,
		id, userID, role, content, reasoningText,
	)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

func (s *Store) GetMessageReasoning(ctx context.Context, messageID string) (string, error) {
	var reasoningText string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT reasoning_text FROM messages WHERE id = ?`,
		messageID,
	).Scan(&reasoningText)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load reasoning: %w", err)
	}
	return reasoningText, nil
}

// DeleteMessages wipes the user's conversation history.
func (s *Store) DeleteMessages(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

func (s *Store) GetUserQuota(ctx context.Context, userID int64) (int, string, error) {
	var count int
	var windowDate string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT chat_count, last_chat_date FROM users WHERE id = ?`,
		userID,
	).Scan(&count, &windowDate)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("load quota: %w", err)
	}
	return count, windowDate, nil
}

func (s *Store) SetUserQuota(ctx context.Context, userID int64, count int, windowDate string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE users SET chat_count = ?, last_chat_date = ? WHERE id = ?`,
		count, windowDate, userID,
	)
	if err != nil {
		return fmt.Errorf("set quota: %w", err)
	}
	return nil
}

func (s *Store) IncrementChatCount(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE users SET chat_count = chat_count + 1 WHERE id = ?`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("increment chat count: %w", err)
	}
	return nil
}

func (s *Store) SetLanguage(ctx context.Context, userID int64, languageCode string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE users SET language_code = ? WHERE id = ?`,
		languageCode, userID,
	)
	if err != nil {
		return fmt.Errorf("set language: %w", err)
	}
	return nil
}

func (s *Store) SetActiveModel(ctx context.Context, userID int64, modelID string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE users SET active_model = ? WHERE id = ?`,
		modelID, userID,
	)
	if err != nil {
		return fmt.Errorf("set active model: %w", err)
	}
	return nil
}

func (s *Store) SetSystemPrompt(ctx context.Context, userID int64, prompt string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE users SET system_prompt = ? WHERE id = ?`,
		prompt, userID,
	)
	if err != nil {
		return fmt.Errorf("set system prompt: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

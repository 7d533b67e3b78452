package stub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/landtalk/internal/backend"
)

// SQLiteStore implements Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	full_name     TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	role          TEXT NOT NULL DEFAULT 'agent',
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_by INTEGER NOT NULL REFERENCES users(id),
	worker_id  INTEGER NOT NULL REFERENCES users(id),
	subject    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'open',
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id),
	sender_id       INTEGER NOT NULL REFERENCES users(id),
	body            TEXT NOT NULL,
	created_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS notifications (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      INTEGER NOT NULL REFERENCES users(id),
	reference_id INTEGER NOT NULL,
	type         TEXT NOT NULL,
	is_read      BOOLEAN NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read);
`

// NewSQLiteStore opens the database and applies the schema. Use ":memory:"
// for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== users ====

func (s *SQLiteStore) CreateUser(ctx context.Context, fullName, email, role, passwordHash string) (*backend.User, error) {
	query := `
		INSERT INTO users (full_name, email, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, fullName, email, role, passwordHash, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*backend.User, error) {
	query := `
		SELECT id, full_name, email, role, created_at
		FROM users
		WHERE id = ?
	`
	var user backend.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.FullName,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*backend.User, string, error) {
	query := `
		SELECT id, full_name, email, role, password_hash, created_at
		FROM users
		WHERE email = ?
	`
	var user backend.User
	var hash string
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.FullName,
		&user.Email,
		&user.Role,
		&hash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", backend.ErrNotFound
		}
		return nil, "", fmt.Errorf("query user by email: %w", err)
	}
	return &user, hash, nil
}

func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// ==== conversations ====

func (s *SQLiteStore) CreateConversation(ctx context.Context, createdBy, workerID int64, subject string) (*backend.Conversation, error) {
	query := `
		INSERT INTO conversations (created_by, worker_id, subject, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, createdBy, workerID, subject, backend.ConversationOpen, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}
	return s.GetConversation(ctx, id)
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*backend.Conversation, error) {
	query := `
		SELECT c.id, c.created_by, c.worker_id, c.subject, c.status, c.updated_at,
		       cu.id, cu.full_name, cu.email, cu.role, cu.created_at,
		       wu.id, wu.full_name, wu.email, wu.role, wu.created_at
		FROM conversations c
		JOIN users cu ON cu.id = c.created_by
		JOIN users wu ON wu.id = c.worker_id
		WHERE c.id = ?
	`
	var conv backend.Conversation
	var creator, worker backend.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.CreatedBy, &conv.WorkerID, &conv.Subject, &conv.Status, &conv.UpdatedAt,
		&creator.ID, &creator.FullName, &creator.Email, &creator.Role, &creator.CreatedAt,
		&worker.ID, &worker.FullName, &worker.Email, &worker.Role, &worker.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	conv.Creator = &creator
	conv.Worker = &worker
	return &conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, participantID int64) ([]backend.Conversation, error) {
	query := `
		SELECT c.id, c.created_by, c.worker_id, c.subject, c.status, c.updated_at,
		       cu.id, cu.full_name, cu.email, cu.role, cu.created_at,
		       wu.id, wu.full_name, wu.email, wu.role, wu.created_at
		FROM conversations c
		JOIN users cu ON cu.id = c.created_by
		JOIN users wu ON wu.id = c.worker_id
		WHERE c.created_by = ? OR c.worker_id = ?
		ORDER BY c.updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, participantID, participantID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []backend.Conversation
	for rows.Next() {
		var conv backend.Conversation
		var creator, worker backend.User
		if err := rows.Scan(
			&conv.ID, &conv.CreatedBy, &conv.WorkerID, &conv.Subject, &conv.Status, &conv.UpdatedAt,
			&creator.ID, &creator.FullName, &creator.Email, &creator.Role, &creator.CreatedAt,
			&worker.ID, &worker.FullName, &worker.Email, &worker.Role, &worker.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.Creator = &creator
		conv.Worker = &worker
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	for i := range convs {
		last, err := s.lastMessage(ctx, convs[i].ID)
		if err != nil {
			return nil, err
		}
		convs[i].LastMessage = last
	}
	return convs, nil
}

func (s *SQLiteStore) lastMessage(ctx context.Context, conversationID int64) (*backend.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, body, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	var msg backend.Message
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body, &msg.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last message: %w", err)
	}
	return &msg, nil
}

func (s *SQLiteStore) SetConversationStatus(ctx context.Context, id int64, status backend.ConversationStatus) (*backend.Conversation, error) {
	query := `
		UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("update conversation status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, backend.ErrNotFound
	}
	return s.GetConversation(ctx, id)
}

// ==== messages ====

func (s *SQLiteStore) CreateMessage(ctx context.Context, conversationID, senderID int64, body string) (*backend.Message, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	recipient := conv.CreatedBy
	if senderID == conv.CreatedBy {
		recipient = conv.WorkerID
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, body, created_at)
		VALUES (?, ?, ?, ?)
	`, conversationID, senderID, body, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, now, conversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notifications (user_id, reference_id, type, is_read, created_at)
		VALUES (?, ?, ?, 0, ?)
	`, recipient, conversationID, backend.NotificationMessage, now); err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	return s.getMessage(ctx, id)
}

func (s *SQLiteStore) getMessage(ctx context.Context, id int64) (*backend.Message, error) {
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.body, m.created_at,
		       u.id, u.full_name, u.email, u.role, u.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?
	`
	var msg backend.Message
	var sender backend.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body, &msg.CreatedAt,
		&sender.ID, &sender.FullName, &sender.Email, &sender.Role, &sender.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	msg.Sender = &sender
	return &msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID int64, before *time.Time, limit int) ([]backend.Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE conversation_id = ?
	`, conversationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.body, m.created_at,
		       u.id, u.full_name, u.email, u.role, u.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ?
	`
	args := []any{conversationID}
	if before != nil {
		query += ` AND m.created_at < ?`
		args = append(args, before.UTC())
	}
	query += ` ORDER BY m.created_at DESC, m.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []backend.Message
	for rows.Next() {
		var msg backend.Message
		var sender backend.User
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body, &msg.CreatedAt,
			&sender.ID, &sender.FullName, &sender.Email, &sender.Role, &sender.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		msg.Sender = &sender
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, total, nil
}

// ==== notifications ====

func (s *SQLiteStore) ListUnread(ctx context.Context, userID int64) ([]backend.Notification, error) {
	query := `
		SELECT id, user_id, reference_id, type, is_read, created_at
		FROM notifications
		WHERE user_id = ? AND is_read = 0 AND type = ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, backend.NotificationMessage)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []backend.Notification
	for rows.Next() {
		var n backend.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.ReferenceID, &n.Type, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) MarkRead(ctx context.Context, userID, referenceID int64) error {
	query := `
		UPDATE notifications SET is_read = 1
		WHERE user_id = ? AND reference_id = ? AND type = ?
	`
	if _, err := s.db.ExecContext(ctx, query, userID, referenceID, backend.NotificationMessage); err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

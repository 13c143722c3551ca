// Package stub implements a development backend that speaks the same wire
// contract as the real VLM service: canned token streams, file uploads,
// and sqlite-backed session storage.
package stub

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/justarandomnameduh/omnichat/internal/domain"
)

// Store persists sessions and their logged turns in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database and runs migrations.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate
	// databases. Keep a single connection so the schema survives.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			model_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			images TEXT,
			user_input TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a session.
func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, name, model_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Name, session.ModelID, session.CreatedAt, session.UpdatedAt)
	return err
}

// GetSession returns a session, or nil when it does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, name, model_id, created_at, updated_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.ID, &session.Name, &session.ModelID, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions returns all sessions with message counts, most recently
// active first.
func (s *Store) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.name, s.model_id, s.created_at, s.updated_at, COUNT(m.message_id)
		 FROM sessions s
		 LEFT JOIN messages m ON m.session_id = s.session_id
		 GROUP BY s.session_id
		 ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		var session domain.Session
		if err := rows.Scan(&session.ID, &session.Name, &session.ModelID,
			&session.CreatedAt, &session.UpdatedAt, &session.MessageCount); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and, through the foreign key cascade,
// its messages. It reports whether a session was actually deleted.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppendTurn stores one completed exchange (user message plus assistant
// reply) and bumps the session's activity timestamp, atomically.
func (s *Store) AppendTurn(ctx context.Context, sessionID, userText, assistantText string, imagePaths []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var images sql.NullString
	if len(imagePaths) > 0 {
		data, err := json.Marshal(imagePaths)
		if err != nil {
			return err
		}
		images = sql.NullString{String: string(data), Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, role, content, images, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		newMessageID(), sessionID, string(domain.RoleUser), userText, images, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, role, content, user_input, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		newMessageID(), sessionID, string(domain.RoleAssistant), assistantText, userText, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE session_id = ?`, now, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func newMessageID() string {
	return "msg_" + uuid.New().String()[:8]
}

// ListMessages returns a session's stored messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, role, content, images, created_at FROM messages
		 WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var role string
		var images sql.NullString
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &images, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Role = domain.Role(role)
		if images.Valid {
			var paths []string
			if err := json.Unmarshal([]byte(images.String), &paths); err == nil {
				msg.AssetRefs = paths
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

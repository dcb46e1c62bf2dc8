// Package storage persists conversation state. Two backends implement the
// same contracts: a local SQLite file and a hosted Supabase project.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/aiandbotsgalore/snugglesLIVE/internal/convo"
)

// SQLiteStore keeps messages, summaries, voice preferences and device session
// bindings in a single local database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			session_id TEXT PRIMARY KEY,
			summary TEXT NOT NULL,
			message_count INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS voice_preferences (
			session_id TEXT PRIMARY KEY,
			voice TEXT NOT NULL,
			rate REAL NOT NULL,
			pitch REAL NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS device_sessions (
			device_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendMessage inserts one message, assigning an id and timestamp when the
// caller left them zero, and returns the stored row.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m convo.Message) (convo.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	meta := "{}"
	if len(m.Metadata) > 0 {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return convo.Message{}, fmt.Errorf("failed to encode message metadata: %w", err)
		}
		meta = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, session_id, role, content, created_at, metadata_json) VALUES(?,?,?,?,?,?)`,
		m.ID, m.SessionID, string(m.Role), m.Content, m.CreatedAt.Format(time.RFC3339Nano), meta,
	)
	if err != nil {
		return convo.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}
	return m, nil
}

// ListMessages returns the session's messages oldest first. The rowid
// tie-break keeps same-instant inserts in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]convo.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at, metadata_json
		 FROM messages WHERE session_id=? ORDER BY created_at ASC, rowid ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []convo.Message
	for rows.Next() {
		var m convo.Message
		var role, createdAt, meta string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &createdAt, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = convo.Role(role)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			m.CreatedAt = t
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode message metadata: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return out, nil
}

// GetSummary returns the stored session summary, or nil when none exists yet.
func (s *SQLiteStore) GetSummary(ctx context.Context, sessionID string) (*convo.Summary, error) {
	var sum convo.Summary
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, summary, message_count, updated_at FROM summaries WHERE session_id=?`,
		sessionID,
	).Scan(&sum.SessionID, &sum.Summary, &sum.MessageCount, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		sum.UpdatedAt = t
	}
	return &sum, nil
}

// PutSummary writes the session summary, replacing any previous one.
func (s *SQLiteStore) PutSummary(ctx context.Context, sum convo.Summary) error {
	if sum.UpdatedAt.IsZero() {
		sum.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO summaries(session_id, summary, message_count, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(session_id) DO UPDATE SET summary=excluded.summary,
		 message_count=excluded.message_count, updated_at=excluded.updated_at`,
		sum.SessionID, sum.Summary, sum.MessageCount, sum.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert summary: %w", err)
	}
	return nil
}

// GetVoiceSettings returns the session's stored voice tuning, or nil when the
// session still runs on defaults.
func (s *SQLiteStore) GetVoiceSettings(ctx context.Context, sessionID string) (*convo.VoiceSettings, error) {
	var vs convo.VoiceSettings
	err := s.db.QueryRowContext(ctx,
		`SELECT voice, rate, pitch FROM voice_preferences WHERE session_id=?`,
		sessionID,
	).Scan(&vs.Voice, &vs.Rate, &vs.Pitch)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query voice preferences: %w", err)
	}
	return &vs, nil
}

// PutVoiceSettings stores the session's voice tuning.
func (s *SQLiteStore) PutVoiceSettings(ctx context.Context, sessionID string, vs convo.VoiceSettings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voice_preferences(session_id, voice, rate, pitch, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(session_id) DO UPDATE SET voice=excluded.voice, rate=excluded.rate,
		 pitch=excluded.pitch, updated_at=excluded.updated_at`,
		sessionID, vs.Voice, vs.Rate, vs.Pitch, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert voice preferences: %w", err)
	}
	return nil
}

// LoadSessionID returns the session previously bound to the device, or empty
// when the device is new.
func (s *SQLiteStore) LoadSessionID(ctx context.Context, deviceID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id FROM device_sessions WHERE device_id=?`, deviceID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query device session: %w", err)
	}
	return id, nil
}

// SaveSessionID binds the device to a session for future reconnects.
func (s *SQLiteStore) SaveSessionID(ctx context.Context, deviceID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_sessions(device_id, session_id, updated_at) VALUES(?,?,?)
		 ON CONFLICT(device_id) DO UPDATE SET session_id=excluded.session_id, updated_at=excluded.updated_at`,
		deviceID, sessionID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device session: %w", err)
	}
	return nil
}

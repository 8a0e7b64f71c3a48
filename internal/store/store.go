// Package store provides durable session and message storage on SQLite,
// plus a bleve search index over message text.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Session status values.
const (
	StatusActive   = "active"
	StatusAwaiting = "awaiting_wrap_up_confirmation"
	StatusEnded    = "ended"
)

// SessionRecord is the durable row for one session.
type SessionRecord struct {
	ID              string     // internal UUID primary key
	SessionID       string     // public opaque id
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	EndedAt         *time.Time
	MessageCount    int
	Summary         string
	DurationSeconds int
	Rating          *int
	Feedback        string
}

// Message is one persisted conversation message.
type Message struct {
	MessageID string    `json:"messageId"`
	SessionID string    `json:"sessionId"`
	Sender    string    `json:"sender"` // "user" | "ai"
	Text      string    `json:"text"`
	AudioURL  string    `json:"audioUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store provides database operations for sessions and messages.
type Store struct {
	db     *sql.DB
	search *SearchIndex
}

// New opens (or creates) the store at dbPath and initializes the schema.
// A companion bleve index lives next to the database file.
func New(ctx context.Context, dbPath string) (*Store, error) {
	// WAL mode allows readers alongside the single writer.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers well.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	search, err := NewSearchIndex(dbPath + ".bleve")
	if err != nil {
		return nil, fmt.Errorf("failed to open search index: %w", err)
	}
	s.search = search

	return s, nil
}

// Close closes the database and the search index.
func (s *Store) Close() error {
	if s.search != nil {
		s.search.Close()
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		session_id       TEXT UNIQUE NOT NULL,
		status           TEXT NOT NULL DEFAULT 'active',
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL,
		ended_at         INTEGER,
		message_count    INTEGER NOT NULL DEFAULT 0,
		summary          TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		rating           INTEGER,
		feedback         TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		message_id  TEXT PRIMARY KEY,
		session_fk  TEXT NOT NULL REFERENCES sessions(id),
		seq         INTEGER NOT NULL,
		sender      TEXT NOT NULL,
		text        TEXT NOT NULL,
		audio_url   TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_session_id ON sessions(session_id);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_fk, seq);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// CreateSession inserts a fresh active session and returns its record.
func (s *Store) CreateSession(ctx context.Context) (*SessionRecord, error) {
	now := time.Now().UTC()
	rec := &SessionRecord{
		ID:        uuid.NewString(),
		SessionID: uuid.NewString(),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, session_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Status, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	return rec, nil
}

// ListSessionIDs returns every session's public id, oldest first.
func (s *Store) ListSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSession looks up a session by its public id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, status, created_at, updated_at, ended_at,
		        message_count, summary, duration_seconds, rating, feedback
		 FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*SessionRecord, error) {
	var rec SessionRecord
	var createdAt, updatedAt int64
	var endedAt sql.NullInt64
	var rating sql.NullInt64

	err := row.Scan(&rec.ID, &rec.SessionID, &rec.Status, &createdAt, &updatedAt,
		&endedAt, &rec.MessageCount, &rec.Summary, &rec.DurationSeconds, &rating, &rec.Feedback)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64).UTC()
		rec.EndedAt = &t
	}
	if rating.Valid {
		r := int(rating.Int64)
		rec.Rating = &r
	}
	return &rec, nil
}

// SetStatus updates the session status and touch time.
func (s *Store) SetStatus(ctx context.Context, sessionID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE session_id = ?`,
		status, time.Now().UTC().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return requireRow(res)
}

// EndSession marks a session ended, storing the final summary and
// duration and reconciling message_count with the stored count.
func (s *Store) EndSession(ctx context.Context, sessionID, summary string, durationSeconds int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var internalID string
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE session_id = ?`, sessionID).Scan(&internalID); err != nil {
		if err == sql.ErrNoRows {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to resolve session: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_fk = ?`, internalID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count messages: %w", err)
	}

	now := time.Now().UTC().UnixMilli()
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET status = ?, summary = ?, duration_seconds = ?,
		        message_count = ?, ended_at = ?, updated_at = ?
		 WHERE id = ?`,
		StatusEnded, summary, durationSeconds, count, now, now, internalID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	return tx.Commit()
}

// UpdateRating stores the user-supplied post-session rating and feedback.
func (s *Store) UpdateRating(ctx context.Context, sessionID string, rating int, feedback string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET rating = ?, feedback = ?, updated_at = ? WHERE session_id = ?`,
		rating, feedback, time.Now().UTC().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update rating: %w", err)
	}
	return requireRow(res)
}

// AppendMessage durably appends one message and bumps the session's
// message count. This write is the linearisation point for the message.
func (s *Store) AppendMessage(ctx context.Context, sessionID, sender, text string) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var internalID string
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE session_id = ?`, sessionID).Scan(&internalID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_fk = ?`, internalID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("failed to compute message sequence: %w", err)
	}

	msg := &Message{
		MessageID: uuid.NewString(),
		SessionID: sessionID,
		Sender:    sender,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_fk, seq, sender, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.MessageID, internalID, seq, msg.Sender, msg.Text, msg.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1, updated_at = ? WHERE id = ?`,
		msg.CreatedAt.UnixMilli(), internalID)
	if err != nil {
		return nil, fmt.Errorf("failed to bump message count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	// Search indexing is best effort; the SQL row is the source of truth.
	if err := s.search.IndexMessage(msg); err != nil {
		log.Printf("warning: failed to index message %s: %v", msg.MessageID, err)
	}

	return msg, nil
}

// SetMessageAudio records the audio URL of a synthesised AI message.
func (s *Store) SetMessageAudio(ctx context.Context, messageID, audioURL string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET audio_url = ? WHERE message_id = ?`, audioURL, messageID)
	if err != nil {
		return fmt.Errorf("failed to set audio url: %w", err)
	}
	return requireRow(res)
}

// History returns the ordered messages of a session.
func (s *Store) History(ctx context.Context, sessionID string) ([]Message, error) {
	var internalID string
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE session_id = ?`, sessionID).Scan(&internalID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, sender, text, audio_url, created_at
		 FROM messages WHERE session_fk = ? ORDER BY seq`, internalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		var createdAt int64
		if err := rows.Scan(&msg.MessageID, &msg.Sender, &msg.Text, &msg.AudioURL, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.SessionID = sessionID
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// PruneHistory applies the read-side rules to a stored sequence: empty
// texts are dropped and consecutive messages from the same sender
// collapse into the first one, texts joined by a blank line. A turn that
// failed after the user append can leave two adjacent user rows behind;
// served history never shows them.
func PruneHistory(msgs []Message) []Message {
	pruned := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		if n := len(pruned); n > 0 && pruned[n-1].Sender == m.Sender {
			pruned[n-1].Text = pruned[n-1].Text + "\n\n" + text
			continue
		}
		m.Text = text
		pruned = append(pruned, m)
	}
	return pruned
}

// GetMessage fetches a single message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT m.message_id, se.session_id, m.sender, m.text, m.audio_url, m.created_at
		 FROM messages m JOIN sessions se ON se.id = m.session_fk
		 WHERE m.message_id = ?`, messageID)

	var msg Message
	var createdAt int64
	err := row.Scan(&msg.MessageID, &msg.SessionID, &msg.Sender, &msg.Text, &msg.AudioURL, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message not found: %s", messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &msg, nil
}

// SearchMessages finds messages whose text matches the query, via the
// bleve index, resolving hits back to stored rows.
func (s *Store) SearchMessages(ctx context.Context, query string, limit int) ([]Message, error) {
	ids, err := s.search.Search(query, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	messages := make([]Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.GetMessage(ctx, id)
		if err != nil {
			continue // index may briefly lead or lag the table
		}
		messages = append(messages, *msg)
	}
	return messages, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

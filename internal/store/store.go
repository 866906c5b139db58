// Package store persists finalized thread messages per session in SQLite.
// It is the system of record queried by clients after (or independent of)
// live delivery. Appends deduplicate on message id as a second line of
// defense behind the reducer; reads are always timestamp-ascending.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tailfeed/internal/types"
)

// ErrInvalidOptions reports a ReadOptions combination the store refuses,
// such as mixing cursor and offset pagination in one call.
var ErrInvalidOptions = errors.New("invalid read options")

// Store handles SQLite persistence for session thread messages
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates a SQLite database at the given path
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open message database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create message schema: %w", err)
	}

	return &Store{
		db:   db,
		path: dbPath,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			ts INTEGER NOT NULL,
			metadata TEXT NOT NULL DEFAULT '',
			UNIQUE(session_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_id, ts, seq);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// WRITES
// =============================================================================

// Append inserts one message into a session's log. A message whose id already
// exists for that session is silently ignored: the store deduplicates
// independently of the reducer.
func (s *Store) Append(sessionID string, msg types.ThreadMessage) error {
	if sessionID == "" {
		return fmt.Errorf("session id required")
	}
	if msg.ID == "" {
		return fmt.Errorf("message id required")
	}

	metadata := ""
	if len(msg.Metadata) > 0 {
		encoded, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = string(encoded)
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO messages (session_id, id, type, content, ts, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sessionID, msg.ID, string(msg.Type), msg.Content, msg.Timestamp.UnixNano(), metadata)
	return err
}

// Clear removes all messages for a session. Idempotent.
func (s *Store) Clear(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}

// =============================================================================
// READS
// =============================================================================

// defaultReadLimit applies when ReadOptions.Limit is unset.
const defaultReadLimit = 50

// ReadOptions selects one page of a session's messages. Offset-based and
// cursor-based pagination are mutually exclusive per call. A cursor is a
// message id; a cursor that no longer exists falls back to reading from the
// start.
type ReadOptions struct {
	Limit  int    // page size, defaults to 50
	Offset int    // rows to skip; offset mode only
	After  string // return the page strictly after this message id
	Before string // return the page ending strictly before this message id
}

// Page is one read result. HasMore reports whether more rows exist in the
// traversal direction beyond the returned window.
type Page struct {
	Messages   []types.ThreadMessage `json:"messages"`
	HasMore    bool                  `json:"hasMore"`
	Total      int                   `json:"total"`
	NextCursor string                `json:"nextCursor,omitempty"`
	PrevCursor string                `json:"prevCursor,omitempty"`
}

// Stats summarizes a session's stored messages. Zero-valued (not an error)
// for sessions the store has never seen.
type Stats struct {
	MessageCount         int        `json:"messageCount"`
	LastMessageTimestamp *time.Time `json:"lastMessageTimestamp,omitempty"`
}

// Read returns one timestamp-ascending page of a session's messages plus
// pagination state.
func (s *Store) Read(sessionID string, opts ReadOptions) (*Page, error) {
	if opts.After != "" && opts.Before != "" {
		return nil, fmt.Errorf("%w: after and before cursors are mutually exclusive", ErrInvalidOptions)
	}
	if (opts.After != "" || opts.Before != "") && opts.Offset > 0 {
		return nil, fmt.Errorf("%w: cursor and offset pagination are mutually exclusive", ErrInvalidOptions)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	}

	total, err := s.count(sessionID)
	if err != nil {
		return nil, err
	}

	var messages []types.ThreadMessage
	var hasMore bool
	switch {
	case opts.After != "":
		messages, hasMore, err = s.readAfter(sessionID, opts.After, limit)
	case opts.Before != "":
		messages, hasMore, err = s.readBefore(sessionID, opts.Before, limit)
	default:
		messages, hasMore, err = s.readOffset(sessionID, opts.Offset, limit)
	}
	if err != nil {
		return nil, err
	}

	page := &Page{
		Messages: messages,
		HasMore:  hasMore,
		Total:    total,
	}
	if len(messages) > 0 {
		page.PrevCursor = messages[0].ID
		page.NextCursor = messages[len(messages)-1].ID
	}
	return page, nil
}

// Latest returns the last count messages in ascending order.
func (s *Store) Latest(sessionID string, count int) ([]types.ThreadMessage, error) {
	if count <= 0 {
		return []types.ThreadMessage{}, nil
	}
	rows, err := s.db.Query(`
		SELECT id, type, content, ts, metadata
		FROM messages
		WHERE session_id = ?
		ORDER BY ts DESC, seq DESC
		LIMIT ?
	`, sessionID, count)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(messages)
	return messages, nil
}

// Stats returns the message count and last message timestamp for a session.
func (s *Store) Stats(sessionID string) (Stats, error) {
	var count int
	var lastTS sql.NullInt64
	err := s.db.QueryRow(`
		SELECT COUNT(*), MAX(ts) FROM messages WHERE session_id = ?
	`, sessionID).Scan(&count, &lastTS)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{MessageCount: count}
	if lastTS.Valid {
		ts := time.Unix(0, lastTS.Int64).UTC()
		stats.LastMessageTimestamp = &ts
	}
	return stats, nil
}

// =============================================================================
// READ MODES
// =============================================================================

func (s *Store) count(sessionID string) (int, error) {
	var total int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&total)
	return total, err
}

// cursorPosition resolves a message id to its (ts, seq) sort position.
func (s *Store) cursorPosition(sessionID, messageID string) (int64, int64, bool, error) {
	var ts, seq int64
	err := s.db.QueryRow(`
		SELECT ts, seq FROM messages WHERE session_id = ? AND id = ?
	`, sessionID, messageID).Scan(&ts, &seq)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return ts, seq, true, nil
}

func (s *Store) readOffset(sessionID string, offset, limit int) ([]types.ThreadMessage, bool, error) {
	// Fetch one extra row to learn whether more remain past the window.
	rows, err := s.db.Query(`
		SELECT id, type, content, ts, metadata
		FROM messages
		WHERE session_id = ?
		ORDER BY ts, seq
		LIMIT ? OFFSET ?
	`, sessionID, limit+1, offset)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, false, err
	}
	return trimExtra(messages, limit, false)
}

func (s *Store) readAfter(sessionID, cursor string, limit int) ([]types.ThreadMessage, bool, error) {
	ts, seq, found, err := s.cursorPosition(sessionID, cursor)
	if err != nil {
		return nil, false, err
	}
	if !found {
		// Unknown cursor: fall back to the start of the session.
		return s.readOffset(sessionID, 0, limit)
	}

	rows, err := s.db.Query(`
		SELECT id, type, content, ts, metadata
		FROM messages
		WHERE session_id = ? AND (ts > ? OR (ts = ? AND seq > ?))
		ORDER BY ts, seq
		LIMIT ?
	`, sessionID, ts, ts, seq, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, false, err
	}
	return trimExtra(messages, limit, false)
}

func (s *Store) readBefore(sessionID, cursor string, limit int) ([]types.ThreadMessage, bool, error) {
	ts, seq, found, err := s.cursorPosition(sessionID, cursor)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return s.readOffset(sessionID, 0, limit)
	}

	// Walk backward from the cursor, then restore ascending order.
	rows, err := s.db.Query(`
		SELECT id, type, content, ts, metadata
		FROM messages
		WHERE session_id = ? AND (ts < ? OR (ts = ? AND seq < ?))
		ORDER BY ts DESC, seq DESC
		LIMIT ?
	`, sessionID, ts, ts, seq, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, false, err
	}
	return trimExtra(messages, limit, true)
}

// trimExtra drops the probe row fetched beyond limit and reports whether it
// existed. When descending, the window was read newest-first: the probe is
// trimmed first, then the order restored to ascending.
func trimExtra(messages []types.ThreadMessage, limit int, descending bool) ([]types.ThreadMessage, bool, error) {
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	if descending {
		reverse(messages)
	}
	return messages, hasMore, nil
}

func reverse(messages []types.ThreadMessage) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

// scanMessages scans rows into a ThreadMessage slice, returning empty slice
// (not nil) when no rows
func scanMessages(rows *sql.Rows) ([]types.ThreadMessage, error) {
	messages := []types.ThreadMessage{}
	for rows.Next() {
		var msg types.ThreadMessage
		var msgType string
		var ts int64
		var metadata string
		if err := rows.Scan(&msg.ID, &msgType, &msg.Content, &ts, &metadata); err != nil {
			return nil, err
		}
		msg.Type = types.MessageType(msgType)
		msg.Timestamp = time.Unix(0, ts).UTC()
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", msg.ID, err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

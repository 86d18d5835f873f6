package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DefaultLimit bounds the query commands when the caller gives no limit.
// The iterators themselves are unbounded: Limit <= 0 means every row.
const DefaultLimit = 1000

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the export database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite ignores mattn-style DSN parameters, so pragmas
	// are applied explicitly. WAL lets readers run while workers write.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		account    TEXT NOT NULL,
		session_id TEXT NOT NULL,
		title      TEXT NOT NULL DEFAULT '',
		created_at DATETIME,
		PRIMARY KEY (account, session_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		account    TEXT NOT NULL,
		role       TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL DEFAULT '',
		ts         DATETIME,
		seq        INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (session_id, message_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_account ON messages(account);
	CREATE INDEX IF NOT EXISTS idx_messages_order ON messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS matches (
		pattern_id TEXT NOT NULL,
		account    TEXT NOT NULL,
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		start_off  INTEGER NOT NULL,
		end_off    INTEGER NOT NULL,
		groups     TEXT NOT NULL DEFAULT '[]',
		excerpt    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (pattern_id, session_id, message_id, start_off, end_off)
	);

	CREATE INDEX IF NOT EXISTS idx_matches_account ON matches(account);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Writes

func (s *SQLiteStore) PutSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (account, session_id, title, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(account, session_id) DO UPDATE SET title = excluded.title, created_at = excluded.created_at`,
		sess.Account, sess.ID, sess.Title, sess.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) PutMessage(ctx context.Context, m Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, message_id, account, role, content, ts, seq) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, message_id) DO UPDATE SET
		   account = excluded.account, role = excluded.role, content = excluded.content,
		   ts = excluded.ts, seq = excluded.seq`,
		m.SessionID, m.ID, m.Account, m.Role, m.Text, m.Timestamp, m.Seq,
	)
	return err
}

func (s *SQLiteStore) PutMatch(ctx context.Context, h MatchHit) error {
	groups := h.Groups
	if groups == nil {
		groups = []string{}
	}
	groupsJSON, err := json.Marshal(groups)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO matches (pattern_id, account, session_id, message_id, start_off, end_off, groups, excerpt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pattern_id, session_id, message_id, start_off, end_off) DO UPDATE SET
		   account = excluded.account, groups = excluded.groups, excerpt = excluded.excerpt`,
		h.PatternID, h.Account, h.SessionID, h.MessageID, h.Start, h.End, string(groupsJSON), h.Excerpt,
	)
	return err
}

// Reads

func (s *SQLiteStore) ForEachMessage(ctx context.Context, f MessageFilter, fn func(Message) error) error {
	query := "SELECT session_id, message_id, account, role, content, ts, seq FROM messages"
	var conditions []string
	var args []interface{}

	if f.Account != "" {
		conditions = append(conditions, "account = ?")
		args = append(args, f.Account)
	}
	if f.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY account, session_id, seq"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var m Message
		var ts sql.NullTime
		if err := rows.Scan(&m.SessionID, &m.ID, &m.Account, &m.Role, &m.Text, &ts, &m.Seq); err != nil {
			return err
		}
		if ts.Valid {
			m.Timestamp = ts.Time
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) ForEachMatch(ctx context.Context, f MatchFilter, fn func(MatchHit) error) error {
	query := "SELECT pattern_id, account, session_id, message_id, start_off, end_off, groups, excerpt FROM matches"
	var conditions []string
	var args []interface{}

	if f.PatternID != "" {
		conditions = append(conditions, "pattern_id = ?")
		args = append(args, f.PatternID)
	}
	if f.Account != "" {
		conditions = append(conditions, "account = ?")
		args = append(args, f.Account)
	}
	if f.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY account, session_id, message_id, start_off"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var h MatchHit
		var groupsJSON string
		if err := rows.Scan(&h.PatternID, &h.Account, &h.SessionID, &h.MessageID, &h.Start, &h.End, &groupsJSON, &h.Excerpt); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(groupsJSON), &h.Groups); err != nil {
			h.Groups = []string{}
		}
		if err := fn(h); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) ListSessions(ctx context.Context, account string) ([]Session, error) {
	query := "SELECT account, session_id, title, created_at FROM sessions"
	var args []interface{}
	if account != "" {
		query += " WHERE account = ?"
		args = append(args, account)
	}
	query += " ORDER BY account, created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var created sql.NullTime
		if err := rows.Scan(&sess.Account, &sess.ID, &sess.Title, &created); err != nil {
			return nil, err
		}
		if created.Valid {
			sess.CreatedAt = created.Time
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) Counts(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(DISTINCT account) FROM sessions),
		(SELECT COUNT(*) FROM sessions),
		(SELECT COUNT(*) FROM messages),
		(SELECT COUNT(*) FROM matches)`)
	if err := row.Scan(&st.Accounts, &st.Sessions, &st.Messages, &st.Matches); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

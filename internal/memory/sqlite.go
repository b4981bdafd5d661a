package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-backed [Store]. Turns are numbered by
// exchange so eviction can drop whole exchanges with one DELETE.
type SQLiteStore struct {
	db     *sql.DB
	k      int
	logger *slog.Logger

	mu sync.Mutex // serializes writers
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string, k int, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s, err := NewSQLiteStoreDB(db, k, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreDB wraps an already-open database. The caller keeps
// ownership of the driver choice; Close still closes db.
func NewSQLiteStoreDB(db *sql.DB, k int, logger *slog.Logger) (*SQLiteStore, error) {
	if k <= 0 {
		k = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &SQLiteStore{db: db, k: k, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		exchanges  INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		exchange        INTEGER NOT NULL,
		seq             INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, exchange, seq);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Size returns the configured exchange cap.
func (s *SQLiteStore) Size() int { return s.k }

// Append adds turns to the conversation inside one transaction, then
// deletes exchanges that fell out of the window.
func (s *SQLiteStore) Append(ctx context.Context, id ConversationID, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, exchanges, created_at, updated_at)
		VALUES (?, 0, ?, ?)
	`, string(id), now, now); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	var exchange int
	if err := tx.QueryRowContext(ctx,
		`SELECT exchanges FROM conversations WHERE id = ?`, string(id),
	).Scan(&exchange); err != nil {
		return fmt.Errorf("read exchange counter: %w", err)
	}

	var seq int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM turns
		WHERE conversation_id = ? AND exchange = ?
	`, string(id), exchange).Scan(&seq); err != nil {
		return fmt.Errorf("read turn sequence: %w", err)
	}

	for _, t := range turns {
		if startsExchange(t, exchange > 0) {
			exchange++
			seq = 0
		}
		seq++

		rowID, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate turn id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (id, conversation_id, exchange, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rowID.String(), string(id), exchange, seq, string(t.Role), t.Content, now); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET exchanges = ?, updated_at = ? WHERE id = ?
	`, exchange, now, string(id)); err != nil {
		return fmt.Errorf("update exchange counter: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM turns WHERE conversation_id = ? AND exchange <= ?
	`, string(id), exchange-s.k)
	if err != nil {
		return fmt.Errorf("evict exchanges: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("evicted turns from memory window",
			"conversation_id", id, "turns", n, "window", s.k)
	}
	return nil
}

// History returns the retained turns, oldest first.
func (s *SQLiteStore) History(ctx context.Context, id ConversationID) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM turns
		WHERE conversation_id = ?
		ORDER BY exchange, seq
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []Turn{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, Turn{Role: Role(role), Content: content})
	}
	return out, rows.Err()
}

// Clear deletes the conversation and all of its turns.
func (s *SQLiteStore) Clear(ctx context.Context, id ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// Stats reports the retained size of one conversation.
func (s *SQLiteStore) Stats(ctx context.Context, id ConversationID) (Stats, error) {
	st := Stats{Window: s.k}

	var updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT exchanges, updated_at FROM conversations WHERE id = ?
	`, string(id)).Scan(&st.Total, &updated)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read conversation: %w", err)
	}
	st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT exchange) FROM turns WHERE conversation_id = ?
	`, string(id)).Scan(&st.Turns, &st.Exchanges); err != nil {
		return st, fmt.Errorf("count turns: %w", err)
	}
	return st, nil
}

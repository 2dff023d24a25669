package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Exchange is one completed question/answer turn
type Exchange struct {
	SessionID   string
	Model       string
	Question    string
	Answer      string
	KeepHistory bool
	HistorySize int
	Digest      string
	Duration    time.Duration
	CreatedAt   time.Time
}

// Journal appends exchanges to a SQLite database. It is write-only: the
// relay never reads it back to rebuild session history.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

const createExchangesTable = `
CREATE TABLE IF NOT EXISTS exchanges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	model TEXT NOT NULL,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	keep_history INTEGER NOT NULL,
	history_size INTEGER NOT NULL,
	digest TEXT,
	duration_ms INTEGER,
	created_at DATETIME NOT NULL
);`

const createSessionIndex = `CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id);`

// Open opens (and creates if needed) the journal database at path
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createExchangesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create exchanges table: %w", err)
	}
	if _, err := db.Exec(createSessionIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session index: %w", err)
	}

	logger.Info("journal opened", "path", path)
	return &Journal{db: db, logger: logger}, nil
}

// Record appends an exchange
func (j *Journal) Record(ctx context.Context, ex Exchange) error {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO exchanges
			(session_id, model, question, answer, keep_history, history_size, digest, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.SessionID, ex.Model, ex.Question, ex.Answer, ex.KeepHistory, ex.HistorySize,
		ex.Digest, ex.Duration.Milliseconds(), ex.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}
	return nil
}

// Recent returns up to limit exchanges of a session, newest first
func (j *Journal) Recent(ctx context.Context, sessionID string, limit int) ([]Exchange, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT session_id, model, question, answer, keep_history, history_size, digest, duration_ms, created_at
		FROM exchanges WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		var durationMS int64
		var digest sql.NullString
		if err := rows.Scan(&ex.SessionID, &ex.Model, &ex.Question, &ex.Answer, &ex.KeepHistory,
			&ex.HistorySize, &digest, &durationMS, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		ex.Digest = digest.String
		ex.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read exchanges: %w", err)
	}
	return out, nil
}

// Close closes the underlying database
func (j *Journal) Close() error {
	return j.db.Close()
}

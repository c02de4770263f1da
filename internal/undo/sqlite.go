package undo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/skillgate/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS undo_entries (
	action_id    TEXT PRIMARY KEY,
	capability   TEXT NOT NULL,
	inverse_json TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	consumed_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_undo_created ON undo_entries(created_at);
CREATE INDEX IF NOT EXISTS idx_undo_capability ON undo_entries(capability, consumed_at);
`

// SQLiteStore persists undo entries so "undo last" works across restarts.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite creates or opens the ledger database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("undo: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("undo: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("undo: initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	inv, err := json.Marshal(e.Inverse)
	if err != nil {
		return fmt.Errorf("undo: marshal inverse: %w", err)
	}
	var consumed any
	if e.Consumed {
		consumed = e.ConsumedAt.UnixNano()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO undo_entries (action_id, capability, inverse_json, created_at, consumed_at) VALUES (?, ?, ?, ?, ?)`,
		e.ActionID, e.Capability, string(inv), e.CreatedAt.UnixNano(), consumed)
	if err != nil {
		return fmt.Errorf("undo: insert entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, actionID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT action_id, capability, inverse_json, created_at, consumed_at FROM undo_entries WHERE action_id = ?`, actionID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, model.Errorf(model.ReasonUndoNotFound, "no undo entry %q", actionID)
	}
	return e, err
}

func (s *SQLiteStore) MarkConsumed(ctx context.Context, actionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE undo_entries SET consumed_at = ? WHERE action_id = ? AND consumed_at IS NULL`,
		at.UnixNano(), actionID)
	if err != nil {
		return fmt.Errorf("undo: mark consumed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("undo: mark consumed: %w", err)
	}
	if n == 1 {
		return nil
	}

	e, err := s.Get(ctx, actionID)
	if err != nil {
		return err
	}
	return model.Errorf(model.ReasonUndoAlreadyConsumed, "%q was undone at %s", actionID, e.ConsumedAt.UTC().Format(time.RFC3339))
}

func (s *SQLiteStore) Last(ctx context.Context, capability string) (Entry, error) {
	query := `SELECT action_id, capability, inverse_json, created_at, consumed_at FROM undo_entries
		WHERE consumed_at IS NULL`
	var args []any
	if capability != "" {
		query += ` AND capability = ?`
		args = append(args, strings.ToLower(capability))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT 1`

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, model.Errorf(model.ReasonUndoNotFound, "nothing to undo")
	}
	return e, err
}

func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, capability, inverse_json, created_at, consumed_at FROM undo_entries
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("undo: query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("undo: query recent: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e        Entry
		inv      string
		created  int64
		consumed sql.NullInt64
	)
	if err := row.Scan(&e.ActionID, &e.Capability, &inv, &created, &consumed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("undo: scan entry: %w", err)
	}
	if err := json.Unmarshal([]byte(inv), &e.Inverse); err != nil {
		return Entry{}, fmt.Errorf("undo: decode inverse for %s: %w", e.ActionID, err)
	}
	e.CreatedAt = time.Unix(0, created)
	if consumed.Valid {
		e.Consumed = true
		e.ConsumedAt = time.Unix(0, consumed.Int64)
	}
	return e, nil
}

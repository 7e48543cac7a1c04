package delivery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"scrobble-orchestrator/internal/play"
)

// SQLiteLedger is a Ledger persisted in a SQLite database, so delivery
// claims survive restarts.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLiteLedger opens (creating if needed) the ledger at path. ":memory:"
// gives a throwaway database.
func OpenSQLiteLedger(path string) (*SQLiteLedger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// one connection: every statement sees the same database, including :memory:
	db.SetMaxOpenConns(1)

	if err := initLedgerSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteLedger{db: db}, nil
}

func initLedgerSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS listens (
			id TEXT PRIMARY KEY,
			track TEXT NOT NULL,
			source TEXT NOT NULL,
			platform_id TEXT NOT NULL,
			played_at INTEGER NOT NULL,
			finalized_at INTEGER NOT NULL,
			payload TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_listens_finalized_at ON listens(finalized_at);

		CREATE TABLE IF NOT EXISTS deliveries (
			listen_id TEXT NOT NULL,
			client TEXT NOT NULL,
			result TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			claimed_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (listen_id, client)
		);
	`)
	if err != nil {
		return fmt.Errorf("init ledger schema: %w", err)
	}
	return nil
}

// Record implements Ledger.
func (s *SQLiteLedger) Record(ctx context.Context, l play.Listen) error {
	payload, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode listen: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO listens (id, track, source, platform_id, played_at, finalized_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, l.ID, l.Track, l.Source, string(l.PlatformID), l.PlayedAt.Unix(), l.FinalizedAt.UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("record listen %s: %w", l.ID, err)
	}
	return nil
}

// Claim implements Ledger.
func (s *SQLiteLedger) Claim(ctx context.Context, id, client string) (bool, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (listen_id, client, result, claimed_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(listen_id, client) DO NOTHING
	`, id, client, resultClaimed, now, now)
	if err != nil {
		return false, fmt.Errorf("claim delivery %s/%s: %w", id, client, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim delivery %s/%s: %w", id, client, err)
	}
	return n == 1, nil
}

// MarkResult implements Ledger.
func (s *SQLiteLedger) MarkResult(ctx context.Context, id, client, result, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE deliveries SET result = ?, detail = ?, updated_at = ?
		WHERE listen_id = ? AND client = ?
	`, result, detail, time.Now().Unix(), id, client)
	if err != nil {
		return fmt.Errorf("mark delivery %s/%s: %w", id, client, err)
	}
	return nil
}

// Recent implements Ledger.
func (s *SQLiteLedger) Recent(ctx context.Context, limit int) ([]play.Listen, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM listens
		ORDER BY finalized_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query listens: %w", err)
	}
	defer rows.Close()

	var out []play.Listen
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var l play.Listen
		if err := json.Unmarshal([]byte(payload), &l); err != nil {
			return nil, fmt.Errorf("decode listen: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Result returns the recorded result of a delivery.
func (s *SQLiteLedger) Result(ctx context.Context, id, client string) (string, bool, error) {
	var result string
	err := s.db.QueryRowContext(ctx, `
		SELECT result FROM deliveries WHERE listen_id = ? AND client = ?
	`, id, client).Scan(&result)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return result, true, nil
}

// Close implements Ledger.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

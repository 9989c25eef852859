package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/ppiankov/toolgate/internal/model"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	identity    TEXT NOT NULL,
	session     TEXT NOT NULL DEFAULT '',
	tool        TEXT NOT NULL,
	decision    TEXT NOT NULL,
	reason      TEXT NOT NULL,
	rule_id     TEXT NOT NULL DEFAULT '',
	stage       TEXT NOT NULL DEFAULT '',
	args_digest TEXT NOT NULL,
	policy_hash TEXT NOT NULL DEFAULT '',
	prev_hash   TEXT NOT NULL,
	row_hash    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS decisions_session ON decisions(session);
CREATE INDEX IF NOT EXISTS decisions_identity ON decisions(identity);
CREATE TRIGGER IF NOT EXISTS decisions_no_update BEFORE UPDATE ON decisions
BEGIN SELECT RAISE(ABORT, 'audit records are append-only'); END;
CREATE TRIGGER IF NOT EXISTS decisions_no_delete BEFORE DELETE ON decisions
BEGIN SELECT RAISE(ABORT, 'audit records are append-only'); END;
`

// SQLStore is an append-only SQLite audit sink. Rows carry the same hash
// chain as the JSONL log; UPDATE and DELETE are rejected by triggers.
type SQLStore struct {
	db       *sql.DB
	mu       sync.Mutex
	prevHash string
}

// OpenSQL opens (or creates) the database at path.
func OpenSQL(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("audit: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}

	s := &SQLStore{db: db, prevHash: GenesisHash}
	var tail string
	err = db.QueryRow("SELECT row_hash FROM decisions ORDER BY seq DESC LIMIT 1").Scan(&tail)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("audit: read chain tail: %w", err)
	default:
		s.prevHash = tail
	}
	return s, nil
}

// Record inserts r as a new row.
func (s *SQLStore) Record(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Timestamp == "" {
		r.Timestamp = model.UTCISO(time.Now())
	}
	r.PrevHash = s.prevHash
	line, err := json.Marshal(r)
	if err != nil {
		return &WriteError{Sink: "sqlite", Err: fmt.Errorf("marshal entry: %w", err)}
	}
	rowHash := HashLine(line)

	_, err = s.db.ExecContext(ctx, `INSERT INTO decisions
		(ts, decision_id, identity, session, tool, decision, reason, rule_id, stage, args_digest, policy_hash, prev_hash, row_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.DecisionID, r.Identity, r.Session, r.Tool, r.Decision, r.Reason,
		r.RuleID, r.Stage, r.ArgsDigest, r.PolicyHash, r.PrevHash, rowHash)
	if err != nil {
		return &WriteError{Sink: "sqlite", Err: err}
	}
	s.prevHash = rowHash
	return nil
}

// Query returns records matching f in insertion order. Session is filtered
// in SQL; the remaining fields use the same matching as Replay.
func (s *SQLStore) Query(ctx context.Context, f ReplayFilter) (*ReplayResult, error) {
	q := `SELECT ts, decision_id, identity, session, tool, decision, reason, rule_id, stage, args_digest, policy_hash, prev_hash
		FROM decisions`
	var args []any
	if f.Session != "" {
		q += " WHERE session = ?"
		args = append(args, f.Session)
	}
	q += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	result := &ReplayResult{Filter: f}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Timestamp, &r.DecisionID, &r.Identity, &r.Session, &r.Tool,
			&r.Decision, &r.Reason, &r.RuleID, &r.Stage, &r.ArgsDigest, &r.PolicyHash, &r.PrevHash); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		if !f.match(r) {
			continue
		}
		result.Records = append(result.Records, r)
		result.Summary.add(r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: read rows: %w", err)
	}
	return result, nil
}

// Verify recomputes the row hash chain.
func (s *SQLStore) Verify(ctx context.Context) VerifyResult {
	res, err := s.Query(ctx, ReplayFilter{})
	if err != nil {
		return VerifyResult{Error: err.Error()}
	}
	hashes, err := s.rowHashes(ctx)
	if err != nil {
		return VerifyResult{Error: err.Error()}
	}

	expected := GenesisHash
	for i, r := range res.Records {
		if r.PrevHash != expected {
			return VerifyResult{
				Lines:     i,
				Error:     fmt.Sprintf("hash mismatch: expected %s, got %s", expected, r.PrevHash),
				ErrorLine: i + 1,
			}
		}
		line, _ := json.Marshal(r)
		expected = HashLine(line)
		if hashes[i] != expected {
			return VerifyResult{
				Lines:     i,
				Error:     fmt.Sprintf("row hash mismatch: stored %s, computed %s", hashes[i], expected),
				ErrorLine: i + 1,
			}
		}
	}
	return VerifyResult{Valid: true, Lines: len(res.Records)}
}

func (s *SQLStore) rowHashes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT row_hash FROM decisions ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("audit: query hashes: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

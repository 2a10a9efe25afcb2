// Package journal is the proxy's optional operation audit trail: one sqlite3
// row per completed operation (session id, opcode, operation name,
// started/finished timestamps, bytes forwarded, outcome). It is pure
// observability bolted onto the Proxy Driver's per-operation boundary; it
// never feeds back into a protocol decision and never alters a forwarded
// byte.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nixops-forge/nix-remote-proxy/pkg/daemon"
)

const schema = `
CREATE TABLE IF NOT EXISTS operations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	opcode      INTEGER NOT NULL,
	op_name     TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	bytes       INTEGER NOT NULL,
	outcome     TEXT NOT NULL
);
`

// Journal wraps a sqlite3 database used as an append-only audit log.
type Journal struct {
	db *sql.DB
}

// Open creates (or reopens) a journal database at path, creating the
// operations table if it does not already exist.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("journal: create schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Entry is one completed operation as recorded by the Proxy Driver.
type Entry struct {
	SessionID  string
	Op         daemon.Operation
	StartedAt  time.Time
	FinishedAt time.Time
	Bytes      int64
	Outcome    string // "ok", "upstream-error", "protocol-error"
}

// Record appends one completed operation to the audit trail.
func (j *Journal) Record(e Entry) error {
	_, err := j.db.Exec(
		`INSERT INTO operations (session_id, opcode, op_name, started_at, finished_at, bytes, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, uint64(e.Op), e.Op.String(), e.StartedAt, e.FinishedAt, e.Bytes, e.Outcome,
	)
	if err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}

	return nil
}

// History returns the most recent n operations, newest first. n <= 0 means
// no limit.
func (j *Journal) History(n int) ([]Entry, error) {
	query := `SELECT session_id, opcode, started_at, finished_at, bytes, outcome
	          FROM operations ORDER BY id DESC`
	args := []any{}

	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: history: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var e Entry

		var opcode uint64

		if err := rows.Scan(&e.SessionID, &opcode, &e.StartedAt, &e.FinishedAt, &e.Bytes, &e.Outcome); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}

		e.Op = daemon.Operation(opcode)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

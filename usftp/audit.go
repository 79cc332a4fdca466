package usftp

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// TransferRecord summarizes one completed File transfer (the read side,
// the write side, or both if a handle was used for both) for an
// AuditSink to persist.
type TransferRecord struct {
	Handle       string
	Path         string
	BytesRead    uint64
	BytesWritten uint64
	Duration     time.Duration
	Err          error
}

// AuditSink is notified by File.Close with what that handle moved; a
// Close that moved no bytes and returned no error is not reported.
// Wired through WithAuditSink; a Client with no sink configured skips
// this entirely.
type AuditSink interface {
	RecordTransfer(rec TransferRecord)
}

// PostgresAuditSink records transfers as rows in a Postgres table via
// database/sql, using github.com/lib/pq as the driver.
type PostgresAuditSink struct {
	db *sql.DB
}

// NewPostgresAuditSink opens dsn and ensures the audit table exists.
func NewPostgresAuditSink(dsn string) (*PostgresAuditSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging audit database: %w", err)
	}
	const ddl = `
CREATE TABLE IF NOT EXISTS usftp_transfers (
	id            BIGSERIAL PRIMARY KEY,
	handle        TEXT NOT NULL,
	path          TEXT NOT NULL,
	bytes_read    BIGINT NOT NULL,
	bytes_written BIGINT NOT NULL,
	duration_ms   BIGINT NOT NULL,
	error         TEXT,
	recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit table: %w", err)
	}
	return &PostgresAuditSink{db: db}, nil
}

// RecordTransfer inserts one row. A failed insert is ignored and not
// logged — auditing must never be the reason a transfer fails.
func (s *PostgresAuditSink) RecordTransfer(rec TransferRecord) {
	var errText *string
	if rec.Err != nil {
		msg := rec.Err.Error()
		errText = &msg
	}
	s.db.Exec(
		`INSERT INTO usftp_transfers (handle, path, bytes_read, bytes_written, duration_ms, error)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.Handle, rec.Path, rec.BytesRead, rec.BytesWritten, rec.Duration.Milliseconds(), errText,
	)
}

// Close releases the underlying database handle.
func (s *PostgresAuditSink) Close() error {
	return s.db.Close()
}

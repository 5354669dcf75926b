package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Archiver persists terminal sessions before they leave the live store.
type Archiver interface {
	Archive(ctx context.Context, sess *Session) error
	Close() error
}

// NoopArchiver discards sessions. Used when no archive path is configured.
type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, *Session) error { return nil }
func (NoopArchiver) Close() error                            { return nil }

// SQLiteArchiver appends terminal sessions to a local sqlite database, one
// row per session with the full state as JSON.
type SQLiteArchiver struct {
	db *sql.DB
}

// NewSQLiteArchiver opens (or creates) the archive database.
func NewSQLiteArchiver(path string) (*SQLiteArchiver, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open session archive")
	}
	// Single writer; the archive is append-only.
	db.SetMaxOpenConns(1)

	// A session id can recur: lazy expiry reuses the id for a fresh
	// conversation, so rows are keyed by an archive sequence instead.
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_archive (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			state TEXT NOT NULL,
			department_id TEXT,
			escalate_reason TEXT,
			turn_count INTEGER NOT NULL,
			created_ts INTEGER NOT NULL,
			closed_ts INTEGER NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_archive_id ON session_archive(id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "migrate session archive")
		}
	}
	return &SQLiteArchiver{db: db}, nil
}

// Archive implements Archiver.
func (a *SQLiteArchiver) Archive(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}

	stmt := `INSERT INTO session_archive
		(id, state, department_id, escalate_reason, turn_count, created_ts, closed_ts, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = a.db.ExecContext(ctx, stmt,
		sess.ID,
		string(sess.State),
		sess.CandidateDepartmentID,
		sess.EscalateReason,
		sess.TurnCount,
		sess.CreatedAt.Unix(),
		sess.LastActivityAt.Unix(),
		string(payload),
	)
	if err != nil {
		return errors.Wrapf(err, "archive session %s", sess.ID)
	}

	slog.Debug("session archived",
		"session_id", sess.ID,
		"state", sess.State,
		"turns", sess.TurnCount)
	return nil
}

// Close releases the archive database.
func (a *SQLiteArchiver) Close() error {
	return a.db.Close()
}

var (
	_ Archiver = (*SQLiteArchiver)(nil)
	_ Archiver = NoopArchiver{}
)

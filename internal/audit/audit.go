// Package audit keeps an append-only SQLite log of manager activity:
// build completions, reader subscribe/unsubscribe events, and config
// generation bumps. It is an operational diagnostic trail, not
// segment-state persistence — restarting the process still starts with no
// segments — grounded directly on the teacher's transaction/migration
// idiom in internal/external/sqliterepository.go.
package audit

import (
	"context"
	"database/sql"

	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// EventKind classifies a row in the audit log.
type EventKind string

const (
	EventBuildCompleted    EventKind = "build_completed"
	EventBuildFailed       EventKind = "build_failed"
	EventReaderSubscribed  EventKind = "reader_subscribed"
	EventReaderUnsubscribed EventKind = "reader_unsubscribed"
	EventGenerationBumped  EventKind = "generation_bumped"
)

// Event is a single audit row.
type Event struct {
	ID           string
	Kind         EventKind
	Class        domain.RRClass
	DataSource   domain.DataSourceName
	Reader       domain.ReaderID
	GenerationID uint64
	Detail       string
}

// Log is the append-only sink. Safe for concurrent use by multiple
// goroutines, though in practice only the manager goroutine writes to it.
type Log struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and runs
// migrations.
func Open(ctx context.Context, path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "audit: open database")
	}
	l := &Log{db: db}
	if err := l.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate(ctx context.Context) (err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		err = l.finishTransaction(err, tx)
	}()

	_, err = tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id            TEXT PRIMARY KEY,
			kind          TEXT NOT NULL,
			class         TEXT,
			data_source   TEXT,
			reader        TEXT,
			generation_id INTEGER,
			detail        TEXT,
			recorded_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return
}

// Append records e, assigning it a fresh id.
func (l *Log) Append(ctx context.Context, e Event) (err error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		err = l.finishTransaction(err, tx)
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events(id, kind, class, data_source, reader, generation_id, detail)
		VALUES(?, ?, ?, ?, ?, ?, ?);
	`, e.ID, string(e.Kind), string(e.Class), string(e.DataSource), string(e.Reader), e.GenerationID, e.Detail)
	return
}

// Recent returns the most recent n events, newest first — used to diagnose
// a stuck SYNCHRONIZING segment after the fact.
func (l *Log) Recent(ctx context.Context, n int) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, kind, class, data_source, reader, generation_id, detail
		FROM events ORDER BY recorded_at DESC, rowid DESC LIMIT ?;
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var kind, class, ds, reader string
		if err := rows.Scan(&e.ID, &kind, &class, &ds, &reader, &e.GenerationID, &e.Detail); err != nil {
			return nil, err
		}
		e.Kind = EventKind(kind)
		e.Class = domain.RRClass(class)
		e.DataSource = domain.DataSourceName(ds)
		e.Reader = domain.ReaderID(reader)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *Log) finishTransaction(err error, tx *sql.Tx) error {
	if err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return errors.Wrap(err, rollbackErr.Error())
		}
		return err
	}
	return tx.Commit()
}

// Close closes the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

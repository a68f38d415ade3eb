// Package history persists meter readings in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
)

// WAL lets Recent read while the batcher flushes.
const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

// DB is the readings store.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates the parent directory of path if needed and opens the store.
// Call RunMigrations before reading or writing.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.HistoryFailed, "create history dir for %s", path)
	}
	conn, err := sql.Open("sqlite3", path+dsnParams)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.HistoryFailed, "open history %s", path)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, apperrors.Wrapf(err, apperrors.HistoryFailed, "open history %s", path)
	}
	// One connection: the batcher is the only writer.
	conn.SetMaxOpenConns(1)
	return &DB{conn: conn, path: path}, nil
}

func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Path is the file the store was opened from.
func (db *DB) Path() string { return db.path }

// withTx runs fn in a transaction, committing only if fn succeeds.
func (db *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

// Version returns the highest applied schema migration, 0 for a new file.
func (db *DB) Version(ctx context.Context) (int, error) {
	v, err := db.currentVersion(ctx)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.HistoryFailed, "read schema version")
	}
	return v, nil
}

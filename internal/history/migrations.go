package history

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
)

// Migration is one schema step, applied once in Version order.
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
}

var migrations = []Migration{
	{Version: 1, Description: "Create schema_version table", Up: migration001Up},
	{Version: 2, Description: "Create readings table", Up: migration002Up},
}

// SchemaVersion is the version RunMigrations brings a database to.
var SchemaVersion = migrations[len(migrations)-1].Version

// RunMigrations applies the migrations newer than the stored version.
func (db *DB) RunMigrations(ctx context.Context) error {
	current, err := db.Version(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := db.withTx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO schema_version (version, description, applied_at)
				VALUES (?, ?, ?)
			`, m.Version, m.Description, time.Now().UnixNano())
			return err
		})
		if err != nil {
			return apperrors.Wrapf(err, apperrors.HistoryFailed, "migration %d (%s)", m.Version, m.Description)
		}
		slog.Info("history migration applied", "version", m.Version, "description", m.Description)
	}
	return nil
}

func (db *DB) currentVersion(ctx context.Context) (int, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func migration001Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL UNIQUE,
			description TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	return err
}

func migration002Up(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			captured_at INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			found INTEGER NOT NULL,
			bar1 REAL NOT NULL,
			bar2 REAL NOT NULL,
			bar3 REAL NOT NULL,
			box_left INTEGER NOT NULL,
			box_top INTEGER NOT NULL,
			box_right INTEGER NOT NULL,
			box_bottom INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_readings_captured_at ON readings(captured_at);
	`)
	return err
}

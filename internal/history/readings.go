package history

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/GriffinCanCode/boostmeter/internal/errors"
	"github.com/GriffinCanCode/boostmeter/internal/gauge"
)

// Record is one persisted reading.
type Record struct {
	ID     int64        `json:"id"`
	At     time.Time    `json:"at"`
	Seq    uint64       `json:"seq"`
	Found  bool         `json:"found"`
	Levels gauge.Levels `json:"levels"`
	Box    gauge.Box    `json:"box"`
}

// InsertReadings stores records in a single transaction.
func (db *DB) InsertReadings(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO readings (captured_at, seq, found, bar1, bar2, bar3, box_left, box_top, box_right, box_bottom)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			_, err := stmt.ExecContext(ctx, r.At.UnixNano(), int64(r.Seq), r.Found,
				r.Levels[0], r.Levels[1], r.Levels[2],
				r.Box.Left, r.Box.Top, r.Box.Right, r.Box.Bottom)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrapf(err, apperrors.HistoryFailed, "insert %d readings", len(records))
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, captured_at, seq, found, bar1, bar2, bar3, box_left, box_top, box_right, box_bottom
		FROM readings
		ORDER BY captured_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.HistoryFailed, "query recent readings")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r   Record
			at  int64
			seq int64
		)
		err := rows.Scan(&r.ID, &at, &seq, &r.Found,
			&r.Levels[0], &r.Levels[1], &r.Levels[2],
			&r.Box.Left, &r.Box.Top, &r.Box.Right, &r.Box.Bottom)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.HistoryFailed, "scan reading")
		}
		r.At = time.Unix(0, at)
		r.Seq = uint64(seq)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.HistoryFailed, "iterate readings")
	}
	return out, nil
}

// Count returns the number of stored readings.
func (db *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n); err != nil {
		return 0, apperrors.Wrap(err, apperrors.HistoryFailed, "count readings")
	}
	return n, nil
}

// Prune deletes readings captured before cutoff and returns how many were removed.
func (db *DB) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM readings WHERE captured_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.HistoryFailed, "prune readings")
	}
	return res.RowsAffected()
}

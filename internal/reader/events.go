package reader

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EventRecord is one stored card scan.
type EventRecord struct {
	ID            int64     `json:"id"`
	ReaderID      int       `json:"reader_id"`
	UniqueName    string    `json:"unique_name"`
	UserID        int32     `json:"user_id"`
	Incidence     string    `json:"incidence"`
	DatetimeUTC   string    `json:"datetime_utc"`
	DatetimeLocal string    `json:"datetime_local"`
	ReceivedAt    time.Time `json:"received_at"`
}

// EventLog persists card scans received from readers.
type EventLog struct {
	db *sql.DB
}

// NewEventLog creates a SQLite-backed event log.
func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{db: db}
}

// Record stores one event and sets its ID.
func (l *EventLog) Record(ctx context.Context, ev *EventRecord) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO reader_events (
			reader_id, unique_name, user_id, incidence,
			datetime_utc, datetime_local, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ReaderID,
		ev.UniqueName,
		ev.UserID,
		ev.Incidence,
		ev.DatetimeUTC,
		ev.DatetimeLocal,
		ev.ReceivedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting reader event: %w", err)
	}

	if ev.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading inserted id: %w", err)
	}
	return nil
}

// Recent returns up to limit events for readerID, newest first. A readerID
// of 0 selects every reader.
func (l *EventLog) Recent(ctx context.Context, readerID, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, reader_id, unique_name, user_id, incidence,
			datetime_utc, datetime_local, received_at
		FROM reader_events`
	args := []any{}
	if readerID != 0 {
		query += ` WHERE reader_id = ?`
		args = append(args, readerID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reader events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var ev EventRecord
		var received string
		if err := rows.Scan(
			&ev.ID, &ev.ReaderID, &ev.UniqueName, &ev.UserID, &ev.Incidence,
			&ev.DatetimeUTC, &ev.DatetimeLocal, &received,
		); err != nil {
			return nil, fmt.Errorf("scanning reader event: %w", err)
		}
		ev.ReceivedAt, _ = time.Parse(time.RFC3339, received) //nolint:errcheck // written by Record
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reader events: %w", err)
	}
	return out, nil
}

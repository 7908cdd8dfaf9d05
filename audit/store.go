package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"rfidexec/scan"
)

// Event is one row of the scan log.
type Event struct {
	ID       string
	At       time.Time
	Code     string
	Digits   int
	State    string
	Command  string
	Started  bool
	ExitCode *int
	Error    string
	Duration time.Duration
}

// Store appends scan results to the scan_events table.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts one scan result.
func (s *Store) Record(ctx context.Context, res scan.Result) error {
	at := res.At
	if at.IsZero() {
		at = time.Now()
	}

	var command, started, exitCode, errText, durationMs any
	if out := res.Outcome; out != nil {
		command = res.Command
		started = 0
		if out.Started {
			started = 1
			exitCode = out.ExitCode
		}
		if out.Err != nil {
			errText = out.Err.Error()
		}
		durationMs = out.Duration.Milliseconds()
	}

	if _, err := s.db.ExecContext(ctx, `
INSERT INTO scan_events(
  id, scanned_at_ms, code, digits, state,
  command, started, exit_code, error, duration_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		res.ID.String(), at.UTC().UnixMilli(), res.Code, res.Length, res.State.String(),
		command, started, exitCode, errText, durationMs,
	); err != nil {
		return fmt.Errorf("record scan insert: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, scanned_at_ms, code, digits, state, command, started, exit_code, error, duration_ms
FROM scan_events
ORDER BY scanned_at_ms DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent scans query: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev         Event
			atMs       int64
			command    sql.NullString
			started    sql.NullInt64
			exitCode   sql.NullInt64
			errText    sql.NullString
			durationMs sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &atMs, &ev.Code, &ev.Digits, &ev.State,
			&command, &started, &exitCode, &errText, &durationMs); err != nil {
			return nil, fmt.Errorf("recent scans scan: %w", err)
		}
		ev.At = time.UnixMilli(atMs).UTC()
		ev.Command = command.String
		ev.Started = started.Valid && started.Int64 == 1
		if exitCode.Valid {
			code := int(exitCode.Int64)
			ev.ExitCode = &code
		}
		ev.Error = errText.String
		ev.Duration = time.Duration(durationMs.Int64) * time.Millisecond
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent scans rows: %w", err)
	}
	return events, nil
}

// Observer records scan results. A failed write is logged and otherwise
// ignored so the scan loop keeps going.
type Observer struct {
	store      *Store
	duplicates bool
	log        *slog.Logger
}

// NewObserver creates an Observer writing to store.
func NewObserver(store *Store, cfg Config, log *slog.Logger) *Observer {
	if log == nil {
		log = slog.Default()
	}
	return &Observer{
		store:      store,
		duplicates: cfg.Duplicates,
		log:        log.With("component", "audit"),
	}
}

// ScanHandled implements scan.Observer.
func (o *Observer) ScanHandled(ctx context.Context, res scan.Result) {
	if res.State == scan.StateDuplicate && !o.duplicates {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := o.store.Record(writeCtx, res); err != nil {
		o.log.WarnContext(ctx, "audit write failed", "error", err, "code", res.Code)
	}
}

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// timestampLayout is fixed width so stored timestamps sort lexically.
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// ErrInvalidEvent is returned for events missing a device or kind.
var ErrInvalidEvent = errors.New("history: invalid event")

// Repository stores journal events.
type Repository interface {
	Insert(ctx context.Context, e *Event) error
	List(ctx context.Context, deviceID string, limit int) ([]Event, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository is the projector_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository on db. The journal migration
// must have been applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert stores e, filling ID and CreatedAt when empty.
func (r *SQLiteRepository) Insert(ctx context.Context, e *Event) error {
	if e.DeviceID == "" || (e.Kind != KindPower && e.Kind != KindCommand) {
		return fmt.Errorf("%w: device %q kind %q", ErrInvalidEvent, e.DeviceID, e.Kind)
	}
	if e.ID == "" {
		e.ID = "evt-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	var latency any
	if e.Kind == KindCommand {
		latency = e.Latency.Milliseconds()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO projector_events (id, device_id, kind, power, result, error, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeviceID, e.Kind, e.Power,
		nullableString(e.Result), nullableString(e.Error), latency,
		e.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting projector event: %w", err)
	}
	return nil
}

// List returns the newest events, newest first. An empty deviceID lists
// every device. limit defaults to 50 and is capped at 500.
func (r *SQLiteRepository) List(ctx context.Context, deviceID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, kind, power, result, error, latency_ms, created_at
		 FROM projector_events
		 WHERE (? = '' OR device_id = ?)
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		deviceID, deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying projector events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var e Event
		var result, errText sql.NullString
		var latencyMS sql.NullInt64
		var createdAt string

		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Kind, &e.Power,
			&result, &errText, &latencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning projector event: %w", err)
		}
		e.Result = result.String
		e.Error = errText.String
		e.Latency = time.Duration(latencyMS.Int64) * time.Millisecond

		ts, err := time.Parse(timestampLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		e.CreatedAt = ts

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating projector events: %w", err)
	}
	return events, nil
}

// Prune deletes events created before the cutoff and returns how many.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM projector_events WHERE created_at < ?",
		before.UTC().Format(timestampLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning projector events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

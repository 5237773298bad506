// Package journal persists the terminal outcome of every gateway request.
//
// The gateway never waits on the database: entries go through a Writer,
// which buffers them and inserts from its own goroutine. When the buffer is
// full entries are dropped and counted.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultListLimit = 50

// timeLayout is fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Journal reads and writes the call_log table.
type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Insert stores e. A missing ID is generated.
func (j *Journal) Insert(ctx context.Context, e Entry) error {
	if e.CallID == "" {
		return fmt.Errorf("call_id is empty")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = e.CompletedAt
	}

	var errText any
	if e.Error != "" {
		errText = e.Error
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO call_log(
  id, call_id, service, method, verb, uri, outcome, status, error,
  started_at, completed_at, duration_ms
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.CallID, e.Service, e.Method, e.Verb, e.URI, string(e.Outcome), e.Status, errText,
		e.StartedAt.UTC().Format(timeLayout), e.CompletedAt.UTC().Format(timeLayout), e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	return nil
}

// List returns the newest entries first.
func (j *Journal) List(ctx context.Context, f ListFilter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := j.db.QueryContext(ctx, `
SELECT id, call_id, service, method, verb, uri, outcome, status, error,
       started_at, completed_at, duration_ms
FROM call_log
WHERE (? = '' OR service = ?)
  AND (? = '' OR outcome = ?)
ORDER BY completed_at DESC, id DESC
LIMIT ?;
`, f.Service, f.Service, string(f.Outcome), string(f.Outcome), limit)
	if err != nil {
		return nil, fmt.Errorf("list call log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e           Entry
			outcome     string
			errText     sql.NullString
			startedAt   string
			completedAt string
			durationMS  int64
		)
		if err := rows.Scan(&e.ID, &e.CallID, &e.Service, &e.Method, &e.Verb, &e.URI, &outcome, &e.Status,
			&errText, &startedAt, &completedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan call log: %w", err)
		}
		e.Outcome = Outcome(outcome)
		e.Error = errText.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if e.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if e.CompletedAt, err = time.Parse(timeLayout, completedAt); err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call log: %w", err)
	}
	return out, nil
}

// Prune deletes entries completed more than retention ago.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	res, err := j.db.ExecContext(ctx, `DELETE FROM call_log WHERE completed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune call log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune call log: %w", err)
	}
	return n, nil
}

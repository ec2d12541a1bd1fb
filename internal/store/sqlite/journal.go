package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Journal persists one record per batch invocation for audit and status.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal returns a journal on the workbook's database.
func NewJournal(w *Workbook) *Journal {
	return &Journal{db: w.db}
}

// RunRecord is a row from the runs table.
type RunRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Job       string    `json:"job"`
	Mode      string    `json:"mode"`
	State     string    `json:"state"`
	StartAt   int       `json:"start_at"`
	Cursor    int       `json:"cursor"`
	Next      int       `json:"next"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// RecordRun persists a finished invocation.
func (j *Journal) RecordRun(ctx context.Context, r RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, job, mode, state, start_at, cursor, next, total, processed, failed, error, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Job, r.Mode, r.State,
		r.StartAt, r.Cursor, r.Next, r.Total, r.Processed, r.Failed,
		r.Error,
		r.StartedAt.UTC().Format(time.RFC3339),
		r.EndedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("journal record run: %w", err)
	}
	return nil
}

// RecentRuns returns the last N runs of job, newest first.
func (j *Journal) RecentRuns(ctx context.Context, job string, limit int) ([]RunRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_id, job, mode, state, start_at, cursor, next, total, processed, failed,
		        COALESCE(error, ''), started_at, ended_at
		 FROM runs WHERE job = ? ORDER BY id DESC LIMIT ?`, job, limit)
	if err != nil {
		return nil, fmt.Errorf("journal recent runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, ended string
		if err := rows.Scan(&r.ID, &r.RunID, &r.Job, &r.Mode, &r.State, &r.StartAt,
			&r.Cursor, &r.Next, &r.Total, &r.Processed, &r.Failed,
			&r.Error, &started, &ended); err != nil {
			continue
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.EndedAt, _ = time.Parse(time.RFC3339, ended)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

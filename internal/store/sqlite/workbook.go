package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"stockmetrics/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Workbook is a spreadsheet-shaped SQLite database: named sheets holding
// sparse cells addressed by 1-based (row, col), plus per-range formats.
// It is the durable sink for analysis rows and the home of the symbol list.
type Workbook struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Workbook) DB() *sql.DB { return w.db }

// Open opens (or creates) the workbook at path with WAL mode and schema.
func Open(path string) (*Workbook, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: sqlite dir %s: %v", model.ErrConfiguration, dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; rows are written one at a time by the controller.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened workbook at %s", path)
	return &Workbook{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sheets (
			name       TEXT    PRIMARY KEY,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS cells (
			sheet TEXT    NOT NULL,
			row   INTEGER NOT NULL,
			col   INTEGER NOT NULL,
			value TEXT    NOT NULL,
			PRIMARY KEY (sheet, row, col)
		);

		CREATE TABLE IF NOT EXISTS formats (
			sheet TEXT NOT NULL,
			range TEXT NOT NULL,
			style TEXT NOT NULL,
			PRIMARY KEY (sheet, range)
		);

		CREATE TABLE IF NOT EXISTS runs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT    NOT NULL,
			job        TEXT    NOT NULL,
			mode       TEXT    NOT NULL,
			state      TEXT    NOT NULL,
			start_at   INTEGER NOT NULL,
			cursor     INTEGER NOT NULL,
			next       INTEGER NOT NULL,
			total      INTEGER NOT NULL,
			processed  INTEGER NOT NULL,
			failed     INTEGER NOT NULL,
			error      TEXT,
			started_at DATETIME NOT NULL,
			ended_at   DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job, id);
	`)
	return err
}

// HasSheet reports whether a sheet with this name exists.
func (w *Workbook) HasSheet(ctx context.Context, name string) (bool, error) {
	var n int
	err := w.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sheets WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite has sheet: %w", err)
	}
	return n > 0, nil
}

// CreateSheet adds an empty sheet. Creating an existing sheet is a no-op.
func (w *Workbook) CreateSheet(ctx context.Context, name string) error {
	_, err := w.db.ExecContext(ctx, `INSERT OR IGNORE INTO sheets (name) VALUES (?)`, name)
	if err != nil {
		return fmt.Errorf("sqlite create sheet %q: %w", name, err)
	}
	return nil
}

// Sheets lists sheet names in creation order.
func (w *Workbook) Sheets(ctx context.Context) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT name FROM sheets ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list sheets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("sqlite scan sheets: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Sheet returns a handle on the named sheet. A missing sheet is created when
// create is true and is a configuration error otherwise.
func (w *Workbook) Sheet(ctx context.Context, name string, create bool) (*Sheet, error) {
	ok, err := w.HasSheet(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		if !create {
			return nil, fmt.Errorf("%w: sheet %q not found", model.ErrConfiguration, name)
		}
		if err := w.CreateSheet(ctx, name); err != nil {
			return nil, err
		}
		log.Printf("[sqlite] created sheet %q", name)
	}
	return &Sheet{db: w.db, name: name}, nil
}

// Close closes the database.
func (w *Workbook) Close() error {
	return w.db.Close()
}

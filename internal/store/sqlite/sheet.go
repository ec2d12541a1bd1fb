package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"stockmetrics/internal/model"
)

// Sheet is one named sheet of a Workbook. It implements model.TabularSink.
type Sheet struct {
	db   *sql.DB
	name string
}

var _ model.TabularSink = (*Sheet)(nil)

// Name returns the sheet name.
func (s *Sheet) Name() string { return s.name }

// dataCols bounds the columns that count towards RowCount so that the
// last-updated marker beside the table never reads as a data row.
var dataCols = len(model.Columns)

// EnsureHeader writes the header on row 1 unless it already matches.
func (s *Sheet) EnsureHeader(ctx context.Context, columns []string) error {
	current, err := s.readRow(ctx, model.HeaderRows, len(columns))
	if err != nil {
		return fmt.Errorf("%w: read header: %v", model.ErrSinkWrite, err)
	}
	match := true
	for i, c := range columns {
		if current[i] != c {
			match = false
			break
		}
	}
	if match {
		return nil
	}
	if err := s.writeRow(ctx, model.HeaderRows, columns); err != nil {
		return fmt.Errorf("%w: write header: %v", model.ErrSinkWrite, err)
	}
	return nil
}

// AppendRow writes values on the row after the last non-empty data row.
func (s *Sheet) AppendRow(ctx context.Context, values []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin append: %v", model.ErrSinkWrite, err)
	}
	defer tx.Rollback()

	last, err := lastRow(ctx, tx, s.name)
	if err != nil {
		return fmt.Errorf("%w: append row: %v", model.ErrSinkWrite, err)
	}
	if err := putRow(ctx, tx, s.name, last+1, values); err != nil {
		return fmt.Errorf("%w: append row %d: %v", model.ErrSinkWrite, last+1, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit append: %v", model.ErrSinkWrite, err)
	}
	return nil
}

// UpdateRow overwrites the row at index. Empty values clear their cells.
func (s *Sheet) UpdateRow(ctx context.Context, index int, values []string) error {
	if index < 1 {
		return fmt.Errorf("%w: invalid row index %d", model.ErrSinkWrite, index)
	}
	if err := s.writeRow(ctx, index, values); err != nil {
		return fmt.Errorf("%w: update row %d: %v", model.ErrSinkWrite, index, err)
	}
	return nil
}

// ReadCell returns the cell value, or "" when the cell is empty.
func (s *Sheet) ReadCell(ctx context.Context, row, col int) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cells WHERE sheet = ? AND row = ? AND col = ?`,
		s.name, row, col,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite read cell %s!R%dC%d: %w", s.name, row, col, err)
	}
	return v, nil
}

// WriteCell sets a single cell.
func (s *Sheet) WriteCell(ctx context.Context, row, col int, value string) error {
	if err := putCell(ctx, s.db, s.name, row, col, value); err != nil {
		return fmt.Errorf("%w: write cell R%dC%d: %v", model.ErrSinkWrite, row, col, err)
	}
	return nil
}

// RowCount returns the last non-empty row across the data columns, header
// included. An empty sheet has a row count of 0.
func (s *Sheet) RowCount(ctx context.Context) (int, error) {
	n, err := lastRow(ctx, s.db, s.name)
	if err != nil {
		return 0, fmt.Errorf("sqlite row count %s: %w", s.name, err)
	}
	return n, nil
}

// Style is the stored format of a range.
type Style struct {
	Bold       bool   `json:"bold,omitempty"`
	Background string `json:"background,omitempty"`
}

// ApplyFormatting marks the header bold and tints the buy and sell columns
// down to the last data row.
func (s *Sheet) ApplyFormatting(ctx context.Context) error {
	last, err := s.RowCount(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSinkWrite, err)
	}
	if last < model.HeaderRows+1 {
		last = model.HeaderRows + 1
	}

	formats := map[string]Style{
		"A1:" + colName(dataCols) + "1": {Bold: true},
		rangeName(7, model.HeaderRows+1, last): {Background: "#d9f2d9"},
		rangeName(8, model.HeaderRows+1, last): {Background: "#f2d9d9"},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin formatting: %v", model.ErrSinkWrite, err)
	}
	defer tx.Rollback()

	// Column ranges grow with the table, so earlier ranges are replaced.
	if _, err := tx.ExecContext(ctx, `DELETE FROM formats WHERE sheet = ?`, s.name); err != nil {
		return fmt.Errorf("%w: clear formats: %v", model.ErrSinkWrite, err)
	}
	for rng, st := range formats {
		b, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("%w: encode style: %v", model.ErrSinkWrite, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO formats (sheet, range, style) VALUES (?, ?, ?)`,
			s.name, rng, string(b),
		); err != nil {
			return fmt.Errorf("%w: format %s: %v", model.ErrSinkWrite, rng, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit formatting: %v", model.ErrSinkWrite, err)
	}
	return nil
}

// Formats returns the stored range styles keyed by A1 range.
func (s *Sheet) Formats(ctx context.Context) (map[string]Style, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT range, style FROM formats WHERE sheet = ?`, s.name)
	if err != nil {
		return nil, fmt.Errorf("sqlite formats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Style)
	for rows.Next() {
		var rng, raw string
		if err := rows.Scan(&rng, &raw); err != nil {
			return nil, fmt.Errorf("sqlite scan format: %w", err)
		}
		var st Style
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("sqlite decode format %s: %w", rng, err)
		}
		out[rng] = st
	}
	return out, rows.Err()
}

// Rows returns the data rows below the header, width columns each.
func (s *Sheet) Rows(ctx context.Context, width int) ([][]string, error) {
	last, err := s.RowCount(ctx)
	if err != nil {
		return nil, err
	}
	out := make([][]string, 0, last)
	for r := model.HeaderRows + 1; r <= last; r++ {
		row, err := s.readRow(ctx, r, width)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// Column returns the non-empty values of col in row order.
func (s *Sheet) Column(ctx context.Context, col int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM cells WHERE sheet = ? AND col = ? AND value <> '' ORDER BY row`,
		s.name, col,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite column %d: %w", col, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("sqlite scan column: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Clear removes every cell and format of the sheet.
func (s *Sheet) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cells WHERE sheet = ?`, s.name); err != nil {
		return fmt.Errorf("sqlite clear cells: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM formats WHERE sheet = ?`, s.name); err != nil {
		return fmt.Errorf("sqlite clear formats: %w", err)
	}
	return nil
}

func (s *Sheet) readRow(ctx context.Context, row, width int) ([]string, error) {
	out := make([]string, width)
	rows, err := s.db.QueryContext(ctx,
		`SELECT col, value FROM cells WHERE sheet = ? AND row = ? AND col <= ?`,
		s.name, row, width,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var col int
		var v string
		if err := rows.Scan(&col, &v); err != nil {
			return nil, err
		}
		out[col-1] = v
	}
	return out, rows.Err()
}

func (s *Sheet) writeRow(ctx context.Context, row int, values []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := putRow(ctx, tx, s.name, row, values); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lastRow(ctx context.Context, q querier, sheet string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(row), 0) FROM cells WHERE sheet = ? AND col <= ? AND value <> ''`,
		sheet, dataCols,
	).Scan(&n)
	return n, err
}

func putRow(ctx context.Context, e execer, sheet string, row int, values []string) error {
	for i, v := range values {
		if err := putCell(ctx, e, sheet, row, i+1, v); err != nil {
			return err
		}
	}
	return nil
}

func putCell(ctx context.Context, e execer, sheet string, row, col int, value string) error {
	if row < 1 || col < 1 {
		return fmt.Errorf("invalid cell R%dC%d", row, col)
	}
	if value == "" {
		_, err := e.ExecContext(ctx,
			`DELETE FROM cells WHERE sheet = ? AND row = ? AND col = ?`,
			sheet, row, col,
		)
		return err
	}
	_, err := e.ExecContext(ctx,
		`INSERT INTO cells (sheet, row, col, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT(sheet, row, col) DO UPDATE SET value = excluded.value`,
		sheet, row, col, value,
	)
	return err
}

// colName converts a 1-based column index to its A1 letters.
func colName(col int) string {
	name := ""
	for col > 0 {
		col--
		name = string(rune('A'+col%26)) + name
		col /= 26
	}
	return name
}

func rangeName(col, from, to int) string {
	c := colName(col)
	return c + strconv.Itoa(from) + ":" + c + strconv.Itoa(to)
}

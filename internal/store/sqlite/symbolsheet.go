package sqlite

import (
	"context"
	"fmt"

	"stockmetrics/internal/model"
)

// SymbolSheet reads the symbol list from the first column of a named sheet.
// It implements model.SymbolSource.
type SymbolSheet struct {
	wb   *Workbook
	name string
}

var _ model.SymbolSource = (*SymbolSheet)(nil)

// NewSymbolSheet returns a source over the named sheet.
func NewSymbolSheet(w *Workbook, name string) *SymbolSheet {
	return &SymbolSheet{wb: w, name: name}
}

// Symbols returns the normalized symbols. A missing sheet is a
// configuration error.
func (s *SymbolSheet) Symbols(ctx context.Context) ([]string, error) {
	sh, err := s.wb.Sheet(ctx, s.name, false)
	if err != nil {
		return nil, err
	}
	raw, err := sh.Column(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: read symbol sheet %q: %v", model.ErrConfiguration, s.name, err)
	}
	return model.NormalizeSymbols(raw), nil
}

// Import replaces the symbol sheet with a header and one symbol per row.
func (s *SymbolSheet) Import(ctx context.Context, symbols []string) (int, error) {
	sh, err := s.wb.Sheet(ctx, s.name, true)
	if err != nil {
		return 0, err
	}
	if err := sh.Clear(ctx); err != nil {
		return 0, err
	}
	if err := sh.WriteCell(ctx, 1, 1, "Symbol"); err != nil {
		return 0, err
	}
	clean := model.NormalizeSymbols(symbols)
	for i, sym := range clean {
		if err := sh.WriteCell(ctx, model.DataRowIndex(i), 1, sym); err != nil {
			return i, err
		}
	}
	return len(clean), nil
}

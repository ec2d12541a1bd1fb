package model

import "strings"

// headerTokens are first-column values that label the symbol column rather
// than name an instrument.
var headerTokens = map[string]struct{}{
	"SYMBOL": {},
	"TICKER": {},
	"STOCK":  {},
	"ETF":    {},
}

// NormalizeSymbol trims and upper-cases a raw ticker cell.
// Returns "" for blanks and header tokens.
func NormalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if _, isHeader := headerTokens[s]; isHeader {
		return ""
	}
	return s
}

// NormalizeSymbols applies NormalizeSymbol to every cell and drops the empty
// results. Order and duplicates are preserved.
func NormalizeSymbols(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s := NormalizeSymbol(r); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Package symbols provides the symbol sources that are not sheets: a plain
// file, the S&P 500 constituent table, a built-in list, and a fallback chain
// over any of them.
package symbols

import (
	"context"
	"log"
	"sort"

	"stockmetrics/internal/model"
)

// DefaultList is used when every other source comes up empty.
var DefaultList = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA"}

// Static is a fixed symbol list.
type Static []string

func (s Static) Symbols(context.Context) ([]string, error) {
	return model.NormalizeSymbols(s), nil
}

// Fallback tries each source in order and returns the first non-empty list.
// A failing source is logged and skipped; if every source fails, the last
// error is returned.
type Fallback struct {
	Sources []model.SymbolSource
	Names   []string
}

func (f Fallback) Symbols(ctx context.Context) ([]string, error) {
	var lastErr error
	for i, src := range f.Sources {
		syms, err := src.Symbols(ctx)
		if err != nil {
			log.Printf("[symbols] source %s failed: %v", f.name(i), err)
			lastErr = err
			continue
		}
		if len(syms) > 0 {
			if i > 0 {
				log.Printf("[symbols] using %d symbols from fallback %s", len(syms), f.name(i))
			}
			return syms, nil
		}
		lastErr = nil
	}
	return nil, lastErr
}

func (f Fallback) name(i int) string {
	if i < len(f.Names) {
		return f.Names[i]
	}
	return "#" + string(rune('0'+i))
}

// SortedUnique returns the distinct symbols in ascending order.
func SortedUnique(syms []string) []string {
	seen := make(map[string]struct{}, len(syms))
	out := make([]string, 0, len(syms))
	for _, s := range syms {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

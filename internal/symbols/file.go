package symbols

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"stockmetrics/internal/model"
)

// File reads one symbol per line. Blank lines and lines starting with '#' are
// skipped; on comma-separated lines only the first field is used.
type File struct {
	Path string
}

func (f File) Symbols(context.Context) ([]string, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: symbol file: %v", model.ErrConfiguration, err)
	}
	defer fh.Close()

	var raw []string
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		first, _, _ := strings.Cut(line, ",")
		raw = append(raw, strings.Trim(first, `" `))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read symbol file %s: %v", model.ErrConfiguration, f.Path, err)
	}
	return model.NormalizeSymbols(raw), nil
}

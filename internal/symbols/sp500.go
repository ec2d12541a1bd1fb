package symbols

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockmetrics/internal/model"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// SP500URL lists the index constituents in its first table.
const SP500URL = "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"

// SP500 scrapes the S&P 500 constituent table.
type SP500 struct {
	client *resty.Client
	url    string
	limit  int
}

// NewSP500 returns a source that keeps the first limit table rows (all rows
// when limit <= 0), de-duplicated and sorted.
func NewSP500(url string, limit int) *SP500 {
	if url == "" {
		url = SP500URL
	}
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", "Mozilla/5.0 (compatible; stockmetrics/1.0)")

	return &SP500{client: client, url: url, limit: limit}
}

func (s *SP500) Symbols(ctx context.Context) ([]string, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch S&P 500 list: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("HTTP error %d when fetching S&P 500 list", resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse S&P 500 page: %w", err)
	}

	table := doc.Find("table#constituents")
	if table.Length() == 0 {
		table = doc.Find("table.wikitable").First()
	}

	var raw []string
	table.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cell := tr.Find("td").First()
		if cell.Length() == 0 {
			return true
		}
		raw = append(raw, strings.TrimSpace(cell.Text()))
		return s.limit <= 0 || len(raw) < s.limit
	})

	syms := SortedUnique(model.NormalizeSymbols(raw))
	if len(syms) == 0 {
		return nil, fmt.Errorf("no symbols found in S&P 500 table")
	}
	return syms, nil
}

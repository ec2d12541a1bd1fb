package symbols

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"stockmetrics/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const constituentsPage = `<html><body>
<table class="wikitable sortable" id="constituents">
<tbody>
<tr><th>Symbol</th><th>Security</th></tr>
<tr><td><a href="#">MSFT</a></td><td>Microsoft</td></tr>
<tr><td><a href="#">AAPL</a></td><td>Apple Inc.</td></tr>
<tr><td><a href="#">BRK.B</a></td><td>Berkshire Hathaway</td></tr>
<tr><td><a href="#">AAPL</a></td><td>dup</td></tr>
<tr><td><a href="#">ZTS</a></td><td>Zoetis</td></tr>
</tbody>
</table>
<table class="wikitable"><tr><td>IGNORED</td></tr></table>
</body></html>`

func TestSP500_ScrapesFirstRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(constituentsPage))
	}))
	defer srv.Close()

	got, err := NewSP500(srv.URL, 4).Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "BRK.B", "MSFT"}, got)

	all, err := NewSP500(srv.URL, 0).Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "BRK.B", "MSFT", "ZTS"}, all)
}

func TestSP500_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSP500(srv.URL, 50).Symbols(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestFile_Symbols(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.csv")
	require.NoError(t, os.WriteFile(path, []byte("Symbol,Name\n# comment\naapl,Apple\n\n\"msft\"\nTICKER\n"), 0o644))

	got, err := File{Path: path}.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, got)

	_, err = File{Path: filepath.Join(t.TempDir(), "missing")}.Symbols(context.Background())
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

type failing struct{ err error }

func (f failing) Symbols(context.Context) ([]string, error) { return nil, f.err }

func TestFallback(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	got, err := Fallback{Sources: []model.SymbolSource{failing{boom}, Static{}, Static(DefaultList)}}.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultList, got)

	got, err = Fallback{Sources: []model.SymbolSource{Static{" nvda "}, Static(DefaultList)}}.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"NVDA"}, got)

	_, err = Fallback{Sources: []model.SymbolSource{Static{}, failing{boom}}}.Symbols(ctx)
	assert.ErrorIs(t, err, boom)

	got, err = Fallback{Sources: []model.SymbolSource{failing{boom}, Static{}}}.Symbols(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, SortedUnique([]string{"C", "A", "B", "A"}))
}

package formula

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stockmetrics/internal/analyzer"
	"stockmetrics/internal/clock"
	"stockmetrics/internal/model"
	"stockmetrics/internal/poll"
	"stockmetrics/internal/store/redis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(n int) []model.PricePoint {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]model.PricePoint, n)
	for i := range out {
		out[i] = model.PricePoint{Date: start.AddDate(0, 0, i), Close: 100 + float64(i)}
	}
	return out
}

// fillingScratch reveals perRead more rows on every read, like a sheet that
// recalculates in the background. The slot is done once every row shows.
type fillingScratch struct {
	mu      sync.Mutex
	rows    []model.PricePoint
	perRead int
	shown   int
	owner   string // overrides the slot owner when set
	errMsg  string
	readErr error
	reqs    []redis.FormulaRequest
}

func (f *fillingScratch) SetFormula(_ context.Context, req redis.FormulaRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	f.shown = 0
	return nil
}

func (f *fillingScratch) ReadResult(context.Context, string) (redis.FormulaResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return redis.FormulaResult{}, f.readErr
	}
	owner := f.owner
	if owner == "" && len(f.reqs) > 0 {
		owner = f.reqs[len(f.reqs)-1].ID
	}
	if f.errMsg != "" {
		return redis.FormulaResult{RequestID: owner, Error: f.errMsg}, nil
	}
	f.shown += f.perRead
	if f.shown > len(f.rows) {
		f.shown = len(f.rows)
	}
	return redis.FormulaResult{
		RequestID: owner,
		Rows:      append([]model.PricePoint(nil), f.rows[:f.shown]...),
		Done:      f.shown == len(f.rows),
	}, nil
}

func newTestProvider(s Scratch, attempts int) (*Provider, *clock.Fake) {
	clk := clock.NewFake(time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC))
	p := New(s, poll.Config{Interval: time.Second, MaxAttempts: attempts}, WithClock(clk))
	return p, clk
}

func TestFetch_WaitsForCompletedSlot(t *testing.T) {
	s := &fillingScratch{rows: series(250), perRead: 100}
	p, clk := newTestProvider(s, 30)

	pts, err := p.Fetch(context.Background(), "AAPL", 365)
	require.NoError(t, err)
	// The second read already holds 200 rows but the slot is not done yet.
	require.Len(t, pts, 250)
	assert.Equal(t, 349.0, pts[len(pts)-1].Close)
	assert.Len(t, clk.Sleeps(), 2)
	require.Len(t, s.reqs, 1)
	assert.NotEmpty(t, s.reqs[0].ID)
	assert.Equal(t, `=GOOGLEFINANCE("AAPL","close",TODAY()-365,TODAY())`, s.reqs[0].Formula)
}

func TestFetch_AnalyzerSeesLatestClose(t *testing.T) {
	s := &fillingScratch{rows: series(250), perRead: 200}
	p, _ := newTestProvider(s, 30)

	r := analyzer.New(p, 365).Analyze(context.Background(), "AAPL")
	require.Empty(t, r.Error)
	require.NotNil(t, r.CurrentPrice)
	assert.Equal(t, 349.0, *r.CurrentPrice)
}

func TestFetch_PartialAfterMaxAttempts(t *testing.T) {
	s := &fillingScratch{rows: series(250), perRead: 10}
	p, clk := newTestProvider(s, 3)

	pts, err := p.Fetch(context.Background(), "AAPL", 365)
	require.NoError(t, err)
	assert.Len(t, pts, 30)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clk.Sleeps())
}

func TestFetch_IgnoresSlotOwnedByOtherRequest(t *testing.T) {
	s := &fillingScratch{rows: series(250), perRead: 250, owner: "someone-else"}
	p, clk := newTestProvider(s, 3)

	pts, err := p.Fetch(context.Background(), "AAPL", 365)
	require.NoError(t, err)
	assert.Empty(t, pts)
	assert.Len(t, clk.Sleeps(), 2)
}

func TestFetch_FormulaError(t *testing.T) {
	s := &fillingScratch{errMsg: "#N/A unknown ticker"}
	p, clk := newTestProvider(s, 5)

	_, err := p.Fetch(context.Background(), "ZZZ", 365)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrProvider))
	assert.Contains(t, err.Error(), "unknown ticker")
	assert.Empty(t, clk.Sleeps())
}

func TestFetch_ReadFailure(t *testing.T) {
	s := &fillingScratch{readErr: errors.New("redis: connection refused")}
	p, _ := newTestProvider(s, 2)

	_, err := p.Fetch(context.Background(), "AAPL", 365)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrProvider))
}

// ────────────────────────────────────────────────────────────────
// Worker
// ────────────────────────────────────────────────────────────────

type memQueue struct {
	reqs      []*redis.FormulaRequest
	writes    map[string][]int
	errs      map[string]string
	completed map[string]string
	stale     map[string]bool // request IDs that lost their slot
}

func newMemQueue(reqs ...*redis.FormulaRequest) *memQueue {
	return &memQueue{
		reqs:      reqs,
		writes:    map[string][]int{},
		errs:      map[string]string{},
		completed: map[string]string{},
		stale:     map[string]bool{},
	}
}

func (q *memQueue) NextRequest(context.Context, time.Duration) (*redis.FormulaRequest, error) {
	if len(q.reqs) == 0 {
		return nil, nil
	}
	r := q.reqs[0]
	q.reqs = q.reqs[1:]
	return r, nil
}

func (q *memQueue) WriteRows(_ context.Context, id, symbol string, rows []model.PricePoint) error {
	if q.stale[id] {
		return redis.ErrStaleRequest
	}
	q.writes[symbol] = append(q.writes[symbol], len(rows))
	return nil
}

func (q *memQueue) WriteError(_ context.Context, id, symbol, msg string) error {
	if q.stale[id] {
		return redis.ErrStaleRequest
	}
	q.errs[symbol] = msg
	return nil
}

func (q *memQueue) Complete(_ context.Context, id, symbol string) error {
	if q.stale[id] {
		return redis.ErrStaleRequest
	}
	q.completed[symbol] = id
	return nil
}

type stubProvider map[string][]model.PricePoint

func (s stubProvider) Fetch(_ context.Context, symbol string, _ int) ([]model.PricePoint, error) {
	rows, ok := s[symbol]
	if !ok {
		return nil, errors.New("no data for " + symbol)
	}
	return rows, nil
}

func TestWorker_Step(t *testing.T) {
	q := newMemQueue(
		&redis.FormulaRequest{ID: "r1", Symbol: "AAPL", LookbackDays: 365},
		&redis.FormulaRequest{ID: "r2", Symbol: "ZZZ"},
	)
	w := NewWorker(q, stubProvider{"AAPL": series(120)}, 50)
	ctx := context.Background()

	handled, err := w.Step(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []int{50, 50, 20}, q.writes["AAPL"])
	assert.Equal(t, "r1", q.completed["AAPL"])

	handled, err = w.Step(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "no data for ZZZ", q.errs["ZZZ"])
	assert.NotContains(t, q.completed, "ZZZ")

	handled, err = w.Step(ctx)
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestWorker_DropsSupersededRequest(t *testing.T) {
	q := newMemQueue(&redis.FormulaRequest{ID: "old", Symbol: "AAPL", LookbackDays: 365})
	q.stale["old"] = true
	w := NewWorker(q, stubProvider{"AAPL": series(120)}, 50)

	handled, err := w.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Empty(t, q.writes["AAPL"])
	assert.NotContains(t, q.completed, "AAPL")
}

package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"stockmetrics/internal/clock"
	"stockmetrics/internal/model"
	"stockmetrics/internal/notification"
)

// ── Fakes ──

type staticSource struct {
	symbols []string
	err     error
}

func (s staticSource) Symbols(context.Context) ([]string, error) { return s.symbols, s.err }

type cell struct{ row, col int }

type memSink struct {
	cells      map[cell]string
	appends    int
	updates    []int
	formatted  int
	failAppend error
}

func newMemSink() *memSink { return &memSink{cells: make(map[cell]string)} }

func (m *memSink) putRow(row int, values []string) {
	for i, v := range values {
		if v == "" {
			delete(m.cells, cell{row, i + 1})
			continue
		}
		m.cells[cell{row, i + 1}] = v
	}
}

func (m *memSink) EnsureHeader(_ context.Context, columns []string) error {
	if m.cells[cell{1, 1}] != columns[0] {
		m.putRow(1, columns)
	}
	return nil
}

func (m *memSink) AppendRow(ctx context.Context, values []string) error {
	if m.failAppend != nil {
		return m.failAppend
	}
	n, _ := m.RowCount(ctx)
	m.putRow(n+1, values)
	m.appends++
	return nil
}

func (m *memSink) UpdateRow(_ context.Context, index int, values []string) error {
	m.putRow(index, values)
	m.updates = append(m.updates, index)
	return nil
}

func (m *memSink) ReadCell(_ context.Context, row, col int) (string, error) {
	return m.cells[cell{row, col}], nil
}

func (m *memSink) WriteCell(_ context.Context, row, col int, v string) error {
	m.cells[cell{row, col}] = v
	return nil
}

func (m *memSink) RowCount(context.Context) (int, error) {
	last := 0
	for c := range m.cells {
		if c.col <= len(model.Columns) && c.row > last {
			last = c.row
		}
	}
	return last, nil
}

func (m *memSink) ApplyFormatting(context.Context) error {
	m.formatted++
	return nil
}

func (m *memSink) symbolAt(row int) string { return m.cells[cell{row, 1}] }

// seed writes a header and n data rows, optionally stamping the last update.
func (m *memSink) seed(n int, stamp string) {
	m.putRow(1, model.Columns)
	for i := 0; i < n; i++ {
		m.putRow(model.DataRowIndex(i), []string{"OLD"})
	}
	if stamp != "" {
		m.cells[cell{model.LastUpdatedRow, model.LastUpdatedCol}] = stamp
	}
}

type memScheduler struct {
	mu        sync.Mutex
	pending   map[string][]time.Duration
	cancels   int
	schedules int
	err       error
}

func newMemScheduler() *memScheduler {
	return &memScheduler{pending: make(map[string][]time.Duration)}
}

func (s *memScheduler) CancelAllFor(_ context.Context, job string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.cancels++
	delete(s.pending, job)
	return nil
}

func (s *memScheduler) ScheduleOnce(_ context.Context, job string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.schedules++
	s.pending[job] = append(s.pending[job], d)
	return nil
}

// scriptedAnalyzer advances the fake clock by per on every call and returns a
// canned result per symbol.
type scriptedAnalyzer struct {
	clk    *clock.Fake
	per    time.Duration
	errors map[string]string
	buys   map[string]bool
	calls  []string
}

func (a *scriptedAnalyzer) Analyze(_ context.Context, symbol string) model.AnalysisResult {
	a.calls = append(a.calls, symbol)
	a.clk.Advance(a.per)
	if msg, ok := a.errors[symbol]; ok {
		return model.ErrorResult(symbol, msg, a.clk.Now())
	}
	return model.AnalysisResult{
		Symbol:       symbol,
		CurrentPrice: model.Float(100),
		SMA20:        model.Float(99),
		SMA50:        model.Float(98),
		SMA200:       model.Float(90),
		RSI:          model.Float(50),
		BuySignal:    a.buys[symbol],
		Timestamp:    a.clk.Now(),
	}
}

type recordingNotifier struct {
	alerts []notification.Alert
}

func (r *recordingNotifier) Send(_ context.Context, a notification.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

var errDisk = errors.New("disk full")

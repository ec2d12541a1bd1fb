package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"stockmetrics/internal/clock"
	"stockmetrics/internal/model"
	"stockmetrics/internal/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

type harness struct {
	clk      *clock.Fake
	sink     *memSink
	sched    *memScheduler
	an       *scriptedAnalyzer
	notifier *recordingNotifier
	cfg      Config
}

func newHarness() *harness {
	clk := clock.NewFake(t0)
	return &harness{
		clk:      clk,
		sink:     newMemSink(),
		sched:    newMemScheduler(),
		an:       &scriptedAnalyzer{clk: clk, per: 100 * time.Millisecond},
		notifier: &recordingNotifier{},
		cfg: Config{
			Job:              "batch",
			MaxPerRun:        20,
			Delay:            time.Second,
			DelayOnError:     5 * time.Second,
			DelayOnRateLimit: 10 * time.Second,
			AutoContinue:     true,
			RefreshEnabled:   true,
			Budget:           300 * time.Second,
			ContinueAfter:    time.Minute,
			Location:         time.UTC,
		},
	}
}

func (h *harness) run(t *testing.T, symbols ...string) (Outcome, error) {
	t.Helper()
	c := New(h.cfg, staticSource{symbols: symbols}, h.an, h.sink, h.sched,
		WithClock(h.clk), WithNotifier(h.notifier))
	return c.Run(context.Background())
}

// ────────────────────────────────────────────────────────────────
// Append mode
// ────────────────────────────────────────────────────────────────

func TestRun_AppendFreshSheetCompletes(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "AAPL", "MSFT", "NVDA")
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, ModeAppend, out.Mode)
	assert.Equal(t, 0, out.StartAt)
	assert.Equal(t, 3, out.Next)
	assert.Equal(t, 3, out.Processed)

	assert.Equal(t, model.Columns[0], h.sink.symbolAt(1))
	assert.Equal(t, "AAPL", h.sink.symbolAt(2))
	assert.Equal(t, "MSFT", h.sink.symbolAt(3))
	assert.Equal(t, "NVDA", h.sink.symbolAt(4))

	// The delay is skipped after the final symbol.
	assert.Equal(t, []time.Duration{time.Second, time.Second}, h.clk.Sleeps())

	assert.Equal(t, 1, h.sink.formatted)
	assert.Equal(t, model.LastUpdatedLabel, h.sink.cells[cell{model.LastUpdatedLabelRow, model.LastUpdatedLabelCol}])
	stamp := h.sink.cells[cell{model.LastUpdatedRow, model.LastUpdatedCol}]
	_, ok := model.ParseTimestamp(stamp, time.UTC)
	assert.True(t, ok, "last update stamp %q", stamp)

	assert.Empty(t, h.sched.pending)
	assert.Equal(t, 1, h.sched.cancels)
	assert.Equal(t, 0, h.sched.schedules)
	require.NotEmpty(t, h.notifier.alerts)
	assert.Equal(t, notification.AlertInfo, h.notifier.alerts[len(h.notifier.alerts)-1].Level)
}

func TestRun_AppendCursorResumesAfterWrittenRows(t *testing.T) {
	h := newHarness()
	h.sink.seed(2, "")

	out, err := h.run(t, "A", "B", "C", "D")
	require.NoError(t, err)

	assert.Equal(t, 2, out.StartAt)
	assert.Equal(t, []string{"C", "D"}, h.an.calls)
	assert.Equal(t, "C", h.sink.symbolAt(4))
	assert.Equal(t, "D", h.sink.symbolAt(5))
	assert.Equal(t, StateCompleted, out.State)
}

func TestRun_AppendCursorClampedToSymbolCount(t *testing.T) {
	h := newHarness()
	h.sink.seed(10, "")

	out, err := h.run(t, "A", "B", "C")
	require.NoError(t, err)

	assert.Equal(t, 3, out.StartAt)
	assert.Empty(t, h.an.calls)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 1, h.sink.formatted)
}

func TestRun_BatchCapSchedulesContinuation(t *testing.T) {
	h := newHarness()
	h.cfg.MaxPerRun = 2

	out, err := h.run(t, "A", "B", "C", "D", "E")
	require.NoError(t, err)

	assert.Equal(t, StatePaused, out.State)
	assert.Equal(t, 2, out.Processed)
	assert.Equal(t, 2, out.Next)
	assert.Equal(t, ScheduleAfter(time.Minute), out.Continuation)
	assert.Equal(t, []time.Duration{time.Minute}, h.sched.pending["batch"])
	// One delay between A and B, none after the cap.
	assert.Equal(t, []time.Duration{time.Second}, h.clk.Sleeps())
	assert.Equal(t, 0, h.sink.formatted)
}

func TestRun_ResumesAcrossInvocationsWithOneSchedule(t *testing.T) {
	h := newHarness()
	h.cfg.MaxPerRun = 2
	symbols := []string{"A", "B", "C", "D", "E"}

	for i, want := range []State{StatePaused, StatePaused, StateCompleted} {
		out, err := h.run(t, symbols...)
		require.NoError(t, err)
		assert.Equal(t, want, out.State, "invocation %d", i)
		assert.LessOrEqual(t, len(h.sched.pending["batch"]), 1)
	}

	for i, s := range symbols {
		assert.Equal(t, s, h.sink.symbolAt(model.DataRowIndex(i)))
	}
	assert.Empty(t, h.sched.pending)
	assert.Equal(t, 2, h.sched.schedules)
}

func TestRun_BudgetCheckedAfterSymbol(t *testing.T) {
	h := newHarness()
	h.cfg.Budget = time.Second
	h.an.per = 2 * time.Second

	out, err := h.run(t, "A", "B", "C")
	require.NoError(t, err)

	// The first symbol runs past the budget and is still written.
	assert.Equal(t, 1, out.Processed)
	assert.Equal(t, "A", h.sink.symbolAt(2))
	assert.Equal(t, StatePaused, out.State)
	assert.Empty(t, h.clk.Sleeps())
	assert.Len(t, h.sched.pending["batch"], 1)
}

func TestRun_BudgetExhaustedOnLastSymbolCompletes(t *testing.T) {
	h := newHarness()
	h.cfg.Budget = time.Second
	h.an.per = 2 * time.Second

	out, err := h.run(t, "A")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 0, h.sched.schedules)
}

func TestRun_AutoContinueDisabledStops(t *testing.T) {
	h := newHarness()
	h.cfg.MaxPerRun = 1
	h.cfg.AutoContinue = false

	out, err := h.run(t, "A", "B")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, out.State)
	assert.Equal(t, NoContinuation(), out.Continuation)
	assert.Equal(t, 0, h.sched.schedules)
	assert.Equal(t, 0, h.sched.cancels)
}

func TestRun_NilSchedulerStops(t *testing.T) {
	h := newHarness()
	h.cfg.MaxPerRun = 1

	c := New(h.cfg, staticSource{symbols: []string{"A", "B"}}, h.an, h.sink, nil, WithClock(h.clk))
	out, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStopped, out.State)
}

// ────────────────────────────────────────────────────────────────
// Refresh mode
// ────────────────────────────────────────────────────────────────

func TestRun_RefreshRewritesRowsFromTop(t *testing.T) {
	h := newHarness()
	h.sink.seed(3, "2024-02-29 16:00:00")
	h.cfg.MaxPerRun = 1

	out, err := h.run(t, "A", "B", "C")
	require.NoError(t, err)

	assert.Equal(t, ModeRefresh, out.Mode)
	assert.Equal(t, 0, out.StartAt)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, []int{2, 3, 4}, h.sink.updates)
	assert.Equal(t, 0, h.sink.appends)
	assert.Equal(t, "A", h.sink.symbolAt(2))
	assert.Equal(t, "C", h.sink.symbolAt(4))
	assert.Equal(t, "2024-03-01 14:30:", h.sink.cells[cell{model.LastUpdatedRow, model.LastUpdatedCol}][:17])
}

func TestRun_RefreshNeverReschedules(t *testing.T) {
	h := newHarness()
	h.sink.seed(3, "2024-02-29 16:00:00")
	h.cfg.Budget = time.Second
	h.an.per = 2 * time.Second

	out, err := h.run(t, "A", "B", "C")
	require.NoError(t, err)

	assert.Equal(t, StateStopped, out.State)
	assert.Equal(t, 1, out.Processed)
	assert.Equal(t, 0, h.sched.schedules)
	assert.Equal(t, 0, h.sched.cancels)
	assert.Equal(t, 0, h.sink.formatted)
}

func TestRun_RefreshDisabledOrUnstampedAppends(t *testing.T) {
	cases := []struct {
		name    string
		refresh bool
		stamp   string
	}{
		{"flag off", false, "2024-02-29 16:00:00"},
		{"no stamp", true, ""},
		{"bad stamp", true, "yesterday"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			h.cfg.RefreshEnabled = tc.refresh
			h.sink.seed(1, tc.stamp)

			out, err := h.run(t, "A", "B")
			require.NoError(t, err)
			assert.Equal(t, ModeAppend, out.Mode)
			assert.Equal(t, 1, out.StartAt)
			assert.Equal(t, []string{"B"}, h.an.calls)
		})
	}
}

// ────────────────────────────────────────────────────────────────
// Failures
// ────────────────────────────────────────────────────────────────

func TestRun_SymbolFailureIsContained(t *testing.T) {
	h := newHarness()
	h.an.errors = map[string]string{
		"ZZZ":  "provider error: no data for symbol",
		"SLOW": "provider error: 429 Too Many Requests",
	}

	out, err := h.run(t, "AAPL", "ZZZ", "SLOW", "MSFT")
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 4, out.Processed)
	assert.Equal(t, 2, out.Failed)

	assert.Equal(t, "ZZZ", h.sink.symbolAt(3))
	assert.Equal(t, "provider error: no data for symbol", h.sink.cells[cell{3, 10}])
	assert.Equal(t, "", h.sink.cells[cell{3, 2}])
	assert.Equal(t, "NO", h.sink.cells[cell{3, 7}])
	assert.Equal(t, "MSFT", h.sink.symbolAt(5))

	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 10 * time.Second}, h.clk.Sleeps())
}

func TestRun_EmptySymbolListIsANotice(t *testing.T) {
	h := newHarness()

	out, err := h.run(t)
	require.ErrorIs(t, err, model.ErrNoSymbols)

	assert.Equal(t, StateIdle, out.State)
	assert.Empty(t, h.sink.cells)
	assert.Equal(t, 0, h.sched.cancels+h.sched.schedules)
	require.Len(t, h.notifier.alerts, 1)
	assert.Equal(t, notification.AlertWarning, h.notifier.alerts[0].Level)
}

func TestRun_EmptySymbolListLogsWarning(t *testing.T) {
	h := newHarness()
	var buf bytes.Buffer
	lg := slog.New(slog.NewJSONHandler(&buf, nil))
	c := New(h.cfg, staticSource{}, h.an, h.sink, h.sched,
		WithClock(h.clk), WithNotifier(h.notifier), WithLogger(lg))

	_, err := c.Run(context.Background())
	require.ErrorIs(t, err, model.ErrNoSymbols)

	var levels []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		levels = append(levels, rec["level"].(string))
	}
	assert.Contains(t, levels, "WARN")
	assert.NotContains(t, levels, "ERROR")
}

func TestRun_SourceErrorIsFatal(t *testing.T) {
	h := newHarness()
	c := New(h.cfg, staticSource{err: model.ErrConfiguration}, h.an, h.sink, h.sched, WithClock(h.clk))

	_, err := c.Run(context.Background())
	require.ErrorIs(t, err, model.ErrConfiguration)
	assert.Empty(t, h.sink.cells)
}

func TestRun_SinkWriteErrorAbortsWithoutContinuation(t *testing.T) {
	h := newHarness()
	h.sink.failAppend = errDisk

	out, err := h.run(t, "A", "B")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSinkWrite))
	assert.Equal(t, StateStopped, out.State)
	assert.Equal(t, 0, h.sched.schedules)
	assert.Equal(t, 0, out.Processed)
}

func TestRun_SchedulerErrorIsReturned(t *testing.T) {
	h := newHarness()
	h.cfg.MaxPerRun = 1
	h.sched.err = errors.New("redis down")

	out, err := h.run(t, "A", "B")
	require.Error(t, err)
	assert.Equal(t, StateStopped, out.State)
	// The written row survives.
	assert.Equal(t, "A", h.sink.symbolAt(2))
}

func TestRun_CancelledDuringDelay(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(h.cfg, staticSource{symbols: []string{"A", "B"}}, h.an, h.sink, h.sched, WithClock(h.clk))
	out, err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateStopped, out.State)
	assert.Equal(t, 1, out.Processed)
	assert.Equal(t, 0, h.sched.schedules)
}

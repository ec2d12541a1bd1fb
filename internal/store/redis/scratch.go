package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stockmetrics/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ScratchSheet is the shared scratch area between the formula provider and
// the recompute worker. The provider queues a formula for a symbol and polls
// the result list; the worker fills the list in as the formula evaluates and
// marks the slot done after the last row.
//
// Each slot is owned by the request that last set it. Writes carrying any
// other request ID are rejected with ErrStaleRequest, so a worker still
// busy with an abandoned request cannot mix its rows into a newer one.
type ScratchSheet struct {
	client *goredis.Client
	ttl    time.Duration
}

const (
	formulaQueue  = keyPrefix + "formula:queue"
	ownerPrefix   = keyPrefix + "formula:owner:"
	resultPrefix  = keyPrefix + "formula:result:"
	errorPrefix   = keyPrefix + "formula:error:"
	donePrefix    = keyPrefix + "formula:done:"
	defaultResult = 30 * time.Minute
)

// ErrStaleRequest is returned when a write targets a slot that a newer
// request has taken over.
var ErrStaleRequest = errors.New("formula request superseded")

// FormulaRequest is one queued recompute.
type FormulaRequest struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Formula      string    `json:"formula"`
	LookbackDays int       `json:"lookback_days"`
	RequestedAt  time.Time `json:"requested_at"`
}

// FormulaResult is what the result slot holds right now.
type FormulaResult struct {
	RequestID string // owner of the slot, "" when none
	Rows      []model.PricePoint
	Error     string
	Done      bool // the owner wrote its last row
}

// NewScratchSheet creates a scratch sheet whose result slots expire after
// 30 minutes.
func NewScratchSheet(client *goredis.Client) *ScratchSheet {
	return &ScratchSheet{client: client, ttl: defaultResult}
}

// SetFormula hands the symbol's slot to req, clears it and queues the
// formula.
func (s *ScratchSheet) SetFormula(ctx context.Context, req FormulaRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("scratch encode request: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, resultPrefix+req.Symbol, errorPrefix+req.Symbol, donePrefix+req.Symbol)
	pipe.Set(ctx, ownerPrefix+req.Symbol, req.ID, s.ttl)
	pipe.RPush(ctx, formulaQueue, b)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("scratch set formula %s: %w", req.Symbol, err)
	}
	return nil
}

// ReadResult returns a consistent snapshot of the slot.
func (s *ScratchSheet) ReadResult(ctx context.Context, symbol string) (FormulaResult, error) {
	var res FormulaResult

	pipe := s.client.TxPipeline()
	owner := pipe.Get(ctx, ownerPrefix+symbol)
	msg := pipe.Get(ctx, errorPrefix+symbol)
	done := pipe.Get(ctx, donePrefix+symbol)
	rows := pipe.LRange(ctx, resultPrefix+symbol, 0, -1)
	cmds, _ := pipe.Exec(ctx)
	for _, cmd := range cmds {
		if err := cmd.Err(); err != nil && !errors.Is(err, goredis.Nil) {
			return res, fmt.Errorf("scratch read result %s: %w", symbol, err)
		}
	}

	res.RequestID = owner.Val()
	res.Error = msg.Val()
	res.Done = res.RequestID != "" && done.Val() == res.RequestID

	raw := rows.Val()
	res.Rows = make([]model.PricePoint, 0, len(raw))
	for _, line := range raw {
		if p, ok := parseRow(line); ok {
			res.Rows = append(res.Rows, p)
		}
	}
	return res, nil
}

// NextRequest blocks up to timeout for a queued formula. It returns nil when
// the queue stayed empty.
func (s *ScratchSheet) NextRequest(ctx context.Context, timeout time.Duration) (*FormulaRequest, error) {
	vals, err := s.client.BLPop(ctx, timeout, formulaQueue).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scratch next request: %w", err)
	}
	var req FormulaRequest
	if err := json.Unmarshal([]byte(vals[1]), &req); err != nil {
		return nil, fmt.Errorf("scratch decode request: %w", err)
	}
	return &req, nil
}

// WriteRows appends evaluated rows to the slot owned by id.
func (s *ScratchSheet) WriteRows(ctx context.Context, id, symbol string, rows []model.PricePoint) error {
	if len(rows) == 0 {
		return nil
	}
	vals := make([]interface{}, len(rows))
	for i, p := range rows {
		vals[i] = formatRow(p)
	}
	key := resultPrefix + symbol
	err := s.owned(ctx, id, symbol, func(pipe goredis.Pipeliner) {
		pipe.RPush(ctx, key, vals...)
		pipe.Expire(ctx, key, s.ttl)
	})
	if err != nil {
		return fmt.Errorf("scratch write rows %s: %w", symbol, err)
	}
	return nil
}

// WriteError marks the formula owned by id as failed.
func (s *ScratchSheet) WriteError(ctx context.Context, id, symbol, msg string) error {
	err := s.owned(ctx, id, symbol, func(pipe goredis.Pipeliner) {
		pipe.Set(ctx, errorPrefix+symbol, msg, s.ttl)
	})
	if err != nil {
		return fmt.Errorf("scratch write error %s: %w", symbol, err)
	}
	return nil
}

// Complete marks the slot owned by id as fully written.
func (s *ScratchSheet) Complete(ctx context.Context, id, symbol string) error {
	err := s.owned(ctx, id, symbol, func(pipe goredis.Pipeliner) {
		pipe.Set(ctx, donePrefix+symbol, id, s.ttl)
	})
	if err != nil {
		return fmt.Errorf("scratch complete %s: %w", symbol, err)
	}
	return nil
}

// owned runs fn in a transaction that only commits while id still owns the
// symbol's slot.
func (s *ScratchSheet) owned(ctx context.Context, id, symbol string, fn func(goredis.Pipeliner)) error {
	key := ownerPrefix + symbol
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if errors.Is(err, goredis.Nil) || (err == nil && cur != id) {
			return ErrStaleRequest
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			fn(pipe)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return ErrStaleRequest
	}
	return err
}

// Rows are stored as "2006-01-02,123.45".
func formatRow(p model.PricePoint) string {
	return p.Date.Format("2006-01-02") + "," + strconv.FormatFloat(p.Close, 'f', -1, 64)
}

func parseRow(line string) (model.PricePoint, bool) {
	date, closeStr, ok := strings.Cut(line, ",")
	if !ok {
		return model.PricePoint{}, false
	}
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return model.PricePoint{}, false
	}
	c, err := strconv.ParseFloat(closeStr, 64)
	if err != nil {
		return model.PricePoint{}, false
	}
	return model.PricePoint{Date: d, Close: c}, true
}

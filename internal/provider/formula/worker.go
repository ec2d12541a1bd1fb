package formula

import (
	"context"
	"errors"
	"log"
	"time"

	"stockmetrics/internal/model"
	"stockmetrics/internal/store/redis"
)

// Queue is the worker's view of the scratch sheet.
type Queue interface {
	NextRequest(ctx context.Context, timeout time.Duration) (*redis.FormulaRequest, error)
	WriteRows(ctx context.Context, id, symbol string, rows []model.PricePoint) error
	WriteError(ctx context.Context, id, symbol, msg string) error
	Complete(ctx context.Context, id, symbol string) error
}

// Worker evaluates queued formulas against a backing provider, fills the
// result slots chunk by chunk and marks each slot done after its last chunk.
type Worker struct {
	queue     Queue
	backing   model.PriceSeriesProvider
	chunkSize int
	wait      time.Duration
}

// NewWorker creates a worker writing chunkSize rows at a time.
func NewWorker(queue Queue, backing model.PriceSeriesProvider, chunkSize int) *Worker {
	if chunkSize <= 0 {
		chunkSize = 50
	}
	return &Worker{queue: queue, backing: backing, chunkSize: chunkSize, wait: time.Second}
}

// Run processes requests until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log.Printf("[formula] recalc worker started")
	for {
		if err := ctx.Err(); err != nil {
			log.Printf("[formula] recalc worker stopped")
			return nil
		}
		if _, err := w.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Printf("[formula] step error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.wait):
			}
		}
	}
}

// Step handles at most one request. It reports whether one was handled.
// A request superseded while it was being evaluated is dropped.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	req, err := w.queue.NextRequest(ctx, w.wait)
	if err != nil || req == nil {
		return false, err
	}
	if err := w.evaluate(ctx, req); err != nil {
		if errors.Is(err, redis.ErrStaleRequest) {
			log.Printf("[formula] %s: request %s superseded, dropped", req.Symbol, req.ID)
			return true, nil
		}
		return true, err
	}
	return true, nil
}

func (w *Worker) evaluate(ctx context.Context, req *redis.FormulaRequest) error {
	rows, err := w.backing.Fetch(ctx, req.Symbol, req.LookbackDays)
	if err != nil {
		log.Printf("[formula] %s: %v", req.Symbol, err)
		return w.queue.WriteError(ctx, req.ID, req.Symbol, err.Error())
	}

	for start := 0; start < len(rows); start += w.chunkSize {
		end := start + w.chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := w.queue.WriteRows(ctx, req.ID, req.Symbol, rows[start:end]); err != nil {
			return err
		}
	}
	if err := w.queue.Complete(ctx, req.ID, req.Symbol); err != nil {
		return err
	}
	log.Printf("[formula] %s: wrote %d rows", req.Symbol, len(rows))
	return nil
}

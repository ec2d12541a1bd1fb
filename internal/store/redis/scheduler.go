package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"stockmetrics/internal/metrics"
	"stockmetrics/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Scheduler keeps deferred job re-invocations in Redis. Each job is a single
// member of a sorted set scored by its fire time, so a job can never have
// more than one pending schedule. It implements model.Scheduler.
type Scheduler struct {
	client  *goredis.Client
	cb      *CircuitBreaker
	now     func() time.Time
	metrics *metrics.Metrics
}

var _ model.Scheduler = (*Scheduler)(nil)

var (
	schedulesKey = keyPrefix + "schedules"
	scheduleMeta = keyPrefix + "schedules:meta"
)

// Schedule describes one pending re-invocation.
type Schedule struct {
	ID        string    `json:"id"`
	Job       string    `json:"job"`
	FireAt    time.Time `json:"fire_at"`
	CreatedAt time.Time `json:"created_at"`
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithNow replaces the time source.
func WithNow(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithSchedulerMetrics reports breaker transitions.
func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *CircuitBreaker) SchedulerOption {
	return func(s *Scheduler) { s.cb = cb }
}

// NewScheduler creates a scheduler on client. Calls go through a circuit
// breaker that opens after 5 consecutive failures for 10s.
func NewScheduler(client *goredis.Client, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		client: client,
		cb:     NewCircuitBreaker(5, 10*time.Second),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] scheduler circuit breaker %s -> %s", from, to)
		s.metrics.ObserveBreaker(int(to), to == StateOpen)
	}
	return s
}

// CancelAllFor removes the pending schedule of job, if any.
func (s *Scheduler) CancelAllFor(ctx context.Context, job string) error {
	return s.cb.Execute(func() error {
		pipe := s.client.TxPipeline()
		pipe.ZRem(ctx, schedulesKey, job)
		pipe.HDel(ctx, scheduleMeta, job)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis cancel %q: %w", job, err)
		}
		return nil
	})
}

// ScheduleOnce registers job to fire after delay, replacing any earlier
// schedule of the same job.
func (s *Scheduler) ScheduleOnce(ctx context.Context, job string, delay time.Duration) error {
	now := s.now()
	sc := Schedule{
		ID:        uuid.NewString(),
		Job:       job,
		FireAt:    now.Add(delay),
		CreatedAt: now,
	}
	meta, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("redis schedule encode: %w", err)
	}

	return s.cb.Execute(func() error {
		pipe := s.client.TxPipeline()
		pipe.ZAdd(ctx, schedulesKey, &goredis.Z{Score: float64(sc.FireAt.UnixMilli()), Member: job})
		pipe.HSet(ctx, scheduleMeta, job, meta)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis schedule %q: %w", job, err)
		}
		return nil
	})
}

// Pending returns the schedule of job, or nil when none is registered.
func (s *Scheduler) Pending(ctx context.Context, job string) (*Schedule, error) {
	var sc *Schedule
	err := s.cb.Execute(func() error {
		raw, err := s.client.HGet(ctx, scheduleMeta, job).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("redis pending %q: %w", job, err)
		}
		var v Schedule
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("redis pending %q decode: %w", job, err)
		}
		sc = &v
		return nil
	})
	return sc, err
}

// Due returns the jobs whose fire time has passed.
func (s *Scheduler) Due(ctx context.Context) ([]string, error) {
	var jobs []string
	err := s.cb.Execute(func() error {
		var err error
		jobs, err = s.client.ZRangeByScore(ctx, schedulesKey, &goredis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(s.now().UnixMilli(), 10),
		}).Result()
		if err != nil {
			return fmt.Errorf("redis due: %w", err)
		}
		return nil
	})
	return jobs, err
}

// Claim removes the schedule of a due job. Only one caller wins a claim, so
// concurrent daemons never fire the same schedule twice.
func (s *Scheduler) Claim(ctx context.Context, job string) (bool, error) {
	var won bool
	err := s.cb.Execute(func() error {
		pipe := s.client.TxPipeline()
		zrem := pipe.ZRem(ctx, schedulesKey, job)
		pipe.HDel(ctx, scheduleMeta, job)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis claim %q: %w", job, err)
		}
		won = zrem.Val() == 1
		return nil
	})
	return won, err
}

// Breaker exposes the circuit breaker state for health reporting.
func (s *Scheduler) Breaker() State { return s.cb.CurrentState() }

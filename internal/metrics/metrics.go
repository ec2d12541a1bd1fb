package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the batch sweep.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SymbolsTotal     *prometheus.CounterVec // labels: outcome=ok|error|rate_limited
	FetchDur         prometheus.Histogram
	RunDur           prometheus.Histogram
	RunsTotal        *prometheus.CounterVec // labels: state
	Continuations    prometheus.Counter
	RunCursor        prometheus.Gauge
	PollAttempts     prometheus.Histogram
	SinkWriteDur     prometheus.Histogram
	BuySignals       prometheus.Gauge
	SellSignals      prometheus.Gauge
	RedisBreakerOpen prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrip prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SymbolsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmetrics_symbols_total",
			Help: "Symbols analyzed, by outcome",
		}, []string{"outcome"}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockmetrics_fetch_duration_seconds",
			Help:    "Time to fetch and analyze one symbol",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RunDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockmetrics_run_duration_seconds",
			Help:    "Wall-clock duration of one controller invocation",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 300, 360},
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockmetrics_runs_total",
			Help: "Controller invocations, by final state",
		}, []string{"state"}),
		Continuations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockmetrics_continuations_total",
			Help: "Deferred re-invocations registered after a budget stop",
		}),
		RunCursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockmetrics_run_cursor",
			Help: "Symbol index the next invocation resumes from",
		}),
		PollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockmetrics_poll_attempts",
			Help:    "Reads needed for a formula recompute to settle",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 30},
		}),
		SinkWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockmetrics_sink_write_duration_seconds",
			Help:    "Latency of one sink row write",
			Buckets: prometheus.DefBuckets,
		}),
		BuySignals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockmetrics_buy_signals",
			Help: "Buy opportunities found in the last invocation",
		}),
		SellSignals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockmetrics_sell_signals",
			Help: "Sell opportunities found in the last invocation",
		}),
		RedisBreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockmetrics_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrip: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockmetrics_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.SymbolsTotal,
		m.FetchDur,
		m.RunDur,
		m.RunsTotal,
		m.Continuations,
		m.RunCursor,
		m.PollAttempts,
		m.SinkWriteDur,
		m.BuySignals,
		m.SellSignals,
		m.RedisBreakerOpen,
		m.RedisBreakerTrip,
	)

	return m
}

// ObserveSymbol records one analyzed symbol.
func (m *Metrics) ObserveSymbol(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SymbolsTotal.WithLabelValues(outcome).Inc()
	m.FetchDur.Observe(d.Seconds())
}

// ObserveSinkWrite records one row write.
func (m *Metrics) ObserveSinkWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.SinkWriteDur.Observe(d.Seconds())
}

// ObserveRun records the end of an invocation.
func (m *Metrics) ObserveRun(state string, cursor, buys, sells int, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(state).Inc()
	m.RunDur.Observe(d.Seconds())
	m.RunCursor.Set(float64(cursor))
	m.BuySignals.Set(float64(buys))
	m.SellSignals.Set(float64(sells))
}

// ObserveContinuation counts a registered re-invocation.
func (m *Metrics) ObserveContinuation() {
	if m == nil {
		return
	}
	m.Continuations.Inc()
}

// ObservePoll records how many reads a recompute needed.
func (m *Metrics) ObservePoll(attempts int) {
	if m == nil {
		return
	}
	m.PollAttempts.Observe(float64(attempts))
}

// ObserveBreaker records a circuit breaker transition.
func (m *Metrics) ObserveBreaker(state int, tripped bool) {
	if m == nil {
		return
	}
	m.RedisBreakerOpen.Set(float64(state))
	if tripped {
		m.RedisBreakerTrip.Inc()
	}
}

// HealthStatus represents the daemon's health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastRunState   string    `json:"last_run_state"`
	LastRunAt      time.Time `json:"last_run_at"`
	LastRunError   string    `json:"last_run_error"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

// RecordRun stores the outcome of the latest controller invocation.
func (h *HealthStatus) RecordRun(state string, err error) {
	h.mu.Lock()
	h.LastRunState = state
	h.LastRunAt = time.Now()
	h.LastRunError = ""
	if err != nil {
		h.LastRunError = err.Error()
	}
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the workbook database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK && !h.RedisConnected {
		overallStatus = "unhealthy"
	}

	lastRunAt := ""
	if !h.LastRunAt.IsZero() {
		lastRunAt = h.LastRunAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastRunState    string  `json:"last_run_state"`
		LastRunAt       string  `json:"last_run_at"`
		LastRunError    string  `json:"last_run_error,omitempty"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastRunState:    h.LastRunState,
		LastRunAt:       lastRunAt,
		LastRunError:    h.LastRunError,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
}

// NewServer creates a metrics and health server. gatherer is usually the
// registry the Metrics were registered with.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle registers an extra route. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] serving /metrics and /healthz on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

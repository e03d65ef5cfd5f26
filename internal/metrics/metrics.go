package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the order engine.
type Metrics struct {
	TicksTotal     prometheus.Counter
	DroppedTicks   prometheus.Counter
	FeedReconnects prometheus.Counter

	OrdersAdmitted  prometheus.Counter
	OrdersCompleted *prometheus.CounterVec // labels: status
	OrderUpdates    prometheus.Counter

	ExecutionsTotal prometheus.Counter
	ExecutionErrors prometheus.Counter
	ExecutionDur    prometheus.Histogram

	DBJobsTotal    *prometheus.CounterVec // labels: kind
	DBJobFailures  prometheus.Counter
	DBJobDur       prometheus.Histogram
	CacheSize      *prometheus.GaugeVec // labels: cache
	QueueSaturated *prometheus.GaugeVec // labels: queue (len/cap * 100)
}

// NewMetrics registers all engine metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all engine metrics on reg. Tests pass their own
// registry to avoid duplicate registration. A nil reg gets a private one.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ticks_total",
			Help: "Total ticks received from the market data feed",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_dropped_ticks_total",
			Help: "Ticks dropped because the tick queue was full",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_feed_reconnects_total",
			Help: "Feed reconnection attempts",
		}),
		OrdersAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_orders_admitted_total",
			Help: "Orders accepted by the intake pipeline",
		}),
		OrdersCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_completed_total",
			Help: "Orders leaving the live set (by terminal status)",
		}, []string{"status"}),
		OrderUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_order_updates_total",
			Help: "Broker order-status push notifications processed",
		}),
		ExecutionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_executions_total",
			Help: "Successful order placements against the broker",
		}),
		ExecutionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_execution_errors_total",
			Help: "Failed order placements against the broker",
		}),
		ExecutionDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_execution_duration_seconds",
			Help:    "Broker order placement latency",
			Buckets: prometheus.DefBuckets,
		}),
		DBJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_db_jobs_total",
			Help: "Durable write jobs applied (by kind)",
		}, []string{"kind"}),
		DBJobFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_db_job_failures_total",
			Help: "Durable write jobs dropped after a failure",
		}),
		DBJobDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_db_job_duration_seconds",
			Help:    "Durable write job latency",
			Buckets: prometheus.DefBuckets,
		}),
		CacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_cache_size",
			Help: "Cache entry counts after each janitor sweep",
		}, []string{"cache"}),
		QueueSaturated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_queue_saturation_pct",
			Help: "Queue fill percentage (len/cap * 100)",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.DroppedTicks,
		m.FeedReconnects,
		m.OrdersAdmitted,
		m.OrdersCompleted,
		m.OrderUpdates,
		m.ExecutionsTotal,
		m.ExecutionErrors,
		m.ExecutionDur,
		m.DBJobsTotal,
		m.DBJobFailures,
		m.DBJobDur,
		m.CacheSize,
		m.QueueSaturated,
	)

	return m
}

// HealthStatus represents the engine's health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	RedisConnected bool      `json:"redis_connected"`

	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
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

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, sqlDB *sql.DB, rdb *goredis.Client, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
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
	if !h.FeedConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
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
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

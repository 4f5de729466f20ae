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

// Metrics holds all Prometheus metrics for the ledger daemon.
type Metrics struct {
	// Account state
	Equity        prometheus.Gauge
	Cash          prometheus.Gauge
	UnrealizedPnL prometheus.Gauge
	OpenPositions prometheus.Gauge

	// Fills and signals
	FillsTotal   *prometheus.CounterVec // labels: side
	SignalsTotal prometheus.Counter
	SkipsTotal   *prometheus.CounterVec // labels: reason
	FillErrors   prometheus.Counter

	// Mark price resolution
	MarkResolutions *prometheus.CounterVec // labels: tier (mid, last, price, none)

	// Volatility cache
	ATRCacheHits   prometheus.Counter
	ATRCacheMisses prometheus.Counter

	// Feed
	FeedReconnects prometheus.Counter
	TickersTotal   prometheus.Counter
	BarsTotal      prometheus.Counter
	DroppedTickers prometheus.Counter

	// Persistence
	StoreAppendDur prometheus.Histogram

	// Redis circuit breaker
	CacheBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	CacheBreakerTrips prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_equity",
			Help: "Current account equity (cash + sum of position marks)",
		}),
		Cash: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_cash",
			Help: "Current cash balance",
		}),
		UnrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_unrealized_pnl",
			Help: "Unrealized P&L across priced positions",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_open_positions",
			Help: "Number of open positions",
		}),

		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerd_fills_total",
			Help: "Total fills applied to the ledger (by side)",
		}, []string{"side"}),
		SignalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_signals_total",
			Help: "Total strategy signals consumed",
		}),
		SkipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerd_signal_skips_total",
			Help: "Signals skipped before execution (by reason)",
		}, []string{"reason"}),
		FillErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_fill_errors_total",
			Help: "Fills rejected by persistence failure (rolled back)",
		}),

		MarkResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerd_mark_resolutions_total",
			Help: "Mark price resolutions by fallback tier (none = no mark)",
		}, []string{"tier"}),

		ATRCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_atr_cache_hits_total",
			Help: "Volatility estimate cache hits",
		}),
		ATRCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_atr_cache_misses_total",
			Help: "Volatility estimate cache misses (recomputes)",
		}),

		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_feed_reconnects_total",
			Help: "Total WebSocket feed reconnection attempts",
		}),
		TickersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_tickers_total",
			Help: "Total ticker updates received from the feed",
		}),
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_bars_total",
			Help: "Total 1-minute bars finalized by the aggregator",
		}),
		DroppedTickers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_dropped_tickers_total",
			Help: "Tickers dropped (late or channel full)",
		}),

		StoreAppendDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledgerd_store_append_duration_seconds",
			Help:    "SQLite cash/equity append latency",
			Buckets: prometheus.DefBuckets,
		}),

		CacheBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerd_ticker_cache_breaker_state",
			Help: "Ticker cache circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		CacheBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_ticker_cache_breaker_trips_total",
			Help: "Times the ticker cache circuit breaker tripped open",
		}),
	}

	prometheus.MustRegister(
		m.Equity,
		m.Cash,
		m.UnrealizedPnL,
		m.OpenPositions,
		m.FillsTotal,
		m.SignalsTotal,
		m.SkipsTotal,
		m.FillErrors,
		m.MarkResolutions,
		m.ATRCacheHits,
		m.ATRCacheMisses,
		m.FeedReconnects,
		m.TickersTotal,
		m.BarsTotal,
		m.DroppedTickers,
		m.StoreAppendDur,
		m.CacheBreakerState,
		m.CacheBreakerTrips,
	)

	return m
}

// HealthStatus represents daemon health for the /healthz probe.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LedgerActive   bool      `json:"ledger_active"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
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

func (h *HealthStatus) SetLedgerActive(v bool) {
	h.mu.Lock()
	h.LedgerActive = v
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

// CheckSQLite pings the ledger database and records latency + health.
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

	if !h.FeedConnected || !h.SQLiteOK || !h.LedgerActive {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK && !h.LedgerActive {
		overallStatus = "unhealthy"
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
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LedgerActive    bool    `json:"ledger_active"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LedgerActive:    h.LedgerActive,
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

// cmd/ledgerd — trading account ledger daemon.
//
// Pipeline:
//
//	[WS feed] → [fanout] → [latest tickers / 1m bars / Redis ticker cache]
//	                          ↓              ↓
//	                    [mark resolver]  [momentum strategy]
//	                          ↓              ↓
//	                    [mark-to-market] [risk engine → paper fills → ledger]
//	                                         ↓
//	                                 [SQLite: cash/equity history, positions, journal]
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradeledgerv1/config"
	"tradeledgerv1/internal/execution"
	"tradeledgerv1/internal/ledger"
	"tradeledgerv1/internal/logger"
	"tradeledgerv1/internal/markprice"
	"tradeledgerv1/internal/marketdata/agg"
	"tradeledgerv1/internal/marketdata/bus"
	"tradeledgerv1/internal/marketdata/feed"
	"tradeledgerv1/internal/metrics"
	"tradeledgerv1/internal/model"
	"tradeledgerv1/internal/notification"
	"tradeledgerv1/internal/risk"
	"tradeledgerv1/internal/session"
	redisstore "tradeledgerv1/internal/store/redis"
	sqlitestore "tradeledgerv1/internal/store/sqlite"
	"tradeledgerv1/internal/strategy"
	"tradeledgerv1/internal/volatility"
	"tradeledgerv1/pkg/feedconnect"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[ledgerd] starting...")

	cfg := config.Load()

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = session.Current()
	}
	logger.Init("ledgerd", sessionID, logger.ParseLevel(cfg.LogLevel))
	log.Printf("[ledgerd] session %s, target capital %.2f", sessionID, cfg.TargetCapital)

	symbols := cfg.ParseSymbols()
	if len(symbols) == 0 {
		log.Fatal("[ledgerd] no symbols configured via SYMBOLS")
	}
	log.Printf("[ledgerd] trading %v", symbols)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite ledger store ----
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[ledgerd] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ---- Trade journal ----
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[ledgerd] journal init failed: %v", err)
	}
	defer journal.Close()

	// ---- Redis ticker cache (optional) ----
	var cache *redisstore.Cache
	cache, err = redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[ledgerd] WARNING: redis init failed: %v (continuing without ticker cache)", err)
		cache = nil
	} else {
		cache.OnBreakerChange(func(from, to redisstore.State) {
			prom.CacheBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.CacheBreakerTrips.Inc()
			}
		})
		defer cache.Close()
	}

	// ---- Periodic liveness checks ----
	if cache != nil {
		health.StartLivenessChecker(ctx, cache.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Market data state + mark resolution ----
	md := feed.New()

	resolver := markprice.NewResolver(markprice.NewValidator(cfg.ParseBands()))
	resolver.OnResolve = func(symbol string, tier markprice.Tier) {
		prom.MarkResolutions.WithLabelValues(tier.String()).Inc()
	}
	marks := markprice.NewSource(md, resolver)

	// ---- Audit notifications ----
	var notifier notification.Notifier = notification.LogNotifier{}
	if cfg.AuditWebhookURL != "" {
		notifier = notification.Multi{notification.LogNotifier{}, notification.NewWebhook(cfg.AuditWebhookURL)}
	}

	// ---- Ledger ----
	led := ledger.New(ledger.Config{
		Session:                sessionID,
		CapitalChangeThreshold: cfg.CapitalChangeThreshold,
		NegligibleQty:          cfg.NegligibleQty,
	}, timedStore{store, prom}, ledger.MarkFunc(marks.Mark))

	led.OnAudit = func(event, detail string) {
		sev := notification.SeverityInfo
		if event == "reset" {
			sev = notification.SeverityWarning
		}
		notifier.Notify(ctx, notification.Event{
			Severity: sev, Kind: event, Session: sessionID, Detail: detail,
		})
	}
	led.OnRecord = func(rec model.CashEquityRecord) {
		prom.Equity.Set(rec.Equity)
		prom.Cash.Set(rec.Cash)
		prom.UnrealizedPnL.Set(rec.UnrealizedPnL)
	}

	if err := led.LoadOrInitialize(ctx, cfg.TargetCapital); err != nil {
		log.Fatalf("[ledgerd] ledger initialization failed: %v", err)
	}
	health.SetLedgerActive(true)

	// ---- Ticker pipeline: ingest → fanout → consumers ----
	tickerCh := make(chan model.Ticker, 10000)
	fanout := bus.New(5000)
	fanout.OnDrop = func(int) { prom.DroppedTickers.Inc() }

	feedTickers := fanout.Subscribe()
	aggTickers := fanout.Subscribe()
	var cacheTickers <-chan model.Ticker
	if cache != nil {
		cacheTickers = fanout.Subscribe()
	}

	// Count tickers on the way into the fanout.
	fanoutIn := make(chan model.Ticker, 10000)
	go func() {
		defer close(fanoutIn)
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-tickerCh:
				if !ok {
					return
				}
				prom.TickersTotal.Inc()
				health.SetLastTickTime(time.Now())
				fanoutIn <- t
			}
		}
	}()
	go fanout.Run(ctx, fanoutIn)

	go md.RunTickers(ctx, feedTickers)
	if cache != nil && cacheTickers != nil {
		go cache.Run(ctx, cacheTickers)
	}

	// ---- Bar aggregation: tickers → 1m bars → feed history + strategy ----
	barCh := make(chan model.Bar, 5000)
	aggregator := agg.New()
	aggregator.OnDropped = func() { prom.DroppedTickers.Inc() }
	go aggregator.Run(ctx, aggTickers, barCh)

	engine := strategy.NewEngine(256)
	engine.Register(strategy.NewMomentum(cfg.MomentumLookback, cfg.MomentumMinScore))

	engineBars := make(chan model.Bar, 5000)
	go func() {
		defer close(engineBars)
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-barCh:
				if !ok {
					return
				}
				prom.BarsTotal.Inc()
				md.ApplyBar(b)
				select {
				case engineBars <- b:
				default:
				}
			}
		}
	}()
	go engine.Run(ctx, engineBars)

	// ---- Execution: signals → risk → paper fills → ledger ----
	vol := volatility.NewEstimator()
	vol.OnHit = func() { prom.ATRCacheHits.Inc() }
	vol.OnMiss = func() { prom.ATRCacheMisses.Inc() }

	trader := execution.NewPaperTrader(execution.PaperConfig{
		SlippageBps: cfg.SlippageBps,
		FeeBps:      cfg.FeeBps,
		MinNotional: cfg.MinNotional,
	}, cfg.RiskParams(), led, marks, md, vol, journal)
	trader.OnFill = func(symbol string, side risk.Side) {
		prom.FillsTotal.WithLabelValues(side.String()).Inc()
	}
	trader.OnSkip = func(symbol, reason string) {
		prom.SkipsTotal.WithLabelValues(reason).Inc()
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-engine.Signals():
				if !ok {
					return
				}
				prom.SignalsTotal.Inc()
				if err := trader.Execute(ctx, sig); err != nil {
					prom.FillErrors.Inc()
					notifier.Notify(ctx, notification.Event{
						Severity: notification.SeverityCritical,
						Kind:     "fill_not_committed",
						Session:  sessionID,
						Detail:   err.Error(),
					})
				}
			}
		}
	}()

	// ---- WebSocket feed ingest ----
	authToken := ""
	if cfg.FeedAPIBaseURL != "" {
		fc := feedconnect.New(feedconnect.Config{BaseURL: cfg.FeedAPIBaseURL, APIKey: cfg.FeedAPIKey})
		sess, err := fc.Login(cfg.FeedClientCode, cfg.FeedPassword, cfg.FeedTOTPSecret)
		if err != nil {
			log.Fatalf("[ledgerd] feed login failed: %v", err)
		}
		authToken = sess.FeedToken
		log.Println("[ledgerd] feed session established")
	}

	ingest, err := feed.NewIngest(feed.IngestConfig{
		URL:       cfg.FeedURL,
		AuthToken: authToken,
	})
	if err != nil {
		log.Fatalf("[ledgerd] feed init failed: %v", err)
	}
	ingest.OnReconnect = func() {
		prom.FeedReconnects.Inc()
		health.SetFeedConnected(false)
	}
	health.SetFeedConnected(true)
	go func() {
		if err := ingest.Start(ctx, tickerCh); err != nil {
			log.Printf("[ledgerd] feed ingest stopped: %v", err)
			health.SetFeedConnected(false)
		}
	}()

	// ---- Periodic mark-to-market + snapshot publish ----
	go func() {
		ticker := time.NewTicker(cfg.MarkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				markSet := marks.Marks(ctx, unionSymbols(symbols, led.Symbols()))
				val, err := led.MarkToMarket(ctx, markSet)
				if err != nil {
					log.Printf("[ledgerd] mark-to-market failed: %v", err)
					continue
				}
				prom.OpenPositions.Set(float64(val.Positions))
				log.Printf("[ledgerd] mark-to-market: equity=%.2f cash=%.2f unrealized=%+.2f (%d/%d priced)",
					val.Equity, val.Cash, val.UnrealizedPnL, val.Priced, val.Positions)

				if cache != nil {
					view := led.Snapshot(markSet, time.Now())
					if data, err := json.Marshal(view); err == nil {
						if err := cache.PublishSnapshot(ctx, data); err != nil && err != redisstore.ErrBreakerOpen {
							log.Printf("[ledgerd] snapshot publish failed: %v", err)
						}
					}
				}
			}
		}
	}()

	log.Printf("[ledgerd] pipeline ready — feed %s, marks every %v", cfg.FeedURL, cfg.MarkInterval)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[ledgerd] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[ledgerd] shutdown complete.")
}

// unionSymbols merges configured symbols with symbols holding open
// positions, so a position survives in valuation even if its symbol is
// later removed from SYMBOLS.
func unionSymbols(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(a, b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// timedStore wraps the ledger store to observe append latency.
type timedStore struct {
	*sqlitestore.Store
	prom *metrics.Metrics
}

func (t timedStore) AppendCashEquity(ctx context.Context, rec model.CashEquityRecord) error {
	start := time.Now()
	err := t.Store.AppendCashEquity(ctx, rec)
	t.prom.StoreAppendDur.Observe(time.Since(start).Seconds())
	return err
}

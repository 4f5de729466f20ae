// Package redis shares latest tickers and portfolio snapshots across
// processes. The daemon writes tickers as it receives them; reporting
// tools read them back to resolve marks without a feed connection of
// their own.
//
// Every write goes through a circuit breaker: when Redis flaps, the
// daemon keeps running on its in-process tickers and the cache simply
// goes cold (entries carry a TTL, so readers see "no ticker" rather than
// a stale quote).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"tradeledgerv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	tickerKeyPrefix = "ticker:"
	snapshotChannel = "pub:portfolio:snapshot"

	defaultTickerTTL   = 2 * time.Minute
	defaultMaxFailures = 5
	defaultResetAfter  = 10 * time.Second
)

// Config configures the ticker cache.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// TickerTTL bounds how long a cached ticker may be served. Defaults
	// to 2 minutes.
	TickerTTL time.Duration
}

// Cache implements model.TickerCache on Redis.
type Cache struct {
	client  *goredis.Client
	breaker *Breaker
	ttl     time.Duration
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// BreakerState returns the current circuit breaker state.
func (c *Cache) BreakerState() State { return c.breaker.State() }

// OnBreakerChange registers an additional observer for breaker state
// transitions, chained after the built-in logging observer.
func (c *Cache) OnBreakerChange(fn func(from, to State)) {
	prev := c.breaker.OnStateChange
	c.breaker.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		fn(from, to)
	}
}

// New creates a Cache and pings the server.
func New(cfg Config) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.TickerTTL
	if ttl == 0 {
		ttl = defaultTickerTTL
	}

	breaker := NewBreaker(defaultMaxFailures, defaultResetAfter)
	breaker.OnStateChange = func(from, to State) {
		log.Printf("[redis] breaker %s -> %s", from, to)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Cache{client: client, breaker: breaker, ttl: ttl}, nil
}

// Put stores the latest ticker for its symbol with a TTL.
func (c *Cache) Put(ctx context.Context, t model.Ticker) error {
	return c.breaker.Do(func() error {
		return c.client.Set(ctx, tickerKeyPrefix+t.Symbol, t.JSON(), c.ttl).Err()
	})
}

// Get returns the cached ticker for a symbol, or nil, nil when absent or
// expired.
func (c *Cache) Get(ctx context.Context, symbol string) (*model.Ticker, error) {
	var t model.Ticker
	err := c.breaker.Do(func() error {
		data, err := c.client.Get(ctx, tickerKeyPrefix+symbol).Bytes()
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &t)
	})
	if err == nil {
		return &t, nil
	}
	if err == goredis.Nil {
		return nil, nil
	}
	return nil, fmt.Errorf("redis get ticker %s: %w", symbol, err)
}

// PublishSnapshot publishes a JSON-encoded portfolio snapshot for any
// subscribed reporting collaborator. Best-effort: a failed publish is
// the subscriber's loss, not the ledger's.
func (c *Cache) PublishSnapshot(ctx context.Context, data []byte) error {
	return c.breaker.Do(func() error {
		return c.client.Publish(ctx, snapshotChannel, data).Err()
	})
}

// Run consumes tickers from tickerCh and writes each to the cache.
// Blocks until ctx is cancelled or the channel is closed. Write failures
// are counted by the breaker and otherwise dropped — a ticker that
// missed the cache is superseded by the next one within seconds.
func (c *Cache) Run(ctx context.Context, tickerCh <-chan model.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tickerCh:
			if !ok {
				return
			}
			if err := c.Put(ctx, t); err != nil && err != ErrBreakerOpen {
				log.Printf("[redis] ticker write failed for %s: %v", t.Symbol, err)
			}
		}
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

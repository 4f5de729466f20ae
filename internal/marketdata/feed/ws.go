package feed

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"time"

	"tradeledgerv1/internal/model"

	"github.com/gorilla/websocket"
)

// IngestConfig holds configuration for the WebSocket ticker ingest.
//
// The expected JSON message format on the wire is identical to
// model.Ticker:
//
//	{"symbol":"BTCUSDT","bid":50000.5,"ask":50001,"last":50000.8,"ts":"..."}
//
// cmd/simfeed speaks the same format, so the ingest works unchanged
// against the simulator or a real upstream bridge.
type IngestConfig struct {
	// URL of the ticker WebSocket server, e.g. "ws://localhost:9001/ws".
	URL string

	// AuthToken, if non-empty, is sent as a Bearer token on the handshake.
	AuthToken string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *IngestConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest connects to a JSON ticker WebSocket and pushes model.Ticker
// values into a channel, reconnecting automatically on disconnect.
type Ingest struct {
	cfg IngestConfig

	// OnReconnect is called each time a reconnection happens. Optional.
	OnReconnect func()
}

// NewIngest creates a new Ingest. Returns an error if the URL is
// unparseable.
func NewIngest(cfg IngestConfig) (*Ingest, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &Ingest{cfg: cfg}, nil
}

// Start streams tickers into tickerCh. Blocks until ctx is cancelled.
func (ing *Ingest) Start(ctx context.Context, tickerCh chan<- model.Ticker) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := ing.runOnce(ctx, tickerCh)
		if err == nil {
			// Context cancelled cleanly.
			return nil
		}

		log.Printf("[feed] connection lost: %v — reconnecting in %v", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce dials, reads until failure or cancellation, and returns nil
// only on clean context cancellation.
func (ing *Ingest) runOnce(ctx context.Context, tickerCh chan<- model.Ticker) error {
	header := http.Header{}
	if ing.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+ing.cfg.AuthToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[feed] connected to %s", ing.cfg.URL)

	// Close the connection when the context ends so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var t model.Ticker
		if err := json.Unmarshal(data, &t); err != nil {
			log.Printf("[feed] bad ticker message: %v", err)
			continue
		}
		if t.Symbol == "" {
			continue
		}
		if t.TS.IsZero() {
			t.TS = time.Now().UTC()
		}

		select {
		case tickerCh <- t:
		default:
			log.Println("[feed] ticker channel full, dropping update")
		}
	}
}

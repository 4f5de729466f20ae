// cmd/simfeed — demo WebSocket ticker server.
// Broadcasts simulated quote data for running ledgerd without real feed
// credentials.
//
// Ticker JSON shape is identical to model.Ticker:
//
//	{"symbol":"BTCUSDT","bid":50000.5,"ask":50001,"last":50000.8,"ts":"..."}
//
// Some updates deliberately omit bid/ask or carry a bad bid so the mark
// resolver's fallback chain gets exercised against a live stream.
//
// Config (env vars):
//
//	SIMFEED_ADDR         — listen address (default: ":9001")
//	SIMFEED_SYMBOLS      — comma-separated SYMBOL:STARTPRICE pairs
//	                       (default: "BTCUSDT:50000,ETHUSDT:3000")
//	SIMFEED_INTERVAL_MS  — broadcast interval milliseconds (default: "250")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradeledgerv1/internal/model"

	"github.com/gorilla/websocket"
)

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64 // current simulated mid price
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client — drop update
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[simfeed] upgrade error: %v", err)
			return
		}
		log.Printf("[simfeed] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[simfeed] client disconnected: %s", r.RemoteAddr)
		}()

		// Write pump: sends ticker JSON to this client.
		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Ticker generator ─────────────────────────────────────────────────────────

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func walkPrice(price float64) float64 {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	newPrice := price * (1 + pct)
	if newPrice < 0.01 {
		newPrice = 0.01
	}
	return newPrice
}

// makeTicker builds the next update for an instrument. Roughly 80% of
// updates carry a full bid/ask, 10% only a last trade, 5% only the
// generic price field, and 5% a corrupt bid that resolution must reject.
func makeTicker(inst *instrument) model.Ticker {
	inst.Price = walkPrice(inst.Price)
	spread := inst.Price * 0.0002

	t := model.Ticker{Symbol: inst.Symbol, TS: time.Now().UTC()}
	switch roll := rand.Float64(); {
	case roll < 0.80:
		t.Bid = inst.Price - spread/2
		t.Ask = inst.Price + spread/2
		t.Last = inst.Price * (1 + (rand.Float64()-0.5)*0.0001)
	case roll < 0.90:
		t.Last = inst.Price
	case roll < 0.95:
		t.Price = inst.Price
	default:
		// Corrupt quote: negative bid with a stale-looking ask. The
		// resolver must fall through to last.
		t.Bid = -1
		t.Ask = inst.Price
		t.Last = inst.Price
	}
	return t
}

func runGenerator(h *hub, instruments []instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		for i := range instruments {
			msg, err := json.Marshal(makeTicker(&instruments[i]))
			if err != nil {
				continue
			}
			h.broadcast(msg)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[simfeed] starting demo ticker server...")

	addr := envOrDefault("SIMFEED_ADDR", ":9001")
	symbolsEnv := envOrDefault("SIMFEED_SYMBOLS", "BTCUSDT:50000,ETHUSDT:3000")
	intervalMs := envIntOrDefault("SIMFEED_INTERVAL_MS", 250)

	instruments := parseInstruments(symbolsEnv)
	if len(instruments) == 0 {
		log.Fatalf("[simfeed] no instruments configured via SIMFEED_SYMBOLS")
	}
	log.Printf("[simfeed] instruments: %+v", instruments)
	log.Printf("[simfeed] broadcast interval: %dms", intervalMs)

	h := newHub()
	go runGenerator(h, instruments, intervalMs)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"simfeed"}`)
	})

	log.Printf("[simfeed] listening on %s  (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[simfeed] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		seg := strings.SplitN(part, ":", 2)
		if len(seg) != 2 {
			log.Printf("[simfeed] skipping invalid symbol spec: %q", part)
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
		if err != nil || price <= 0 {
			log.Printf("[simfeed] skipping invalid start price: %q", part)
			continue
		}
		result = append(result, instrument{
			Symbol: strings.TrimSpace(seg[0]),
			Price:  price,
		})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

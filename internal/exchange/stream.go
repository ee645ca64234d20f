package exchange

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Stream maintains a websocket subscription to the exchange's market channel
// and caches the last trade price per market. It reconnects with a capped
// backoff until its context is cancelled.
type Stream struct {
	URL string

	mu      sync.RWMutex
	prices  map[string]streamPrice
	markets []string

	maxAge time.Duration
}

type streamPrice struct {
	price float64
	at    time.Time
}

// NewStream creates a price stream for the given markets. A cached price
// older than maxAge is treated as missing.
func NewStream(wsURL string, markets []string, maxAge time.Duration) *Stream {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &Stream{
		URL:     wsURL,
		prices:  make(map[string]streamPrice),
		markets: markets,
		maxAge:  maxAge,
	}
}

// LastPrice returns the most recent streamed trade price for a market.
func (s *Stream) LastPrice(marketID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[marketID]
	if !ok || time.Since(p.at) > s.maxAge {
		return 0, false
	}
	return p.price, true
}

// Run connects and consumes messages until ctx is cancelled. Safe to run in
// its own goroutine; errors trigger reconnection, not termination.
func (s *Stream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.consume(ctx); err != nil {
			log.Printf("[WARN] price stream disconnected: %v, reconnecting in %s", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

type streamMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
}

func (s *Stream) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]any{"type": "market", "assets_ids": s.markets}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	log.Printf("[INFO] price stream connected, %d markets", len(s.markets))

	// Unblock ReadMessage when the context ends.
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
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.EventType != "last_trade_price" || msg.AssetID == "" {
			continue
		}
		var price float64
		if err := json.Unmarshal([]byte(msg.Price), &price); err != nil || price <= 0 {
			continue
		}
		s.mu.Lock()
		s.prices[msg.AssetID] = streamPrice{price: price, at: time.Now()}
		s.mu.Unlock()
	}
}

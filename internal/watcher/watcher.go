// Package watcher polls the exchange's activity feed for trades made by
// tracked wallets and turns them into trade events. Delivery is
// at-least-once: a feed hiccup can replay an activity, so every event
// carries a deterministic signal id for downstream dedup.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"WhaleMirror/internal/model"
)

// Watcher is the polling signal source. One Run loop serves all tracked
// wallets; per-wallet progress is a timestamp high-water mark.
type Watcher struct {
	targets  []model.WalletTarget
	apiURL   string
	client   *http.Client
	interval time.Duration
	limit    int

	lastTS map[string]int64
	events chan model.TradeEvent
}

// New creates a watcher with optional proxy support. The first activity
// seen per wallet only initializes the high-water mark; mirroring trades
// that predate startup would replay stale history.
func New(targets []model.WalletTarget, apiURL, proxyURL string, interval time.Duration) *Watcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	last := make(map[string]int64, len(targets))
	for _, t := range targets {
		last[t.Address] = 0
	}
	return &Watcher{
		targets:  targets,
		apiURL:   apiURL,
		interval: interval,
		limit:    3,
		lastTS:   last,
		events:   make(chan model.TradeEvent, 256),
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: transport,
		},
	}
}

// Events returns the channel the watcher emits on. Closed when Run returns.
func (w *Watcher) Events() <-chan model.TradeEvent { return w.events }

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	log.Printf("[INFO] watcher started, %d wallets, every %s", len(w.targets), w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			log.Println("[INFO] watcher stopped")
			return
		case <-ticker.C:
			for _, target := range w.targets {
				w.checkWallet(ctx, target)
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// activity is the expected JSON shape of one feed entry.
type activity struct {
	Type      string  `json:"type"`
	Side      string  `json:"side"`
	Asset     string  `json:"asset"`
	Slug      string  `json:"slug"`
	Outcome   string  `json:"outcome"`
	Size      float64 `json:"size"`
	USDCSize  float64 `json:"usdcSize"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

func (w *Watcher) checkWallet(ctx context.Context, target model.WalletTarget) {
	acts, err := w.fetchActivity(ctx, target.Address)
	if err != nil {
		log.Printf("[WARN] check wallet %s: %v", target.Name, err)
		return
	}
	if len(acts) == 0 {
		return
	}

	newest := acts[0].Timestamp
	if newest == 0 {
		return
	}

	last := w.lastTS[target.Address]
	if last == 0 {
		w.lastTS[target.Address] = newest
		return
	}
	if newest <= last {
		return
	}
	w.lastTS[target.Address] = newest

	// Emit oldest-first so same-market ordering matches the feed.
	for i := len(acts) - 1; i >= 0; i-- {
		act := acts[i]
		if act.Timestamp <= last {
			continue
		}
		w.emit(target, act)
	}
}

func (w *Watcher) emit(target model.WalletTarget, act activity) {
	kind := strings.ToUpper(act.Type)
	if kind != "TRADE" && kind != "MATCH" {
		return
	}

	var side model.Side
	switch strings.ToUpper(act.Side) {
	case "BUY":
		side = model.SideBuy
	case "SELL":
		side = model.SideSell
	default:
		return
	}

	ev := model.TradeEvent{
		SourceWallet: target.Address,
		WalletName:   target.Name,
		MarketID:     act.Asset,
		MarketSlug:   act.Slug,
		Outcome:      act.Outcome,
		Side:         side,
		Size:         act.Size,
		USDSize:      act.USDCSize,
		Price:        act.Price,
		ObservedAt:   time.Unix(act.Timestamp, 0).UTC(),
	}
	ev.SignalID = ev.DeriveSignalID()

	log.Printf("[INFO] whale %s: %s %s $%.2f of %s @ %.3f", target.Name, side, ev.Outcome, ev.USDSize, shorten(ev.MarketID), ev.Price)

	select {
	case w.events <- ev:
	default:
		log.Printf("[WARN] event buffer full, dropping signal %s", ev.SignalID[:8])
	}
}

func (w *Watcher) fetchActivity(ctx context.Context, address string) ([]activity, error) {
	params := url.Values{
		"user":          {address},
		"limit":         {fmt.Sprint(w.limit)},
		"sortBy":        {"timestamp"},
		"sortDirection": {"desc"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch activity: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch activity: status %d", resp.StatusCode)
	}
	var acts []activity
	if err := json.NewDecoder(resp.Body).Decode(&acts); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	return acts, nil
}

func shorten(id string) string {
	if len(id) <= 8 {
		return id
	}
	return "..." + id[len(id)-8:]
}

package model

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeEvent is one observed trade from a tracked wallet. The signal source
// delivers at-least-once, so consumers dedupe on SignalID.
type TradeEvent struct {
	SourceWallet string
	WalletName   string
	MarketID     string
	MarketSlug   string
	Outcome      string
	Side         Side
	Size         float64 // shares traded by the whale
	USDSize      float64 // notional in dollars
	Price        float64
	ObservedAt   time.Time
	SignalID     string
}

// DeriveSignalID computes the deterministic id for an event. The upstream
// activity feed has no stable event id, so the id is a digest of the fields
// that identify one trade; duplicate deliveries hash identically.
func (e TradeEvent) DeriveSignalID() string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%s|%.6f|%.6f|%d",
		e.SourceWallet, e.MarketID, e.Side, e.Size, e.Price, e.ObservedAt.Unix())
	return hex.EncodeToString(h.Sum(nil))
}

// WalletTarget is an address being mirrored. Immutable once loaded.
type WalletTarget struct {
	Address     string
	Name        string
	MirrorRatio float64
	MaxBudget   float64 // per-wallet cap in dollars; 0 means no wallet cap
}

package model

import (
	"math"
	"testing"
	"time"
)

func sampleEvent() TradeEvent {
	return TradeEvent{
		SourceWallet: "0xWHALE",
		MarketID:     "mkt-yes",
		Side:         SideBuy,
		Size:         2000,
		USDSize:      1000,
		Price:        0.50,
		ObservedAt:   time.Unix(1700000000, 0),
	}
}

func TestDeriveSignalID_DeterministicAcrossDeliveries(t *testing.T) {
	a := sampleEvent()
	b := sampleEvent()
	b.WalletName = "different display name" // not part of identity
	if a.DeriveSignalID() != b.DeriveSignalID() {
		t.Error("redeliveries of the same trade must hash identically")
	}
}

func TestDeriveSignalID_ChangesWithIdentity(t *testing.T) {
	base := sampleEvent().DeriveSignalID()

	changed := sampleEvent()
	changed.Price = 0.51
	if changed.DeriveSignalID() == base {
		t.Error("a different price is a different trade")
	}

	changed = sampleEvent()
	changed.ObservedAt = changed.ObservedAt.Add(time.Second)
	if changed.DeriveSignalID() == base {
		t.Error("a different timestamp is a different trade")
	}

	changed = sampleEvent()
	changed.Side = SideSell
	if changed.DeriveSignalID() == base {
		t.Error("a different side is a different trade")
	}
}

func TestFloorSize(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{3.335, 3.33},
		{3.339999, 3.33},
		{10, 10},
		{0.009, 0},
		{0, 0},
		{-5, 0},
	}
	for _, c := range cases {
		if got := FloorSize(c.in); got != c.want {
			t.Errorf("FloorSize(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestMarketDepth_BestQuotes(t *testing.T) {
	d := MarketDepth{
		Bids: []DepthLevel{{Price: 0.48, Size: 10}, {Price: 0.50, Size: 5}},
		Asks: []DepthLevel{{Price: 0.55, Size: 10}, {Price: 0.52, Size: 5}},
	}
	if d.BestBid() != 0.50 {
		t.Errorf("best bid = %v, want 0.50", d.BestBid())
	}
	if d.BestAsk() != 0.52 {
		t.Errorf("best ask = %v, want 0.52", d.BestAsk())
	}

	empty := MarketDepth{}
	if empty.BestBid() != 0 || empty.BestAsk() != 0 {
		t.Error("empty book quotes should be 0")
	}
}

func TestPositionROI(t *testing.T) {
	p := Position{AvgEntryPrice: 0.50}
	if roi, ok := p.ROI(0.40); !ok || math.Abs(roi+0.2) > 1e-9 {
		t.Errorf("ROI(0.40) = %v, %v; want -0.2, true", roi, ok)
	}
	if roi, ok := p.ROI(0.95); !ok || math.Abs(roi-0.9) > 1e-9 {
		t.Errorf("ROI(0.95) = %v, %v; want 0.9, true", roi, ok)
	}

	fresh := Position{}
	if _, ok := fresh.ROI(0.50); ok {
		t.Error("ROI without an entry price carries no signal")
	}
}

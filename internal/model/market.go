package model

import "math"

// SizeIncrement is the exchange's minimum order size step. Sizes are always
// floored to it, never rounded up, so a plan cannot overspend its budget.
const SizeIncrement = 0.01

// FloorSize rounds a share size down to the exchange increment. The epsilon
// absorbs float drift: a value one ulp under an increment boundary must not
// lose a whole step.
func FloorSize(size float64) float64 {
	if size <= 0 {
		return 0
	}
	return math.Floor(size*100+1e-9) / 100
}

// DepthLevel is a single price+size entry in an order book.
type DepthLevel struct {
	Price float64
	Size  float64
}

// MarketDepth is a snapshot of the visible book for one market, bids and
// asks each sorted best-first.
type MarketDepth struct {
	Bids []DepthLevel
	Asks []DepthLevel
}

// BestBid returns the highest bid price, or 0 for an empty side.
func (d MarketDepth) BestBid() float64 {
	if len(d.Bids) == 0 {
		return 0
	}
	best := d.Bids[0].Price
	for _, lvl := range d.Bids[1:] {
		if lvl.Price > best {
			best = lvl.Price
		}
	}
	return best
}

// BestAsk returns the lowest ask price, or 0 for an empty side.
func (d MarketDepth) BestAsk() float64 {
	if len(d.Asks) == 0 {
		return 0
	}
	best := d.Asks[0].Price
	for _, lvl := range d.Asks[1:] {
		if lvl.Price < best {
			best = lvl.Price
		}
	}
	return best
}

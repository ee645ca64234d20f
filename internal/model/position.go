package model

import "time"

// PositionStatus tracks the lifecycle of a mirrored position.
// Transitions are monotone: OPEN -> CLOSING -> CLOSED.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosing PositionStatus = "CLOSING"
	PositionClosed  PositionStatus = "CLOSED"
)

// Position is the mirrored holding for one (wallet, market) pair.
type Position struct {
	Wallet          string         `json:"wallet"`
	MarketID        string         `json:"market_id"`
	OwnedSize       float64        `json:"owned_size"`
	AvgEntryPrice   float64        `json:"average_entry_price"`
	BudgetCommitted float64        `json:"budget_committed"`
	StopLossPct     float64        `json:"stop_loss_pct"`
	TakeProfitPct   float64        `json:"take_profit_pct"`
	Status          PositionStatus `json:"status"`
	OpenedAt        time.Time      `json:"opened_at"`
	UpdatedAt       time.Time      `json:"updated_at"`

	// Version supports optimistic concurrency in the ledger. It is bumped
	// on every successful Upsert; callers must pass back the version they
	// read.
	Version int64 `json:"version"`
}

// Value marks the position to the given market price.
func (p *Position) Value(price float64) float64 {
	return p.OwnedSize * price
}

// ROI returns the sign-adjusted return relative to the average entry.
// Returns false when there is no meaningful entry price to compare against.
func (p *Position) ROI(price float64) (float64, bool) {
	if p.AvgEntryPrice <= 0 {
		return 0, false
	}
	return (price - p.AvgEntryPrice) / p.AvgEntryPrice, true
}

package executor

import (
	"sync/atomic"
	"time"

	"WhaleMirror/internal/model"

	"github.com/google/uuid"
)

// Request describes one target delta to realize against the market.
type Request struct {
	Wallet   string
	MarketID string
	Side     model.Side
	// TargetDelta is the total size to buy or sell, already floored to the
	// exchange increment by the decision engine.
	TargetDelta float64
	// PriceLimit bounds every chunk order: ceiling for buys, floor for
	// sells.
	PriceLimit float64
	// Trigger names what asked for this plan, for the trade journal.
	Trigger string
}

// Chunk is one order within a plan's history.
type Chunk struct {
	Size     float64
	Price    float64
	FilledAt time.Time
	Status   model.OrderStatus
	OrderID  string
}

// Plan is the ephemeral state of one chunked execution. It lives only for
// the duration of the run; after a restart the position's owned size is the
// source of truth, never a stale plan.
type Plan struct {
	ID  string
	Req Request

	cancelled atomic.Bool
}

// NewPlan creates a plan for a request.
func NewPlan(req Request) *Plan {
	return &Plan{ID: uuid.NewString(), Req: req}
}

// Cancel requests cooperative cancellation. The in-flight chunk finishes;
// no new chunk starts.
func (p *Plan) Cancel() { p.cancelled.Store(true) }

// Cancelled reports whether cancellation was requested.
func (p *Plan) Cancelled() bool { return p.cancelled.Load() }

// Result reports how a plan ended. Err is nil on full completion,
// ErrExecutionStalled when the book stayed too thin, ErrChunkFailed when a
// chunk exhausted its submit retries, or a fatal exchange error.
type Result struct {
	PlanID    string
	Executed  float64
	AvgPrice  float64
	Chunks    []Chunk
	Cancelled bool
	Err       error
}

// Complete reports whether the full target delta was realized.
func (r Result) Complete(target float64) bool {
	return r.Err == nil && !r.Cancelled && r.Executed >= target-model.SizeIncrement/2
}

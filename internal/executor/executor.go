package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"WhaleMirror/internal/exchange"
	"WhaleMirror/internal/model"
)

var (
	// ErrExecutionStalled means the book stayed too thin for too many
	// consecutive passes; the position is left for the next risk pass.
	ErrExecutionStalled = errors.New("executor: execution stalled, no usable liquidity")
	// ErrChunkFailed means one chunk exhausted its submit retries. The
	// remaining plan is preserved; fills already confirmed stand.
	ErrChunkFailed = errors.New("executor: chunk execution failed")
)

// Config tunes the drip algorithm. Zero values are replaced by defaults.
type Config struct {
	// LiquidityFraction is the share of visible depth one chunk may
	// consume, bounding slippage.
	LiquidityFraction float64
	// DepthLevels is how many book levels count as visible depth.
	DepthLevels int
	// Cooldown is the wait between chunks so the plan doesn't move the
	// market against itself.
	Cooldown time.Duration
	// MaxChunkAttempts bounds order submission retries per chunk.
	MaxChunkAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
	// MaxStallRetries bounds consecutive empty-liquidity passes before the
	// plan surfaces as stalled.
	MaxStallRetries int
	// CallTimeout bounds each exchange call.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.LiquidityFraction <= 0 || c.LiquidityFraction > 1 {
		c.LiquidityFraction = 0.25
	}
	if c.DepthLevels <= 0 {
		c.DepthLevels = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 3 * time.Second
	}
	if c.MaxChunkAttempts <= 0 {
		c.MaxChunkAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.MaxStallRetries <= 0 {
		c.MaxStallRetries = 10
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// FillSink receives every confirmed fill. The decision engine implements it
// to mutate the ledger; the executor never touches position state directly
// beyond this call, and only after confirmation, never on submission.
type FillSink interface {
	ApplyFill(req Request, size, price float64, orderID string) error
}

// Executor realizes target deltas as sequences of liquidity-bounded chunk
// orders.
type Executor struct {
	ex   exchange.Exchange
	sink FillSink
	cfg  Config
}

// New creates an executor over an exchange port.
func New(ex exchange.Exchange, sink FillSink, cfg Config) *Executor {
	return &Executor{ex: ex, sink: sink, cfg: cfg.withDefaults()}
}

// Execute runs a plan to completion, cancellation, stall, or failure. It is
// synchronous; callers run it in its own goroutine, one per active plan.
func (e *Executor) Execute(ctx context.Context, plan *Plan) Result {
	req := plan.Req
	remaining := model.FloorSize(req.TargetDelta)
	res := Result{PlanID: plan.ID}
	stalls := 0

	log.Printf("[INFO] plan %s: %s %.2f of %s, limit %.2f (%s)",
		plan.ID[:8], req.Side, remaining, req.MarketID, req.PriceLimit, req.Trigger)

	var notional float64
	for remaining > 0 {
		if plan.Cancelled() || ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		chunkSize, err := e.nextChunkSize(ctx, req, remaining)
		if err != nil {
			if exchange.Fatal(err) {
				res.Err = err
				break
			}
			// Transient book failure counts like an empty pass.
			log.Printf("[WARN] plan %s: order book: %v", plan.ID[:8], err)
			chunkSize = 0
		}

		if chunkSize <= 0 {
			stalls++
			if stalls > e.cfg.MaxStallRetries {
				res.Err = fmt.Errorf("%w: %s after %d passes", ErrExecutionStalled, req.MarketID, stalls-1)
				break
			}
			if !e.wait(ctx, plan, e.cfg.Cooldown) {
				res.Cancelled = true
				break
			}
			continue
		}
		stalls = 0

		chunk, err := e.submitChunk(ctx, req, chunkSize)
		if err != nil {
			if exchange.Fatal(err) {
				res.Err = err
			} else {
				res.Err = fmt.Errorf("%w: %v", ErrChunkFailed, err)
			}
			break
		}

		if chunk.Size > 0 {
			if err := e.sink.ApplyFill(req, chunk.Size, chunk.Price, chunk.OrderID); err != nil {
				log.Printf("[ERROR] plan %s: apply fill: %v", plan.ID[:8], err)
			}
			remaining = model.FloorSize(remaining - chunk.Size)
			notional += chunk.Size * chunk.Price
			res.Executed += chunk.Size
			res.Chunks = append(res.Chunks, chunk)
		}

		if remaining > 0 {
			if !e.wait(ctx, plan, e.cfg.Cooldown) {
				res.Cancelled = true
				break
			}
		}
	}

	if res.Executed > 0 {
		res.AvgPrice = notional / res.Executed
	}

	switch {
	case res.Err != nil:
		log.Printf("[WARN] plan %s: ended with %.2f/%.2f executed: %v", plan.ID[:8], res.Executed, req.TargetDelta, res.Err)
	case res.Cancelled:
		log.Printf("[INFO] plan %s: cancelled with %.2f/%.2f executed", plan.ID[:8], res.Executed, req.TargetDelta)
	default:
		log.Printf("[INFO] plan %s: complete, %.2f executed over %d chunks", plan.ID[:8], res.Executed, len(res.Chunks))
	}
	return res
}

// nextChunkSize reads the book and bounds the next chunk by the usable
// liquidity on the opposing side, floored to the exchange increment.
func (e *Executor) nextChunkSize(ctx context.Context, req Request, remaining float64) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	depth, err := e.ex.GetOrderBook(callCtx, req.MarketID)
	if err != nil {
		return 0, err
	}

	levels := opposingLevels(depth, req.Side)
	var visible float64
	for i, lvl := range levels {
		if i >= e.cfg.DepthLevels {
			break
		}
		if !priceAcceptable(req.Side, lvl.Price, req.PriceLimit) {
			break
		}
		visible += lvl.Size
	}

	bound := visible * e.cfg.LiquidityFraction
	return model.FloorSize(min(remaining, bound)), nil
}

// opposingLevels returns the side a chunk order fills against, best-first.
func opposingLevels(depth model.MarketDepth, side model.Side) []model.DepthLevel {
	if side == model.SideSell {
		bids := append([]model.DepthLevel(nil), depth.Bids...)
		sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
		return bids
	}
	asks := append([]model.DepthLevel(nil), depth.Asks...)
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	return asks
}

func priceAcceptable(side model.Side, price, limit float64) bool {
	if side == model.SideSell {
		return price >= limit
	}
	return price <= limit
}

// submitChunk places one chunk order, retrying transient failures with
// exponential backoff. It returns the confirmed fill, which may be smaller
// than requested; any resting remainder is cancelled so the book never holds
// orders the plan no longer tracks.
func (e *Executor) submitChunk(ctx context.Context, req Request, size float64) (Chunk, error) {
	order := model.Order{
		MarketID:   req.MarketID,
		Side:       req.Side,
		Size:       size,
		PriceLimit: req.PriceLimit,
	}

	backoff := e.cfg.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxChunkAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		result, err := e.ex.PlaceOrder(callCtx, order)
		cancel()

		if err == nil {
			filled := min(result.FilledSize, size)
			if result.Status == model.OrderPending && result.OrderID != "" {
				cancelCtx, cancelFn := context.WithTimeout(ctx, e.cfg.CallTimeout)
				if cerr := e.ex.CancelOrder(cancelCtx, result.OrderID); cerr != nil {
					log.Printf("[WARN] cancel resting order %s: %v", result.OrderID, cerr)
				}
				cancelFn()
			}
			price := result.AvgPrice
			if price <= 0 {
				price = req.PriceLimit
			}
			return Chunk{
				Size:     filled,
				Price:    price,
				FilledAt: time.Now().UTC(),
				Status:   result.Status,
				OrderID:  result.OrderID,
			}, nil
		}

		if exchange.Fatal(err) {
			return Chunk{}, err
		}
		lastErr = err
		log.Printf("[WARN] submit chunk %s %.2f attempt %d/%d: %v", req.MarketID, size, attempt, e.cfg.MaxChunkAttempts, err)

		if attempt < e.cfg.MaxChunkAttempts {
			select {
			case <-ctx.Done():
				return Chunk{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return Chunk{}, fmt.Errorf("after %d attempts: %w", e.cfg.MaxChunkAttempts, lastErr)
}

// wait sleeps for the cooldown, returning false when the plan was cancelled
// or the context ended during the wait.
func (e *Executor) wait(ctx context.Context, plan *Plan, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return !plan.Cancelled()
	}
}

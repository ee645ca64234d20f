package engine

import (
	"context"
	"log"

	"WhaleMirror/internal/exchange"
	"WhaleMirror/internal/executor"
	"WhaleMirror/internal/ledger"
	"WhaleMirror/internal/model"
)

// ExitCause names why a protective exit fired.
type ExitCause string

const (
	ExitStopLoss   ExitCause = "stop_loss"
	ExitTakeProfit ExitCause = "take_profit"
	ExitResume     ExitCause = "close_resume"
)

// ExitDirective reports one protective exit decision from a risk pass.
type ExitDirective struct {
	Wallet   string
	MarketID string
	Cause    ExitCause
	ROI      float64
	PlanID   string
}

// RunRiskPass walks every open or closing position once: marks each to
// market with the best bid, fires stop-loss and take-profit exits, and
// re-requests a close plan for any CLOSING position left without one (for
// example after a crash). Positions without fresh market data are skipped,
// not failed. Wired to the scheduler at a fixed interval.
func (e *Engine) RunRiskPass(ctx context.Context) []ExitDirective {
	var directives []ExitDirective

	for _, snapshot := range e.ledger.ListOpenOrClosing() {
		key := ledger.Key{Wallet: snapshot.Wallet, MarketID: snapshot.MarketID}
		if d, ok := e.evaluatePosition(ctx, key); ok {
			directives = append(directives, d)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return directives
}

// evaluatePosition re-reads one position under its lock and decides whether
// an exit is due. Re-reading inside the lock means a fill applied since
// ListOpenOrClosing snapshotted is never evaluated stale.
func (e *Engine) evaluatePosition(ctx context.Context, key ledger.Key) (ExitDirective, bool) {
	lock := e.positionLock(key)
	lock.Lock()
	defer lock.Unlock()

	pos, ok := e.ledger.Get(key.Wallet, key.MarketID)
	if !ok || pos.OwnedSize <= 0 {
		return ExitDirective{}, false
	}

	if _, busy := e.inFlight(key); busy {
		// One plan per position: an exit already in progress is not
		// duplicated on this tick.
		return ExitDirective{}, false
	}

	// Self-healing: a CLOSING position with no plan in flight gets a new
	// close plan for exactly what remains owned.
	if pos.Status == model.PositionClosing {
		return e.planExit(ctx, key, pos, ExitResume, 0)
	}

	depth, err := e.ex.GetOrderBook(ctx, pos.MarketID)
	if err != nil {
		if exchange.Fatal(err) && !e.halted.Swap(true) {
			log.Printf("[ERROR] fatal exchange error in risk pass, halting new plans: %v", err)
		} else {
			log.Printf("[WARN] risk pass: order book for %s: %v, skipping", pos.MarketID, err)
		}
		return ExitDirective{}, false
	}

	bid := depth.BestBid()
	if bid <= 0 {
		// Illiquid book; no fresh mark, skip this cycle.
		return ExitDirective{}, false
	}

	roi, ok := pos.ROI(bid)
	if !ok {
		return ExitDirective{}, false
	}

	switch {
	case roi <= -pos.StopLossPct:
		log.Printf("[WARN] stop loss: %s down %.1f%% (entry %.2f, bid %.2f)", pos.MarketID, roi*100, pos.AvgEntryPrice, bid)
		return e.planExit(ctx, key, pos, ExitStopLoss, roi)
	case roi >= pos.TakeProfitPct:
		log.Printf("[INFO] take profit: %s up %.1f%% (entry %.2f, bid %.2f)", pos.MarketID, roi*100, pos.AvgEntryPrice, bid)
		return e.planExit(ctx, key, pos, ExitTakeProfit, roi)
	}
	return ExitDirective{}, false
}

// planExit stages CLOSING and launches a full-close sell plan for the
// remaining owned size. While the engine is halted the directive is still
// reported and logged, but no plan is created.
func (e *Engine) planExit(ctx context.Context, key ledger.Key, pos model.Position, cause ExitCause, roi float64) (ExitDirective, bool) {
	d := ExitDirective{Wallet: key.Wallet, MarketID: key.MarketID, Cause: cause, ROI: roi}

	if e.halted.Load() {
		log.Printf("[WARN] engine halted, exit for %s (%s) not executed", pos.MarketID, cause)
		return d, true
	}

	if pos.Status != model.PositionClosing {
		pos.Status = model.PositionClosing
		updated, err := e.ledger.Upsert(pos, pos.Version)
		if err != nil {
			log.Printf("[ERROR] stage exit for %s/%s: %v", key.Wallet, key.MarketID, err)
			return ExitDirective{}, false
		}
		pos = updated
	}

	// A stop loss dumps to whatever bids exist; other exits keep a floor
	// near the current mark so the drip doesn't chase a collapsing book.
	floor := model.SizeIncrement
	if cause != ExitStopLoss {
		if depth, err := e.ex.GetOrderBook(ctx, pos.MarketID); err == nil {
			if bid := depth.BestBid(); bid > 0 {
				floor = model.FloorSize(bid * 0.9)
				if floor < model.SizeIncrement {
					floor = model.SizeIncrement
				}
			}
		}
	}

	d.PlanID = e.launchPlan(ctx, key, executor.Request{
		Wallet:      key.Wallet,
		MarketID:    key.MarketID,
		Side:        model.SideSell,
		TargetDelta: pos.OwnedSize,
		PriceLimit:  floor,
		Trigger:     string(cause),
	}, 0, true)
	return d, true
}

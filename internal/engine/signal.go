package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"WhaleMirror/internal/exchange"
	"WhaleMirror/internal/executor"
	"WhaleMirror/internal/ledger"
	"WhaleMirror/internal/model"

	"github.com/dustin/go-humanize"
)

// Action is what the engine decided to do with a signal.
type Action string

const (
	ActionIgnored     Action = "IGNORED"
	ActionBuyPlanned  Action = "BUY_PLANNED"
	ActionSellPlanned Action = "SELL_PLANNED"
	ActionRejected    Action = "REJECTED"
)

// Reason explains an ignore or rejection. Duplicate signals and budget
// rejections are expected outcomes, not errors.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonDuplicateSignal Reason = "DUPLICATE_SIGNAL"
	ReasonUnknownWallet   Reason = "UNKNOWN_WALLET"
	ReasonBudgetExceeded  Reason = "BUDGET_EXCEEDED"
	ReasonHalted          Reason = "ENGINE_HALTED"
	ReasonClosing         Reason = "POSITION_CLOSING"
	ReasonPlanInFlight    Reason = "PLAN_IN_FLIGHT"
	ReasonNoPosition      Reason = "NO_POSITION"
	ReasonStaleMarket     Reason = "STALE_MARKET_DATA"
	ReasonZeroSize        Reason = "ZERO_SIZE"
)

// Decision is the engine's verdict on one signal.
type Decision struct {
	Action Action
	Reason Reason
	PlanID string
	Size   float64
}

// OnSignal turns one trade event into a decision: ignore, plan a mirrored
// buy or sell, or reject. Duplicate delivery is detected by signal id and
// dropped. Ledger mutation is staged before the plan starts executing.
func (e *Engine) OnSignal(ctx context.Context, ev model.TradeEvent) Decision {
	id := ev.SignalID
	if id == "" {
		id = ev.DeriveSignalID()
	}
	at := ev.ObservedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if !e.markSeen(id, at) {
		log.Printf("[INFO] duplicate signal %s dropped (%s %s %s)", id[:8], ev.WalletName, ev.Side, ev.MarketID)
		return Decision{Action: ActionIgnored, Reason: ReasonDuplicateSignal}
	}

	target, ok := e.targets[ev.SourceWallet]
	if !ok {
		return Decision{Action: ActionIgnored, Reason: ReasonUnknownWallet}
	}

	key := ledger.Key{Wallet: ev.SourceWallet, MarketID: ev.MarketID}
	lock := e.positionLock(key)
	lock.Lock()
	defer lock.Unlock()

	switch ev.Side {
	case model.SideBuy:
		return e.handleBuy(ctx, key, target, ev)
	case model.SideSell:
		return e.handleSell(ctx, key, ev)
	default:
		return Decision{Action: ActionIgnored, Reason: ReasonZeroSize}
	}
}

// handleBuy mirrors a whale buy at the configured ratio, subject to budget
// caps. Caller holds the position lock.
func (e *Engine) handleBuy(ctx context.Context, key ledger.Key, target model.WalletTarget, ev model.TradeEvent) Decision {
	if e.halted.Load() {
		log.Printf("[WARN] buy signal %s ignored, engine halted", ev.MarketID)
		return Decision{Action: ActionRejected, Reason: ReasonHalted}
	}

	size := model.FloorSize(ev.Size * target.MirrorRatio)
	if size <= 0 {
		return Decision{Action: ActionIgnored, Reason: ReasonZeroSize}
	}

	if _, busy := e.inFlight(key); busy {
		return Decision{Action: ActionRejected, Reason: ReasonPlanInFlight}
	}

	pos, exists := e.ledger.Get(key.Wallet, key.MarketID)
	if exists && pos.Status == model.PositionClosing {
		return Decision{Action: ActionRejected, Reason: ReasonClosing}
	}

	depth, err := e.ex.GetOrderBook(ctx, ev.MarketID)
	if err != nil || depth.BestAsk() <= 0 {
		if err != nil && exchange.Fatal(err) {
			e.halted.Store(true)
			return Decision{Action: ActionRejected, Reason: ReasonHalted}
		}
		log.Printf("[WARN] no sellers for %s, skipping mirror buy", ev.MarketID)
		return Decision{Action: ActionIgnored, Reason: ReasonStaleMarket}
	}

	limit := depth.BestAsk() + e.cfg.SlippageAllowance
	if limit > e.cfg.MaxPrice {
		limit = e.cfg.MaxPrice
	}
	wager := size * limit

	if !e.dailyAllows(wager) {
		log.Printf("[WARN] buy rejected (%s): %s wants $%s over the daily cap",
			ReasonBudgetExceeded, target.Name, humanize.CommafWithDigits(wager, 2))
		return Decision{Action: ActionRejected, Reason: ReasonBudgetExceeded}
	}

	// Stage the ledger mutation before the plan runs. The cap check and the
	// commit are one ledger operation: two concurrent buys in different
	// markets cannot both pass the cap.
	if !exists {
		pos = model.Position{
			Wallet:        key.Wallet,
			MarketID:      key.MarketID,
			Status:        model.PositionOpen,
			StopLossPct:   e.cfg.StopLossPct,
			TakeProfitPct: e.cfg.TakeProfitPct,
			OpenedAt:      time.Now().UTC(),
		}
	}
	if _, err := e.ledger.ReserveBudget(pos, pos.Version, wager, e.cfg.GlobalBudgetCap, target.MaxBudget); err != nil {
		if errors.Is(err, ledger.ErrBudgetExceeded) {
			log.Printf("[WARN] buy rejected (%s): %s wants $%s: %v",
				ReasonBudgetExceeded, target.Name, humanize.CommafWithDigits(wager, 2), err)
			return Decision{Action: ActionRejected, Reason: ReasonBudgetExceeded}
		}
		log.Printf("[ERROR] stage buy for %s/%s: %v", key.Wallet, key.MarketID, err)
		return Decision{Action: ActionRejected, Reason: ReasonPlanInFlight}
	}

	e.trackExposure(key, ev.USDSize)

	log.Printf("[INFO] mirror buy: %s bought %.2f of %s, planning %.2f shares @ <%.2f",
		target.Name, ev.Size, ev.MarketID, size, limit)

	planID := e.launchPlan(ctx, key, executor.Request{
		Wallet:      key.Wallet,
		MarketID:    key.MarketID,
		Side:        model.SideBuy,
		TargetDelta: size,
		PriceLimit:  limit,
		Trigger:     "whale_mirror",
	}, wager, false)

	return Decision{Action: ActionBuyPlanned, PlanID: planID, Size: size}
}

// handleSell scales the mirrored position down by the whale's observed
// reduction fraction. A full whale exit stages CLOSING and plans a complete
// close; partial reductions keep the position OPEN. Caller holds the
// position lock.
func (e *Engine) handleSell(ctx context.Context, key ledger.Key, ev model.TradeEvent) Decision {
	pos, exists := e.ledger.Get(key.Wallet, key.MarketID)
	if !exists || pos.OwnedSize <= 0 {
		return Decision{Action: ActionIgnored, Reason: ReasonNoPosition}
	}

	if active, busy := e.inFlight(key); busy {
		if active.side == model.SideSell {
			// Re-entrant close requests are merged, not stacked.
			return Decision{Action: ActionIgnored, Reason: ReasonPlanInFlight}
		}
		// The whale reversed while our buy plan was still dripping:
		// cancel it; fills already placed stand, and the next signal or
		// risk pass sizes the exit from what actually filled.
		active.plan.Cancel()
		log.Printf("[INFO] whale reversal on %s, cancelling in-flight buy plan", ev.MarketID)
		return Decision{Action: ActionRejected, Reason: ReasonPlanInFlight}
	}

	if e.halted.Load() {
		return Decision{Action: ActionRejected, Reason: ReasonHalted}
	}

	depth, err := e.ex.GetOrderBook(ctx, ev.MarketID)
	if err != nil || depth.BestBid() <= 0 {
		if err != nil && exchange.Fatal(err) {
			e.halted.Store(true)
			return Decision{Action: ActionRejected, Reason: ReasonHalted}
		}
		return Decision{Action: ActionIgnored, Reason: ReasonStaleMarket}
	}

	// Consume the tracked exposure only once the sell is sure to plan. A
	// rejection above must leave the notional intact so a retried signal
	// still computes its fraction against the full amount.
	fraction := e.reduceExposure(key, ev.USDSize)
	target := model.FloorSize(pos.OwnedSize * fraction)
	if target > pos.OwnedSize {
		target = pos.OwnedSize
	}
	if target <= 0 {
		return Decision{Action: ActionIgnored, Reason: ReasonZeroSize}
	}

	fullExit := fraction >= 1 || target >= pos.OwnedSize-model.SizeIncrement/2
	if fullExit && pos.Status == model.PositionOpen {
		pos.Status = model.PositionClosing
		target = pos.OwnedSize
		if _, err := e.ledger.Upsert(pos, pos.Version); err != nil {
			log.Printf("[ERROR] stage close for %s/%s: %v", key.Wallet, key.MarketID, err)
			return Decision{Action: ActionRejected, Reason: ReasonPlanInFlight}
		}
	}

	floor := model.FloorSize(depth.BestBid() * 0.9)
	if floor < model.SizeIncrement {
		floor = model.SizeIncrement
	}

	log.Printf("[INFO] mirror sell: whale cut %.0f%% of %s, planning %.2f shares, floor %.2f",
		fraction*100, ev.MarketID, target, floor)

	planID := e.launchPlan(ctx, key, executor.Request{
		Wallet:      key.Wallet,
		MarketID:    key.MarketID,
		Side:        model.SideSell,
		TargetDelta: target,
		PriceLimit:  floor,
		Trigger:     "whale_mirror",
	}, 0, false)

	return Decision{Action: ActionSellPlanned, PlanID: planID, Size: target}
}

// dailyAllows enforces the rolling daily spend cap. The global and
// per-wallet caps live in the ledger so the check stays atomic with the
// budget commit.
func (e *Engine) dailyAllows(wager float64) bool {
	if e.cfg.DailyBudgetCap <= 0 {
		return true
	}
	e.mu.Lock()
	spent := e.dailySpent
	e.mu.Unlock()
	return spent+wager <= e.cfg.DailyBudgetCap
}

// trackExposure accumulates the whale's observed notional per position.
func (e *Engine) trackExposure(key ledger.Key, usd float64) {
	e.mu.Lock()
	e.exposure[key] += usd
	e.mu.Unlock()
}

// reduceExposure returns the fraction of its position the whale just sold
// and reduces the tracked notional. Without prior observed exposure (for
// example after a restart) the fraction defaults to a full exit.
func (e *Engine) reduceExposure(key ledger.Key, usd float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := e.exposure[key]
	if total <= 0 {
		return 1
	}
	fraction := usd / total
	if fraction >= 1 {
		delete(e.exposure, key)
		return 1
	}
	e.exposure[key] = total - usd
	return fraction
}

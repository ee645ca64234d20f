package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"WhaleMirror/internal/exchange"
	"WhaleMirror/internal/executor"
	"WhaleMirror/internal/ledger"
	"WhaleMirror/internal/model"

	"github.com/dustin/go-humanize"
)

// Config is the immutable policy the engine is constructed with.
type Config struct {
	StopLossPct       float64
	TakeProfitPct     float64
	GlobalBudgetCap   float64
	DailyBudgetCap    float64 // 0 disables the daily cap
	SlippageAllowance float64 // added to best ask when pricing a mirror buy
	MaxPrice          float64 // hard price ceiling for buys
	DryRun            bool
}

func (c Config) withDefaults() Config {
	if c.SlippageAllowance <= 0 {
		c.SlippageAllowance = 0.05
	}
	if c.MaxPrice <= 0 {
		c.MaxPrice = 0.99
	}
	return c
}

// Engine consumes trade signals, applies budget and risk policy, mutates the
// ledger, and drives chunked execution plans. It is the only component that
// creates plans, and it allows at most one in-flight plan per position.
type Engine struct {
	cfg     Config
	targets map[string]model.WalletTarget
	ledger  *ledger.Ledger
	ex      exchange.Exchange
	exec    *executor.Executor

	mu    sync.Mutex
	seen  map[string]time.Time       // processed signal ids by observation time
	plans map[ledger.Key]*activePlan // in-flight plans, one per position
	locks map[ledger.Key]*sync.Mutex // serializes handling per position
	// whale notional observed per position, used to scale mirror sells
	exposure map[ledger.Key]float64

	dailySpent float64

	halted  atomic.Bool
	planWG  sync.WaitGroup
	queues  map[ledger.Key]chan model.TradeEvent
	queueWG sync.WaitGroup
}

type activePlan struct {
	plan    *executor.Plan
	wager   float64 // budget staged for buy plans
	side    model.Side
	viaRisk bool
}

// New creates an engine. Wallet targets are immutable after construction.
func New(cfg Config, targets []model.WalletTarget, led *ledger.Ledger, ex exchange.Exchange, execCfg executor.Config) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		targets:  make(map[string]model.WalletTarget, len(targets)),
		ledger:   led,
		ex:       ex,
		seen:     make(map[string]time.Time),
		plans:    make(map[ledger.Key]*activePlan),
		locks:    make(map[ledger.Key]*sync.Mutex),
		exposure: make(map[ledger.Key]float64),
		queues:   make(map[ledger.Key]chan model.TradeEvent),
	}
	for _, t := range targets {
		e.targets[t.Address] = t
	}
	e.exec = executor.New(ex, e, execCfg)
	return e
}

// Run consumes events until the channel closes or ctx is cancelled. Events
// for different markets are handled in parallel; events for the same
// (wallet, market) pair are funneled through one queue so they are processed
// in arrival order.
func (e *Engine) Run(ctx context.Context, events <-chan model.TradeEvent) {
	log.Printf("[INFO] decision engine started, %d wallets tracked", len(e.targets))
	for {
		select {
		case <-ctx.Done():
			e.drain()
			return
		case ev, ok := <-events:
			if !ok {
				e.drain()
				return
			}
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, ev model.TradeEvent) {
	key := ledger.Key{Wallet: ev.SourceWallet, MarketID: ev.MarketID}

	e.mu.Lock()
	q, ok := e.queues[key]
	if !ok {
		q = make(chan model.TradeEvent, 64)
		e.queues[key] = q
		e.queueWG.Add(1)
		go func() {
			defer e.queueWG.Done()
			for qev := range q {
				e.OnSignal(ctx, qev)
			}
		}()
	}
	e.mu.Unlock()

	select {
	case q <- ev:
	default:
		log.Printf("[WARN] signal queue full for %s/%s, dropping event %s", ev.SourceWallet, ev.MarketID, ev.SignalID[:8])
	}
}

// drain closes per-position queues and waits for in-flight plans.
func (e *Engine) drain() {
	e.mu.Lock()
	for _, q := range e.queues {
		close(q)
	}
	e.queues = make(map[ledger.Key]chan model.TradeEvent)
	e.mu.Unlock()
	e.queueWG.Wait()
	e.planWG.Wait()
	log.Println("[INFO] decision engine stopped")
}

// Halted reports whether the engine stopped creating plans after a fatal
// exchange error.
func (e *Engine) Halted() bool { return e.halted.Load() }

// ResetDailySpend zeroes the daily spend counter; wired to the daily cron.
func (e *Engine) ResetDailySpend() {
	e.mu.Lock()
	prev := e.dailySpent
	e.dailySpent = 0
	e.mu.Unlock()
	log.Printf("[INFO] daily spend reset (was $%s)", humanize.CommafWithDigits(prev, 2))
}

// positionLock returns the mutex serializing work on one position.
func (e *Engine) positionLock(key ledger.Key) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// The activity feed only replays recent trades, so dedup ids older than the
// horizon can be forgotten. The sweep runs lazily once the map is large.
const (
	seenHorizon   = time.Hour
	seenSweepSize = 4096
)

// markSeen records a signal id; reports false when it was already processed.
func (e *Engine) markSeen(id string, at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.seen[id]; dup {
		return false
	}
	if len(e.seen) >= seenSweepSize {
		cutoff := at.Add(-seenHorizon)
		for old, ts := range e.seen {
			if ts.Before(cutoff) {
				delete(e.seen, old)
			}
		}
	}
	e.seen[id] = at
	return true
}

// ApplyFill is the executor's single entry point into position state. It
// runs only after a confirmed fill. Optimistic-concurrency conflicts are
// resolved by re-reading and retrying, so a concurrent staged mutation is
// never overwritten.
func (e *Engine) ApplyFill(req executor.Request, size, price float64, orderID string) error {
	for {
		pos, ok := e.ledger.Get(req.Wallet, req.MarketID)
		if !ok {
			return errors.New("fill for unknown position")
		}

		switch req.Side {
		case model.SideBuy:
			cost := size * price
			total := pos.OwnedSize*pos.AvgEntryPrice + cost
			pos.OwnedSize = model.FloorSize(pos.OwnedSize + size)
			if pos.OwnedSize > 0 {
				pos.AvgEntryPrice = total / pos.OwnedSize
			}
		case model.SideSell:
			before := pos.OwnedSize
			pos.OwnedSize = model.FloorSize(pos.OwnedSize - size)
			if pos.OwnedSize < 0 {
				pos.OwnedSize = 0
			}
			if before > 0 {
				pos.BudgetCommitted *= pos.OwnedSize / before
			}
		}

		_, err := e.ledger.Upsert(pos, pos.Version)
		if errors.Is(err, ledger.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		if req.Side == model.SideBuy {
			e.mu.Lock()
			e.dailySpent += size * price
			e.mu.Unlock()
		}

		e.ledger.RecordTrade(ledger.TradeRecord{
			Wallet:   req.Wallet,
			MarketID: req.MarketID,
			Side:     req.Side,
			Size:     size,
			Price:    price,
			OrderID:  orderID,
			Trigger:  req.Trigger,
			DryRun:   e.cfg.DryRun,
		})
		log.Printf("[INFO] fill: %s %.2f of %s @ %.2f ($%s)",
			req.Side, size, req.MarketID, price, humanize.CommafWithDigits(size*price, 2))
		return nil
	}
}

// launchPlan registers and starts a plan for a position. Caller must hold
// the position lock and have verified no plan is in flight.
func (e *Engine) launchPlan(ctx context.Context, key ledger.Key, req executor.Request, wager float64, viaRisk bool) string {
	plan := executor.NewPlan(req)

	e.mu.Lock()
	e.plans[key] = &activePlan{plan: plan, wager: wager, side: req.Side, viaRisk: viaRisk}
	e.mu.Unlock()

	e.planWG.Add(1)
	go func() {
		defer e.planWG.Done()
		res := e.exec.Execute(ctx, plan)
		e.finishPlan(key, req, wager, res)
	}()
	return plan.ID
}

// inFlight returns the active plan for a position, if any.
func (e *Engine) inFlight(key ledger.Key) (*activePlan, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.plans[key]
	return p, ok
}

// finishPlan finalizes position state when a plan ends. Fills were already
// applied chunk by chunk; what remains is status transitions and releasing
// unspent staged budget.
func (e *Engine) finishPlan(key ledger.Key, req executor.Request, wager float64, res executor.Result) {
	lock := e.positionLock(key)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	delete(e.plans, key)
	e.mu.Unlock()

	if res.Err != nil && exchange.Fatal(res.Err) {
		if !e.halted.Swap(true) {
			log.Printf("[ERROR] fatal exchange error, halting new plan creation: %v", res.Err)
		}
	}

	for {
		pos, ok := e.ledger.Get(key.Wallet, key.MarketID)
		if !ok {
			return
		}

		switch req.Side {
		case model.SideBuy:
			// Release the part of the staged wager that never filled.
			spent := res.Executed * res.AvgPrice
			if spent < wager {
				pos.BudgetCommitted -= wager - spent
				if pos.BudgetCommitted < 0 {
					pos.BudgetCommitted = 0
				}
			}
			if pos.OwnedSize <= 0 && pos.Status == model.PositionOpen {
				// Nothing ever filled; archive the empty position.
				pos.Status = model.PositionClosed
			}
		case model.SideSell:
			if pos.Status == model.PositionClosing && pos.OwnedSize <= 0 {
				pos.Status = model.PositionClosed
			}
			// A CLOSING position with size left stays CLOSING; the next
			// risk pass re-requests a plan for the remainder.
		}

		_, err := e.ledger.Upsert(pos, pos.Version)
		if errors.Is(err, ledger.ErrVersionConflict) {
			continue
		}
		if err != nil {
			log.Printf("[ERROR] finalize plan for %s/%s: %v", key.Wallet, key.MarketID, err)
		}
		return
	}
}

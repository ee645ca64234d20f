package ledger

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"WhaleMirror/internal/model"
)

var (
	// ErrVersionConflict means the stored position changed since the
	// caller read it; re-read and retry the enclosing operation.
	ErrVersionConflict = errors.New("ledger: version conflict")
	ErrNotFound        = errors.New("ledger: position not found")
	// ErrBudgetExceeded means a reservation would push committed budget
	// past a cap.
	ErrBudgetExceeded = errors.New("ledger: budget cap exceeded")
)

// Key identifies one mirrored position.
type Key struct {
	Wallet   string
	MarketID string
}

// Ledger is the single source of truth for position state. All mutation goes
// through Upsert, which enforces optimistic concurrency and writes through to
// the backing store.
type Ledger struct {
	mu        sync.Mutex
	positions map[Key]*model.Position
	store     Store
}

// New creates a ledger backed by the given store and loads existing
// positions from it.
func New(store Store) (*Ledger, error) {
	l := &Ledger{
		positions: make(map[Key]*model.Position),
		store:     store,
	}
	loaded, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	for i := range loaded {
		p := loaded[i]
		l.positions[Key{p.Wallet, p.MarketID}] = &p
	}
	if len(loaded) > 0 {
		log.Printf("[INFO] ledger loaded %d positions", len(loaded))
	}
	return l, nil
}

// Get returns a copy of the position for (wallet, market).
func (l *Ledger) Get(wallet, marketID string) (model.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[Key{wallet, marketID}]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// Upsert stores a position if the caller's version matches what is held.
// New positions must be written with expectedVersion 0. The stored version is
// bumped and the position persisted before returning. A position written as
// CLOSED with zero size is archived: removed from the active set and deleted
// from the store.
func (l *Ledger) Upsert(pos model.Position, expectedVersion int64) (model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.upsertLocked(pos, expectedVersion)
}

// ReserveBudget checks the global and per-wallet caps and stages the wager
// onto the position in one critical section: concurrent reservations across
// markets cannot jointly exceed a cap. A cap of 0 is disabled.
func (l *Ledger) ReserveBudget(pos model.Position, expectedVersion int64, wager, globalCap, walletCap float64) (model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if globalCap > 0 && l.committedLocked("")+wager > globalCap {
		return model.Position{}, fmt.Errorf("%w: global cap $%.2f", ErrBudgetExceeded, globalCap)
	}
	if walletCap > 0 && l.committedLocked(pos.Wallet)+wager > walletCap {
		return model.Position{}, fmt.Errorf("%w: wallet cap $%.2f", ErrBudgetExceeded, walletCap)
	}
	pos.BudgetCommitted += wager
	return l.upsertLocked(pos, expectedVersion)
}

func (l *Ledger) upsertLocked(pos model.Position, expectedVersion int64) (model.Position, error) {
	key := Key{pos.Wallet, pos.MarketID}
	current, exists := l.positions[key]

	if exists {
		if current.Version != expectedVersion {
			return model.Position{}, fmt.Errorf("%w: have %d, expected %d", ErrVersionConflict, current.Version, expectedVersion)
		}
	} else if expectedVersion != 0 {
		return model.Position{}, fmt.Errorf("%w: %s/%s", ErrNotFound, pos.Wallet, pos.MarketID)
	}

	pos.Version = expectedVersion + 1
	pos.UpdatedAt = time.Now().UTC()

	if pos.Status == model.PositionClosed && pos.OwnedSize <= 0 {
		delete(l.positions, key)
		if err := l.store.Delete(pos.Wallet, pos.MarketID); err != nil {
			log.Printf("[ERROR] archive position %s/%s: %v", pos.Wallet, pos.MarketID, err)
		}
		return pos, nil
	}

	stored := pos
	l.positions[key] = &stored
	if err := l.store.Save(pos); err != nil {
		log.Printf("[ERROR] persist position %s/%s: %v", pos.Wallet, pos.MarketID, err)
	}
	return pos, nil
}

// ListOpenOrClosing returns copies of every position the risk pass must
// evaluate.
func (l *Ledger) ListOpenOrClosing() []model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if p.Status == model.PositionOpen || p.Status == model.PositionClosing {
			out = append(out, *p)
		}
	}
	return out
}

// CommittedBudget sums budget committed across all active positions,
// optionally restricted to one wallet (empty string means all).
func (l *Ledger) CommittedBudget(wallet string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committedLocked(wallet)
}

func (l *Ledger) committedLocked(wallet string) float64 {
	var total float64
	for _, p := range l.positions {
		if p.Status == model.PositionClosed {
			continue
		}
		if wallet != "" && p.Wallet != wallet {
			continue
		}
		total += p.BudgetCommitted
	}
	return total
}

// RecordTrade journals a confirmed fill.
func (l *Ledger) RecordTrade(rec TradeRecord) {
	if err := l.store.RecordTrade(rec); err != nil {
		log.Printf("[ERROR] record trade %s %s: %v", rec.Side, rec.MarketID, err)
	}
}

package ledger

import (
	"sync"
	"time"

	"WhaleMirror/internal/model"
)

// TradeRecord is one confirmed fill for the trade journal.
type TradeRecord struct {
	Wallet   string
	MarketID string
	Side     model.Side
	Size     float64
	Price    float64
	OrderID  string
	Trigger  string // "whale_mirror", "stop_loss", "take_profit"
	DryRun   bool
	At       time.Time
}

// Store persists positions and the trade journal. The ledger is the only
// caller; storage technology stays behind this interface.
type Store interface {
	Load() ([]model.Position, error)
	Save(pos model.Position) error
	Delete(wallet, marketID string) error
	RecordTrade(rec TradeRecord) error
	Close() error
}

// MemoryStore keeps positions in memory only. Used for dry runs without a
// database path and in tests.
type MemoryStore struct {
	mu        sync.Mutex
	positions map[Key]model.Position
	trades    []TradeRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[Key]model.Position)}
}

func (m *MemoryStore) Load() ([]model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *MemoryStore) Save(pos model.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[Key{pos.Wallet, pos.MarketID}] = pos
	return nil
}

func (m *MemoryStore) Delete(wallet, marketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, Key{wallet, marketID})
	return nil
}

func (m *MemoryStore) RecordTrade(rec TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, rec)
	return nil
}

// Trades returns a copy of the journal for test assertions.
func (m *MemoryStore) Trades() []TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TradeRecord, len(m.trades))
	copy(out, m.trades)
	return out
}

func (m *MemoryStore) Close() error { return nil }

package exchange

import (
	"context"
	"fmt"
	"log"
	"sync"

	"WhaleMirror/internal/model"

	"github.com/google/uuid"
)

// Sim is the simulated exchange used when dry_run is enabled. It keeps a
// dollar balance and per-market holdings with weighted average entry, fills
// orders instantly against a synthetic (or injected) order book, and issues
// sim-prefixed order ids.
type Sim struct {
	mu       sync.Mutex
	balance  float64
	holdings map[string]*simHolding
	orders   map[string]model.Order

	// Books lets tests and the replay tooling control quoted depth per
	// market. Markets without an entry get a default liquid book.
	books map[string]model.MarketDepth
}

type simHolding struct {
	size     float64
	avgEntry float64
}

// NewSim creates a simulated exchange with the given starting balance.
func NewSim(initialBalance float64) *Sim {
	log.Printf("[INFO] simulated exchange initialized with $%.2f", initialBalance)
	return &Sim{
		balance:  initialBalance,
		holdings: make(map[string]*simHolding),
		orders:   make(map[string]model.Order),
		books:    make(map[string]model.MarketDepth),
	}
}

// SetBook overrides the quoted depth for a market.
func (s *Sim) SetBook(marketID string, depth model.MarketDepth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[marketID] = depth
}

func (s *Sim) GetBalance(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *Sim) GetOrderBook(ctx context.Context, marketID string) (model.MarketDepth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if book, ok := s.books[marketID]; ok {
		return book, nil
	}
	return model.MarketDepth{
		Bids: []model.DepthLevel{{Price: 0.50, Size: 1000}, {Price: 0.49, Size: 2000}},
		Asks: []model.DepthLevel{{Price: 0.51, Size: 1000}, {Price: 0.52, Size: 2000}},
	}, nil
}

func (s *Sim) PlaceOrder(ctx context.Context, order model.Order) (model.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cost := order.Size * order.PriceLimit

	switch order.Side {
	case model.SideBuy:
		if cost > s.balance {
			return model.OrderResult{Status: model.OrderRejected},
				fmt.Errorf("%w: have $%.2f, need $%.2f", ErrInsufficientFunds, s.balance, cost)
		}
		s.balance -= cost
		h := s.holdings[order.MarketID]
		if h == nil {
			s.holdings[order.MarketID] = &simHolding{size: order.Size, avgEntry: order.PriceLimit}
		} else {
			total := h.size*h.avgEntry + cost
			h.size += order.Size
			h.avgEntry = total / h.size
		}
		log.Printf("[INFO] sim buy: %.2f of %s @ %.2f, balance $%.2f", order.Size, order.MarketID, order.PriceLimit, s.balance)

	case model.SideSell:
		h := s.holdings[order.MarketID]
		if h == nil || h.size < order.Size {
			have := 0.0
			if h != nil {
				have = h.size
			}
			return model.OrderResult{Status: model.OrderRejected},
				fmt.Errorf("%w: sell %.2f but hold %.2f", ErrOrderRejected, order.Size, have)
		}
		h.size -= order.Size
		if h.size <= 0 {
			delete(s.holdings, order.MarketID)
		}
		s.balance += cost
		log.Printf("[INFO] sim sell: %.2f of %s @ %.2f, balance $%.2f", order.Size, order.MarketID, order.PriceLimit, s.balance)

	default:
		return model.OrderResult{Status: model.OrderRejected},
			fmt.Errorf("%w: unknown side %q", ErrOrderRejected, order.Side)
	}

	id := "sim-" + uuid.NewString()
	s.orders[id] = order
	return model.OrderResult{
		OrderID:    id,
		FilledSize: order.Size,
		AvgPrice:   order.PriceLimit,
		Status:     model.OrderFilled,
	}, nil
}

func (s *Sim) CancelOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[orderID]; !ok {
		return fmt.Errorf("%w: unknown order %s", ErrOrderRejected, orderID)
	}
	delete(s.orders, orderID)
	return nil
}

// Holding returns the simulated size held in a market, for tests.
func (s *Sim) Holding(marketID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h := s.holdings[marketID]; h != nil {
		return h.size
	}
	return 0
}

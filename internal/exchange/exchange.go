package exchange

import (
	"context"
	"errors"

	"WhaleMirror/internal/model"
)

// Exchange is the capability interface through which the engines touch the
// market. Two implementations exist: the live CLOB adapter and the simulated
// exchange used for dry runs and tests; callers must not care which.
type Exchange interface {
	// GetBalance returns the available spending balance in dollars.
	GetBalance(ctx context.Context) (float64, error)
	// GetOrderBook returns the current visible depth for a market.
	GetOrderBook(ctx context.Context, marketID string) (model.MarketDepth, error)
	// PlaceOrder submits an order and reports what filled. A transient
	// failure is wrapped in ErrExchange; an authentication failure is
	// wrapped in ErrAuth and is not retryable.
	PlaceOrder(ctx context.Context, order model.Order) (model.OrderResult, error)
	// CancelOrder cancels the unfilled remainder of a resting order.
	CancelOrder(ctx context.Context, orderID string) error
}

// Error taxonomy. ErrExchange covers transient failures (network, 5xx,
// rejection) and is safe to retry with backoff. ErrAuth is fatal for order
// placement: the engine halts new plans when it surfaces.
var (
	ErrExchange          = errors.New("exchange error")
	ErrAuth              = errors.New("exchange authentication failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOrderRejected     = errors.New("order rejected")
)

// Fatal reports whether an exchange error must not be retried.
func Fatal(err error) bool {
	return errors.Is(err, ErrAuth)
}

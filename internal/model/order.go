package model

// OrderStatus is the exchange's view of a submitted order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Order is one order submitted to the exchange port. PriceLimit is a hard
// bound: buys never fill above it, sells never fill below it.
type Order struct {
	MarketID   string
	Side       Side
	Size       float64
	PriceLimit float64
}

// OrderResult reports what actually happened to a submitted order. FilledSize
// may be less than the requested size when the book was thinner than the
// snapshot suggested; the unfilled remainder is identified by OrderID for
// cancellation.
type OrderResult struct {
	OrderID    string
	FilledSize float64
	AvgPrice   float64
	Status     OrderStatus
}

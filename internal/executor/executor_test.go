package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"WhaleMirror/internal/exchange"
	"WhaleMirror/internal/model"
)

// fakeExchange serves a fixed book and fills orders at their price limit.
type fakeExchange struct {
	mu          sync.Mutex
	depth       model.MarketDepth
	bookErr     error
	placeErr    error
	pendingOnce bool
	cancelled   []string
	orders      []model.Order
}

func (f *fakeExchange) GetBalance(ctx context.Context) (float64, error) { return 10000, nil }

func (f *fakeExchange) GetOrderBook(ctx context.Context, marketID string) (model.MarketDepth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bookErr != nil {
		return model.MarketDepth{}, f.bookErr
	}
	return f.depth, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, order model.Order) (model.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return model.OrderResult{Status: model.OrderRejected}, f.placeErr
	}
	f.orders = append(f.orders, order)
	id := fmt.Sprintf("ord-%d", len(f.orders))
	if f.pendingOnce {
		f.pendingOnce = false
		return model.OrderResult{
			OrderID:    id,
			FilledSize: order.Size / 2,
			AvgPrice:   order.PriceLimit,
			Status:     model.OrderPending,
		}, nil
	}
	return model.OrderResult{
		OrderID:    id,
		FilledSize: order.Size,
		AvgPrice:   order.PriceLimit,
		Status:     model.OrderFilled,
	}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

type recordSink struct {
	mu           sync.Mutex
	sizes        []float64
	cancelOnFill *Plan
}

func (r *recordSink) ApplyFill(req Request, size, price float64, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, size)
	if r.cancelOnFill != nil {
		r.cancelOnFill.Cancel()
	}
	return nil
}

func fastConfig() Config {
	return Config{
		Cooldown:        time.Millisecond,
		BackoffBase:     time.Millisecond,
		MaxStallRetries: 2,
		CallTimeout:     time.Second,
	}
}

func TestExecute_DripsInLiquidityBoundedChunks(t *testing.T) {
	// 120 shares visible at 25% per chunk bounds each chunk to 30.
	ex := &fakeExchange{depth: model.MarketDepth{
		Asks: []model.DepthLevel{{Price: 0.50, Size: 120}},
	}}
	sink := &recordSink{}
	e := New(ex, sink, fastConfig())

	plan := NewPlan(Request{
		MarketID:    "mkt-yes",
		Side:        model.SideBuy,
		TargetDelta: 100,
		PriceLimit:  0.55,
		Trigger:     "whale_mirror",
	})
	res := e.Execute(context.Background(), plan)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Complete(100) {
		t.Fatalf("expected complete plan, executed %.2f", res.Executed)
	}
	want := []float64{30, 30, 30, 10}
	if len(res.Chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(res.Chunks))
	}
	for i, c := range res.Chunks {
		if c.Size != want[i] {
			t.Errorf("chunk %d: expected %.2f, got %.2f", i, want[i], c.Size)
		}
	}
	if len(sink.sizes) != 4 {
		t.Errorf("expected 4 fills applied, got %d", len(sink.sizes))
	}
}

func TestExecute_FloorsChunksToSizeIncrement(t *testing.T) {
	// 13.34 visible * 0.25 = 3.335, which must floor to 3.33.
	ex := &fakeExchange{depth: model.MarketDepth{
		Asks: []model.DepthLevel{{Price: 0.40, Size: 13.34}},
	}}
	e := New(ex, &recordSink{}, fastConfig())

	plan := NewPlan(Request{MarketID: "m", Side: model.SideBuy, TargetDelta: 5, PriceLimit: 0.50})
	res := e.Execute(context.Background(), plan)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	want := []float64{3.33, 1.67}
	if len(res.Chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(res.Chunks))
	}
	for i, c := range res.Chunks {
		if math.Abs(c.Size-want[i]) > 1e-9 {
			t.Errorf("chunk %d: expected %.2f, got %.10f", i, want[i], c.Size)
		}
		if c.Size != model.FloorSize(c.Size) {
			t.Errorf("chunk %d size %.10f not floored to increment", i, c.Size)
		}
	}
}

func TestExecute_IgnoresLevelsBeyondPriceLimit(t *testing.T) {
	// Only the 0.48 level is inside the buy limit; the 0.60 level must not
	// count toward visible liquidity.
	ex := &fakeExchange{depth: model.MarketDepth{
		Asks: []model.DepthLevel{{Price: 0.48, Size: 40}, {Price: 0.60, Size: 4000}},
	}}
	e := New(ex, &recordSink{}, fastConfig())

	plan := NewPlan(Request{MarketID: "m", Side: model.SideBuy, TargetDelta: 100, PriceLimit: 0.50})
	res := e.Execute(context.Background(), plan)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	// 40 * 0.25 = 10 shares of priced liquidity per pass.
	if len(res.Chunks) != 10 {
		t.Fatalf("expected 10 chunks of 10, got %d", len(res.Chunks))
	}
	for _, c := range res.Chunks {
		if c.Size > 10 {
			t.Errorf("chunk %.2f exceeds the priced liquidity bound", c.Size)
		}
	}
}

func TestExecute_StallSurfacesAfterRetries(t *testing.T) {
	ex := &fakeExchange{depth: model.MarketDepth{}} // no liquidity at all
	e := New(ex, &recordSink{}, fastConfig())

	plan := NewPlan(Request{MarketID: "m", Side: model.SideSell, TargetDelta: 50, PriceLimit: 0.30})
	res := e.Execute(context.Background(), plan)

	if !errors.Is(res.Err, ErrExecutionStalled) {
		t.Fatalf("expected ErrExecutionStalled, got %v", res.Err)
	}
	if res.Executed != 0 {
		t.Errorf("nothing should have executed, got %.2f", res.Executed)
	}
}

func TestExecute_TransientBookErrorCountsAsStall(t *testing.T) {
	ex := &fakeExchange{bookErr: fmt.Errorf("%w: 503", exchange.ErrExchange)}
	e := New(ex, &recordSink{}, fastConfig())

	plan := NewPlan(Request{MarketID: "m", Side: model.SideBuy, TargetDelta: 10, PriceLimit: 0.50})
	res := e.Execute(context.Background(), plan)

	if !errors.Is(res.Err, ErrExecutionStalled) {
		t.Fatalf("expected ErrExecutionStalled, got %v", res.Err)
	}
}

func TestExecute_ChunkFailsAfterRetriesExhausted(t *testing.T) {
	ex := &fakeExchange{
		depth:    model.MarketDepth{Asks: []model.DepthLevel{{Price: 0.50, Size: 1000}}},
		placeErr: fmt.Errorf("%w: 500", exchange.ErrExchange),
	}
	cfg := fastConfig()
	cfg.MaxChunkAttempts = 2
	e := New(ex, &recordSink{}, cfg)

	plan := NewPlan(Request{MarketID: "m", Side: model.SideBuy, TargetDelta: 10, PriceLimit: 0.55})
	res := e.Execute(context.Background(), plan)

	if !errors.Is(res.Err, ErrChunkFailed) {
		t.Fatalf("expected ErrChunkFailed, got %v", res.Err)
	}
}

func TestExecute_FatalErrorAbortsImmediately(t *testing.T) {
	ex := &fakeExchange{
		depth:    model.MarketDepth{Asks: []model.DepthLevel{{Price: 0.50, Size: 1000}}},
		placeErr: fmt.Errorf("%w: key revoked", exchange.ErrAuth),
	}
	e := New(ex, &recordSink{}, fastConfig())

	plan := NewPlan(Request{MarketID: "m", Side: model.SideBuy, TargetDelta: 10, PriceLimit: 0.55})
	res := e.Execute(context.Background(), plan)

	if !exchange.Fatal(res.Err) {
		t.Fatalf("expected fatal auth error, got %v", res.Err)
	}
	if res.Executed != 0 {
		t.Errorf("fatal error must not leave fills, got %.2f", res.Executed)
	}
}

func TestExecute_CancelStopsBetweenChunks(t *testing.T) {
	ex := &fakeExchange{depth: model.MarketDepth{
		Asks: []model.DepthLevel{{Price: 0.50, Size: 120}},
	}}
	sink := &recordSink{}
	e := New(ex, sink, fastConfig())

	plan := NewPlan(Request{MarketID: "m", Side: model.SideBuy, TargetDelta: 100, PriceLimit: 0.55})
	sink.cancelOnFill = plan
	res := e.Execute(context.Background(), plan)

	if !res.Cancelled {
		t.Fatal("expected cancelled result")
	}
	if res.Err != nil {
		t.Fatalf("cancellation is not an error: %v", res.Err)
	}
	if res.Executed != 30 {
		t.Errorf("the in-flight chunk finishes, nothing more: expected 30, got %.2f", res.Executed)
	}
}

func TestExecute_PartialFillCancelsRemainder(t *testing.T) {
	ex := &fakeExchange{
		depth:       model.MarketDepth{Asks: []model.DepthLevel{{Price: 0.50, Size: 1000}}},
		pendingOnce: true,
	}
	e := New(ex, &recordSink{}, fastConfig())

	plan := NewPlan(Request{MarketID: "m", Side: model.SideBuy, TargetDelta: 10, PriceLimit: 0.55})
	res := e.Execute(context.Background(), plan)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Complete(10) {
		t.Fatalf("remainder should have been re-dripped, executed %.2f", res.Executed)
	}
	if len(ex.cancelled) != 1 || ex.cancelled[0] != "ord-1" {
		t.Errorf("resting remainder of ord-1 should have been cancelled, got %v", ex.cancelled)
	}
	if res.Chunks[0].Size != 5 {
		t.Errorf("first chunk is the confirmed half fill: expected 5, got %.2f", res.Chunks[0].Size)
	}
}

func TestExecute_SellFillsAgainstBids(t *testing.T) {
	ex := &fakeExchange{depth: model.MarketDepth{
		Bids: []model.DepthLevel{{Price: 0.62, Size: 80}, {Price: 0.58, Size: 80}},
		Asks: []model.DepthLevel{{Price: 0.64, Size: 500}},
	}}
	e := New(ex, &recordSink{}, fastConfig())

	// Floor 0.60 admits only the 0.62 level: 80 * 0.25 = 20 per chunk.
	plan := NewPlan(Request{MarketID: "m", Side: model.SideSell, TargetDelta: 40, PriceLimit: 0.60})
	res := e.Execute(context.Background(), plan)

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Chunks) != 2 || res.Chunks[0].Size != 20 {
		t.Fatalf("expected two 20-share chunks, got %+v", res.Chunks)
	}
	for _, o := range ex.orders {
		if o.Side != model.SideSell {
			t.Errorf("expected sell orders, got %s", o.Side)
		}
	}
}

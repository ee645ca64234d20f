package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"WhaleMirror/internal/model"
)

// Clob talks to the live order-book exchange over its REST API. Prices are
// read from the public book endpoint; order placement and cancellation go to
// the authenticated trading endpoints. A websocket Stream can be attached to
// keep last-trade prices fresh without polling.
type Clob struct {
	BaseURL string
	APIKey  string
	Client  *http.Client

	stream *Stream
}

// NewClob creates a live exchange client with optional proxy support.
func NewClob(baseURL, apiKey, proxyURL string) *Clob {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Clob{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}
}

// AttachStream wires a running price stream into the adapter. When the
// stream has a fresh last-trade price for a market, GetOrderBook falls back
// to it if the REST book request fails transiently.
func (c *Clob) AttachStream(s *Stream) { c.stream = s }

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

func (c *Clob) GetBalance(ctx context.Context) (float64, error) {
	var result struct {
		Balance float64 `json:"balance"`
	}
	if err := c.getJSON(ctx, "/balance", nil, &result); err != nil {
		return 0, err
	}
	return result.Balance, nil
}

func (c *Clob) GetOrderBook(ctx context.Context, marketID string) (model.MarketDepth, error) {
	var resp bookResponse
	err := c.getJSON(ctx, "/book", url.Values{"token_id": {marketID}}, &resp)
	if err != nil {
		// A fresh streamed price still lets the risk pass mark to market.
		if c.stream != nil {
			if price, ok := c.stream.LastPrice(marketID); ok {
				return model.MarketDepth{Bids: []model.DepthLevel{{Price: price, Size: 0}}}, nil
			}
		}
		return model.MarketDepth{}, err
	}
	depth := model.MarketDepth{
		Bids: parseLevels(resp.Bids),
		Asks: parseLevels(resp.Asks),
	}
	return depth, nil
}

func parseLevels(raw []bookLevel) []model.DepthLevel {
	levels := make([]model.DepthLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err1 := strconv.ParseFloat(lvl.Price, 64)
		size, err2 := strconv.ParseFloat(lvl.Size, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, model.DepthLevel{Price: price, Size: size})
	}
	return levels
}

func (c *Clob) PlaceOrder(ctx context.Context, order model.Order) (model.OrderResult, error) {
	payload := map[string]any{
		"token_id": order.MarketID,
		"side":     string(order.Side),
		"size":     order.Size,
		"price":    order.PriceLimit,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return model.OrderResult{}, fmt.Errorf("marshal order: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return model.OrderResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.Client.Do(req)
	if err != nil {
		return model.OrderResult{}, fmt.Errorf("%w: place order: %v", ErrExchange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return model.OrderResult{}, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return model.OrderResult{}, fmt.Errorf("%w: place order status %d, body: %s", ErrExchange, resp.StatusCode, string(respBody))
	}

	var result struct {
		OrderID    string  `json:"order_id"`
		FilledSize float64 `json:"filled_size"`
		AvgPrice   float64 `json:"avg_price"`
		Status     string  `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.OrderResult{}, fmt.Errorf("%w: decode order result: %v", ErrExchange, err)
	}
	return model.OrderResult{
		OrderID:    result.OrderID,
		FilledSize: result.FilledSize,
		AvgPrice:   result.AvgPrice,
		Status:     model.OrderStatus(result.Status),
	}, nil
}

func (c *Clob) CancelOrder(ctx context.Context, orderID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/order/"+orderID, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: cancel order: %v", ErrExchange, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: cancel order status %d", ErrExchange, resp.StatusCode)
	}
	return nil
}

func (c *Clob) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: get %s: %v", ErrExchange, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: get %s status %d, body: %s", ErrExchange, path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrExchange, path, err)
	}
	return nil
}

func (c *Clob) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

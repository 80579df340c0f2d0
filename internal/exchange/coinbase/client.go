package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradeloop/internal/core"
	"tradeloop/pkg/httpclient"
)

const (
	pathBestBidAsk = "/api/v3/brokerage/best_bid_ask"
	pathProducts   = "/api/v3/brokerage/products"
	pathOrders     = "/api/v3/brokerage/orders"
	pathBatchList  = "/api/v3/brokerage/orders/historical/batch"
	pathFills      = "/api/v3/brokerage/orders/historical/fills"
	pathCancel     = "/api/v3/brokerage/orders/batch_cancel"
	pathAccounts   = "/api/v3/brokerage/accounts"

	pageLimit = 200
)

// Client talks to the Coinbase Advanced Trade REST API.
type Client struct {
	http   *httpclient.Client
	logger core.ILogger
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Algorithm SigningAlgorithm
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
}

// NewClient creates a Coinbase client with signing and rate limiting.
func NewClient(opts ClientOptions, logger core.ILogger) (*Client, error) {
	signer, err := NewSigner(opts.APIKey, opts.APISecret, opts.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	var httpOpts []httpclient.Option
	if opts.RateLimit > 0 {
		httpOpts = append(httpOpts, httpclient.WithRateLimit(opts.RateLimit, opts.RateBurst))
	}

	return &Client{
		http:   httpclient.NewClient(opts.BaseURL, opts.Timeout, signer, httpOpts...),
		logger: logger.WithField("component", "coinbase_client"),
	}, nil
}

// GetBestBidAsk returns the current top of book for a product.
func (c *Client) GetBestBidAsk(ctx context.Context, productID string) (*PriceBook, error) {
	body, err := c.http.Get(ctx, pathBestBidAsk, map[string]string{"product_ids": productID})
	if err != nil {
		return nil, wrapAPIError(err)
	}

	var resp priceBookResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode price book response: %w", err)
	}
	if len(resp.PriceBooks) == 0 {
		return nil, fmt.Errorf("no price book returned for %s", productID)
	}
	return &resp.PriceBooks[0], nil
}

// GetProduct returns trading metadata for a product.
func (c *Client) GetProduct(ctx context.Context, productID string) (*Product, error) {
	body, err := c.http.Get(ctx, pathProducts+"/"+productID, nil)
	if err != nil {
		return nil, wrapAPIError(err)
	}

	var product Product
	if err := json.Unmarshal(body, &product); err != nil {
		return nil, fmt.Errorf("failed to decode product response: %w", err)
	}
	return &product, nil
}

// GetCandles returns OHLCV bars for a product, oldest first.
func (c *Client) GetCandles(ctx context.Context, productID, granularity string, start, end time.Time, limit int) ([]CandleEntry, error) {
	params := map[string]string{
		"granularity": granularity,
		"limit":       strconv.Itoa(limit),
	}
	if !start.IsZero() {
		params["start"] = strconv.FormatInt(start.Unix(), 10)
	}
	if !end.IsZero() {
		params["end"] = strconv.FormatInt(end.Unix(), 10)
	}

	body, err := c.http.Get(ctx, pathProducts+"/"+productID+"/candles", params)
	if err != nil {
		return nil, wrapAPIError(err)
	}

	var resp candlesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode candles response: %w", err)
	}

	// The API returns newest first.
	candles := resp.Candles
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// ListOrders pages through order history for a product, following the cursor
// until exhaustion or until orders older than the watermark appear.
func (c *Client) ListOrders(ctx context.Context, productID string, statuses []string, watermark time.Time) ([]Order, error) {
	var orders []Order
	cursor := ""

	for {
		params := map[string]string{
			"product_id": productID,
			"limit":      strconv.Itoa(pageLimit),
		}
		if len(statuses) > 0 {
			params["order_status"] = strings.Join(statuses, ",")
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		body, err := c.http.Get(ctx, pathBatchList, params)
		if err != nil {
			return nil, wrapAPIError(err)
		}

		var resp ordersResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode orders response: %w", err)
		}

		pastWatermark := false
		for _, order := range resp.Orders {
			if !watermark.IsZero() {
				if ts, ok := ParseTime(order.CreatedTime); ok && ts.Before(watermark) {
					pastWatermark = true
					continue
				}
			}
			orders = append(orders, order)
		}

		if pastWatermark || !resp.HasNext || resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	return orders, nil
}

// ListFills pages through fill history for a product, following the cursor
// until exhaustion or until fills older than the watermark appear.
func (c *Client) ListFills(ctx context.Context, productID string, watermark time.Time) ([]Fill, error) {
	var fills []Fill
	cursor := ""

	for {
		params := map[string]string{
			"product_id": productID,
			"limit":      strconv.Itoa(pageLimit),
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		body, err := c.http.Get(ctx, pathFills, params)
		if err != nil {
			return nil, wrapAPIError(err)
		}

		var resp fillsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode fills response: %w", err)
		}

		pastWatermark := false
		for _, fill := range resp.Fills {
			if !watermark.IsZero() {
				if ts, ok := ParseTime(fill.TradeTime); ok && ts.Before(watermark) {
					pastWatermark = true
					continue
				}
			}
			fills = append(fills, fill)
		}

		if pastWatermark || resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	return fills, nil
}

// CreateOrder submits an order and returns the acknowledgement.
func (c *Client) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	body, err := c.http.Post(ctx, pathOrders, req)
	if err != nil {
		return nil, wrapAPIError(err)
	}

	var resp CreateOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode create order response: %w", err)
	}
	return &resp, nil
}

// CancelOrders requests cancellation of the given order ids.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) error {
	_, err := c.http.Post(ctx, pathCancel, map[string][]string{"order_ids": orderIDs})
	if err != nil {
		return wrapAPIError(err)
	}
	return nil
}

// ListAccounts pages through all funding accounts.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	cursor := ""

	for {
		params := map[string]string{"limit": "250"}
		if cursor != "" {
			params["cursor"] = cursor
		}

		body, err := c.http.Get(ctx, pathAccounts, params)
		if err != nil {
			return nil, wrapAPIError(err)
		}

		var resp accountsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode accounts response: %w", err)
		}
		accounts = append(accounts, resp.Accounts...)

		if !resp.HasNext || resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	return accounts, nil
}

// ParseTime parses the timestamp formats the brokerage API emits. The second
// return value reports whether parsing succeeded.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05Z07:00"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), true
		}
	}
	// Epoch seconds are used in price book timestamps.
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Unix(int64(secs), 0).UTC(), true
	}
	return time.Time{}, false
}

// wrapAPIError converts transport-level API errors into this package's
// error type so callers only depend on one.
func wrapAPIError(err error) error {
	var httpErr *httpclient.APIError
	if errors.As(err, &httpErr) {
		return &APIError{StatusCode: httpErr.StatusCode, Body: string(httpErr.Body)}
	}
	return err
}

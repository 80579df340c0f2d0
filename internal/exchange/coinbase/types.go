// Package coinbase is a client for the Coinbase Advanced Trade REST API.
package coinbase

import (
	"encoding/json"
	"fmt"
)

// APIError represents a non-2xx response from the brokerage API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coinbase API error %d: %s", e.StatusCode, e.Body)
}

// PriceBook is one product's best bid/ask snapshot.
type PriceBook struct {
	ProductID string       `json:"product_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Time      string       `json:"time"`
}

// PriceLevel is a single price/size entry in a price book.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Product carries per-instrument trading metadata.
type Product struct {
	ProductID      string `json:"product_id"`
	Price          string `json:"price"`
	BaseIncrement  string `json:"base_increment"`
	QuoteIncrement string `json:"quote_increment"`
	BaseMinSize    string `json:"base_min_size"`
	BaseMaxSize    string `json:"base_max_size"`
	QuoteMinSize   string `json:"quote_min_size"`
	QuoteMaxSize   string `json:"quote_max_size"`
	Status         string `json:"status"`
}

// CandleEntry is a single OHLCV bar.
type CandleEntry struct {
	Start  string `json:"start"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// LimitConfig is the limit order configuration sub-object.
type LimitConfig struct {
	BaseSize   string `json:"base_size"`
	LimitPrice string `json:"limit_price"`
	PostOnly   bool   `json:"post_only,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
}

// StopLimitConfig is the stop-limit order configuration sub-object.
type StopLimitConfig struct {
	BaseSize      string `json:"base_size"`
	LimitPrice    string `json:"limit_price"`
	StopPrice     string `json:"stop_price"`
	StopDirection string `json:"stop_direction,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
}

// BracketConfig is the trigger-bracket order configuration sub-object.
type BracketConfig struct {
	BaseSize         string `json:"base_size"`
	LimitPrice       string `json:"limit_price"`
	StopTriggerPrice string `json:"stop_trigger_price"`
	EndTime          string `json:"end_time,omitempty"`
}

// MarketConfig is the market order configuration sub-object.
type MarketConfig struct {
	BaseSize  string `json:"base_size,omitempty"`
	QuoteSize string `json:"quote_size,omitempty"`
}

// OrderConfiguration holds exactly one populated variant per order.
type OrderConfiguration struct {
	LimitLimitGTD         *LimitConfig     `json:"limit_limit_gtd,omitempty"`
	LimitLimitGTC         *LimitConfig     `json:"limit_limit_gtc,omitempty"`
	StopLimitStopLimitGTD *StopLimitConfig `json:"stop_limit_stop_limit_gtd,omitempty"`
	StopLimitStopLimitGTC *StopLimitConfig `json:"stop_limit_stop_limit_gtc,omitempty"`
	TriggerBracketGTD     *BracketConfig   `json:"trigger_bracket_gtd,omitempty"`
	TriggerBracketGTC     *BracketConfig   `json:"trigger_bracket_gtc,omitempty"`
	MarketMarketIOC       *MarketConfig    `json:"market_market_ioc,omitempty"`
	MarketMarketGTC       *MarketConfig    `json:"market_market_gtc,omitempty"`
}

// Order is one entry of the historical order listing.
type Order struct {
	OrderID            string             `json:"order_id"`
	ClientOrderID      string             `json:"client_order_id"`
	ProductID          string             `json:"product_id"`
	Side               string             `json:"side"`
	Status             string             `json:"status"`
	OrderStatus        string             `json:"order_status"`
	OrderConfiguration OrderConfiguration `json:"order_configuration"`
	SubmittedTime      string             `json:"submitted_time"`
	CreatedTime        string             `json:"created_time"`
	OrderPlacedTime    string             `json:"order_placed_time"`
	LastFillTime       string             `json:"last_fill_time"`
	CompletedTime      string             `json:"completed_time"`
	ExpireTime         string             `json:"expire_time"`
	FilledSize         string             `json:"filled_size"`
	AverageFilledPrice string             `json:"average_filled_price"`
	CompletionPct      string             `json:"completion_percentage"`
}

// Fill is one entry of the historical fill listing.
type Fill struct {
	EntryID        string `json:"entry_id"`
	TradeID        string `json:"trade_id"`
	OrderID        string `json:"order_id"`
	ProductID      string `json:"product_id"`
	TradeTime      string `json:"trade_time"`
	Side           string `json:"side"`
	Price          string `json:"price"`
	Size           string `json:"size"`
	Commission     string `json:"commission"`
	LiquidityIndic string `json:"liquidity_indicator"`
}

// CreateOrderRequest is the order submission payload.
type CreateOrderRequest struct {
	ClientOrderID      string             `json:"client_order_id"`
	ProductID          string             `json:"product_id"`
	Side               string             `json:"side"`
	OrderConfiguration OrderConfiguration `json:"order_configuration"`
}

// CreateOrderResponse is the acknowledgement returned on submission.
type CreateOrderResponse struct {
	Success         bool            `json:"success"`
	SuccessResponse *SuccessDetail  `json:"success_response,omitempty"`
	ErrorResponse   json.RawMessage `json:"error_response,omitempty"`
	OrderID         string          `json:"order_id"`
}

// SuccessDetail identifies the created order.
type SuccessDetail struct {
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	Side          string `json:"side"`
	ClientOrderID string `json:"client_order_id"`
}

// Account is one funding account entry.
type Account struct {
	UUID             string       `json:"uuid"`
	Currency         string       `json:"currency"`
	AvailableBalance AmountDetail `json:"available_balance"`
	Hold             AmountDetail `json:"hold"`
}

// AmountDetail is a currency-tagged amount.
type AmountDetail struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type priceBookResponse struct {
	PriceBooks []PriceBook `json:"pricebooks"`
}

type candlesResponse struct {
	Candles []CandleEntry `json:"candles"`
}

type ordersResponse struct {
	Orders  []Order `json:"orders"`
	Cursor  string  `json:"cursor"`
	HasNext bool    `json:"has_next"`
}

type fillsResponse struct {
	Fills  []Fill `json:"fills"`
	Cursor string `json:"cursor"`
}

type accountsResponse struct {
	Accounts []Account `json:"accounts"`
	Cursor   string    `json:"cursor"`
	HasNext  bool      `json:"has_next"`
}

package models

import "github.com/shopspring/decimal"

// Decimals travel as JSON strings ("12.50"); requests also accept numbers.

type CreateMarketRequest struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

type MarketResponse struct {
	Market string `json:"market"` // BASE_QUOTE
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

type MarketsResponse struct {
	Markets []MarketResponse `json:"markets"`
}

type SubmitOrderRequest struct {
	Market string           `json:"market"`
	Side   string           `json:"side"`
	Type   string           `json:"type"`
	Price  *decimal.Decimal `json:"price,omitempty"` // required for LIMIT, absent for MARKET
	Size   decimal.Decimal  `json:"size"`
}

type SubmitOrderResponse struct {
	OrderID       string          `json:"order_id"`
	Market        string          `json:"market"`
	Status        string          `json:"status"`
	Message       string          `json:"message,omitempty"`
	FilledSize    decimal.Decimal `json:"filled_size"`
	RemainingSize decimal.Decimal `json:"remaining_size"`
	Rested        bool            `json:"rested"`
	Trades        []TradeInfo     `json:"trades"`
}

type TradeInfo struct {
	TradeID         string          `json:"trade_id"`
	Market          string          `json:"market"`
	Sequence        uint64          `json:"sequence"`
	Price           decimal.Decimal `json:"price"`
	Size            decimal.Decimal `json:"size"`
	RestingOrderID  string          `json:"resting_order_id"`
	IncomingOrderID string          `json:"incoming_order_id"`
	AggressorSide   string          `json:"aggressor_side"`
	Timestamp       int64           `json:"timestamp"` // unix timestamp in milliseconds
}

type TradesResponse struct {
	Market string      `json:"market"`
	Trades []TradeInfo `json:"trades"` // newest first
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type OrderBookResponse struct {
	Market       string           `json:"market"`
	Timestamp    int64            `json:"timestamp"` // unix timestamp in milliseconds
	LastSequence uint64           `json:"last_sequence"`
	BestBid      *decimal.Decimal `json:"best_bid"`
	BestAsk      *decimal.Decimal `json:"best_ask"`
	Halted       bool             `json:"halted,omitempty"`
	Bids         []PriceLevelInfo `json:"bids,omitempty"` // sorted descending (highest first)
	Asks         []PriceLevelInfo `json:"asks,omitempty"` // sorted ascending (lowest first)
}

type PriceLevelInfo struct {
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"` // aggregated remaining size at this price
	Orders int             `json:"orders"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Markets       int    `json:"markets"`
	HaltedMarkets int    `json:"halted_markets"`
}

type MetricsResponse struct {
	OrdersReceived         int64   `json:"orders_received"`
	OrdersMatched          int64   `json:"orders_matched"`
	OrdersRejected         int64   `json:"orders_rejected"`
	OrdersInBook           int64   `json:"orders_in_book"`
	TradesExecuted         int64   `json:"trades_executed"`
	Markets                int     `json:"markets"`
	LatencyP50Ms           float64 `json:"latency_p50_ms"`
	LatencyP99Ms           float64 `json:"latency_p99_ms"`
	LatencyP999Ms          float64 `json:"latency_p999_ms"`
	ThroughputOrdersPerSec float64 `json:"throughput_orders_per_sec"`
}

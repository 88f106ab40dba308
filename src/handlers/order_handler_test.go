package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lob-engine/src/config"
	"lob-engine/src/engine"
	"lob-engine/src/models"
)

var btcUSD = engine.Instrument{Base: "BTC", Quote: "USD"}

type fakeHistory struct {
	trades []engine.Trade
	err    error
	limit  int
}

func (f *fakeHistory) Recent(_ context.Context, inst engine.Instrument, limit int) ([]engine.Trade, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []engine.Trade
	for _, tr := range f.trades {
		if tr.Instrument == inst {
			out = append(out, tr)
		}
	}
	return out, nil
}

func setupTestApp(t *testing.T, history TradeHistory) (*fiber.App, *OrderHandler, *engine.Engine) {
	t.Helper()
	eng := engine.New()
	t.Cleanup(func() { _ = eng.Close() })
	require.NoError(t, eng.OpenMarket(btcUSD))

	h := NewOrderHandler(eng, history, config.OrderBookConfig{DefaultDepth: 2, MaxDepth: 3}, 100)
	app := fiber.New()
	app.Post("/api/v1/markets", h.CreateMarket)
	app.Get("/api/v1/markets", h.ListMarkets)
	app.Post("/api/v1/orders", h.SubmitOrder)
	app.Get("/api/v1/orderbook/:market", h.GetOrderBook)
	app.Get("/api/v1/trades/:market", h.GetTrades)
	app.Get("/health", h.HealthCheck)
	app.Get("/metrics", h.Metrics)
	return app, h, eng
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func postOrder(t *testing.T, app *fiber.App, body string) (int, models.SubmitOrderResponse) {
	t.Helper()
	resp, data := doRequest(t, app, http.MethodPost, "/api/v1/orders", body)
	var out models.SubmitOrderResponse
	if resp.StatusCode < 300 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func errorOf(t *testing.T, data []byte) string {
	t.Helper()
	var out models.ErrorResponse
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out.Error
}

func TestSubmitOrderStatusCodes(t *testing.T) {
	app, h, _ := setupTestApp(t, nil)

	code, out := postOrder(t, app, `{"market":"BTC_USD","side":"ASK","type":"LIMIT","price":"10","size":"5"}`)
	assert.Equal(t, fiber.StatusCreated, code)
	assert.Equal(t, "ACCEPTED", out.Status)
	assert.True(t, out.Rested)
	assert.NotEmpty(t, out.OrderID)

	// numbers are accepted as well as strings
	code, _ = postOrder(t, app, `{"market":"BTC_USD","side":"ASK","type":"LIMIT","price":9,"size":3}`)
	assert.Equal(t, fiber.StatusCreated, code)

	code, out = postOrder(t, app, `{"market":"BTC_USD","side":"BID","type":"MARKET","size":"6"}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "FILLED", out.Status)
	require.Len(t, out.Trades, 2)
	assert.True(t, out.Trades[0].Price.Equal(decimal.NewFromInt(9)))
	assert.True(t, out.Trades[1].Price.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "BID", out.Trades[0].AggressorSide)
	assert.Less(t, out.Trades[0].Sequence, out.Trades[1].Sequence)

	code, out = postOrder(t, app, `{"market":"btc_usd","side":"BUY","type":"MARKET","size":"5"}`)
	assert.Equal(t, fiber.StatusAccepted, code)
	assert.Equal(t, "PARTIAL_FILL", out.Status)
	assert.False(t, out.Rested)
	assert.True(t, out.RemainingSize.Equal(decimal.NewFromInt(3)))

	code, out = postOrder(t, app, `{"market":"BTC_USD","side":"BID","type":"MARKET","size":"1"}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "UNFILLED", out.Status)

	assert.Equal(t, int64(5), h.OrdersReceived)
	assert.Equal(t, int64(2), h.OrdersMatched)
	assert.Equal(t, int64(3), h.TradesExecuted)
}

func TestSubmitOrderValidation(t *testing.T) {
	app, h, _ := setupTestApp(t, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"market":`, "malformed JSON"},
		{"no market", `{"side":"BID","type":"LIMIT","price":"1","size":"1"}`, "market is required"},
		{"bad market", `{"market":"BTCUSD","side":"BID","type":"LIMIT","price":"1","size":"1"}`, "BASE_QUOTE"},
		{"bad side", `{"market":"BTC_USD","side":"UP","type":"LIMIT","price":"1","size":"1"}`, "side must be BID or ASK"},
		{"bad type", `{"market":"BTC_USD","side":"BID","type":"STOP","price":"1","size":"1"}`, "type must be LIMIT or MARKET"},
		{"zero size", `{"market":"BTC_USD","side":"BID","type":"LIMIT","price":"1","size":"0"}`, "size must be positive"},
		{"negative size", `{"market":"BTC_USD","side":"BID","type":"MARKET","size":"-2"}`, "size must be positive"},
		{"limit without price", `{"market":"BTC_USD","side":"BID","type":"LIMIT","size":"1"}`, "price must be positive"},
		{"market with price", `{"market":"BTC_USD","side":"BID","type":"MARKET","price":"1","size":"1"}`, "take no price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := doRequest(t, app, http.MethodPost, "/api/v1/orders", tt.body)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, errorOf(t, data), tt.want)
		})
	}
	assert.Equal(t, int64(len(tests)), h.OrdersRejected)
	assert.Zero(t, h.OrdersReceived)
}

func TestSubmitOrderUnknownMarket(t *testing.T) {
	app, _, _ := setupTestApp(t, nil)

	resp, _ := doRequest(t, app, http.MethodPost, "/api/v1/orders",
		`{"market":"ETH_USD","side":"BID","type":"LIMIT","price":"1","size":"1"}`)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSubmitOrderEngineClosed(t *testing.T) {
	app, _, eng := setupTestApp(t, nil)
	require.NoError(t, eng.Close())

	resp, _ := doRequest(t, app, http.MethodPost, "/api/v1/orders",
		`{"market":"BTC_USD","side":"BID","type":"LIMIT","price":"1","size":"1"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestMarkets(t *testing.T) {
	app, _, _ := setupTestApp(t, nil)

	resp, data := doRequest(t, app, http.MethodPost, "/api/v1/markets", models.CreateMarketRequest{Base: "eth", Quote: "usd"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, string(data))
	var created models.MarketResponse
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, "ETH_USD", created.Market)

	resp, _ = doRequest(t, app, http.MethodPost, "/api/v1/markets", models.CreateMarketRequest{Base: "ETH", Quote: "USD"})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodPost, "/api/v1/markets", models.CreateMarketRequest{Base: "E-H", Quote: "USD"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, data = doRequest(t, app, http.MethodGet, "/api/v1/markets", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var list models.MarketsResponse
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list.Markets, 2)
	assert.Equal(t, "BTC_USD", list.Markets[0].Market)
	assert.Equal(t, "ETH_USD", list.Markets[1].Market)
}

func TestGetOrderBook(t *testing.T) {
	app, _, _ := setupTestApp(t, nil)
	for _, body := range []string{
		`{"market":"BTC_USD","side":"BID","type":"LIMIT","price":"99","size":"1"}`,
		`{"market":"BTC_USD","side":"BID","type":"LIMIT","price":"99","size":"2"}`,
		`{"market":"BTC_USD","side":"BID","type":"LIMIT","price":"98","size":"1"}`,
		`{"market":"BTC_USD","side":"BID","type":"LIMIT","price":"97","size":"1"}`,
		`{"market":"BTC_USD","side":"BID","type":"LIMIT","price":"96","size":"1"}`,
		`{"market":"BTC_USD","side":"ASK","type":"LIMIT","price":"101","size":"4"}`,
	} {
		code, _ := postOrder(t, app, body)
		require.Equal(t, fiber.StatusCreated, code)
	}

	resp, data := doRequest(t, app, http.MethodGet, "/api/v1/orderbook/BTC_USD", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var book models.OrderBookResponse
	require.NoError(t, json.Unmarshal(data, &book))
	require.Len(t, book.Bids, 2, "default depth")
	assert.True(t, book.Bids[0].Price.Equal(decimal.NewFromInt(99)))
	assert.True(t, book.Bids[0].Size.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, 2, book.Bids[0].Orders)
	require.Len(t, book.Asks, 1)
	require.NotNil(t, book.BestBid)
	assert.True(t, book.BestBid.Equal(decimal.NewFromInt(99)))
	require.NotNil(t, book.BestAsk)
	assert.True(t, book.BestAsk.Equal(decimal.NewFromInt(101)))

	resp, data = doRequest(t, app, http.MethodGet, "/api/v1/orderbook/BTC_USD?side=bid&depth=100", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	book = models.OrderBookResponse{}
	require.NoError(t, json.Unmarshal(data, &book))
	assert.Len(t, book.Bids, 3, "depth is capped at the maximum")
	assert.Empty(t, book.Asks)

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/orderbook/BTC_USD?side=up", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/orderbook/ETH_USD", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGetTrades(t *testing.T) {
	history := &fakeHistory{trades: []engine.Trade{{
		ID:            "t-2",
		Instrument:    btcUSD,
		Price:         decimal.NewFromInt(10),
		Size:          decimal.NewFromInt(1),
		AggressorSide: engine.SideBid,
		Sequence:      2,
		ExecutedAt:    time.UnixMilli(1_700_000_000_000),
	}}}
	app, _, _ := setupTestApp(t, history)

	resp, data := doRequest(t, app, http.MethodGet, "/api/v1/trades/BTC_USD?limit=5000", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out models.TradesResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Trades, 1)
	assert.Equal(t, "t-2", out.Trades[0].TradeID)
	assert.Equal(t, int64(1_700_000_000_000), out.Trades[0].Timestamp)
	assert.Equal(t, maxTradesLimit, history.limit)

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/trades/ETH_USD", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	history.err = errors.New("database is locked")
	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/trades/BTC_USD", nil)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestGetTradesWithoutJournal(t *testing.T) {
	app, _, _ := setupTestApp(t, nil)

	resp, data := doRequest(t, app, http.MethodGet, "/api/v1/trades/BTC_USD", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Contains(t, errorOf(t, data), "disabled")
}

func TestHealthAndMetrics(t *testing.T) {
	app, _, _ := setupTestApp(t, nil)
	postOrder(t, app, `{"market":"BTC_USD","side":"ASK","type":"LIMIT","price":"10","size":"1"}`)
	postOrder(t, app, `{"market":"BTC_USD","side":"ASK","type":"LIMIT","price":"11","size":"1"}`)
	postOrder(t, app, `{"market":"BTC_USD","side":"BID","type":"MARKET","size":"1"}`)

	resp, data := doRequest(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Markets)

	resp, data = doRequest(t, app, http.MethodGet, "/metrics", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var metrics models.MetricsResponse
	require.NoError(t, json.Unmarshal(data, &metrics))
	assert.Equal(t, int64(3), metrics.OrdersReceived)
	assert.Equal(t, int64(1), metrics.OrdersMatched)
	assert.Equal(t, int64(1), metrics.TradesExecuted)
	assert.Equal(t, int64(1), metrics.OrdersInBook)
	assert.GreaterOrEqual(t, metrics.LatencyP99Ms, metrics.LatencyP50Ms)
}

func TestLatencyWindowIsBounded(t *testing.T) {
	h := NewOrderHandler(nil, nil, config.OrderBookConfig{}, 3)
	for i := 1; i <= 5; i++ {
		h.recordLatency(time.Duration(i) * time.Millisecond)
	}
	assert.Len(t, h.latencies, 3)
	p50, _, p999 := h.calculateLatencyPercentiles()
	assert.Equal(t, 4.0, p50)
	assert.Equal(t, 5.0, p999)
}

// haltedMatcher reports every market as halted after an internal
// inconsistency.
type haltedMatcher struct{}

func (haltedMatcher) OpenMarket(engine.Instrument) error { return nil }
func (haltedMatcher) Markets() []engine.Instrument       { return []engine.Instrument{btcUSD} }

func (haltedMatcher) Submit(_ context.Context, inst engine.Instrument, _ *engine.Order) (*engine.MatchOutcome, error) {
	return nil, fmt.Errorf("%w: %s: %w", engine.ErrMarketHalted, inst, engine.ErrOverFill)
}

func (haltedMatcher) DepthSnapshot(context.Context, engine.Instrument, engine.OrderSide, int) ([]engine.DepthLevel, error) {
	return nil, nil
}

func (haltedMatcher) Snapshot(context.Context, engine.Instrument, int) (engine.BookSnapshot, error) {
	return engine.BookSnapshot{Stats: engine.BookStats{Halted: true}}, nil
}

func (haltedMatcher) Stats(context.Context, engine.Instrument) (engine.BookStats, error) {
	return engine.BookStats{Halted: true}, nil
}

func TestHaltedMarketSurfaces(t *testing.T) {
	h := NewOrderHandler(haltedMatcher{}, nil, config.OrderBookConfig{DefaultDepth: 2, MaxDepth: 3}, 100)
	app := fiber.New()
	app.Post("/api/v1/orders", h.SubmitOrder)
	app.Get("/api/v1/orderbook/:market", h.GetOrderBook)
	app.Get("/health", h.HealthCheck)

	resp, data := doRequest(t, app, http.MethodPost, "/api/v1/orders",
		`{"market":"BTC_USD","side":"BID","type":"MARKET","size":"1"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, errorOf(t, data), "halted")
	assert.Equal(t, int64(1), h.OrdersRejected)

	resp, data = doRequest(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, 1, health.Markets)
	assert.Equal(t, 1, health.HaltedMarkets)

	resp, data = doRequest(t, app, http.MethodGet, "/api/v1/orderbook/BTC_USD", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var book models.OrderBookResponse
	require.NoError(t, json.Unmarshal(data, &book))
	assert.True(t, book.Halted)
}

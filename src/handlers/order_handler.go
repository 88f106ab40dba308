package handlers

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"lob-engine/src/config"
	"lob-engine/src/engine"
	"lob-engine/src/models"
)

// Matcher is the part of the engine the HTTP layer drives.
type Matcher interface {
	OpenMarket(inst engine.Instrument) error
	Markets() []engine.Instrument
	Submit(ctx context.Context, inst engine.Instrument, order *engine.Order) (*engine.MatchOutcome, error)
	DepthSnapshot(ctx context.Context, inst engine.Instrument, side engine.OrderSide, limit int) ([]engine.DepthLevel, error)
	Snapshot(ctx context.Context, inst engine.Instrument, limit int) (engine.BookSnapshot, error)
	Stats(ctx context.Context, inst engine.Instrument) (engine.BookStats, error)
}

// TradeHistory serves recent trades, newest first.
type TradeHistory interface {
	Recent(ctx context.Context, inst engine.Instrument, limit int) ([]engine.Trade, error)
}

type OrderHandler struct {
	Matcher        Matcher
	History        TradeHistory // nil when the journal is disabled
	StartTime      time.Time
	OrdersReceived int64
	OrdersMatched  int64
	OrdersRejected int64
	TradesExecuted int64

	defaultDepth int
	maxDepth     int

	latencies    []time.Duration
	latenciesMu  sync.RWMutex
	maxLatencies int
}

func NewOrderHandler(matcher Matcher, history TradeHistory, books config.OrderBookConfig, maxLatencies int) *OrderHandler {
	if maxLatencies <= 0 {
		maxLatencies = 10000
	}
	if books.DefaultDepth <= 0 {
		books.DefaultDepth = 10
	}
	if books.MaxDepth < books.DefaultDepth {
		books.MaxDepth = books.DefaultDepth
	}

	return &OrderHandler{
		Matcher:      matcher,
		History:      history,
		StartTime:    time.Now(),
		defaultDepth: books.DefaultDepth,
		maxDepth:     books.MaxDepth,
		latencies:    make([]time.Duration, 0, min(maxLatencies, 1024)),
		maxLatencies: maxLatencies,
	}
}

func (h *OrderHandler) SubmitOrder(c *fiber.Ctx) error {
	var req models.SubmitOrderRequest

	if err := c.BodyParser(&req); err != nil {
		log.Warn().
			Err(err).
			Str("ip", c.IP()).
			Str("path", c.Path()).
			Msg("Invalid request: malformed JSON")
		atomic.AddInt64(&h.OrdersRejected, 1)
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid request: malformed JSON",
		})
	}

	inst, order, err := buildOrder(&req)
	if err != nil {
		log.Warn().
			Err(err).
			Str("market", req.Market).
			Str("side", req.Side).
			Str("type", req.Type).
			Str("ip", c.IP()).
			Msg("Invalid order request")
		atomic.AddInt64(&h.OrdersRejected, 1)
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: err.Error(),
		})
	}

	log.Info().
		Str("order_id", order.ID).
		Str("market", inst.String()).
		Str("side", string(order.Side)).
		Str("type", string(order.Type)).
		Str("size", order.Size().String()).
		Str("ip", c.IP()).
		Msg("Order submitted")

	atomic.AddInt64(&h.OrdersReceived, 1)

	startTime := time.Now()
	result, err := h.Matcher.Submit(c.UserContext(), inst, order)
	h.recordLatency(time.Since(startTime))

	if err != nil {
		atomic.AddInt64(&h.OrdersRejected, 1)
		return h.engineError(c, err, order.ID, inst)
	}

	trades := make([]models.TradeInfo, 0, len(result.Trades))
	for _, trade := range result.Trades {
		trades = append(trades, tradeInfo(trade))
	}

	response := models.SubmitOrderResponse{
		OrderID:       result.OrderID,
		Market:        inst.String(),
		Status:        string(result.Status),
		FilledSize:    result.FilledSize,
		RemainingSize: result.RemainingSize,
		Rested:        result.Rested,
		Trades:        trades,
	}

	if len(result.Trades) > 0 {
		atomic.AddInt64(&h.OrdersMatched, 1)
	}
	atomic.AddInt64(&h.TradesExecuted, int64(len(trades)))

	log.Info().
		Str("order_id", result.OrderID).
		Str("status", string(result.Status)).
		Str("filled_size", result.FilledSize.String()).
		Str("remaining_size", result.RemainingSize.String()).
		Int("trades_count", len(result.Trades)).
		Msg("Order processed")

	switch result.Status {
	case engine.StatusAccepted:
		response.Message = "Order added to book"
		return c.Status(fiber.StatusCreated).JSON(response)
	case engine.StatusPartialFill:
		if result.Rested {
			response.Message = "Remainder added to book"
		} else {
			response.Message = "Insufficient liquidity, remainder discarded"
		}
		return c.Status(fiber.StatusAccepted).JSON(response)
	case engine.StatusUnfilled:
		response.Message = "No liquidity on the opposite side"
		return c.Status(fiber.StatusOK).JSON(response)
	default:
		return c.Status(fiber.StatusOK).JSON(response)
	}
}

func (h *OrderHandler) GetOrderBook(c *fiber.Ctx) error {
	inst, err := engine.ParseInstrument(c.Params("market"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{Error: err.Error()})
	}

	depth, err := strconv.Atoi(c.Query("depth", strconv.Itoa(h.defaultDepth)))
	if err != nil || depth <= 0 {
		depth = h.defaultDepth
	}
	// edge case: enforce maximum depth limit
	if depth > h.maxDepth {
		depth = h.maxDepth
	}

	ctx := c.UserContext()
	response := models.OrderBookResponse{Market: inst.String()}

	if raw := c.Query("side"); raw != "" {
		side, err := engine.ParseSide(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{Error: err.Error()})
		}
		levels, err := h.Matcher.DepthSnapshot(ctx, inst, side, depth)
		if err != nil {
			return h.engineError(c, err, "", inst)
		}
		stats, err := h.Matcher.Stats(ctx, inst)
		if err != nil {
			return h.engineError(c, err, "", inst)
		}
		fillStats(&response, stats)
		if side == engine.SideBid {
			response.Bids = priceLevels(levels)
		} else {
			response.Asks = priceLevels(levels)
		}
	} else {
		snap, err := h.Matcher.Snapshot(ctx, inst, depth)
		if err != nil {
			return h.engineError(c, err, "", inst)
		}
		fillStats(&response, snap.Stats)
		response.Bids = priceLevels(snap.Bids)
		response.Asks = priceLevels(snap.Asks)
	}

	response.Timestamp = time.Now().UnixMilli()
	return c.Status(fiber.StatusOK).JSON(response)
}

func fillStats(resp *models.OrderBookResponse, stats engine.BookStats) {
	resp.LastSequence = stats.LastSequence
	resp.BestBid = stats.BestBid
	resp.BestAsk = stats.BestAsk
	resp.Halted = stats.Halted
}

func priceLevels(levels []engine.DepthLevel) []models.PriceLevelInfo {
	out := make([]models.PriceLevelInfo, 0, len(levels))
	for _, level := range levels {
		out = append(out, models.PriceLevelInfo{
			Price:  level.Price,
			Size:   level.TotalVolume,
			Orders: level.Orders,
		})
	}
	return out
}

func tradeInfo(trade engine.Trade) models.TradeInfo {
	return models.TradeInfo{
		TradeID:         trade.ID,
		Market:          trade.Instrument.String(),
		Sequence:        trade.Sequence,
		Price:           trade.Price,
		Size:            trade.Size,
		RestingOrderID:  trade.RestingOrderID,
		IncomingOrderID: trade.IncomingOrderID,
		AggressorSide:   string(trade.AggressorSide),
		Timestamp:       trade.ExecutedAt.UnixMilli(),
	}
}

// engineError maps engine failures onto HTTP statuses.
func (h *OrderHandler) engineError(c *fiber.Ctx, err error, orderID string, inst engine.Instrument) error {
	status := fiber.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.Is(err, engine.ErrInvalidOrder), errors.Is(err, engine.ErrInvalidInstrument):
		status, message = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, engine.ErrUnknownMarket):
		status, message = fiber.StatusNotFound, err.Error()
	case errors.Is(err, engine.ErrMarketExists):
		status, message = fiber.StatusConflict, err.Error()
	case errors.Is(err, engine.ErrMarketHalted), errors.Is(err, engine.ErrEngineClosed):
		status, message = fiber.StatusServiceUnavailable, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, message = fiber.StatusServiceUnavailable, "Market busy, try again"
	}

	event := log.Warn()
	if status >= fiber.StatusInternalServerError {
		event = log.Error()
	}
	event.
		Err(err).
		Str("order_id", orderID).
		Str("market", inst.String()).
		Int("status", status).
		Msg("Engine request failed")

	return c.Status(status).JSON(models.ErrorResponse{Error: message})
}

func (h *OrderHandler) recordLatency(latency time.Duration) {
	h.latenciesMu.Lock()
	defer h.latenciesMu.Unlock()

	h.latencies = append(h.latencies, latency)

	// edge case: maintain rolling window by removing oldest measurements
	if len(h.latencies) > h.maxLatencies {
		removeCount := len(h.latencies) - h.maxLatencies
		h.latencies = h.latencies[removeCount:]
	}
}

func (h *OrderHandler) calculateLatencyPercentiles() (p50, p99, p999 float64) {
	h.latenciesMu.RLock()
	sorted := make([]time.Duration, len(h.latencies))
	copy(sorted, h.latencies)
	h.latenciesMu.RUnlock()

	if len(sorted) == 0 {
		return 0, 0, 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(q float64) float64 {
		idx := int(float64(len(sorted)) * q)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return float64(sorted[idx].Nanoseconds()) / 1e6
	}
	return at(0.50), at(0.99), at(0.999)
}

func (h *OrderHandler) calculateThroughput() float64 {
	uptime := time.Since(h.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&h.OrdersReceived)) / uptime
}

// buildOrder validates the request and turns it into an engine order.
func buildOrder(req *models.SubmitOrderRequest) (engine.Instrument, *engine.Order, error) {
	if strings.TrimSpace(req.Market) == "" {
		return engine.Instrument{}, nil, &ValidationError{Message: "Invalid order: market is required"}
	}
	inst, err := engine.ParseInstrument(req.Market)
	if err != nil {
		return engine.Instrument{}, nil, &ValidationError{Message: "Invalid order: market must look like BASE_QUOTE"}
	}

	side, err := engine.ParseSide(req.Side)
	if err != nil {
		return inst, nil, &ValidationError{Message: "Invalid order: side must be BID or ASK"}
	}
	orderType, err := engine.ParseOrderType(req.Type)
	if err != nil {
		return inst, nil, &ValidationError{Message: "Invalid order: type must be LIMIT or MARKET"}
	}
	if !req.Size.IsPositive() {
		return inst, nil, &ValidationError{Message: "Invalid order: size must be positive"}
	}

	var order *engine.Order
	switch orderType {
	case engine.TypeLimit:
		// edge case: price required for limit orders
		if req.Price == nil || !req.Price.IsPositive() {
			return inst, nil, &ValidationError{Message: "Invalid order: price must be positive for LIMIT orders"}
		}
		order, err = engine.NewLimitOrder(side, *req.Price, req.Size)
	case engine.TypeMarket:
		if req.Price != nil {
			return inst, nil, &ValidationError{Message: "Invalid order: MARKET orders take no price"}
		}
		order, err = engine.NewMarketOrder(side, req.Size)
	}
	if err != nil {
		return inst, nil, &ValidationError{Message: "Invalid order: " + err.Error()}
	}
	return inst, order, nil
}

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

package handlers

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"lob-engine/src/engine"
	"lob-engine/src/models"
)

const (
	defaultTradesLimit = 50
	maxTradesLimit     = 1000
)

func (h *OrderHandler) CreateMarket(c *fiber.Ctx) error {
	var req models.CreateMarketRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid request: malformed JSON",
		})
	}

	inst, err := engine.NewInstrument(req.Base, req.Quote)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid market: base and quote must be alphanumeric symbols",
		})
	}
	if err := h.Matcher.OpenMarket(inst); err != nil {
		return h.engineError(c, err, "", inst)
	}

	log.Info().
		Str("market", inst.String()).
		Str("ip", c.IP()).
		Msg("Market created")

	return c.Status(fiber.StatusCreated).JSON(marketResponse(inst))
}

func (h *OrderHandler) ListMarkets(c *fiber.Ctx) error {
	markets := h.Matcher.Markets()
	out := make([]models.MarketResponse, 0, len(markets))
	for _, inst := range markets {
		out = append(out, marketResponse(inst))
	}
	return c.Status(fiber.StatusOK).JSON(models.MarketsResponse{Markets: out})
}

func marketResponse(inst engine.Instrument) models.MarketResponse {
	return models.MarketResponse{
		Market: inst.String(),
		Base:   inst.Base,
		Quote:  inst.Quote,
	}
}

func (h *OrderHandler) GetTrades(c *fiber.Ctx) error {
	if h.History == nil {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error: "Trade history is disabled",
		})
	}

	inst, err := engine.ParseInstrument(c.Params("market"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{Error: err.Error()})
	}
	if !h.marketOpen(inst) {
		return h.engineError(c, engine.ErrUnknownMarket, "", inst)
	}

	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultTradesLimit)))
	if err != nil || limit <= 0 {
		limit = defaultTradesLimit
	}
	if limit > maxTradesLimit {
		limit = maxTradesLimit
	}

	trades, err := h.History.Recent(c.UserContext(), inst, limit)
	if err != nil {
		log.Error().
			Err(err).
			Str("market", inst.String()).
			Msg("Failed to read trade history")
		return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
			Error: "Internal server error",
		})
	}

	out := make([]models.TradeInfo, 0, len(trades))
	for _, trade := range trades {
		out = append(out, tradeInfo(trade))
	}
	return c.Status(fiber.StatusOK).JSON(models.TradesResponse{
		Market: inst.String(),
		Trades: out,
	})
}

func (h *OrderHandler) marketOpen(inst engine.Instrument) bool {
	for _, m := range h.Matcher.Markets() {
		if m == inst {
			return true
		}
	}
	return false
}

func (h *OrderHandler) HealthCheck(c *fiber.Ctx) error {
	markets, _, halted := h.bookTotals(c)

	status := "healthy"
	if halted > 0 {
		status = "degraded"
	}
	return c.Status(fiber.StatusOK).JSON(models.HealthResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.StartTime).Seconds()),
		Markets:       markets,
		HaltedMarkets: halted,
	})
}

func (h *OrderHandler) Metrics(c *fiber.Ctx) error {
	markets, resting, _ := h.bookTotals(c)
	p50, p99, p999 := h.calculateLatencyPercentiles()

	return c.Status(fiber.StatusOK).JSON(models.MetricsResponse{
		OrdersReceived:         atomic.LoadInt64(&h.OrdersReceived),
		OrdersMatched:          atomic.LoadInt64(&h.OrdersMatched),
		OrdersRejected:         atomic.LoadInt64(&h.OrdersRejected),
		OrdersInBook:           resting,
		TradesExecuted:         atomic.LoadInt64(&h.TradesExecuted),
		Markets:                markets,
		LatencyP50Ms:           p50,
		LatencyP99Ms:           p99,
		LatencyP999Ms:          p999,
		ThroughputOrdersPerSec: h.calculateThroughput(),
	})
}

// bookTotals sums the stats of every open market. A market that cannot
// answer is counted as halted.
func (h *OrderHandler) bookTotals(c *fiber.Ctx) (markets int, resting int64, halted int) {
	for _, inst := range h.Matcher.Markets() {
		markets++
		stats, err := h.Matcher.Stats(c.UserContext(), inst)
		if err != nil || stats.Halted {
			halted++
			continue
		}
		resting += int64(stats.RestingOrders)
	}
	return markets, resting, halted
}

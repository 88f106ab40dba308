package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderBook pairs the bid and ask books of one instrument and owns the
// matching algorithm for it. It is not safe for concurrent use; the engine
// serializes access through the market's worker.
type OrderBook struct {
	instrument Instrument
	bids       *Book
	asks       *Book

	sequence uint64
	halted   error
	now      func() time.Time
}

func NewOrderBook(instrument Instrument) *OrderBook {
	return &OrderBook{
		instrument: instrument,
		bids:       NewBook(SideBid),
		asks:       NewBook(SideAsk),
		now:        time.Now,
	}
}

func (ob *OrderBook) Instrument() Instrument { return ob.instrument }
func (ob *OrderBook) Bids() *Book            { return ob.bids }
func (ob *OrderBook) Asks() *Book            { return ob.asks }
func (ob *OrderBook) LastSequence() uint64   { return ob.sequence }

// Halted returns the internal failure that stopped this book, if any.
func (ob *OrderBook) Halted() error { return ob.halted }

// book returns the storage for side. Every routing decision goes through here
// with the side it is about, never a shared branch.
func (ob *OrderBook) book(side OrderSide) *Book {
	if side == SideBid {
		return ob.bids
	}
	return ob.asks
}

// Submit matches order against the opposite side and rests any limit
// remainder on the order's own side. Partial fills and unmatched market
// orders are reported in the outcome, not as errors.
func (ob *OrderBook) Submit(order *Order) (*MatchOutcome, error) {
	if ob.halted != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMarketHalted, ob.instrument, ob.halted)
	}
	if err := ob.validate(order); err != nil {
		return nil, err
	}
	order.submitted = true

	opposite := ob.book(order.Side.Opposite())
	executedAt := ob.now()
	trades := make([]Trade, 0)

	for level := range opposite.BestLevels() {
		if !crosses(order, level.Price()) {
			break
		}

		fills, filled, err := level.MatchAgainst(order)
		trades = append(trades, ob.stamp(fills, order.Side, executedAt)...)
		if err != nil {
			ob.halted = err
			return nil, fmt.Errorf("%w: %s: %w", ErrMarketHalted, ob.instrument, err)
		}
		opposite.RemoveEmpty(level.Price())
		if filled {
			break
		}
	}

	outcome := &MatchOutcome{
		OrderID:       order.ID,
		Trades:        trades,
		FilledSize:    order.Filled(),
		RemainingSize: order.Remaining(),
		FullyFilled:   order.IsFilled(),
	}

	switch order.Type {
	case TypeLimit:
		if !order.IsFilled() {
			if err := ob.book(order.Side).Add(order); err != nil {
				return nil, err
			}
			outcome.Rested = true
		}
	case TypeMarket:
		// edge case: whatever the opposite side could not cover is dropped,
		// a market order has no price to rest at
	}

	outcome.Status = statusOf(order, len(trades))
	return outcome, nil
}

func (ob *OrderBook) validate(order *Order) error {
	if order == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}
	if order.submitted {
		return fmt.Errorf("%w: order %s was already submitted", ErrInvalidOrder, order.ID)
	}
	if !order.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, order.Side)
	}
	if !order.Remaining().IsPositive() {
		return fmt.Errorf("%w: size must be positive", ErrInvalidOrder)
	}
	switch order.Type {
	case TypeLimit:
		if !order.price.IsPositive() {
			return fmt.Errorf("%w: price must be positive for LIMIT orders", ErrInvalidOrder)
		}
	case TypeMarket:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidOrder, order.Type)
	}
	return nil
}

// crosses reports whether order may trade at a level priced at levelPrice.
func crosses(order *Order, levelPrice decimal.Decimal) bool {
	limit, ok := order.Price()
	if !ok {
		return true
	}
	if order.Side == SideBid {
		return levelPrice.LessThanOrEqual(limit)
	}
	return levelPrice.GreaterThanOrEqual(limit)
}

func (ob *OrderBook) stamp(fills []Trade, aggressor OrderSide, executedAt time.Time) []Trade {
	for i := range fills {
		ob.sequence++
		fills[i].ID = uuid.New().String()
		fills[i].Instrument = ob.instrument
		fills[i].AggressorSide = aggressor
		fills[i].Sequence = ob.sequence
		fills[i].ExecutedAt = executedAt
	}
	return fills
}

func statusOf(order *Order, tradeCount int) OrderStatus {
	switch {
	case order.IsFilled():
		return StatusFilled
	case tradeCount > 0:
		return StatusPartialFill
	case order.Type == TypeMarket:
		return StatusUnfilled
	default:
		return StatusAccepted
	}
}

func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	return bestPrice(ob.bids)
}

func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	return bestPrice(ob.asks)
}

func bestPrice(b *Book) (decimal.Decimal, bool) {
	level, ok := b.Best()
	if !ok {
		return decimal.Decimal{}, false
	}
	return level.Price(), true
}

// Depth returns aggregated levels of side in price priority.
func (ob *OrderBook) Depth(side OrderSide, limit int) ([]DepthLevel, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, side)
	}
	return ob.book(side).Depth(limit), nil
}

func (ob *OrderBook) Stats() BookStats {
	stats := BookStats{
		Instrument:    ob.instrument,
		BidLevels:     ob.bids.Len(),
		AskLevels:     ob.asks.Len(),
		RestingOrders: ob.bids.OrderCount() + ob.asks.OrderCount(),
		LastSequence:  ob.sequence,
		Halted:        ob.halted != nil,
	}
	if bid, ok := ob.BestBid(); ok {
		stats.BestBid = &bid
	}
	if ask, ok := ob.BestAsk(); ok {
		stats.BestAsk = &ask
	}
	return stats
}

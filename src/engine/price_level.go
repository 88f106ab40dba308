package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceLevel holds the resting orders of one side at one exact price.
type PriceLevel struct {
	side   OrderSide
	price  decimal.Decimal
	orders []*Order // fifo ordering for time priority
}

func NewPriceLevel(side OrderSide, price decimal.Decimal) *PriceLevel {
	return &PriceLevel{side: side, price: price}
}

func (pl *PriceLevel) Price() decimal.Decimal { return pl.price }
func (pl *PriceLevel) Side() OrderSide        { return pl.side }
func (pl *PriceLevel) Len() int               { return len(pl.orders) }
func (pl *PriceLevel) IsEmpty() bool          { return len(pl.orders) == 0 }

// Orders returns a copy of the queue, oldest first.
func (pl *PriceLevel) Orders() []*Order {
	out := make([]*Order, len(pl.orders))
	copy(out, pl.orders)
	return out
}

func (pl *PriceLevel) Append(order *Order) error {
	price, ok := order.Price()
	if !ok {
		return fmt.Errorf("%w: market order cannot rest at a price level", ErrInvalidOrder)
	}
	if order.Side != pl.side || !price.Equal(pl.price) {
		return fmt.Errorf("%w: %s order at %s does not belong to %s level %s",
			ErrInvalidOrder, order.Side, price, pl.side, pl.price)
	}
	if order.IsFilled() {
		return fmt.Errorf("%w: filled order cannot rest", ErrInvalidOrder)
	}
	pl.orders = append(pl.orders, order)
	return nil
}

func (pl *PriceLevel) TotalVolume() decimal.Decimal {
	total := decimal.Zero
	for _, o := range pl.orders {
		total = total.Add(o.Remaining())
	}
	return total
}

// MatchAgainst fills incoming against the queue, oldest order first, until
// either incoming is filled or the level runs dry. Trades carry only price,
// size and the two order ids; the order book stamps the rest.
func (pl *PriceLevel) MatchAgainst(incoming *Order) ([]Trade, bool, error) {
	var trades []Trade
	consumed := 0
	defer func() { pl.dropHead(consumed) }()

	for consumed < len(pl.orders) && !incoming.IsFilled() {
		resting := pl.orders[consumed]
		// edge case: a drained order left at the head is skipped and dropped
		if resting.IsFilled() {
			consumed++
			continue
		}
		if resting.Remaining().IsNegative() {
			return trades, false, &OverFillError{
				OrderID:   resting.ID,
				Requested: decimal.Min(incoming.Remaining(), resting.Size()),
				Remaining: resting.Remaining(),
			}
		}

		size := decimal.Min(incoming.Remaining(), resting.Remaining())
		if err := resting.Reduce(size); err != nil {
			return trades, false, err
		}
		if err := incoming.Reduce(size); err != nil {
			return trades, false, err
		}

		trades = append(trades, Trade{
			Price:           pl.price,
			Size:            size,
			RestingOrderID:  resting.ID,
			IncomingOrderID: incoming.ID,
		})

		if resting.IsFilled() {
			consumed++
		}
	}

	return trades, incoming.IsFilled(), nil
}

func (pl *PriceLevel) dropHead(n int) {
	if n == 0 {
		return
	}
	clear(pl.orders[:n])
	pl.orders = pl.orders[n:]
	if len(pl.orders) == 0 {
		pl.orders = nil
	}
}

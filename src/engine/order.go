package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is one intent to trade. Identity, side, type and price are fixed at
// construction; only the remaining size changes, and only through Reduce.
type Order struct {
	ID        string
	Side      OrderSide
	Type      OrderType
	CreatedAt time.Time

	price     decimal.Decimal // limit orders only
	size      decimal.Decimal
	remaining decimal.Decimal
	submitted bool
}

func NewLimitOrder(side OrderSide, price, size decimal.Decimal) (*Order, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive for LIMIT orders", ErrInvalidOrder)
	}
	order, err := newOrder(side, TypeLimit, size)
	if err != nil {
		return nil, err
	}
	order.price = price
	return order, nil
}

func NewMarketOrder(side OrderSide, size decimal.Decimal) (*Order, error) {
	return newOrder(side, TypeMarket, size)
}

func newOrder(side OrderSide, orderType OrderType, size decimal.Decimal) (*Order, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, side)
	}
	if !size.IsPositive() {
		return nil, fmt.Errorf("%w: size must be positive", ErrInvalidOrder)
	}
	return &Order{
		ID:        uuid.New().String(),
		Side:      side,
		Type:      orderType,
		CreatedAt: time.Now(),
		size:      size,
		remaining: size,
	}, nil
}

// Price reports the limit price. Market orders carry none.
func (o *Order) Price() (decimal.Decimal, bool) {
	if o.Type != TypeLimit {
		return decimal.Decimal{}, false
	}
	return o.price, true
}

func (o *Order) Size() decimal.Decimal {
	return o.size
}

func (o *Order) Remaining() decimal.Decimal {
	return o.remaining
}

func (o *Order) Filled() decimal.Decimal {
	return o.size.Sub(o.remaining)
}

func (o *Order) IsFilled() bool {
	return o.remaining.IsZero()
}

// Reduce takes by off the remaining size.
func (o *Order) Reduce(by decimal.Decimal) error {
	if !by.IsPositive() {
		return fmt.Errorf("%w: fill size must be positive", ErrInvalidOrder)
	}
	if by.GreaterThan(o.remaining) {
		return &OverFillError{OrderID: o.ID, Requested: by, Remaining: o.remaining}
	}
	o.remaining = o.remaining.Sub(by)
	return nil
}

func (o *Order) String() string {
	if o.Type == TypeLimit {
		return fmt.Sprintf("%s %s %s/%s @ %s", o.ID, o.Side, o.remaining, o.size, o.price)
	}
	return fmt.Sprintf("%s %s %s/%s @ MARKET", o.ID, o.Side, o.remaining, o.size)
}

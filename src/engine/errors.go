package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidInstrument = errors.New("invalid instrument")
	ErrOverFill          = errors.New("order over-fill")
	ErrMarketExists      = errors.New("market already exists")
	ErrUnknownMarket     = errors.New("unknown market")
	ErrMarketHalted      = errors.New("market halted")
	ErrEngineClosed      = errors.New("engine closed")
)

// OverFillError is raised when a fill would take an order below zero. It is
// never expected from valid callers; the order book that hits it stops
// accepting orders.
type OverFillError struct {
	OrderID   string
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *OverFillError) Error() string {
	return fmt.Sprintf("order %s: fill of %s exceeds remaining %s", e.OrderID, e.Requested, e.Remaining)
}

func (e *OverFillError) Unwrap() error {
	return ErrOverFill
}

package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	SideBid OrderSide = "BID"
	SideAsk OrderSide = "ASK"
)

// Opposite returns the side an order of this side trades against.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

func (s OrderSide) Valid() bool {
	return s == SideBid || s == SideAsk
}

// ParseSide accepts BID/ASK and the BUY/SELL aliases, case-insensitively.
func ParseSide(s string) (OrderSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BID", "BUY":
		return SideBid, nil
	case "ASK", "SELL":
		return SideAsk, nil
	}
	return "", fmt.Errorf("%w: side must be BID or ASK", ErrInvalidOrder)
}

type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIMIT":
		return TypeLimit, nil
	case "MARKET":
		return TypeMarket, nil
	}
	return "", fmt.Errorf("%w: type must be LIMIT or MARKET", ErrInvalidOrder)
}

type OrderStatus string

const (
	StatusAccepted    OrderStatus = "ACCEPTED"
	StatusPartialFill OrderStatus = "PARTIAL_FILL"
	StatusFilled      OrderStatus = "FILLED"
	StatusUnfilled    OrderStatus = "UNFILLED"
)

// Instrument identifies one market, e.g. BTC quoted in USD.
type Instrument struct {
	Base  string
	Quote string
}

func NewInstrument(base, quote string) (Instrument, error) {
	inst := Instrument{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
	if !validSymbol(inst.Base) || !validSymbol(inst.Quote) {
		return Instrument{}, fmt.Errorf("%w: %q/%q", ErrInvalidInstrument, base, quote)
	}
	return inst, nil
}

// ParseInstrument reads the BASE_QUOTE text form. "/" and "-" are accepted as
// separators too.
func ParseInstrument(s string) (Instrument, error) {
	sep := strings.IndexAny(s, "_/-")
	if sep <= 0 || sep == len(s)-1 {
		return Instrument{}, fmt.Errorf("%w: %q", ErrInvalidInstrument, s)
	}
	return NewInstrument(s[:sep], s[sep+1:])
}

func (i Instrument) String() string {
	return i.Base + "_" + i.Quote
}

func validSymbol(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// Trade is one execution between a resting and an incoming order. Sequence is
// strictly increasing per instrument and is the ordering clients should rely
// on; trades from a single submit share an ExecutedAt.
type Trade struct {
	ID              string
	Instrument      Instrument
	Price           decimal.Decimal
	Size            decimal.Decimal
	RestingOrderID  string
	IncomingOrderID string
	AggressorSide   OrderSide
	Sequence        uint64
	ExecutedAt      time.Time
}

type MatchOutcome struct {
	OrderID       string
	Status        OrderStatus
	Trades        []Trade
	FilledSize    decimal.Decimal
	RemainingSize decimal.Decimal
	FullyFilled   bool
	Rested        bool
}

// DepthLevel is the aggregate resting volume at one price.
type DepthLevel struct {
	Price       decimal.Decimal
	TotalVolume decimal.Decimal
	Orders      int
}

type BookStats struct {
	Instrument    Instrument
	BestBid       *decimal.Decimal
	BestAsk       *decimal.Decimal
	BidLevels     int
	AskLevels     int
	RestingOrders int
	LastSequence  uint64
	Halted        bool
}

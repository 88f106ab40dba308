package engine

import (
	"fmt"
	"iter"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

const btreeDegree = 32

// Book is one side of one instrument. Levels are kept in a btree whose
// ordering puts the best price at the minimum: highest first for bids, lowest
// first for asks.
type Book struct {
	side   OrderSide
	levels *btree.BTreeG[*PriceLevel]
}

func NewBook(side OrderSide) *Book {
	less := func(a, b *PriceLevel) bool {
		return a.price.LessThan(b.price)
	}
	if side == SideBid {
		less = func(a, b *PriceLevel) bool {
			return a.price.GreaterThan(b.price)
		}
	}
	return &Book{
		side:   side,
		levels: btree.NewG[*PriceLevel](btreeDegree, less),
	}
}

func (b *Book) Side() OrderSide { return b.side }

// Add rests order at its limit price, creating the level on first use.
func (b *Book) Add(order *Order) error {
	if order.Side != b.side {
		return fmt.Errorf("%w: %s order routed to %s book", ErrInvalidOrder, order.Side, b.side)
	}
	price, ok := order.Price()
	if !ok {
		return fmt.Errorf("%w: market order cannot rest in the book", ErrInvalidOrder)
	}

	level, found := b.levels.Get(&PriceLevel{price: price})
	if !found {
		level = NewPriceLevel(b.side, price)
		if err := level.Append(order); err != nil {
			return err
		}
		b.levels.ReplaceOrInsert(level)
		return nil
	}
	return level.Append(order)
}

func (b *Book) Best() (*PriceLevel, bool) {
	return b.levels.Min()
}

func (b *Book) Level(price decimal.Decimal) (*PriceLevel, bool) {
	return b.levels.Get(&PriceLevel{price: price})
}

// BestLevels yields levels best price first. It is the walk the matching loop
// uses. Every iteration walks its own copy-on-write clone of the tree, so
// pruning drained levels while iterating does not disturb it.
func (b *Book) BestLevels() iter.Seq[*PriceLevel] {
	return func(yield func(*PriceLevel) bool) {
		b.levels.Clone().Ascend(func(level *PriceLevel) bool {
			return yield(level)
		})
	}
}

// RemoveEmpty prunes the level at price if it has no orders left.
func (b *Book) RemoveEmpty(price decimal.Decimal) bool {
	level, found := b.levels.Get(&PriceLevel{price: price})
	if !found || !level.IsEmpty() {
		return false
	}
	b.levels.Delete(level)
	return true
}

// Depth aggregates up to limit levels, best first. limit <= 0 means all.
func (b *Book) Depth(limit int) []DepthLevel {
	depth := make([]DepthLevel, 0)
	b.levels.Ascend(func(level *PriceLevel) bool {
		if limit > 0 && len(depth) >= limit {
			return false
		}
		if level.IsEmpty() {
			return true
		}
		depth = append(depth, DepthLevel{
			Price:       level.price,
			TotalVolume: level.TotalVolume(),
			Orders:      level.Len(),
		})
		return true
	})
	return depth
}

func (b *Book) Len() int {
	return b.levels.Len()
}

func (b *Book) IsEmpty() bool {
	return b.levels.Len() == 0
}

func (b *Book) OrderCount() int {
	n := 0
	b.levels.Ascend(func(level *PriceLevel) bool {
		n += level.Len()
		return true
	})
	return n
}

func (b *Book) Volume() decimal.Decimal {
	total := decimal.Zero
	b.levels.Ascend(func(level *PriceLevel) bool {
		total = total.Add(level.TotalVolume())
		return true
	})
	return total
}

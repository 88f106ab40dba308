package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultQueueSize   = 1024
	defaultTradeBuffer = 4096
	defaultSinkTimeout = 5 * time.Second
)

// Engine routes requests to one order book per instrument. Each market has
// its own worker goroutine, so a market processes one request at a time
// while different markets match in parallel.
type Engine struct {
	mu      sync.RWMutex
	markets map[Instrument]*market
	closed  bool

	t   *tomb.Tomb
	log zerolog.Logger

	sinks       []TradeSink
	sequences   SequenceSource
	batches     chan TradeBatch
	queueSize   int
	tradeBuffer int
	sinkTimeout time.Duration
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithTradeSink registers a collaborator that receives every trade batch.
func WithTradeSink(s TradeSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// SequenceSource reports the last trade sequence already issued for an
// instrument, so a reopened market continues numbering after it.
type SequenceSource func(inst Instrument) (uint64, error)

func WithSequenceSource(src SequenceSource) Option {
	return func(e *Engine) { e.sequences = src }
}

// WithQueueSize sets how many requests may wait on a market's worker.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithTradeBuffer sets how many trade batches may wait for the sinks.
func WithTradeBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.tradeBuffer = n
		}
	}
}

func WithSinkTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sinkTimeout = d
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		markets:     make(map[Instrument]*market),
		t:           new(tomb.Tomb),
		log:         zerolog.Nop(),
		queueSize:   defaultQueueSize,
		tradeBuffer: defaultTradeBuffer,
		sinkTimeout: defaultSinkTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.batches = make(chan TradeBatch, e.tradeBuffer)

	// The dispatcher lives as long as the engine, which also keeps the tomb
	// alive while no market is open.
	e.t.Go(e.dispatch)
	return e
}

// OpenMarket creates an empty order book for inst. Opening a market twice is
// an error.
func (e *Engine) OpenMarket(inst Instrument) error {
	if !validSymbol(inst.Base) || !validSymbol(inst.Quote) {
		return fmt.Errorf("%w: %q", ErrInvalidInstrument, inst.String())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if _, exists := e.markets[inst]; exists {
		return fmt.Errorf("%w: %s", ErrMarketExists, inst)
	}

	book := NewOrderBook(inst)
	if e.sequences != nil {
		last, err := e.sequences(inst)
		if err != nil {
			return fmt.Errorf("%s: last trade sequence: %w", inst, err)
		}
		book.sequence = last
	}

	m := newMarket(book, e.queueSize)
	e.markets[inst] = m
	e.t.Go(func() error {
		return m.run(e.t.Dying())
	})

	e.log.Info().
		Str("market", inst.String()).
		Uint64("last_sequence", book.sequence).
		Msg("Market opened")
	return nil
}

// Markets lists open instruments ordered by their text form.
func (e *Engine) Markets() []Instrument {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Instrument, 0, len(e.markets))
	for inst := range e.markets {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

func (e *Engine) lookup(inst Instrument) (*market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	m, ok := e.markets[inst]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, inst)
	}
	return m, nil
}

// Submit matches order in the market for inst and returns the outcome
// unchanged. ctx bounds only the wait for the market's queue: once the worker
// has taken the order the match runs to completion and its result is
// returned.
func (e *Engine) Submit(ctx context.Context, inst Instrument, order *Order) (*MatchOutcome, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}
	m, err := e.lookup(inst)
	if err != nil {
		return nil, err
	}

	var (
		outcome  *MatchOutcome
		matchErr error
	)
	err = m.do(ctx, func(ob *OrderBook) {
		outcome, matchErr = ob.Submit(order)
		if matchErr != nil {
			if errors.Is(matchErr, ErrOverFill) {
				e.log.Error().
					Err(matchErr).
					Str("market", inst.String()).
					Str("order_id", order.ID).
					Msg("Order book halted on internal inconsistency")
			}
			return
		}
		if len(outcome.Trades) > 0 {
			e.publish(TradeBatch{Instrument: inst, Trades: outcome.Trades})
		}
	})
	if err != nil {
		return nil, err
	}
	if matchErr != nil {
		return nil, matchErr
	}

	e.log.Debug().
		Str("market", inst.String()).
		Str("order_id", order.ID).
		Str("side", string(order.Side)).
		Str("type", string(order.Type)).
		Str("status", string(outcome.Status)).
		Int("trades", len(outcome.Trades)).
		Str("remaining", outcome.RemainingSize.String()).
		Msg("Order matched")

	return outcome, nil
}

// DepthSnapshot returns up to limit aggregated levels of one side in price
// priority. limit <= 0 returns every level.
func (e *Engine) DepthSnapshot(ctx context.Context, inst Instrument, side OrderSide, limit int) ([]DepthLevel, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, side)
	}
	m, err := e.lookup(inst)
	if err != nil {
		return nil, err
	}

	var depth []DepthLevel
	err = m.do(ctx, func(ob *OrderBook) {
		depth, _ = ob.Depth(side, limit)
	})
	if err != nil {
		return nil, err
	}
	return depth, nil
}

// BookSnapshot is both sides of one book taken in a single worker turn, so
// the levels and stats agree with each other.
type BookSnapshot struct {
	Stats BookStats
	Bids  []DepthLevel
	Asks  []DepthLevel
}

func (e *Engine) Snapshot(ctx context.Context, inst Instrument, limit int) (BookSnapshot, error) {
	m, err := e.lookup(inst)
	if err != nil {
		return BookSnapshot{}, err
	}

	var snap BookSnapshot
	err = m.do(ctx, func(ob *OrderBook) {
		snap = BookSnapshot{
			Stats: ob.Stats(),
			Bids:  ob.bids.Depth(limit),
			Asks:  ob.asks.Depth(limit),
		}
	})
	return snap, err
}

func (e *Engine) Stats(ctx context.Context, inst Instrument) (BookStats, error) {
	m, err := e.lookup(inst)
	if err != nil {
		return BookStats{}, err
	}

	var stats BookStats
	err = m.do(ctx, func(ob *OrderBook) {
		stats = ob.Stats()
	})
	return stats, err
}

// Close stops every market worker and the trade dispatcher and waits for
// them. Calls after the first are no-ops.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.t.Kill(nil)
	err := e.t.Wait()
	e.log.Info().Msg("Engine stopped")
	return err
}

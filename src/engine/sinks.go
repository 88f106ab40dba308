package engine

import (
	"context"
)

// TradeBatch is the set of trades produced by one submit, in sequence order.
type TradeBatch struct {
	Instrument Instrument
	Trades     []Trade
}

// TradeSink receives executed trades, e.g. to persist or broadcast them.
// Sinks run on the engine's dispatcher goroutine, never on a matching worker,
// and see batches of one market in sequence order.
type TradeSink interface {
	HandleTrades(ctx context.Context, batch TradeBatch) error
}

// TradeSinkFunc adapts a function to TradeSink.
type TradeSinkFunc func(ctx context.Context, batch TradeBatch) error

func (f TradeSinkFunc) HandleTrades(ctx context.Context, batch TradeBatch) error {
	return f(ctx, batch)
}

// publish hands a batch to the dispatcher. It blocks while the buffer is
// full, which pushes back on the market's worker instead of losing trades.
func (e *Engine) publish(batch TradeBatch) {
	if len(e.sinks) == 0 {
		return
	}
	select {
	case e.batches <- batch:
	case <-e.t.Dying():
		e.log.Warn().
			Str("market", batch.Instrument.String()).
			Int("trades", len(batch.Trades)).
			Msg("Engine stopping, trade batch not delivered to sinks")
	}
}

func (e *Engine) dispatch() error {
	for {
		select {
		case <-e.t.Dying():
			// edge case: flush what the workers queued before they stopped
			e.waitWorkers()
			for {
				select {
				case batch := <-e.batches:
					e.deliver(batch)
				default:
					return nil
				}
			}
		case batch := <-e.batches:
			e.deliver(batch)
		}
	}
}

func (e *Engine) waitWorkers() {
	e.mu.RLock()
	markets := make([]*market, 0, len(e.markets))
	for _, m := range e.markets {
		markets = append(markets, m)
	}
	e.mu.RUnlock()

	for _, m := range markets {
		<-m.stopped
	}
}

func (e *Engine) deliver(batch TradeBatch) {
	for _, sink := range e.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), e.sinkTimeout)
		err := sink.HandleTrades(ctx, batch)
		cancel()
		if err != nil {
			e.log.Error().
				Err(err).
				Str("market", batch.Instrument.String()).
				Uint64("first_sequence", batch.Trades[0].Sequence).
				Int("trades", len(batch.Trades)).
				Msg("Trade sink failed")
		}
	}
}

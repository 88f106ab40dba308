package engine

import "context"

type request struct {
	fn   func(*OrderBook)
	done chan struct{}
}

// market is the serialization point of one instrument: only its worker
// touches the order book.
type market struct {
	book     *OrderBook
	requests chan request
	stopped  chan struct{}
}

func newMarket(book *OrderBook, queueSize int) *market {
	return &market{
		book:     book,
		requests: make(chan request, queueSize),
		stopped:  make(chan struct{}),
	}
}

func (m *market) run(dying <-chan struct{}) error {
	defer close(m.stopped)
	for {
		select {
		case <-dying:
			return nil
		case req := <-m.requests:
			req.fn(m.book)
			close(req.done)
		}
	}
}

// do runs fn on the worker and waits for it. A request the worker has taken
// always completes; ErrEngineClosed means fn never ran.
func (m *market) do(ctx context.Context, fn func(*OrderBook)) error {
	req := request{fn: fn, done: make(chan struct{})}

	select {
	case m.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrEngineClosed
	}

	select {
	case <-req.done:
		return nil
	case <-m.stopped:
		// edge case: the worker may have finished this request on its way out
		select {
		case <-req.done:
			return nil
		default:
			return ErrEngineClosed
		}
	}
}

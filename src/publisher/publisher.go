package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"lob-engine/src/engine"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher streams executed trades to a Kafka topic, one message per trade
// keyed by market so each market stays on one partition in sequence order.
type Publisher struct {
	writer messageWriter
	topic  string
}

func New(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic: topic,
	}
}

// TradeEvent is the wire form of one trade.
type TradeEvent struct {
	TradeID         string          `json:"trade_id"`
	Market          string          `json:"market"`
	Sequence        uint64          `json:"sequence"`
	Price           decimal.Decimal `json:"price"`
	Size            decimal.Decimal `json:"size"`
	RestingOrderID  string          `json:"resting_order_id"`
	IncomingOrderID string          `json:"incoming_order_id"`
	AggressorSide   string          `json:"aggressor_side"`
	ExecutedAt      time.Time       `json:"executed_at"`
}

func newTradeEvent(tr engine.Trade) TradeEvent {
	return TradeEvent{
		TradeID:         tr.ID,
		Market:          tr.Instrument.String(),
		Sequence:        tr.Sequence,
		Price:           tr.Price,
		Size:            tr.Size,
		RestingOrderID:  tr.RestingOrderID,
		IncomingOrderID: tr.IncomingOrderID,
		AggressorSide:   string(tr.AggressorSide),
		ExecutedAt:      tr.ExecutedAt.UTC(),
	}
}

// HandleTrades sends the whole batch in one write.
func (p *Publisher) HandleTrades(ctx context.Context, batch engine.TradeBatch) error {
	key := []byte(batch.Instrument.String())
	msgs := make([]kafka.Message, 0, len(batch.Trades))
	for _, tr := range batch.Trades {
		value, err := json.Marshal(newTradeEvent(tr))
		if err != nil {
			return fmt.Errorf("encode trade %d: %w", tr.Sequence, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   key,
			Value: value,
			Headers: []kafka.Header{
				{Key: "sequence", Value: []byte(fmt.Sprint(tr.Sequence))},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d trades of %s to %s: %w", len(msgs), batch.Instrument, p.topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

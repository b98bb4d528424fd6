// Package kafka publishes market notifications with kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"

	"ixtrade/domain/market"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes events to <prefix>orderbook, <prefix>trades,
// <prefix>orders and <prefix>ticker, keyed by pair so each pair stays ordered in its partition.
type Producer struct {
	writer MessageWriter
	prefix string
}

func NewProducer(brokers []string, prefix string) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, prefix)
}

func NewProducerWithWriter(w MessageWriter, prefix string) *Producer {
	return &Producer{writer: w, prefix: prefix}
}

// Topic returns the topic an event kind is written to.
func (p *Producer) Topic(kind market.EventKind) string {
	switch kind {
	case market.EventTrade:
		return p.prefix + "trades"
	case market.EventOrder:
		return p.prefix + "orders"
	case market.EventTicker:
		return p.prefix + "ticker"
	default:
		return p.prefix + "orderbook"
	}
}

func (p *Producer) Name() string { return "kafka" }

// Publish writes a batch of events in one call.
func (p *Producer) Publish(ctx context.Context, events []market.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for i := range events {
		ev := &events[i]
		value, err := json.Marshal(ev)
		if err != nil {
			return errors.Wrapf(err, "encode %s event", ev.Kind)
		}
		msgs = append(msgs, kafka.Message{
			Topic: p.Topic(ev.Kind),
			Key:   []byte(ev.Pair),
			Value: value,
			Time:  ev.Time,
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

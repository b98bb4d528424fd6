package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"

	"ixtrade/domain/market"
)

// submission is the message the gateway consumes. The key is the trade id,
// so a redelivered attempt is recognisable downstream.
type submission struct {
	V         int          `json:"v"`
	Type      string       `json:"type"`
	TradeID   string       `json:"trade_id"`
	Trade     market.Trade `json:"trade"`
	Submitted time.Time    `json:"submitted_at"`
}

// KafkaSubmitter hands trades to the settlement gateway through a Kafka
// topic. The receipt is topic/partition/offset of the acknowledged write.
type KafkaSubmitter struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

func NewKafkaSubmitter(brokers []string, topic string) (*KafkaSubmitter, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "settlement producer")
	}
	return WithProducer(producer, topic), nil
}

// WithProducer wraps an existing producer; used by tests with sarama mocks.
func WithProducer(p sarama.SyncProducer, topic string) *KafkaSubmitter {
	return &KafkaSubmitter{producer: p, topic: topic, now: time.Now}
}

func (k *KafkaSubmitter) Settle(ctx context.Context, t market.Trade) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	payload, err := json.Marshal(submission{
		V:         1,
		Type:      "trade.settle",
		TradeID:   t.ID,
		Trade:     t,
		Submitted: k.now().UTC(),
	})
	if err != nil {
		return "", err
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(t.ID),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return "", errors.Wrapf(err, "submit trade %s", t.ID)
	}
	return fmt.Sprintf("%s/%d/%d", k.topic, partition, offset), nil
}

func (k *KafkaSubmitter) Close() error {
	return k.producer.Close()
}

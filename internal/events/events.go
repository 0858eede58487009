// Package events publishes payment lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/iliamunaev/card-settlement/internal/model"
)

// Publisher delivers payment events. Delivery is best effort: callers log
// failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, model.Event) error { return nil }
func (Nop) Close() error                               { return nil }

// KafkaConfig holds producer settings.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Timeout time.Duration // per-send; 0 keeps the sarama default
}

// Kafka publishes events as JSON to a single topic, keyed by transaction ID
// so all events of one payment land on the same partition.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*Kafka)(nil)
)

// ProducerConfig returns the sarama configuration used for event delivery.
func ProducerConfig(cfg KafkaConfig) *sarama.Config {
	c := sarama.NewConfig()
	c.ClientID = "card-settlement"
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Retry.Max = 3
	c.Producer.Return.Successes = true
	if cfg.Timeout > 0 {
		c.Producer.Timeout = cfg.Timeout
	}
	return c
}

// DialKafka connects a sync producer to cfg.Brokers.
func DialKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, ProducerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("kafka: create producer: %w", err)
	}
	return NewKafka(producer, cfg.Topic), nil
}

// NewKafka wraps an existing producer. The publisher owns it.
func NewKafka(producer sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic}
}

// Publish sends ev and waits for the broker acknowledgement or for ctx to
// end, whichever comes first. A send abandoned on ctx may still be delivered
// later; it is bounded by the producer timeout.
func (k *Kafka) Publish(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", ev.Type, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.TransactionID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(ev.Type)},
		},
	}
	sent := make(chan error, 1)
	go func() {
		_, _, err := k.producer.SendMessage(msg)
		sent <- err
	}()
	select {
	case err := <-sent:
		if err != nil {
			return fmt.Errorf("kafka: send %s for %s: %w", ev.Type, ev.TransactionID, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kafka: send %s for %s: %w", ev.Type, ev.TransactionID, ctx.Err())
	}
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}

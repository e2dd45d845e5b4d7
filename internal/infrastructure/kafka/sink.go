package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"

	"github.com/segmentio/kafka-go"
)

// Sink writes book updates to a topic keyed by symbol, so one symbol always
// lands on one partition and keeps its order.
type Sink struct {
	writer *kafka.Writer
}

func NewSink(brokers []string, topic string, batchTimeout time.Duration) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	return &Sink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: batchTimeout,
		},
	}, nil
}

func (s *Sink) Name() string {
	return "kafka"
}

func (s *Sink) Publish(ctx context.Context, update *marketdata.BookUpdate) error {
	msg, err := newMessage(update)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", update.Symbol, err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.writer.Close()
}

func newMessage(update *marketdata.BookUpdate) (kafka.Message, error) {
	value, err := json.Marshal(update)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal update: %w", err)
	}
	return kafka.Message{
		Key:   []byte(update.Symbol),
		Value: value,
		Time:  update.PublishedAt,
		Headers: []kafka.Header{
			{Key: "message-id", Value: []byte(update.ID.String())},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}

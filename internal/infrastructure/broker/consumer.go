package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NumberChiffre/SimpleLOBStream/internal/config"
	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/feed"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Consumer is a feed source reading relayed records of one symbol from the
// records exchange. The queue is bound with the symbol as routing key.
type Consumer struct {
	cfg    config.RabbitMQConfig
	symbol string
	logger *logrus.Entry
}

// NewConsumer prepares a consumer for the given configuration.
func NewConsumer(cfg config.RabbitMQConfig, symbol string, logger *logrus.Logger) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if cfg.RecordsExchange == "" {
		return nil, errors.New("rabbitmq records exchange is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &Consumer{
		cfg:    cfg,
		symbol: strings.ToUpper(symbol),
		logger: logger.WithFields(logrus.Fields{"component": "feed", "source": "rabbitmq", "symbol": symbol}),
	}, nil
}

// RequestSnapshot has nothing to ask: the producer relays full books, so the
// next record is a snapshot.
func (c *Consumer) RequestSnapshot(context.Context) error {
	c.logger.Debug("snapshot requested, waiting for the next relayed book")
	return nil
}

// Run consumes until ctx is done, reconnecting after a fixed delay.
func (c *Consumer) Run(ctx context.Context, out chan<- marketdata.FeedMessage) error {
	for {
		err := c.session(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.WithError(err).Warn("rabbitmq session ended")
		select {
		case out <- marketdata.FeedMessage{Signal: marketdata.SignalDisconnect, Err: fmt.Errorf("%w: %v", feed.ErrTransportLost, err)}:
		case <-ctx.Done():
			return nil
		}
		metrics.FeedReconnectsTotal.WithLabelValues("rabbitmq").Inc()

		t := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (c *Consumer) session(ctx context.Context, out chan<- marketdata.FeedMessage) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.cfg.RecordsExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.cfg.RecordsExchange, err)
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, c.symbol, c.cfg.RecordsExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", queue.Name, c.cfg.RecordsExchange, err)
	}
	prefetch := c.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consume: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	c.logger.WithField("exchange", c.cfg.RecordsExchange).Info("rabbitmq consumer started")
	select {
	case out <- marketdata.FeedMessage{Signal: marketdata.SignalConnect}:
	case <-ctx.Done():
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			msg, ok := c.handleDelivery(&delivery)
			if !ok {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				_ = delivery.Nack(false, true)
				return nil
			}
		}
	}
}

// handleDelivery turns a delivery into a feed message acked by the pipeline.
// Undecodable deliveries are rejected without requeue.
func (c *Consumer) handleDelivery(delivery *amqp.Delivery) (marketdata.FeedMessage, bool) {
	rec, err := decodeRecord(delivery.Body)
	if err != nil {
		metrics.RecordsMalformedTotal.WithLabelValues(c.symbol).Inc()
		c.logger.WithError(err).Warn("failed to process message")
		_ = delivery.Nack(false, false)
		return marketdata.FeedMessage{}, false
	}
	return marketdata.FeedMessage{
		Record: rec,
		Ack: func() {
			if err := delivery.Ack(false); err != nil {
				c.logger.WithError(err).Warn("failed to ack delivery")
			}
		},
	}, true
}

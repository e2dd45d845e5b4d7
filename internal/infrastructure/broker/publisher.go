package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher writes JSON messages to one exchange, routed by symbol. It serves
// the server as an update sink and the producer as the record relay.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	mode     uint8
	logger   *logrus.Entry
	mu       sync.Mutex
}

// NewPublisher dials url and declares exchange with the given kind.
// Persistent publishing is used for records, transient for book updates.
func NewPublisher(url, exchange, kind string, persistent bool, logger *logrus.Logger) (*Publisher, error) {
	if exchange == "" {
		return nil, errors.New("exchange name cannot be empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, kind, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}
	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		mode:     mode,
		logger:   logger.WithFields(logrus.Fields{"component": "rabbitmq_publisher", "exchange": exchange}),
	}, nil
}

func (p *Publisher) Name() string {
	return "rabbitmq"
}

// Publish sends a book update.
func (p *Publisher) Publish(ctx context.Context, update *marketdata.BookUpdate) error {
	return p.publish(ctx, update.Symbol, update.ID.String(), update)
}

// PublishRecord relays a feed record.
func (p *Publisher) PublishRecord(ctx context.Context, rec *marketdata.RawRecord) error {
	msg := NewRecordMessage(rec)
	return p.publish(ctx, rec.Symbol, msg.ID.String(), msg)
}

func (p *Publisher) publish(ctx context.Context, routingKey, id string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: p.mode,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, fmt.Errorf("close rabbitmq channel: %w", err))
	}
	if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, fmt.Errorf("close rabbitmq connection: %w", err))
	}
	return errors.Join(errs...)
}

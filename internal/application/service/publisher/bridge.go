// Package publisher hands book views to the outbound sinks without letting
// slow consumers stall book maintenance.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/book"
	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/interfaces"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrPublishDropped = errors.New("publish dropped")

// Mode is the publish cadence.
type Mode string

const (
	// ModeEvent publishes after every book change and sync transition.
	ModeEvent Mode = "event"
	// ModeInterval publishes the latest view on a timer when it changed.
	ModeInterval Mode = "interval"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeEvent, "":
		return ModeEvent, nil
	case ModeInterval:
		return ModeInterval, nil
	default:
		return "", fmt.Errorf("unsupported publish mode: %q", raw)
	}
}

const (
	defaultQueueSize    = 1024
	defaultOfferTimeout = 50 * time.Millisecond
	defaultSinkTimeout  = 2 * time.Second
)

type Options struct {
	QueueSize    int
	OfferTimeout time.Duration
	SinkTimeout  time.Duration
	// Depth is the number of levels per side carried in each message.
	// Zero leaves depth out.
	Depth int
}

// Bridge is a bounded queue between the pipelines and the sinks. Offer is
// called from pipeline goroutines, Run drains on its own goroutine.
type Bridge struct {
	sinks  []interfaces.Sink
	opts   Options
	queue  chan *marketdata.BookUpdate
	logger *logrus.Entry

	now   func() time.Time
	newID func() uuid.UUID
}

func NewBridge(sinks []interfaces.Sink, opts Options, logger *logrus.Logger) *Bridge {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.OfferTimeout <= 0 {
		opts.OfferTimeout = defaultOfferTimeout
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = defaultSinkTimeout
	}
	if opts.Depth < 0 {
		opts.Depth = 0
	}
	return &Bridge{
		sinks:  sinks,
		opts:   opts,
		queue:  make(chan *marketdata.BookUpdate, opts.QueueSize),
		logger: logger.WithField("component", "publisher"),
		now:    time.Now,
		newID:  uuid.New,
	}
}

// Publish builds the message for view and offers it to the queue.
func (b *Bridge) Publish(ctx context.Context, symbol string, view book.View) error {
	return b.Offer(ctx, BuildUpdate(symbol, view, b.opts.Depth, b.newID(), b.now().UTC()))
}

// Offer enqueues update, waiting at most OfferTimeout for room.
func (b *Bridge) Offer(ctx context.Context, update *marketdata.BookUpdate) error {
	select {
	case b.queue <- update:
		return nil
	default:
	}

	timer := time.NewTimer(b.opts.OfferTimeout)
	defer timer.Stop()
	select {
	case b.queue <- update:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		metrics.PublishDroppedTotal.WithLabelValues("queue").Inc()
		b.logger.WithFields(logrus.Fields{
			"symbol":   update.Symbol,
			"sequence": update.Sequence,
		}).Warn("publish queue full, dropping update")
		return ErrPublishDropped
	}
}

// Run pushes queued updates to every sink until ctx is done. On shutdown
// it flushes what is already queued and closes the sinks.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.flush()
			return b.close()
		case update := <-b.queue:
			b.deliver(ctx, update)
		}
	}
}

func (b *Bridge) flush() {
	for {
		select {
		case update := <-b.queue:
			b.deliver(context.Background(), update)
		default:
			return
		}
	}
}

func (b *Bridge) deliver(ctx context.Context, update *marketdata.BookUpdate) {
	for _, sink := range b.sinks {
		pushCtx, cancel := context.WithTimeout(ctx, b.opts.SinkTimeout)
		err := sink.Publish(pushCtx, update)
		cancel()
		if err != nil {
			metrics.PublishDroppedTotal.WithLabelValues("sink").Inc()
			b.logger.WithError(err).WithFields(logrus.Fields{
				"sink":     sink.Name(),
				"symbol":   update.Symbol,
				"sequence": update.Sequence,
			}).Warn("sink publish failed")
			continue
		}
		metrics.PublishTotal.WithLabelValues(sink.Name()).Inc()
	}
}

func (b *Bridge) close() error {
	var errs []error
	for _, sink := range b.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// BuildUpdate renders view as an outbound message. An unsynced view keeps
// best prices, sizes and spread null and carries no depth.
func BuildUpdate(symbol string, view book.View, depth int, id uuid.UUID, at time.Time) *marketdata.BookUpdate {
	update := &marketdata.BookUpdate{
		ID:          id,
		Symbol:      symbol,
		Sequence:    view.Sequence,
		Synced:      view.Synced,
		PublishedAt: at,
	}
	if !view.Synced {
		return update
	}
	if view.Bid != nil {
		update.BestBidPrice = decimalPtr(view.Bid.Price)
		update.BestBidSize = decimalPtr(view.Bid.Size)
	}
	if view.Ask != nil {
		update.BestAskPrice = decimalPtr(view.Ask.Price)
		update.BestAskSize = decimalPtr(view.Ask.Size)
	}
	if view.Spread != nil {
		update.Spread = decimalPtr(*view.Spread)
	}
	if !view.ExchangeTime.IsZero() {
		ts := view.ExchangeTime.UTC()
		update.ExchangeTime = &ts
	}
	if depth > 0 {
		update.Depth = &marketdata.Depth{
			Bids: head(view.Depth.Bids, depth),
			Asks: head(view.Depth.Asks, depth),
		}
	}
	return update
}

func head(levels []marketdata.PriceLevel, n int) []marketdata.PriceLevel {
	if len(levels) > n {
		levels = levels[:n]
	}
	out := make([]marketdata.PriceLevel, len(levels))
	copy(out, levels)
	return out
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

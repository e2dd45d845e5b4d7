package marketdata

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NumberChiffre/SimpleLOBStream/internal/application/service/normalizer"
	"github.com/NumberChiffre/SimpleLOBStream/internal/application/service/publisher"
	"github.com/NumberChiffre/SimpleLOBStream/internal/application/service/reconcile"
	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/book"
	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/interfaces"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/metrics"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrNilSource = errors.New("feed source is nil")

// Publisher receives views after book changes.
type Publisher interface {
	Publish(ctx context.Context, symbol string, view book.View) error
}

const (
	defaultFeedBuffer      = 256
	defaultTickInterval    = time.Second
	defaultPublishInterval = 100 * time.Millisecond
)

type PipelineConfig struct {
	Symbol          string
	Mode            publisher.Mode
	PublishInterval time.Duration
	TickInterval    time.Duration
	FeedBuffer      int
	// ViewDepth bounds the levels kept per side in published views; zero
	// keeps every level.
	ViewDepth int
	Reconcile reconcile.Options
}

// Pipeline maintains the book of one symbol. Its loop goroutine is the only
// writer of the book and the controller; readers use Latest.
type Pipeline struct {
	cfg    PipelineConfig
	source interfaces.FeedSource
	pub    Publisher
	logger *logrus.Entry

	book   *book.State
	ctrl   *reconcile.Controller
	latest atomic.Pointer[book.View]
	dirty  bool
	// inFrame is set while the rest of a venue frame is outstanding.
	inFrame bool
}

func NewPipeline(cfg PipelineConfig, source interfaces.FeedSource, pub Publisher, logger *logrus.Logger) (*Pipeline, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if cfg.Mode == "" {
		cfg.Mode = publisher.ModeEvent
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = defaultPublishInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.FeedBuffer <= 0 {
		cfg.FeedBuffer = defaultFeedBuffer
	}
	st := book.New()
	p := &Pipeline{
		cfg:    cfg,
		source: source,
		pub:    pub,
		logger: logger.WithFields(logrus.Fields{"component": "pipeline", "symbol": cfg.Symbol}),
		book:   st,
		ctrl:   reconcile.New(cfg.Symbol, st, source, cfg.Reconcile, logger),
	}
	initial := st.View(cfg.ViewDepth)
	p.latest.Store(&initial)
	return p, nil
}

func (p *Pipeline) Symbol() string {
	return p.cfg.Symbol
}

// Latest returns the last published view.
func (p *Pipeline) Latest() book.View {
	return *p.latest.Load()
}

func (p *Pipeline) State() reconcile.State {
	return p.ctrl.State()
}

// Run starts the source and the book loop and blocks until ctx is done or
// the source fails.
func (p *Pipeline) Run(ctx context.Context) error {
	feed := make(chan marketdata.FeedMessage, p.cfg.FeedBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.source.Run(gctx, feed)
	})
	g.Go(func() error {
		return p.loop(gctx, feed)
	})
	return g.Wait()
}

func (p *Pipeline) loop(ctx context.Context, feed <-chan marketdata.FeedMessage) error {
	tick := time.NewTicker(p.cfg.TickInterval)
	defer tick.Stop()

	var publishC <-chan time.Time
	if p.cfg.Mode == publisher.ModeInterval {
		publishTicker := time.NewTicker(p.cfg.PublishInterval)
		defer publishTicker.Stop()
		publishC = publishTicker.C
	}

	p.logger.WithField("mode", string(p.cfg.Mode)).Info("pipeline started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopped")
			return nil
		case msg := <-feed:
			p.Handle(ctx, msg)
		case now := <-tick.C:
			p.ctrl.Tick(ctx, now)
		case <-publishC:
			p.publishTick(ctx)
		}
	}
}

// Handle processes one inbound message. It is called by the loop only.
func (p *Pipeline) Handle(ctx context.Context, msg marketdata.FeedMessage) {
	if msg.Ack != nil {
		defer msg.Ack()
	}
	prev := p.ctrl.State()
	changed := false
	switch msg.Signal {
	case marketdata.SignalConnect:
		p.ctrl.Connect(ctx)
	case marketdata.SignalDisconnect:
		p.ctrl.Disconnect(msg.Err)
	case marketdata.SignalReset:
		p.ctrl.Reset(ctx)
	case "":
		if msg.Record != nil {
			changed = p.handleRecord(ctx, msg.Record)
		}
	default:
		p.logger.WithField("signal", string(msg.Signal)).Warn("unknown signal")
	}
	if changed || p.ctrl.State() != prev {
		p.dirty = true
	}
	p.inFrame = msg.More
	if !p.inFrame && p.cfg.Mode == publisher.ModeEvent {
		p.flush(ctx)
	}
}

// publishTick runs on the interval timer. A half-applied frame waits for
// the next tick.
func (p *Pipeline) publishTick(ctx context.Context) {
	if p.inFrame {
		return
	}
	p.flush(ctx)
}

func (p *Pipeline) handleRecord(ctx context.Context, rec *marketdata.RawRecord) bool {
	if rec.Symbol != "" && !strings.EqualFold(rec.Symbol, p.cfg.Symbol) {
		p.logger.WithField("record_symbol", rec.Symbol).Debug("record for another symbol skipped")
		return false
	}
	metrics.RecordsTotal.WithLabelValues(p.cfg.Symbol).Inc()
	if normalizer.IsReset(*rec) {
		p.ctrl.Reset(ctx)
		return false
	}
	ev, err := normalizer.Normalize(*rec)
	if err != nil {
		metrics.RecordsMalformedTotal.WithLabelValues(p.cfg.Symbol).Inc()
		p.logger.WithError(err).Warn("record dropped")
		return false
	}
	return p.ctrl.Handle(ctx, ev)
}

func (p *Pipeline) flush(ctx context.Context) {
	if !p.dirty {
		return
	}
	p.dirty = false
	view := p.book.View(p.cfg.ViewDepth)
	p.latest.Store(&view)
	if p.pub == nil {
		return
	}
	if err := p.pub.Publish(ctx, p.cfg.Symbol, view); err != nil {
		p.logger.WithError(err).Debug("view not published")
	}
}

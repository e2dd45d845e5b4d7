package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/metrics"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPingInterval = 15 * time.Second
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultBackoffMin   = 500 * time.Millisecond
	defaultBackoffMax   = 15 * time.Second
	defaultFrameBuffer  = 256
)

type WebSocketOptions struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	BackoffMin time.Duration
	BackoffMax time.Duration
	// MaxAttempts stops Run after that many consecutive failed dials.
	// Zero retries forever.
	MaxAttempts int

	FrameBuffer int
}

func (o WebSocketOptions) withDefaults() WebSocketOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = defaultBackoffMin
	}
	if o.BackoffMax < o.BackoffMin {
		o.BackoffMax = defaultBackoffMax
		if o.BackoffMax < o.BackoffMin {
			o.BackoffMax = o.BackoffMin
		}
	}
	if o.FrameBuffer <= 0 {
		o.FrameBuffer = defaultFrameBuffer
	}
	return o
}

// WebSocketSource keeps a websocket session to one venue stream alive and
// reports every (re)connect and loss to the pipeline.
type WebSocketSource struct {
	url     string
	symbol  string
	codec   Codec
	fetcher SnapshotFetcher
	opts    WebSocketOptions
	dialer  *websocket.Dialer
	logger  *logrus.Entry

	snapshotReq chan struct{}
}

// NewWebSocketSource builds a source for symbol. fetcher may be nil when the
// codec requests snapshots over the socket.
func NewWebSocketSource(url, symbol string, codec Codec, fetcher SnapshotFetcher, opts WebSocketOptions, logger *logrus.Logger) (*WebSocketSource, error) {
	if url == "" {
		return nil, errors.New("websocket url is required")
	}
	if codec == nil {
		return nil, errors.New("websocket codec is required")
	}
	return &WebSocketSource{
		url:         url,
		symbol:      symbol,
		codec:       codec,
		fetcher:     fetcher,
		opts:        opts.withDefaults(),
		dialer:      websocket.DefaultDialer,
		logger:      logger.WithFields(logrus.Fields{"component": "feed", "source": "websocket", "symbol": symbol}),
		snapshotReq: make(chan struct{}, 1),
	}, nil
}

// RequestSnapshot queues a request for the session loop. Requests made while
// one is already queued collapse into it.
func (s *WebSocketSource) RequestSnapshot(context.Context) error {
	select {
	case s.snapshotReq <- struct{}{}:
	default:
	}
	return nil
}

func (s *WebSocketSource) Run(ctx context.Context, out chan<- marketdata.FeedMessage) error {
	backoff := s.opts.BackoffMin
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if s.opts.MaxAttempts > 0 && failures >= s.opts.MaxAttempts {
				return fmt.Errorf("dial %s: giving up after %d attempts: %w", s.url, failures, err)
			}
			s.logger.WithError(err).WithField("backoff", backoff.String()).Warn("dial failed")
			metrics.FeedReconnectsTotal.WithLabelValues("websocket").Inc()
			sleepWithJitter(ctx, backoff)
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}

		failures = 0
		backoff = s.opts.BackoffMin
		s.logger.WithField("url", s.url).Info("connected")
		if !emit(ctx, out, marketdata.FeedMessage{Signal: marketdata.SignalConnect}) {
			_ = conn.Close()
			return nil
		}

		err = s.session(ctx, conn, out)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		cause := ErrTransportLost
		if err != nil {
			cause = fmt.Errorf("%w: %v", ErrTransportLost, err)
		}
		emit(ctx, out, marketdata.FeedMessage{Signal: marketdata.SignalDisconnect, Err: cause})
		metrics.FeedReconnectsTotal.WithLabelValues("websocket").Inc()
		sleepWithJitter(ctx, backoff)
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

// session runs one connection. Frames are read on a helper goroutine; this
// goroutine alone drives the codec.
func (s *WebSocketSource) session(ctx context.Context, conn *websocket.Conn, out chan<- marketdata.FeedMessage) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	write := func(frame []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, frame)
	}

	frames, err := s.codec.Open(s.symbol)
	if err != nil {
		return fmt.Errorf("open codec: %w", err)
	}
	for _, frame := range frames {
		if err := write(frame); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	inbound := make(chan []byte, s.opts.FrameBuffer)
	readErr := make(chan error, 1)
	go func() {
		defer close(inbound)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
			typ, frame, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			if (typ != websocket.TextMessage && typ != websocket.BinaryMessage) || len(frame) == 0 {
				continue
			}
			select {
			case inbound <- frame:
			case <-sctx.Done():
				return
			}
		}
	}()
	go func() {
		<-sctx.Done()
		_ = conn.Close()
	}()
	go s.keepalive(sctx, conn)

	snapshots := make(chan []byte, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-inbound:
			if !ok {
				select {
				case err := <-readErr:
					if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("read: %w", err)
				default:
					return nil
				}
			}
			msgs, err := s.codec.Decode(frame)
			if err != nil {
				metrics.RecordsMalformedTotal.WithLabelValues(s.symbol).Inc()
				s.logger.WithError(err).Warn("frame dropped")
				continue
			}
			emitAll(ctx, out, msgs)
		case body := <-snapshots:
			msgs, err := s.codec.DecodeSnapshot(body)
			if err != nil {
				metrics.RecordsMalformedTotal.WithLabelValues(s.symbol).Inc()
				s.logger.WithError(err).Warn("snapshot dropped")
				continue
			}
			emitAll(ctx, out, msgs)
		case <-s.snapshotReq:
			if err := s.requestSnapshot(sctx, write, snapshots); err != nil {
				s.logger.WithError(err).Warn("snapshot request failed")
			}
		}
	}
}

func (s *WebSocketSource) requestSnapshot(ctx context.Context, write func([]byte) error, snapshots chan<- []byte) error {
	if s.fetcher != nil {
		go func() {
			body, err := s.fetcher.Fetch(ctx, s.symbol)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.WithError(err).Warn("snapshot fetch failed")
				}
				return
			}
			select {
			case snapshots <- body:
			case <-ctx.Done():
			}
		}()
		return nil
	}
	frame, err := s.codec.SnapshotRequest(s.symbol)
	if err != nil {
		return err
	}
	if frame == nil {
		return nil
	}
	return write(frame)
}

func (s *WebSocketSource) keepalive(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				s.logger.WithError(err).Debug("ping failed")
				_ = conn.Close()
				return
			}
		}
	}
}

package feed

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/metrics"

	"github.com/sirupsen/logrus"
)

const maxReplayLine = 4 * 1024 * 1024

// ReplaySource plays a JSONL capture, one record (or record array) per
// line, as a single connected session.
type ReplaySource struct {
	path   string
	symbol string
	delay  time.Duration
	codec  *JSONCodec
	logger *logrus.Entry
}

// NewReplaySource replays path. delay spaces out consecutive lines; zero
// replays as fast as the pipeline consumes.
func NewReplaySource(path, symbol string, delay time.Duration, logger *logrus.Logger) *ReplaySource {
	return &ReplaySource{
		path:   path,
		symbol: symbol,
		delay:  delay,
		codec:  NewJSONCodec(),
		logger: logger.WithFields(logrus.Fields{"component": "feed", "source": "replay", "symbol": symbol}),
	}
}

// RequestSnapshot is a no-op: a capture carries its own snapshots.
func (r *ReplaySource) RequestSnapshot(context.Context) error {
	r.logger.Debug("snapshot requested from replay, waiting for the next snapshot line")
	return nil
}

// Run returns nil at the end of the file.
func (r *ReplaySource) Run(ctx context.Context, out chan<- marketdata.FeedMessage) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open replay %s: %w", r.path, err)
	}
	defer f.Close()

	if !emit(ctx, out, marketdata.FeedMessage{Signal: marketdata.SignalConnect}) {
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	lines := 0
	for scanner.Scan() {
		lines++
		msgs, err := r.codec.Decode(scanner.Bytes())
		if err != nil {
			metrics.RecordsMalformedTotal.WithLabelValues(r.symbol).Inc()
			r.logger.WithError(err).WithField("line", lines).Warn("replay line dropped")
			continue
		}
		if !emitAll(ctx, out, msgs) {
			return nil
		}
		if r.delay > 0 {
			t := time.NewTimer(r.delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read replay %s: %w", r.path, err)
	}
	r.logger.WithField("lines", lines).Info("replay finished")
	return nil
}

// Package reconcile gates event application on the sync state of a book and
// drives snapshot resynchronization.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/book"
	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
	"github.com/NumberChiffre/SimpleLOBStream/internal/infrastructure/metrics"
)

// State of the reconciliation state machine.
type State int

const (
	StateDisconnected State = iota
	StateAwaitingSnapshot
	StateSynced
	StateResyncing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingSnapshot:
		return "awaiting_snapshot"
	case StateSynced:
		return "synced"
	case StateResyncing:
		return "resyncing"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Snapshot request reasons, also used as metric labels.
const (
	ReasonConnect = "connect"
	ReasonGap     = "gap"
	ReasonReset   = "reset"
	ReasonTimeout = "timeout"
)

// SnapshotRequester asks the transport for a fresh snapshot. It must not
// block on the network; the snapshot arrives later through the feed.
type SnapshotRequester interface {
	RequestSnapshot(ctx context.Context) error
}

// Options tune the optional behavior of the controller.
type Options struct {
	// BufferLimit keeps up to this many incremental events while waiting
	// for a snapshot and replays them after it. Zero drops them instead.
	BufferLimit int
	// SnapshotTimeout re-requests a snapshot when none arrived in time.
	SnapshotTimeout time.Duration
}

// Controller owns the sync state of one book. Like the book it is driven
// by a single goroutine.
type Controller struct {
	symbol    string
	book      *book.State
	requester SnapshotRequester
	opts      Options
	logger    *logrus.Entry
	now       func() time.Time

	state       State
	lastRequest time.Time
	buffer      []marketdata.Event
}

func New(symbol string, st *book.State, requester SnapshotRequester, opts Options, logger *logrus.Logger) *Controller {
	if opts.BufferLimit < 0 {
		opts.BufferLimit = 0
	}
	c := &Controller{
		symbol:    symbol,
		book:      st,
		requester: requester,
		opts:      opts,
		logger:    logger.WithFields(logrus.Fields{"component": "reconcile", "symbol": symbol}),
		now:       time.Now,
		state:     StateDisconnected,
	}
	st.MarkUnsynced()
	metrics.ControllerState.WithLabelValues(symbol).Set(float64(StateDisconnected))
	return c
}

func (c *Controller) State() State {
	return c.state
}

// Connect starts a session: the book waits for its first snapshot.
func (c *Controller) Connect(ctx context.Context) {
	c.buffer = nil
	c.transition(StateAwaitingSnapshot)
	c.requestSnapshot(ctx, ReasonConnect)
}

// Disconnect drops the session from any state.
func (c *Controller) Disconnect(cause error) {
	if c.state == StateDisconnected {
		return
	}
	entry := c.logger
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Warn("transport lost")
	c.buffer = nil
	c.transition(StateDisconnected)
}

// Reset handles a venue-issued reset notice.
func (c *Controller) Reset(ctx context.Context) {
	switch c.state {
	case StateDisconnected:
		return
	case StateSynced:
		c.transition(StateResyncing)
	}
	c.requestSnapshot(ctx, ReasonReset)
}

// Handle routes one normalized event. It reports whether the book changed.
func (c *Controller) Handle(ctx context.Context, ev marketdata.Event) bool {
	switch c.state {
	case StateDisconnected:
		c.discard(1)
		return false
	case StateAwaitingSnapshot, StateResyncing:
		if !ev.IsSnapshot() {
			c.hold(ev)
			return false
		}
		c.applySnapshot(ev)
		c.replayBuffer(ctx)
		return true
	}

	out, err := c.book.Apply(ev)
	if err != nil {
		var gap *book.SequenceGapError
		if errors.As(err, &gap) {
			metrics.SequenceGapsTotal.WithLabelValues(c.symbol).Inc()
			c.logger.WithFields(logrus.Fields{
				"expected": gap.Expected,
				"got":      gap.Got,
			}).Warn("sequence gap, resyncing")
			c.transition(StateResyncing)
			c.hold(ev)
			c.requestSnapshot(ctx, ReasonGap)
			return false
		}
		c.logger.WithError(err).Warn("event rejected")
		c.discard(1)
		return false
	}
	return c.record(ev, out)
}

// Tick re-requests a snapshot when the pending one is overdue.
func (c *Controller) Tick(ctx context.Context, now time.Time) {
	if c.opts.SnapshotTimeout <= 0 {
		return
	}
	if c.state != StateAwaitingSnapshot && c.state != StateResyncing {
		return
	}
	if now.Sub(c.lastRequest) < c.opts.SnapshotTimeout {
		return
	}
	c.logger.WithField("waited", now.Sub(c.lastRequest).String()).Warn("snapshot overdue")
	c.requestSnapshot(ctx, ReasonTimeout)
}

func (c *Controller) applySnapshot(ev marketdata.Event) {
	// snapshots are always accepted
	_, _ = c.book.Apply(ev)
	metrics.EventsAppliedTotal.WithLabelValues(c.symbol, string(ev.Kind)).Inc()
	metrics.BookSequence.WithLabelValues(c.symbol).Set(float64(ev.Sequence))
	c.transition(StateSynced)
}

func (c *Controller) record(ev marketdata.Event, out book.Outcome) bool {
	if out == book.OutcomeStale {
		metrics.EventsStaleTotal.WithLabelValues(c.symbol).Inc()
		c.logger.WithFields(logrus.Fields{
			"sequence": ev.Sequence,
			"last":     c.book.Sequence(),
		}).Debug("stale event ignored")
		return false
	}
	if ev.IsSnapshot() {
		// a snapshot while synced just moves the baseline
		c.buffer = nil
	}
	metrics.EventsAppliedTotal.WithLabelValues(c.symbol, string(ev.Kind)).Inc()
	metrics.BookSequence.WithLabelValues(c.symbol).Set(float64(ev.Sequence))
	return true
}

// hold keeps ev for replay after the next snapshot, or drops it when
// buffering is off.
func (c *Controller) hold(ev marketdata.Event) {
	if c.opts.BufferLimit == 0 {
		c.discard(1)
		return
	}
	if len(c.buffer) >= c.opts.BufferLimit {
		c.logger.WithField("buffered", len(c.buffer)).Warn("resync buffer overflow, clearing")
		c.discard(len(c.buffer))
		c.buffer = c.buffer[:0]
	}
	c.buffer = append(c.buffer, ev)
}

func (c *Controller) replayBuffer(ctx context.Context) {
	pending := c.buffer
	c.buffer = nil
	if len(pending) == 0 {
		return
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Sequence < pending[j].Sequence
	})
	replayed := 0
	for i, ev := range pending {
		out, err := c.book.Apply(ev)
		if err != nil {
			if errors.Is(err, book.ErrSequenceGap) {
				metrics.SequenceGapsTotal.WithLabelValues(c.symbol).Inc()
				c.transition(StateResyncing)
				c.buffer = append(c.buffer, pending[i:]...)
				c.requestSnapshot(ctx, ReasonGap)
				return
			}
			c.discard(1)
			continue
		}
		if c.record(ev, out) {
			replayed++
		}
	}
	c.logger.WithFields(logrus.Fields{
		"buffered": len(pending),
		"replayed": replayed,
	}).Debug("replayed buffered events")
}

func (c *Controller) discard(n int) {
	if n <= 0 {
		return
	}
	metrics.EventsDiscardedTotal.WithLabelValues(c.symbol, c.state.String()).Add(float64(n))
}

func (c *Controller) requestSnapshot(ctx context.Context, reason string) {
	c.lastRequest = c.now()
	metrics.ResyncsTotal.WithLabelValues(c.symbol, reason).Inc()
	if c.requester == nil {
		return
	}
	if err := c.requester.RequestSnapshot(ctx); err != nil {
		c.logger.WithError(fmt.Errorf("request snapshot (%s): %w", reason, err)).Warn("snapshot request failed")
	}
}

func (c *Controller) transition(next State) {
	if next != StateSynced {
		c.book.MarkUnsynced()
	}
	if next == c.state {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"from": c.state.String(),
		"to":   next.String(),
	}).Info("state changed")
	c.state = next
	metrics.ControllerState.WithLabelValues(c.symbol).Set(float64(next))
}

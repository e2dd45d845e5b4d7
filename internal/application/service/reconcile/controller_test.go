package reconcile

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/book"
	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
)

type fakeRequester struct {
	calls int
	err   error
}

func (f *fakeRequester) RequestSnapshot(context.Context) error {
	f.calls++
	return f.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func snap(seq int64, bid, ask string) marketdata.Event {
	ev := marketdata.Event{Kind: marketdata.EventSnapshot, Sequence: seq}
	if bid != "" {
		ev.Bids = []marketdata.PriceLevel{{Price: d(bid), Size: d("5")}}
	}
	if ask != "" {
		ev.Asks = []marketdata.PriceLevel{{Price: d(ask), Size: d("3")}}
	}
	return ev
}

func up(seq int64, side marketdata.Side, price, size string) marketdata.Event {
	return marketdata.Event{Kind: marketdata.EventUpsert, Sequence: seq, Side: side, Price: d(price), Size: d(size)}
}

func newController(t *testing.T, opts Options) (*Controller, *book.State, *fakeRequester) {
	t.Helper()
	st := book.New()
	req := &fakeRequester{}
	return New("TEST", st, req, opts, quietLogger()), st, req
}

func TestController_ConnectAwaitsSnapshot(t *testing.T) {
	ctx := context.Background()
	c, st, req := newController(t, Options{})
	require.Equal(t, StateDisconnected, c.State())

	c.Connect(ctx)
	require.Equal(t, StateAwaitingSnapshot, c.State())
	require.Equal(t, 1, req.calls)

	require.False(t, c.Handle(ctx, up(101, marketdata.SideBid, "10", "1")))
	require.False(t, st.Synced())

	require.True(t, c.Handle(ctx, snap(100, "10.00", "10.05")))
	require.Equal(t, StateSynced, c.State())
	require.True(t, st.Synced())
	require.EqualValues(t, 100, st.Sequence())
}

func TestController_GapResyncScenario(t *testing.T) {
	ctx := context.Background()
	c, st, req := newController(t, Options{})
	c.Connect(ctx)

	require.True(t, c.Handle(ctx, snap(100, "10.00", "10.05")))
	require.True(t, c.Handle(ctx, up(101, marketdata.SideBid, "10.01", "2")))
	require.True(t, c.Handle(ctx, marketdata.Event{Kind: marketdata.EventRemove, Sequence: 102, Side: marketdata.SideAsk, Price: d("10.05")}))
	_, ok := st.Spread()
	require.False(t, ok)

	require.False(t, c.Handle(ctx, up(105, marketdata.SideBid, "10.02", "1")))
	require.Equal(t, StateResyncing, c.State())
	require.False(t, st.Synced())
	require.EqualValues(t, 102, st.Sequence())
	require.Equal(t, 2, req.calls)

	// incremental events are dropped until the snapshot
	require.False(t, c.Handle(ctx, up(106, marketdata.SideBid, "10.03", "1")))

	require.True(t, c.Handle(ctx, snap(110, "9.90", "9.95")))
	require.Equal(t, StateSynced, c.State())
	require.EqualValues(t, 110, st.Sequence())
	bids, asks := st.Depth(0)
	require.Len(t, bids, 1)
	require.Len(t, asks, 1)
	require.True(t, bids[0].Price.Equal(d("9.90")))
	require.True(t, asks[0].Price.Equal(d("9.95")))
}

func TestController_StaleDoesNotChangeBook(t *testing.T) {
	ctx := context.Background()
	c, st, _ := newController(t, Options{})
	c.Connect(ctx)
	c.Handle(ctx, snap(10, "10", "11"))
	require.True(t, c.Handle(ctx, up(11, marketdata.SideBid, "10.5", "1")))

	require.False(t, c.Handle(ctx, up(11, marketdata.SideBid, "10.9", "1")))
	require.False(t, c.Handle(ctx, up(4, marketdata.SideAsk, "10.6", "1")))
	require.Equal(t, StateSynced, c.State())
	bid, ask := st.BestBidAsk()
	require.True(t, bid.Price.Equal(d("10.5")))
	require.True(t, ask.Price.Equal(d("11")))
}

func TestController_ResetAndDisconnect(t *testing.T) {
	ctx := context.Background()
	c, st, req := newController(t, Options{})

	c.Reset(ctx)
	require.Equal(t, StateDisconnected, c.State())
	require.Zero(t, req.calls)

	c.Connect(ctx)
	c.Handle(ctx, snap(1, "10", "11"))
	c.Reset(ctx)
	require.Equal(t, StateResyncing, c.State())
	require.False(t, st.Synced())
	require.Equal(t, 2, req.calls)

	c.Disconnect(errors.New("eof"))
	require.Equal(t, StateDisconnected, c.State())
	require.False(t, c.Handle(ctx, snap(5, "10", "11")), "nothing is applied while disconnected")
	require.False(t, st.Synced())

	c.Connect(ctx)
	require.Equal(t, StateAwaitingSnapshot, c.State())
	require.True(t, c.Handle(ctx, snap(5, "10", "11")))
	require.Equal(t, StateSynced, c.State())
}

func TestController_BufferReplaysAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	c, st, _ := newController(t, Options{BufferLimit: 10})
	c.Connect(ctx)

	c.Handle(ctx, up(99, marketdata.SideBid, "9", "1"))
	c.Handle(ctx, up(102, marketdata.SideBid, "10.02", "1"))
	c.Handle(ctx, up(101, marketdata.SideBid, "10.01", "1"))
	require.Len(t, c.buffer, 3)

	require.True(t, c.Handle(ctx, snap(100, "10", "11")))
	require.Equal(t, StateSynced, c.State())
	require.EqualValues(t, 102, st.Sequence())
	bid, _ := st.BestBidAsk()
	require.True(t, bid.Price.Equal(d("10.02")))
	bids, _ := st.Depth(0)
	found := false
	for _, l := range bids {
		found = found || l.Price.Equal(d("9"))
	}
	require.False(t, found, "events at or below the baseline are stale")
	require.Empty(t, c.buffer)
}

func TestController_BufferReplayStopsAtGap(t *testing.T) {
	ctx := context.Background()
	c, st, req := newController(t, Options{BufferLimit: 10})
	c.Connect(ctx)
	c.Handle(ctx, up(101, marketdata.SideBid, "10.01", "1"))
	c.Handle(ctx, up(103, marketdata.SideBid, "10.03", "1"))
	c.Handle(ctx, up(104, marketdata.SideBid, "10.04", "1"))

	c.Handle(ctx, snap(100, "10", "11"))
	require.Equal(t, StateResyncing, c.State())
	require.EqualValues(t, 101, st.Sequence())
	require.Len(t, c.buffer, 2)
	require.Equal(t, 2, req.calls)

	c.Handle(ctx, snap(102, "10", "11"))
	require.Equal(t, StateSynced, c.State())
	require.EqualValues(t, 104, st.Sequence())
}

func TestController_BufferOverflowClears(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newController(t, Options{BufferLimit: 2})
	c.Connect(ctx)
	for seq := int64(1); seq <= 3; seq++ {
		c.Handle(ctx, up(seq, marketdata.SideAsk, "11", "1"))
	}
	require.Len(t, c.buffer, 1)
	require.EqualValues(t, 3, c.buffer[0].Sequence)
}

func TestController_TickRequestsOverdueSnapshot(t *testing.T) {
	ctx := context.Background()
	c, _, req := newController(t, Options{SnapshotTimeout: time.Second})
	start := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return start }

	c.Tick(ctx, start.Add(5*time.Second))
	require.Zero(t, req.calls, "no tick while disconnected")

	c.Connect(ctx)
	c.Tick(ctx, start.Add(500*time.Millisecond))
	require.Equal(t, 1, req.calls)
	c.Tick(ctx, start.Add(time.Second))
	require.Equal(t, 2, req.calls)

	c.Handle(ctx, snap(1, "1", "2"))
	c.Tick(ctx, start.Add(time.Hour))
	require.Equal(t, 2, req.calls)
}

func TestController_RequestErrorIsNotFatal(t *testing.T) {
	ctx := context.Background()
	c, _, req := newController(t, Options{})
	req.err = errors.New("socket closed")
	c.Connect(ctx)
	require.Equal(t, StateAwaitingSnapshot, c.State())
	require.True(t, c.Handle(ctx, snap(1, "1", "2")))
}

func TestState_String(t *testing.T) {
	require.Equal(t, "resyncing", StateResyncing.String())
	require.Equal(t, "state(9)", State(9).String())
}

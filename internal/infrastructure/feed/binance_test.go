package feed

import (
	"context"
	"net"
	"testing"
	"time"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func sequences(msgs []marketdata.FeedMessage) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Record != nil {
			out = append(out, *msg.Record.Sequence)
		}
	}
	return out
}

func decodeNone(t *testing.T, codec *BinanceCodec, frame string) {
	t.Helper()
	msgs, err := codec.Decode([]byte(frame))
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestBinanceStreamURL(t *testing.T) {
	require.Equal(t, "wss://stream.binance.com:9443/ws/btcusdt@depth@100ms", BinanceStreamURL("BTCUSDT"))
	require.Equal(t, "wss://dstream.binance.com/stream?streams=btcusd_perp@depth", BinanceStreamURL("BTCUSD_PERP"))
}

func TestBinanceCodec_BuffersUntilSnapshot(t *testing.T) {
	codec := NewBinanceCodec(0)
	frames, err := codec.Open("btcusdt")
	require.NoError(t, err)
	require.Empty(t, frames)

	decodeNone(t, codec, `{"result":null,"id":1}`)
	decodeNone(t, codec, `{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":95,"u":99,"b":[["10.00","1"]],"a":[]}`)
	decodeNone(t, codec, `{"e":"depthUpdate","E":2,"s":"BTCUSDT","U":100,"u":102,"b":[["10.01","2"]],"a":[["10.05","0"]]}`)
	decodeNone(t, codec, `{"e":"depthUpdate","E":3,"s":"BTCUSDT","U":103,"u":103,"b":[["10.02","3"]],"a":[]}`)

	msgs, err := codec.DecodeSnapshot([]byte(`{"lastUpdateId":100,"bids":[["10.00","5"]],"asks":[["10.05","3"]]}`))
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 4}, sequences(msgs))

	snap := msgs[0].Record
	require.Equal(t, "snapshot", snap.Type)
	require.Equal(t, "BTCUSDT", snap.Symbol)
	require.Equal(t, [][2]string{{"10.05", "3"}}, snap.Asks)

	removal := msgs[2].Record
	require.Equal(t, "ask", removal.Side)
	require.Equal(t, "10.05", removal.Price)
	require.Equal(t, "0", removal.Size)

	msgs, err = codec.Decode([]byte(`{"e":"depthUpdate","E":4,"s":"BTCUSDT","U":104,"u":104,"b":[],"a":[["10.06","1"]]}`))
	require.NoError(t, err)
	require.Equal(t, []int64{5}, sequences(msgs))
}

func TestBinanceCodec_GapBecomesReset(t *testing.T) {
	codec := NewBinanceCodec(0)
	_, _ = codec.Open("BTCUSDT")
	_, err := codec.DecodeSnapshot([]byte(`{"lastUpdateId":10,"bids":[],"asks":[]}`))
	require.NoError(t, err)

	// already covered by the snapshot
	decodeNone(t, codec, `{"e":"depthUpdate","U":5,"u":10,"b":[["1","1"]],"a":[]}`)

	msgs, err := codec.Decode([]byte(`{"e":"depthUpdate","U":11,"u":12,"b":[["1","1"]],"a":[]}`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msgs, err = codec.Decode([]byte(`{"e":"depthUpdate","U":15,"u":16,"b":[["1","2"]],"a":[]}`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, marketdata.SignalReset, msgs[0].Signal)

	// held for the next snapshot
	decodeNone(t, codec, `{"e":"depthUpdate","U":17,"u":18,"b":[["1","3"]],"a":[]}`)
	msgs, err = codec.DecodeSnapshot([]byte(`{"lastUpdateId":17,"bids":[],"asks":[]}`))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "3", msgs[1].Record.Size)
}

func TestBinanceCodec_OneDiffIsOneFrame(t *testing.T) {
	codec := NewBinanceCodec(0)
	_, _ = codec.Open("BTCUSDT")
	msgs, err := codec.DecodeSnapshot([]byte(`{"lastUpdateId":100,"bids":[["10.00","1"]],"asks":[["10.05","1"]]}`))
	require.NoError(t, err)
	require.True(t, msgs[0].Record.ExchangeTime.IsZero())

	msgs, err = codec.Decode([]byte(`{"e":"depthUpdate","E":1700000000123,"s":"BTCUSDT","U":101,"u":101,"b":[["10.06","1"]],"a":[["10.05","0"],["10.07","2"]]}`))
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3, 4}, sequences(msgs))
	at := time.UnixMilli(1700000000123).UTC()
	for _, msg := range msgs {
		require.Equal(t, at, msg.Record.ExchangeTime)
	}

	out := make(chan marketdata.FeedMessage, len(msgs))
	require.True(t, emitAll(context.Background(), out, msgs))
	require.True(t, (<-out).More)
	require.True(t, (<-out).More)
	last := <-out
	require.False(t, last.More)
	require.Equal(t, "10.07", last.Record.Price)
}

func TestBinanceCodec_DeliverySnapshotTime(t *testing.T) {
	codec := NewBinanceCodec(0)
	_, _ = codec.Open("BTCUSD_PERP")
	msgs, err := codec.DecodeSnapshot([]byte(`{"lastUpdateId":10,"E":1700000000500,"T":1700000000499,"bids":[],"asks":[]}`))
	require.NoError(t, err)
	require.Equal(t, time.UnixMilli(1700000000500).UTC(), msgs[0].Record.ExchangeTime)
}

func TestBinanceCodec_KeepsDiffThatBrokeStaleSnapshot(t *testing.T) {
	codec := NewBinanceCodec(0)
	_, _ = codec.Open("BTCUSDT")
	decodeNone(t, codec, `{"e":"depthUpdate","U":101,"u":101,"b":[["10","1"]],"a":[]}`)
	decodeNone(t, codec, `{"e":"depthUpdate","U":103,"u":104,"b":[["10","2"]],"a":[]}`)

	msgs, err := codec.DecodeSnapshot([]byte(`{"lastUpdateId":100,"bids":[],"asks":[]}`))
	require.NoError(t, err)
	require.Equal(t, marketdata.SignalReset, msgs[len(msgs)-1].Signal)

	// a fresher snapshot that ends right before the held diff
	msgs, err = codec.DecodeSnapshot([]byte(`{"lastUpdateId":102,"bids":[],"asks":[]}`))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "2", msgs[1].Record.Size)
	require.True(t, codec.synced)
}

func TestBinanceCodec_KeepsDiffThatBrokeLiveStream(t *testing.T) {
	codec := NewBinanceCodec(0)
	_, _ = codec.Open("BTCUSDT")
	_, err := codec.DecodeSnapshot([]byte(`{"lastUpdateId":10,"bids":[],"asks":[]}`))
	require.NoError(t, err)

	msgs, err := codec.Decode([]byte(`{"e":"depthUpdate","U":13,"u":14,"b":[["1","4"]],"a":[]}`))
	require.NoError(t, err)
	require.Equal(t, marketdata.SignalReset, msgs[0].Signal)

	msgs, err = codec.DecodeSnapshot([]byte(`{"lastUpdateId":12,"bids":[],"asks":[]}`))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "4", msgs[1].Record.Size)
}

func TestBinanceCodec_DeliveryUsesPreviousFinalID(t *testing.T) {
	codec := NewBinanceCodec(0)
	_, _ = codec.Open("BTCUSD_PERP")
	_, err := codec.DecodeSnapshot([]byte(`{"lastUpdateId":10,"bids":[["100","1"]],"asks":[["101","1"]]}`))
	require.NoError(t, err)

	msgs, err := codec.Decode([]byte(`{"stream":"btcusd_perp@depth","data":{"e":"depthUpdate","s":"BTCUSD_PERP","U":9,"u":12,"pu":8,"b":[["100","2"]],"a":[]}}`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "BTCUSD_PERP", msgs[0].Record.Symbol)

	msgs, err = codec.Decode([]byte(`{"stream":"btcusd_perp@depth","data":{"e":"depthUpdate","U":20,"u":21,"pu":12,"b":[],"a":[["101","0"]]}}`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Record)

	msgs, err = codec.Decode([]byte(`{"stream":"btcusd_perp@depth","data":{"e":"depthUpdate","U":25,"u":26,"pu":23,"b":[],"a":[]}}`))
	require.NoError(t, err)
	require.Equal(t, marketdata.SignalReset, msgs[0].Signal)
}

func TestBinanceCodec_Malformed(t *testing.T) {
	codec := NewBinanceCodec(0)
	_, _ = codec.Open("BTCUSDT")

	_, err := codec.Decode([]byte(`{"e":"depthUpdate","b":[],"a":[]}`))
	require.ErrorIs(t, err, ErrMalformedFrame)
	_, err = codec.Decode([]byte(`{"e":"depthUpdate","U":1,"u":2,"b":[["1"]],"a":[]}`))
	require.ErrorIs(t, err, ErrMalformedFrame)
	_, err = codec.DecodeSnapshot([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	require.ErrorIs(t, err, ErrMalformedFrame)
	_, err = codec.DecodeSnapshot([]byte(`{"bids":[],"asks":[]}`))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestBinanceCodec_BufferLimitDropsOldest(t *testing.T) {
	codec := NewBinanceCodec(2)
	_, _ = codec.Open("BTCUSDT")
	decodeNone(t, codec, `{"e":"depthUpdate","U":1,"u":1,"b":[["1","1"]],"a":[]}`)
	decodeNone(t, codec, `{"e":"depthUpdate","U":2,"u":2,"b":[["1","2"]],"a":[]}`)
	decodeNone(t, codec, `{"e":"depthUpdate","U":3,"u":3,"b":[["1","3"]],"a":[]}`)
	require.Len(t, codec.pending, 2)
	require.EqualValues(t, 2, codec.pending[0].first)
}

func TestBinanceSnapshotter_Fetch(t *testing.T) {
	ln := fasthttputil.NewInmemoryListener()
	requests := make(chan string, 4)
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		args := ctx.QueryArgs()
		requests <- string(ctx.Host()) + string(ctx.Path()) + " " + string(args.Peek("symbol")) + " " + string(args.Peek("limit"))
		if string(ctx.QueryArgs().Peek("symbol")) == "BAD" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			ctx.SetBodyString(`{"code":-1121,"msg":"Invalid symbol."}`)
			return
		}
		ctx.SetBodyString(`{"lastUpdateId":42,"bids":[],"asks":[]}`)
	}}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	s := NewBinanceSnapshotter(BinanceSnapshotterOptions{
		SpotURL:     "http://spot.test/api/v3/depth",
		DeliveryURL: "http://delivery.test/dapi/v1/depth",
		Limit:       5,
	})
	s.client.Dial = func(string) (net.Conn, error) { return ln.Dial() }

	body, err := s.Fetch(context.Background(), "btcusdt")
	require.NoError(t, err)
	require.JSONEq(t, `{"lastUpdateId":42,"bids":[],"asks":[]}`, string(body))
	require.Equal(t, "spot.test/api/v3/depth BTCUSDT 5", <-requests)

	_, err = s.Fetch(context.Background(), "btcusd_perp")
	require.NoError(t, err)
	require.Equal(t, "delivery.test/dapi/v1/depth BTCUSD_PERP 5", <-requests)

	_, err = s.Fetch(context.Background(), "bad")
	require.ErrorContains(t, err, "status 400")
}

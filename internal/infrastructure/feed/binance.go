package feed

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fastjson"
)

const (
	BinanceSpotStreamURL     = "wss://stream.binance.com:9443/ws/%s@depth@100ms"
	BinanceDeliveryStreamURL = "wss://dstream.binance.com/stream?streams=%s@depth"
	BinanceSpotDepthURL      = "https://api.binance.com/api/v3/depth"
	BinanceDeliveryDepthURL  = "https://dapi.binance.com/dapi/v1/depth"

	defaultBinanceDepthLimit   = 1000
	defaultBinanceFetchTimeout = 5 * time.Second
	defaultBinanceBufferLimit  = 1000
)

// IsBinanceDelivery reports whether symbol names a coin-margined contract
// (e.g. BTCUSD_PERP) served by the delivery endpoints.
func IsBinanceDelivery(symbol string) bool {
	return strings.Contains(symbol, "_")
}

func BinanceStreamURL(symbol string) string {
	if IsBinanceDelivery(symbol) {
		return fmt.Sprintf(BinanceDeliveryStreamURL, strings.ToLower(symbol))
	}
	return fmt.Sprintf(BinanceSpotStreamURL, strings.ToLower(symbol))
}

type depthDiff struct {
	first     int64
	final     int64
	prevFinal int64
	hasPrev   bool
	eventTime time.Time
	bids      [][2]string
	asks      [][2]string
}

// BinanceCodec follows the Binance diff depth stream. Diffs are held until
// the REST snapshot arrives, diffs already covered by the snapshot are
// dropped, and a break in the venue update ids turns into a reset signal.
// Every level change gets its own contiguous local sequence number, so the
// book sees one event per level.
type BinanceCodec struct {
	parsers     fastjson.ParserPool
	bufferLimit int

	symbol             string
	synced             bool
	firstAfterSnapshot bool
	lastFinal          int64
	pending            []depthDiff
	seq                int64
}

func NewBinanceCodec(bufferLimit int) *BinanceCodec {
	if bufferLimit <= 0 {
		bufferLimit = defaultBinanceBufferLimit
	}
	return &BinanceCodec{bufferLimit: bufferLimit}
}

// Open needs no frames: the stream URL selects the subscription.
func (c *BinanceCodec) Open(symbol string) ([][]byte, error) {
	c.symbol = strings.ToUpper(symbol)
	c.synced = false
	c.firstAfterSnapshot = false
	c.lastFinal = 0
	c.pending = nil
	return nil, nil
}

func (c *BinanceCodec) SnapshotRequest(string) ([]byte, error) {
	return nil, nil
}

func (c *BinanceCodec) Decode(frame []byte) ([]marketdata.FeedMessage, error) {
	p := c.parsers.Get()
	defer c.parsers.Put(p)
	v, err := p.ParseBytes(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	// combined streams wrap the event
	if data := v.Get("data"); data != nil {
		v = data
	}
	if string(v.GetStringBytes("e")) != "depthUpdate" {
		return nil, nil
	}
	diff, err := parseDiff(v)
	if err != nil {
		return nil, err
	}
	if !c.synced {
		c.hold(diff)
		return nil, nil
	}
	return c.apply(diff), nil
}

func (c *BinanceCodec) DecodeSnapshot(body []byte) ([]marketdata.FeedMessage, error) {
	p := c.parsers.Get()
	defer c.parsers.Put(p)
	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if v.Exists("code") {
		return nil, fmt.Errorf("%w: api error %d: %s", ErrMalformedFrame, v.GetInt("code"), v.GetStringBytes("msg"))
	}
	if !v.Exists("lastUpdateId") {
		return nil, fmt.Errorf("%w: lastUpdateId is missing", ErrMalformedFrame)
	}
	bids, err := parseLevelPairs(v.GetArray("bids"))
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevelPairs(v.GetArray("asks"))
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}

	c.seq++
	msgs := []marketdata.FeedMessage{{Record: &marketdata.RawRecord{
		Type:         "snapshot",
		Symbol:       c.symbol,
		Sequence:     marketdata.SeqPtr(c.seq),
		Bids:         bids,
		Asks:         asks,
		ExchangeTime: eventTime(v),
	}}}
	c.synced = true
	c.firstAfterSnapshot = true
	c.lastFinal = v.GetInt64("lastUpdateId")

	pending := c.pending
	c.pending = nil
	for i, diff := range pending {
		msgs = append(msgs, c.apply(diff)...)
		if !c.synced {
			c.pending = append(c.pending, pending[i+1:]...)
			break
		}
	}
	return msgs, nil
}

func (c *BinanceCodec) hold(diff depthDiff) {
	if len(c.pending) >= c.bufferLimit {
		c.pending = c.pending[1:]
	}
	c.pending = append(c.pending, diff)
}

func (c *BinanceCodec) apply(diff depthDiff) []marketdata.FeedMessage {
	if diff.final <= c.lastFinal {
		return nil
	}
	if !c.continues(diff) {
		// the next snapshot may end right before this diff, so it is held
		c.synced = false
		c.pending = []depthDiff{diff}
		return []marketdata.FeedMessage{{Signal: marketdata.SignalReset}}
	}
	c.lastFinal = diff.final
	c.firstAfterSnapshot = false

	msgs := make([]marketdata.FeedMessage, 0, len(diff.bids)+len(diff.asks))
	for _, lvl := range diff.bids {
		msgs = append(msgs, c.levelMessage(string(marketdata.SideBid), lvl, diff.eventTime))
	}
	for _, lvl := range diff.asks {
		msgs = append(msgs, c.levelMessage(string(marketdata.SideAsk), lvl, diff.eventTime))
	}
	return msgs
}

func (c *BinanceCodec) continues(diff depthDiff) bool {
	if c.firstAfterSnapshot {
		return diff.first <= c.lastFinal+1
	}
	if diff.hasPrev {
		return diff.prevFinal == c.lastFinal
	}
	return diff.first == c.lastFinal+1
}

// levelMessage emits an absolute size; zero removes the level.
func (c *BinanceCodec) levelMessage(side string, lvl [2]string, at time.Time) marketdata.FeedMessage {
	c.seq++
	return marketdata.FeedMessage{Record: &marketdata.RawRecord{
		Type:         "update",
		Symbol:       c.symbol,
		Sequence:     marketdata.SeqPtr(c.seq),
		Side:         side,
		Price:        lvl[0],
		Size:         lvl[1],
		ExchangeTime: at,
	}}
}

func parseDiff(v *fastjson.Value) (depthDiff, error) {
	if !v.Exists("U") || !v.Exists("u") {
		return depthDiff{}, fmt.Errorf("%w: update ids are missing", ErrMalformedFrame)
	}
	diff := depthDiff{
		first:     v.GetInt64("U"),
		final:     v.GetInt64("u"),
		eventTime: eventTime(v),
	}
	if v.Exists("pu") {
		diff.hasPrev = true
		diff.prevFinal = v.GetInt64("pu")
	}
	var err error
	if diff.bids, err = parseLevelPairs(v.GetArray("b")); err != nil {
		return depthDiff{}, fmt.Errorf("bids: %w", err)
	}
	if diff.asks, err = parseLevelPairs(v.GetArray("a")); err != nil {
		return depthDiff{}, fmt.Errorf("asks: %w", err)
	}
	return diff, nil
}

// eventTime reads the "E" field (milliseconds). Spot REST snapshots carry
// none.
func eventTime(v *fastjson.Value) time.Time {
	ms := v.GetInt64("E")
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func parseLevelPairs(values []*fastjson.Value) ([][2]string, error) {
	out := make([][2]string, 0, len(values))
	for i, value := range values {
		pair := value.GetArray()
		if len(pair) < 2 {
			return nil, fmt.Errorf("%w: level %d is not a [price, size] pair", ErrMalformedFrame, i)
		}
		price, err := pair[0].StringBytes()
		if err != nil {
			return nil, fmt.Errorf("%w: level %d price: %v", ErrMalformedFrame, i, err)
		}
		size, err := pair[1].StringBytes()
		if err != nil {
			return nil, fmt.Errorf("%w: level %d size: %v", ErrMalformedFrame, i, err)
		}
		out = append(out, [2]string{string(price), string(size)})
	}
	return out, nil
}

type BinanceSnapshotterOptions struct {
	SpotURL     string
	DeliveryURL string
	Limit       int
	Timeout     time.Duration
}

// BinanceSnapshotter fetches REST depth snapshots.
type BinanceSnapshotter struct {
	client *fasthttp.Client
	opts   BinanceSnapshotterOptions
}

func NewBinanceSnapshotter(opts BinanceSnapshotterOptions) *BinanceSnapshotter {
	if opts.SpotURL == "" {
		opts.SpotURL = BinanceSpotDepthURL
	}
	if opts.DeliveryURL == "" {
		opts.DeliveryURL = BinanceDeliveryDepthURL
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultBinanceDepthLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultBinanceFetchTimeout
	}
	return &BinanceSnapshotter{
		client: &fasthttp.Client{
			NoDefaultUserAgentHeader: true,
			ReadTimeout:              opts.Timeout,
			WriteTimeout:             opts.Timeout,
		},
		opts: opts,
	}
}

func (s *BinanceSnapshotter) Fetch(ctx context.Context, symbol string) ([]byte, error) {
	base := s.opts.SpotURL
	if IsBinanceDelivery(symbol) {
		base = s.opts.DeliveryURL
	}
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(fmt.Sprintf("%s?symbol=%s&limit=%d", base, url.QueryEscape(strings.ToUpper(symbol)), s.opts.Limit))

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	deadline := time.Now().Add(s.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("fetch depth %s: %w", symbol, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("fetch depth %s: status %d: %s", symbol, resp.StatusCode(), resp.Body())
	}
	// resp is released on return
	return append([]byte(nil), resp.Body()...), nil
}

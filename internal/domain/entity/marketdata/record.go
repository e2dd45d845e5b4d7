package marketdata

import "time"

// RawRecord is a venue-neutral feed record as delivered by a transport.
// Numbers stay strings so validation happens in one place.
type RawRecord struct {
	Type     string      `json:"type"`
	Symbol   string      `json:"symbol,omitempty"`
	Sequence *int64      `json:"seq,omitempty"`
	Side     string      `json:"side,omitempty"`
	Price    string      `json:"price,omitempty"`
	Size     string      `json:"size,omitempty"`
	Bids     [][2]string `json:"bids,omitempty"`
	Asks     [][2]string `json:"asks,omitempty"`

	// ExchangeTime is the venue's event time, zero when the venue sends none.
	ExchangeTime time.Time `json:"exchangeTime,omitzero"`
}

// Signal is a transport control notification.
type Signal string

const (
	SignalConnect    Signal = "connect"
	SignalDisconnect Signal = "disconnect"
	SignalReset      Signal = "reset"
)

// FeedMessage is one item of an inbound stream: a record or a signal.
type FeedMessage struct {
	Record *RawRecord
	Signal Signal
	// Err explains a disconnect, if known.
	Err error
	// Ack, when set, is called once the pipeline took the message.
	Ack func()
	// More is set on every message of a venue frame but the last one. The
	// book only reflects a venue state once the whole frame is applied.
	More bool
}

// SeqPtr is a helper for building records in code.
func SeqPtr(v int64) *int64 {
	return &v
}

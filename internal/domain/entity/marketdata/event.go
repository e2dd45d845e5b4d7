package marketdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind distinguishes normalized book events.
type EventKind string

const (
	EventSnapshot EventKind = "snapshot"
	EventUpsert   EventKind = "upsert"
	EventRemove   EventKind = "remove"
)

// Event is the uniform unit applied to the book. Snapshot events carry
// Bids/Asks and ignore Side/Price/Size; Remove ignores Size.
type Event struct {
	Kind     EventKind
	Sequence int64
	Side     Side
	Price    decimal.Decimal
	Size     decimal.Decimal
	Bids     []PriceLevel
	Asks     []PriceLevel
	// ExchangeTime is the venue event time; zero when unknown.
	ExchangeTime time.Time
}

func (e Event) IsSnapshot() bool {
	return e.Kind == EventSnapshot
}

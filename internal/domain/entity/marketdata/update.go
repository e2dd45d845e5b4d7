package marketdata

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookUpdate is the message pushed to subscribers. Nil pointers render as
// JSON null so every field is always present.
type BookUpdate struct {
	ID           uuid.UUID        `json:"id" swaggertype:"string" format:"uuid"`
	Symbol       string           `json:"symbol" example:"BTCUSDT"`
	BestBidPrice *decimal.Decimal `json:"bestBidPrice" swaggertype:"string" extensions:"x-nullable"`
	BestBidSize  *decimal.Decimal `json:"bestBidSize" swaggertype:"string" extensions:"x-nullable"`
	BestAskPrice *decimal.Decimal `json:"bestAskPrice" swaggertype:"string" extensions:"x-nullable"`
	BestAskSize  *decimal.Decimal `json:"bestAskSize" swaggertype:"string" extensions:"x-nullable"`
	Spread       *decimal.Decimal `json:"spread" swaggertype:"string" extensions:"x-nullable"`
	Sequence     int64            `json:"sequence"`
	Synced       bool             `json:"synced"`
	Depth        *Depth           `json:"depth,omitempty"`
	ExchangeTime *time.Time       `json:"exchangeTime" extensions:"x-nullable"`
	PublishedAt  time.Time        `json:"publishedAt"`
}

package marketdata

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side names the half of the book a level belongs to.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// ParseSide maps the venue side tags onto Side.
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bid", "bids", "buy", "b":
		return SideBid, nil
	case "ask", "asks", "sell", "offer", "a":
		return SideAsk, nil
	case "":
		return "", fmt.Errorf("side is empty")
	default:
		return "", fmt.Errorf("unsupported side: %q", raw)
	}
}

// PriceLevel holds the aggregate resting size at one price.
type PriceLevel struct {
	Price decimal.Decimal `json:"price" swaggertype:"string" example:"64250.10"`
	Size  decimal.Decimal `json:"size" swaggertype:"string" example:"0.512"`
}

// Depth is an ordered view of both sides, best price first.
type Depth struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

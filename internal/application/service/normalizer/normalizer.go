// Package normalizer turns venue-neutral feed records into book events.
package normalizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
)

var ErrMalformedRecord = errors.New("malformed record")

// Record types understood by Normalize.
const (
	TypeSnapshot = "snapshot"
	TypeAdd      = "add"
	TypeUpdate   = "update"
	TypeUpsert   = "upsert"
	TypeRemove   = "remove"
	TypeDelete   = "delete"
	TypeReset    = "reset"
)

// Normalize maps rec onto an Event. A record either normalizes fully or is
// rejected with an error wrapping ErrMalformedRecord.
func Normalize(rec marketdata.RawRecord) (marketdata.Event, error) {
	ev, err := normalize(rec)
	if err != nil {
		return marketdata.Event{}, err
	}
	ev.ExchangeTime = rec.ExchangeTime
	return ev, nil
}

func normalize(rec marketdata.RawRecord) (marketdata.Event, error) {
	if rec.Sequence == nil {
		return marketdata.Event{}, malformed("missing sequence")
	}
	seq := *rec.Sequence

	switch strings.ToLower(strings.TrimSpace(rec.Type)) {
	case TypeSnapshot:
		return normalizeSnapshot(rec, seq)
	case TypeAdd, TypeUpdate, TypeUpsert:
		side, price, err := sideAndPrice(rec)
		if err != nil {
			return marketdata.Event{}, err
		}
		size, err := parseSize(rec.Size)
		if err != nil {
			return marketdata.Event{}, err
		}
		return marketdata.Event{
			Kind:     marketdata.EventUpsert,
			Sequence: seq,
			Side:     side,
			Price:    price,
			Size:     size,
		}, nil
	case TypeRemove, TypeDelete:
		side, price, err := sideAndPrice(rec)
		if err != nil {
			return marketdata.Event{}, err
		}
		return marketdata.Event{
			Kind:     marketdata.EventRemove,
			Sequence: seq,
			Side:     side,
			Price:    price,
		}, nil
	case "":
		return marketdata.Event{}, malformed("missing record type")
	default:
		return marketdata.Event{}, malformed("unsupported record type %q", rec.Type)
	}
}

// IsReset reports whether rec is a venue reset notice rather than a book
// record.
func IsReset(rec marketdata.RawRecord) bool {
	return strings.EqualFold(strings.TrimSpace(rec.Type), TypeReset)
}

func normalizeSnapshot(rec marketdata.RawRecord, seq int64) (marketdata.Event, error) {
	bids, err := parseLevels(rec.Bids, marketdata.SideBid)
	if err != nil {
		return marketdata.Event{}, err
	}
	asks, err := parseLevels(rec.Asks, marketdata.SideAsk)
	if err != nil {
		return marketdata.Event{}, err
	}
	return marketdata.Event{
		Kind:     marketdata.EventSnapshot,
		Sequence: seq,
		Bids:     bids,
		Asks:     asks,
	}, nil
}

func parseLevels(pairs [][2]string, side marketdata.Side) ([]marketdata.PriceLevel, error) {
	levels := make([]marketdata.PriceLevel, 0, len(pairs))
	for i, pair := range pairs {
		price, err := parsePrice(pair[0])
		if err != nil {
			return nil, fmt.Errorf("%s level %d: %w", side, i, err)
		}
		size, err := parseSize(pair[1])
		if err != nil {
			return nil, fmt.Errorf("%s level %d: %w", side, i, err)
		}
		levels = append(levels, marketdata.PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}

func sideAndPrice(rec marketdata.RawRecord) (marketdata.Side, decimal.Decimal, error) {
	side, err := marketdata.ParseSide(rec.Side)
	if err != nil {
		return "", decimal.Zero, malformed("%v", err)
	}
	price, err := parsePrice(rec.Price)
	if err != nil {
		return "", decimal.Zero, err
	}
	return side, price, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	price, err := parseDecimal("price", raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, malformed("price must be positive, got %s", price)
	}
	return price, nil
}

func parseSize(raw string) (decimal.Decimal, error) {
	size, err := parseDecimal("size", raw)
	if err != nil {
		return decimal.Zero, err
	}
	if size.IsNegative() {
		return decimal.Zero, malformed("size must not be negative, got %s", size)
	}
	return size, nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return decimal.Zero, malformed("missing %s", field)
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, malformed("non-numeric %s %q", field, raw)
	}
	return parsed, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRecord, fmt.Sprintf(format, args...))
}

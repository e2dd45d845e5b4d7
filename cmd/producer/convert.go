package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/shopspring/decimal"
)

var errInconsistentBook = errors.New("order book is not consistent")

// sequencer numbers relayed books per instrument starting from 1.
type sequencer struct {
	mu   sync.Mutex
	last map[string]int64
}

func newSequencer() *sequencer {
	return &sequencer{last: make(map[string]int64)}
}

func (s *sequencer) next(symbol string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[symbol]++
	return s.last[symbol]
}

// convertOrderBook maps a streamed book to a snapshot record. The symbol is
// the upper-cased FIGI, or the instrument uid when the FIGI is missing.
func convertOrderBook(msg *pb.OrderBook, seq *sequencer) (*marketdata.RawRecord, error) {
	if msg == nil {
		return nil, errors.New("order book payload is nil")
	}
	symbol := strings.ToUpper(strings.TrimSpace(msg.GetFigi()))
	if symbol == "" {
		symbol = strings.ToUpper(strings.TrimSpace(msg.GetInstrumentUid()))
	}
	if symbol == "" {
		return nil, errors.New("order book has no instrument id")
	}
	if !msg.GetIsConsistent() {
		return nil, fmt.Errorf("%w: %s", errInconsistentBook, symbol)
	}

	var exchangeTime time.Time
	if ts := msg.GetTime(); ts != nil {
		exchangeTime = ts.AsTime().UTC()
	}

	return &marketdata.RawRecord{
		Type:         "snapshot",
		Symbol:       symbol,
		Sequence:     marketdata.SeqPtr(seq.next(symbol)),
		Bids:         convertLevels(msg.GetBids()),
		Asks:         convertLevels(msg.GetAsks()),
		ExchangeTime: exchangeTime,
	}, nil
}

func convertLevels(orders []*pb.Order) [][2]string {
	out := make([][2]string, 0, len(orders))
	for _, order := range orders {
		out = append(out, [2]string{
			quotationToDecimal(order.GetPrice()).String(),
			strconv.FormatInt(order.GetQuantity(), 10),
		})
	}
	return out
}

// quotationToDecimal keeps the exact units+nano value instead of a float.
func quotationToDecimal(q *pb.Quotation) decimal.Decimal {
	if q == nil {
		return decimal.Zero
	}
	return decimal.New(q.GetUnits(), 0).Add(decimal.New(int64(q.GetNano()), -9))
}

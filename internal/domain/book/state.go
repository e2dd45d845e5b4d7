package book

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
)

// Outcome describes what Apply did with an event that was not rejected.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// State is the reconstructed book of one instrument. It is not safe for
// concurrent use; a single owner applies events and hands out Views.
type State struct {
	bids         *Ledger
	asks         *Ledger
	lastSequence int64
	synced       bool
	exchangeTime time.Time
}

// New returns an empty, unsynced book.
func New() *State {
	return &State{
		bids: NewLedger(marketdata.SideBid),
		asks: NewLedger(marketdata.SideAsk),
	}
}

// Apply commits one event or rejects it as a whole.
//
// A snapshot is always accepted and becomes the new baseline. Incremental
// events are only accepted while synced and with sequence lastSequence+1;
// older sequences are reported as OutcomeStale, newer ones as a
// *SequenceGapError. Rejected events never touch the ledgers.
func (s *State) Apply(ev marketdata.Event) (Outcome, error) {
	switch ev.Kind {
	case marketdata.EventSnapshot:
		s.applySnapshot(ev)
		return OutcomeApplied, nil
	case marketdata.EventUpsert, marketdata.EventRemove:
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}

	if !s.synced {
		return 0, ErrNotSynced
	}
	if ev.Sequence <= s.lastSequence {
		return OutcomeStale, nil
	}
	if ev.Sequence > s.lastSequence+1 {
		return 0, &SequenceGapError{Expected: s.lastSequence + 1, Got: ev.Sequence}
	}

	ledger, err := s.ledger(ev.Side)
	if err != nil {
		return 0, err
	}
	if ev.Kind == marketdata.EventRemove {
		ledger.Remove(ev.Price)
	} else {
		ledger.Upsert(ev.Price, ev.Size)
	}
	s.lastSequence = ev.Sequence
	s.exchangeTime = ev.ExchangeTime
	return OutcomeApplied, nil
}

func (s *State) applySnapshot(ev marketdata.Event) {
	bids := NewLedger(marketdata.SideBid)
	for _, lvl := range ev.Bids {
		bids.Upsert(lvl.Price, lvl.Size)
	}
	asks := NewLedger(marketdata.SideAsk)
	for _, lvl := range ev.Asks {
		asks.Upsert(lvl.Price, lvl.Size)
	}
	s.bids, s.asks = bids, asks
	s.lastSequence = ev.Sequence
	s.exchangeTime = ev.ExchangeTime
	s.synced = true
}

func (s *State) ledger(side marketdata.Side) (*Ledger, error) {
	switch side {
	case marketdata.SideBid:
		return s.bids, nil
	case marketdata.SideAsk:
		return s.asks, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSide, side)
	}
}

// MarkUnsynced flags the book as provisional until the next snapshot.
func (s *State) MarkUnsynced() {
	s.synced = false
}

func (s *State) Synced() bool {
	return s.synced
}

func (s *State) Sequence() int64 {
	return s.lastSequence
}

// ExchangeTime is the venue time of the last applied event.
func (s *State) ExchangeTime() time.Time {
	return s.exchangeTime
}

// BestBidAsk returns the top of each side; nil means the side is empty.
func (s *State) BestBidAsk() (bid, ask *marketdata.PriceLevel) {
	if lvl, ok := s.bids.Best(); ok {
		bid = &lvl
	}
	if lvl, ok := s.asks.Best(); ok {
		ask = &lvl
	}
	return bid, ask
}

// Spread is bestAsk - bestBid. It is undefined (false) when the book is
// unsynced or either side is empty. Crossed books give a negative spread.
func (s *State) Spread() (decimal.Decimal, bool) {
	if !s.synced {
		return decimal.Zero, false
	}
	bid, ask := s.BestBidAsk()
	if bid == nil || ask == nil {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// Depth returns up to n levels per side; n <= 0 returns all levels.
func (s *State) Depth(n int) (bids, asks []marketdata.PriceLevel) {
	return s.bids.Depth(n), s.asks.Depth(n)
}

// View is an immutable copy of the derived book state, safe to hand to
// other goroutines.
type View struct {
	Sequence int64
	Synced   bool
	Bid      *marketdata.PriceLevel
	Ask      *marketdata.PriceLevel
	Spread   *decimal.Decimal
	Depth    marketdata.Depth
	// ExchangeTime is the venue time of the last applied event.
	ExchangeTime time.Time
}

// View copies the current state with up to depth levels per side.
// depth < 0 skips the depth copy.
func (s *State) View(depth int) View {
	v := View{Sequence: s.lastSequence, Synced: s.synced, ExchangeTime: s.exchangeTime}
	v.Bid, v.Ask = s.BestBidAsk()
	if spread, ok := s.Spread(); ok {
		v.Spread = &spread
	}
	if depth >= 0 {
		v.Depth.Bids, v.Depth.Asks = s.Depth(depth)
	}
	return v
}

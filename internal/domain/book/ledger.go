package book

import (
	"github.com/petar/GoLLRB/llrb"
	"github.com/shopspring/decimal"

	"github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
)

// Ledger keeps the price levels of one side ordered best first: descending
// for bids, ascending for asks. Zero-size levels are never stored.
type Ledger struct {
	side marketdata.Side
	tree *llrb.LLRB
}

// NewLedger returns an empty ledger ordered for side.
func NewLedger(side marketdata.Side) *Ledger {
	return &Ledger{side: side, tree: llrb.New()}
}

func (l *Ledger) Side() marketdata.Side {
	return l.side
}

// Upsert stores size at price, or drops the level when size is zero.
func (l *Ledger) Upsert(price, size decimal.Decimal) {
	if size.IsZero() {
		l.Remove(price)
		return
	}
	l.tree.ReplaceOrInsert(l.item(price, size))
}

// Remove deletes the level at price if present.
func (l *Ledger) Remove(price decimal.Decimal) {
	l.tree.Delete(l.item(price, decimal.Zero))
}

// Get returns the size resting at price.
func (l *Ledger) Get(price decimal.Decimal) (decimal.Decimal, bool) {
	found := l.tree.Get(l.item(price, decimal.Zero))
	if found == nil {
		return decimal.Zero, false
	}
	return levelOf(found).Size, true
}

// Best returns the top-ordered level; false means the ledger is empty.
func (l *Ledger) Best() (marketdata.PriceLevel, bool) {
	top := l.tree.Min()
	if top == nil {
		return marketdata.PriceLevel{}, false
	}
	return levelOf(top), true
}

// Depth returns up to n levels from the best price inward. n <= 0 returns
// every level. The result is a fresh slice on every call.
func (l *Ledger) Depth(n int) []marketdata.PriceLevel {
	total := l.tree.Len()
	if n <= 0 || n > total {
		n = total
	}
	out := make([]marketdata.PriceLevel, 0, n)
	if n == 0 {
		return out
	}
	l.tree.AscendGreaterOrEqual(l.tree.Min(), func(it llrb.Item) bool {
		out = append(out, levelOf(it))
		return len(out) < n
	})
	return out
}

func (l *Ledger) Len() int {
	return l.tree.Len()
}

// Clear drops every level.
func (l *Ledger) Clear() {
	l.tree = llrb.New()
}

func (l *Ledger) item(price, size decimal.Decimal) llrb.Item {
	lvl := marketdata.PriceLevel{Price: price, Size: size}
	if l.side == marketdata.SideBid {
		return bidLevel(lvl)
	}
	return askLevel(lvl)
}

// askLevel orders ascending by price, bidLevel descending, so Min is always
// the best price of the side.
type askLevel marketdata.PriceLevel

func (a askLevel) Less(than llrb.Item) bool {
	return a.Price.LessThan(than.(askLevel).Price)
}

type bidLevel marketdata.PriceLevel

func (b bidLevel) Less(than llrb.Item) bool {
	return b.Price.GreaterThan(than.(bidLevel).Price)
}

func levelOf(it llrb.Item) marketdata.PriceLevel {
	switch v := it.(type) {
	case askLevel:
		return marketdata.PriceLevel(v)
	case bidLevel:
		return marketdata.PriceLevel(v)
	default:
		return marketdata.PriceLevel{}
	}
}

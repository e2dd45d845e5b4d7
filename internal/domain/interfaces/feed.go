package interfaces

import (
	"context"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
)

// FeedSource delivers raw records and transport signals for one symbol.
// Run blocks until ctx is done or the source gives up; it never closes out.
type FeedSource interface {
	Run(ctx context.Context, out chan<- marketdata.FeedMessage) error
	// RequestSnapshot asks for a full book. It must return quickly; the
	// snapshot is delivered through Run.
	RequestSnapshot(ctx context.Context) error
}

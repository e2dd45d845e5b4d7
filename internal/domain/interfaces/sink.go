package interfaces

import (
	"context"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
)

// Sink is an outbound destination for book updates.
type Sink interface {
	Name() string
	Publish(ctx context.Context, update *marketdata.BookUpdate) error
	Close() error
}

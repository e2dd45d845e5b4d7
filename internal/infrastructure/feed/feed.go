// Package feed contains the inbound transports that turn venue streams into
// raw records and connect/disconnect/reset signals.
package feed

import (
	"context"
	"errors"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
)

var (
	// ErrTransportLost is carried by disconnect signals.
	ErrTransportLost  = errors.New("transport lost")
	ErrMalformedFrame = errors.New("malformed frame")
)

// emit hands msg to the pipeline unless ctx ends first.
func emit(ctx context.Context, out chan<- marketdata.FeedMessage, msg marketdata.FeedMessage) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitAll hands over the messages decoded from one frame, flagging all but
// the last with More.
func emitAll(ctx context.Context, out chan<- marketdata.FeedMessage, msgs []marketdata.FeedMessage) bool {
	for i, msg := range msgs {
		msg.More = i < len(msgs)-1
		if !emit(ctx, out, msg) {
			return false
		}
	}
	return true
}

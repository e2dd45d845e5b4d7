package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/NumberChiffre/SimpleLOBStream/internal/application/service/normalizer"
	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"
)

// Codec translates one venue's websocket protocol. A codec instance serves
// a single source and is only called from that source's session loop.
type Codec interface {
	// Open resets per-session state and returns the frames to send right
	// after connecting.
	Open(symbol string) ([][]byte, error)
	Decode(frame []byte) ([]marketdata.FeedMessage, error)
	// SnapshotRequest returns the frame that asks the venue for a snapshot
	// over the socket. A nil frame means snapshots are fetched out of band.
	SnapshotRequest(symbol string) ([]byte, error)
	// DecodeSnapshot translates a snapshot fetched out of band.
	DecodeSnapshot(body []byte) ([]marketdata.FeedMessage, error)
}

// SnapshotFetcher loads a full book outside the socket, e.g. over REST.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, symbol string) ([]byte, error)
}

// JSONCodec speaks the venue-neutral wire format: every frame is one record
// object or an array of them, shaped like marketdata.RawRecord.
type JSONCodec struct{}

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

type controlFrame struct {
	Op     string `json:"op"`
	Symbol string `json:"symbol"`
}

func (c *JSONCodec) Open(symbol string) ([][]byte, error) {
	frame, err := json.Marshal(controlFrame{Op: "subscribe", Symbol: symbol})
	if err != nil {
		return nil, fmt.Errorf("encode subscribe: %w", err)
	}
	return [][]byte{frame}, nil
}

func (c *JSONCodec) SnapshotRequest(symbol string) ([]byte, error) {
	frame, err := json.Marshal(controlFrame{Op: "snapshot", Symbol: symbol})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot request: %w", err)
	}
	return frame, nil
}

func (c *JSONCodec) Decode(frame []byte) ([]marketdata.FeedMessage, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil, nil
	}
	var records []marketdata.RawRecord
	if frame[0] == '[' {
		if err := json.Unmarshal(frame, &records); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	} else {
		var rec marketdata.RawRecord
		if err := json.Unmarshal(frame, &rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		records = append(records, rec)
	}

	msgs := make([]marketdata.FeedMessage, 0, len(records))
	for i := range records {
		rec := records[i]
		if normalizer.IsReset(rec) {
			msgs = append(msgs, marketdata.FeedMessage{Signal: marketdata.SignalReset})
			continue
		}
		if strings.TrimSpace(rec.Type) == "" && rec.Sequence == nil {
			// acks and heartbeats
			continue
		}
		msgs = append(msgs, marketdata.FeedMessage{Record: &rec})
	}
	return msgs, nil
}

func (c *JSONCodec) DecodeSnapshot(body []byte) ([]marketdata.FeedMessage, error) {
	return c.Decode(body)
}

package broker

import (
	"encoding/json"
	"errors"
	"fmt"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"

	"github.com/google/uuid"
)

var ErrEmptyPayload = errors.New("record payload is empty")

// RecordMessage is the body of a relayed feed record.
type RecordMessage struct {
	ID     uuid.UUID             `json:"id"`
	Record *marketdata.RawRecord `json:"record"`
}

func NewRecordMessage(rec *marketdata.RawRecord) RecordMessage {
	return RecordMessage{ID: uuid.New(), Record: rec}
}

func decodeRecord(body []byte) (*marketdata.RawRecord, error) {
	var msg RecordMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if msg.Record == nil {
		return nil, ErrEmptyPayload
	}
	return msg.Record, nil
}

package kafka

import (
	"encoding/json"
	"testing"
	"time"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewSink_Validation(t *testing.T) {
	_, err := NewSink(nil, "updates", 0)
	require.Error(t, err)

	_, err = NewSink([]string{"localhost:9092"}, "", 0)
	require.Error(t, err)

	sink, err := NewSink([]string{"localhost:9092"}, "updates", 0)
	require.NoError(t, err)
	require.Equal(t, "kafka", sink.Name())
	require.Equal(t, "updates", sink.writer.Topic)
	require.Equal(t, 10*time.Millisecond, sink.writer.BatchTimeout)
	require.NoError(t, sink.Close())
}

func TestNewMessage_KeyedBySymbol(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	update := &marketdata.BookUpdate{ID: id, Symbol: "ETHUSDT", Sequence: 7, Synced: true, PublishedAt: at}

	msg, err := newMessage(update)
	require.NoError(t, err)
	require.Equal(t, "ETHUSDT", string(msg.Key))
	require.Equal(t, at, msg.Time)
	require.Equal(t, "message-id", msg.Headers[0].Key)
	require.Equal(t, id.String(), string(msg.Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, "ETHUSDT", decoded["symbol"])
	require.Equal(t, float64(7), decoded["sequence"])
	require.Nil(t, decoded["bestBidPrice"])
}

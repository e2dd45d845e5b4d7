package cache

import (
	"encoding/json"
	"testing"
	"time"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestNewRedisSink_Validation(t *testing.T) {
	_, err := NewRedisSink(nil, "book:", "updates")
	require.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	t.Cleanup(func() { _ = client.Close() })

	_, err = NewRedisSink(client, "", "")
	require.Error(t, err)

	sink, err := NewRedisSink(client, "lobstream:book:", "")
	require.NoError(t, err)
	require.Equal(t, "redis", sink.Name())
	require.Equal(t, "lobstream:book:BTCUSDT", sink.Key("BTCUSDT"))
	require.NoError(t, sink.Close())
}

func TestHashFields(t *testing.T) {
	update := &marketdata.BookUpdate{
		ID:          uuid.New(),
		Symbol:      "BTCUSDT",
		Sequence:    42,
		Synced:      true,
		PublishedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(update)
	require.NoError(t, err)

	fields := hashFields(update, payload)
	require.Equal(t, int64(42), fields[fieldSequence])
	require.Equal(t, true, fields[fieldSynced])
	require.JSONEq(t, string(payload), string(fields[fieldUpdate].([]byte)))
}

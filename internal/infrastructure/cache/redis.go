// Package cache keeps the latest book update per symbol in Redis and fans it
// out over a pub/sub channel.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	marketdata "github.com/NumberChiffre/SimpleLOBStream/internal/domain/entity/marketdata"

	"github.com/redis/go-redis/v9"
)

const (
	fieldUpdate   = "update"
	fieldSequence = "sequence"
	fieldSynced   = "synced"
)

// RedisSink stores each update under KeyPrefix+symbol and publishes it on
// Channel. Either half is skipped when its name is empty.
type RedisSink struct {
	client    *redis.Client
	keyPrefix string
	channel   string
}

func NewRedisSink(client *redis.Client, keyPrefix, channel string) (*RedisSink, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	if keyPrefix == "" && channel == "" {
		return nil, errors.New("redis sink needs a key prefix or a channel")
	}
	return &RedisSink{client: client, keyPrefix: keyPrefix, channel: channel}, nil
}

func (s *RedisSink) Name() string {
	return "redis"
}

// Key returns the hash key holding the latest update for symbol.
func (s *RedisSink) Key(symbol string) string {
	return s.keyPrefix + symbol
}

func (s *RedisSink) Publish(ctx context.Context, update *marketdata.BookUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if s.keyPrefix != "" {
			pipe.HSet(ctx, s.Key(update.Symbol), hashFields(update, payload))
		}
		if s.channel != "" {
			pipe.Publish(ctx, s.channel, payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", update.Symbol, err)
	}
	return nil
}

// Latest reads back the stored update for symbol. redis.Nil is returned
// when nothing was published yet.
func (s *RedisSink) Latest(ctx context.Context, symbol string) (*marketdata.BookUpdate, error) {
	raw, err := s.client.HGet(ctx, s.Key(symbol), fieldUpdate).Bytes()
	if err != nil {
		return nil, err
	}
	var update marketdata.BookUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil, fmt.Errorf("decode cached update: %w", err)
	}
	return &update, nil
}

// Close is a no-op: the client is owned by the caller.
func (s *RedisSink) Close() error {
	return nil
}

func hashFields(update *marketdata.BookUpdate, payload []byte) map[string]any {
	return map[string]any{
		fieldUpdate:   payload,
		fieldSequence: update.Sequence,
		fieldSynced:   update.Synced,
	}
}

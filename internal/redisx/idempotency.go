package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CachedResponse is a finished HTTP response kept for Idempotency-Key replays.
type CachedResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type ResponseCache struct {
	rdb *redis.Client
}

func NewResponseCache(rdb *redis.Client) *ResponseCache { return &ResponseCache{rdb: rdb} }

// Get returns (nil, nil) when nothing is cached under the key.
func (c *ResponseCache) Get(ctx context.Context, actor, key string) (*CachedResponse, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(KeyIdem, actor, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r CachedResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *ResponseCache) Put(ctx context.Context, actor, key string, r CachedResponse) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyIdem, actor, key), b, TTLIdempotency).Err()
}

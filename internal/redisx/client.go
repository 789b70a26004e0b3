package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Ping dipakai saat startup, supaya salah alamat ketahuan lebih awal.
func Ping(ctx context.Context, rdb *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}

// MarkSeen returns true when (service, id) was already processed, and marks
// it otherwise. SETNX makes check-and-mark a single step.
func MarkSeen(ctx context.Context, rdb *redis.Client, service, id string) (bool, error) {
	ok, err := rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, id), "1", TTLDedup).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget undoes MarkSeen so a failed message can be processed again.
func Forget(ctx context.Context, rdb *redis.Client, service, id string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, id)).Err()
}

package redisx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/redis/go-redis/v9"
)

// LinkStore keeps emailed action tokens until the deal they act on expires.
// Tokens are not consumed on use; replaying one replays an idempotent
// transition.
type LinkStore struct {
	rdb *redis.Client
}

func NewLinkStore(rdb *redis.Client) *LinkStore { return &LinkStore{rdb: rdb} }

var (
	_ market.LinkIssuer   = (*LinkStore)(nil)
	_ market.LinkResolver = (*LinkStore)(nil)
)

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (s *LinkStore) Issue(ctx context.Context, a market.Action, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", market.Errorf(market.KindInvalidArgument, "link ttl must be positive")
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	for i := 0; i < 3; i++ {
		tok, err := newToken()
		if err != nil {
			return "", err
		}
		ok, err := s.rdb.SetNX(ctx, fmt.Sprintf(KeyLink, tok), b, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("store link: %w", err)
		}
		if ok {
			return tok, nil
		}
	}
	return "", errors.New("store link: token collision")
}

func (s *LinkStore) Resolve(ctx context.Context, token string) (market.Action, error) {
	raw, err := s.rdb.Get(ctx, fmt.Sprintf(KeyLink, token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return market.Action{}, market.Errorf(market.KindNotFound, "link expired or unknown")
	}
	if err != nil {
		return market.Action{}, fmt.Errorf("load link: %w", err)
	}
	var a market.Action
	if err := json.Unmarshal(raw, &a); err != nil {
		return market.Action{}, fmt.Errorf("decode link: %w", err)
	}
	return a, nil
}

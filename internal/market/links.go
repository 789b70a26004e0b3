package market

import (
	"context"
	"time"
)

type ActionKind string

const (
	ActionAccept   ActionKind = "accept"
	ActionDecline  ActionKind = "decline"
	ActionCancel   ActionKind = "cancel"
	ActionPurchase ActionKind = "purchase"
)

// Action is what an emailed link lets its holder do, on behalf of ActorID.
type Action struct {
	DealID  string     `json:"deal_id"`
	ActorID string     `json:"actor_id"`
	Kind    ActionKind `json:"kind"`
}

type LinkIssuer interface {
	Issue(ctx context.Context, a Action, ttl time.Duration) (string, error)
}

type LinkResolver interface {
	Resolve(ctx context.Context, token string) (Action, error)
}

package market

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventDealProposed    = "dealProposed"
	EventDealAccepted    = "dealAccepted"
	EventDealDeclined    = "dealDeclined"
	EventDealCancelled   = "dealCancelled"
	EventDealPurchased   = "dealPurchased"
	EventLowPointBalance = "lowPointBalance"
	EventOrderCancelled  = "orderCancelled"
)

// Event is a lifecycle fact handed to the notification layer after the state
// change that produced it has been committed.
type Event struct {
	Type        string
	AggregateID string // deal, order or subscription id; also the partition key
	RecipientID string
	Payload     any
}

// Notifier must not block on delivery. Implementations log and drop on
// failure; a notification never undoes the transition that raised it.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Envelope is the wire shape of an event on the bus.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	RecipientID   string          `json:"recipient_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

// DealPayload carries the deal plus the action links the recipient may use.
type DealPayload struct {
	Deal  Deal              `json:"deal"`
	Links map[string]string `json:"links,omitempty"`
	Order *Order            `json:"order,omitempty"`
}

type LowPointBalancePayload struct {
	BuyerID         string `json:"buyer_id"`
	SubscriptionID  string `json:"subscription_id"`
	PointsRemaining int    `json:"points_remaining"`
}

type OrderPayload struct {
	Order       Order  `json:"order"`
	CancelledBy string `json:"cancelled_by,omitempty"`
}

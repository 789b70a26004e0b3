// Package notify carries lifecycle events out of the engine and, on the
// consumer side, turns them into messages for their recipients.
package notify

import (
	"context"
	"encoding/json"
	"time"

	kafkax "github.com/ariefcatur/go-produce-market/internal/kafka"
	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const EventVersion = 1

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header) bool
}

// Kafka wraps each event in an Envelope and hands it to the async producer.
type Kafka struct {
	Producer Publisher
	Service  string
	Log      *zap.Logger
	Now      market.Clock
}

var _ market.Notifier = (*Kafka)(nil)

func (k *Kafka) Notify(ctx context.Context, ev market.Event) {
	now := market.SystemClock
	if k.Now != nil {
		now = k.Now
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		k.Log.Warn("encode event payload", zap.String("event_type", ev.Type), zap.Error(err))
		return
	}
	env := market.Envelope{
		EventID:       uuid.NewString(),
		EventType:     ev.Type,
		EventVersion:  EventVersion,
		OccurredAt:    now(),
		Producer:      k.Service,
		RecipientID:   ev.RecipientID,
		CorrelationID: middleware.GetReqID(ctx),
		Payload:       payload,
	}
	topic := market.TopicFor(ev.Type)
	if !k.Producer.Publish(topic, market.PartitionKey(ev.AggregateID), kafkax.MustMarshal(env),
		kafkax.EventHeaders(ev.Type, EventVersion)...) {
		k.Log.Warn("event dropped", zap.String("event_type", ev.Type), zap.String("aggregate_id", ev.AggregateID))
	}
}

// Log only records events. It is the notifier when no brokers are
// configured.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(ctx context.Context, ev market.Event) {
	l.Logger.Info("event",
		zap.String("event_type", ev.Type),
		zap.String("aggregate_id", ev.AggregateID),
		zap.String("recipient_id", ev.RecipientID),
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.Time("at", time.Now().UTC()))
}

package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	kafkax "github.com/ariefcatur/go-produce-market/internal/kafka"
	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/ariefcatur/go-produce-market/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Message is a rendered notification. Turning it into HTML or an actual
// email belongs to the Mailer.
type Message struct {
	EventType   string
	RecipientID string
	Subject     string
	Body        string
	Links       map[string]string
}

type Mailer interface {
	Send(ctx context.Context, m Message) error
}

type LogMailer struct {
	Log *zap.Logger
}

func (l LogMailer) Send(_ context.Context, m Message) error {
	l.Log.Info("notification",
		zap.String("event_type", m.EventType),
		zap.String("recipient_id", m.RecipientID),
		zap.String("subject", m.Subject),
		zap.Any("links", m.Links))
	return nil
}

type Dedup interface {
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type RedisDedup struct {
	Redis   *redis.Client
	Service string
}

func (d RedisDedup) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	return redisx.MarkSeen(ctx, d.Redis, d.Service, eventID)
}

func (d RedisDedup) Forget(ctx context.Context, eventID string) error {
	return redisx.Forget(ctx, d.Redis, d.Service, eventID)
}

type Dispatcher struct {
	Dedup  Dedup
	Mailer Mailer
	Log    *zap.Logger
}

// Handle dipasang sebagai handler consumer. Event yang sudah pernah diproses
// (by event_id) di-skip; kalau kirim gagal, tanda dedup dihapus supaya
// redelivery diproses lagi.
func (d *Dispatcher) Handle(ctx context.Context, m kafkago.Message) error {
	var env market.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		// poison message, commit dan lanjut
		d.Log.Warn("undecodable envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	msg, ok, err := Render(env)
	if err != nil {
		d.Log.Warn("render event", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	seen, err := d.Dedup.MarkSeen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}
	if err := d.Mailer.Send(ctx, msg); err != nil {
		if ferr := d.Dedup.Forget(ctx, env.EventID); ferr != nil {
			d.Log.Warn("forget dedup mark", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return fmt.Errorf("send %s: %w", env.EventType, err)
	}
	return nil
}

// Render builds the message for an envelope. ok is false for event types
// that nobody is notified about.
func Render(env market.Envelope) (Message, bool, error) {
	msg := Message{EventType: env.EventType, RecipientID: env.RecipientID}
	switch env.EventType {
	case market.EventDealProposed, market.EventDealAccepted, market.EventDealDeclined,
		market.EventDealCancelled, market.EventDealPurchased:
		p, err := kafkax.UnwrapPayload[market.DealPayload](env.Payload)
		if err != nil {
			return Message{}, false, err
		}
		msg.Subject, msg.Body = dealText(env.EventType, p)
		msg.Links = p.Links
	case market.EventLowPointBalance:
		p, err := kafkax.UnwrapPayload[market.LowPointBalancePayload](env.Payload)
		if err != nil {
			return Message{}, false, err
		}
		msg.Subject = "Your subscription points are running low"
		msg.Body = fmt.Sprintf("You have %d point(s) left. Renew your plan to keep unlocking sellers.", p.PointsRemaining)
	case market.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[market.OrderPayload](env.Payload)
		if err != nil {
			return Message{}, false, err
		}
		msg.Subject = "Order cancelled"
		msg.Body = fmt.Sprintf("Order %s for %d unit(s) was cancelled.", p.Order.ID, p.Order.Quantity)
	default:
		return Message{}, false, nil
	}
	return msg, true, nil
}

func dealText(eventType string, p market.DealPayload) (subject, body string) {
	d := p.Deal
	terms := fmt.Sprintf("%d unit(s) at %s each (listed at %s)", d.Quantity, d.ProposedPrice.StringFixed(2), d.OriginalPrice.StringFixed(2))
	switch eventType {
	case market.EventDealProposed:
		subject = "New offer on your listing"
		body = "A buyer offered " + terms + "."
		if d.Message != "" {
			body += " Message: " + d.Message
		}
	case market.EventDealAccepted:
		subject = "Your offer was accepted"
		body = "The seller accepted " + terms + ". Confirm the purchase before " + d.ExpiresAt.Format("Jan 2, 2006 15:04 MST") + "."
	case market.EventDealDeclined:
		subject = "Your offer was declined"
		body = "The seller declined " + terms + "."
	case market.EventDealCancelled:
		subject = "An offer was cancelled"
		body = "The buyer cancelled the offer of " + terms + "."
	case market.EventDealPurchased:
		subject = "Deal purchased"
		body = "The buyer confirmed " + terms + "."
		if p.Order != nil {
			body += " Order " + p.Order.ID + "."
		}
	}
	if len(p.Links) > 0 {
		keys := make([]string, 0, len(p.Links))
		for k := range p.Links {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&sb, "\n%s: %s", k, p.Links[k])
		}
		body += sb.String()
	}
	return subject, body
}

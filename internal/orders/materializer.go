// Package orders turns a completed purchase into exactly one Order and owns
// the pending -> cancelled edge.
package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Inventory is the slice of inventory.Store the materializer needs.
type Inventory interface {
	ReserveAndDecrement(ctx context.Context, listingID string, qty int) (market.Listing, error)
	Restore(ctx context.Context, listingID string, qty int) (market.Listing, error)
}

type Refunder interface {
	RefundPoint(ctx context.Context, buyerID, sellerID, orderID string) (bool, error)
}

// Draft is what a purchase path knows once stock (and points) are secured.
// ID may be pre-allocated when a ledger unlock has to reference the order
// before it exists.
type Draft struct {
	ID        string
	ListingID string
	SellerID  string
	BuyerID   string
	DealID    *string
	Source    market.OrderSource
	Quantity  int
	UnitPrice decimal.Decimal
	Status    market.OrderStatus
}

type Materializer struct {
	Orders    market.OrderRepo
	Inventory Inventory
	Ledger    Refunder
	Notifier  market.Notifier
	Log       *zap.Logger
	Now       market.Clock
	Attempts  int
}

func New(repo market.OrderRepo, inv Inventory, ledger Refunder, n market.Notifier, log *zap.Logger) *Materializer {
	if log == nil {
		log = zap.NewNop()
	}
	if n == nil {
		n = market.NotifierFunc(func(context.Context, market.Event) {})
	}
	return &Materializer{
		Orders:    repo,
		Inventory: inv,
		Ledger:    ledger,
		Notifier:  n,
		Log:       log,
		Now:       market.SystemClock,
		Attempts:  market.DefaultAttempts,
	}
}

// Materialize writes the order. Callers invoke it only after the inventory
// decrement (and ledger spend, if any) succeeded, and undo those themselves
// when it fails.
func (m *Materializer) Materialize(ctx context.Context, d Draft) (market.Order, error) {
	if d.Quantity <= 0 {
		return market.Order{}, market.Errorf(market.KindInvalidArgument, "quantity must be positive")
	}
	if d.Status == "" {
		d.Status = market.OrderPending
	}
	now := m.Now()
	o, err := m.Orders.CreateOrder(ctx, market.Order{
		ID:         d.ID,
		ListingID:  d.ListingID,
		SellerID:   d.SellerID,
		BuyerID:    d.BuyerID,
		DealID:     d.DealID,
		Source:     d.Source,
		Quantity:   d.Quantity,
		UnitPrice:  d.UnitPrice,
		TotalPrice: d.UnitPrice.Mul(decimal.NewFromInt(int64(d.Quantity))),
		Status:     d.Status,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return market.Order{}, fmt.Errorf("materialize order: %w", err)
	}
	m.Log.Info("order materialized",
		zap.String("order_id", o.ID), zap.String("source", string(o.Source)),
		zap.String("listing_id", o.ListingID), zap.Int("qty", o.Quantity))
	return o, nil
}

func isParty(o market.Order, actorID string) bool {
	return actorID != "" && (o.BuyerID == actorID || o.SellerID == actorID)
}

func (m *Materializer) Get(ctx context.Context, orderID, actorID string) (market.Order, error) {
	o, err := m.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return market.Order{}, err
	}
	if !isParty(o, actorID) {
		return market.Order{}, market.Errorf(market.KindUnauthorized, "not a party to order %s", orderID)
	}
	return o, nil
}

// ByDeal returns the order a deal purchase produced, NotFound if none.
func (m *Materializer) ByDeal(ctx context.Context, dealID string) (market.Order, error) {
	return m.Orders.GetOrderByDeal(ctx, dealID)
}

func (m *Materializer) List(ctx context.Context, actorID string) ([]market.Order, error) {
	return m.Orders.ListOrders(ctx, actorID)
}

// Cancel moves a pending order to cancelled, puts the stock back and, for
// orders bought with a ledger unlock, refunds that point. Cancelling an
// already cancelled order returns it unchanged.
func (m *Materializer) Cancel(ctx context.Context, orderID, actorID string) (market.Order, error) {
	var (
		cancelled market.Order
		replay    bool
	)
	err := market.Retry(ctx, m.Attempts, func() error {
		o, err := m.Orders.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !isParty(o, actorID) {
			return market.Errorf(market.KindUnauthorized, "not a party to order %s", orderID)
		}
		if o.Status == market.OrderCancelled {
			cancelled, replay = o, true
			return nil
		}
		if !market.CanTransitionOrder(o.Status, market.OrderCancelled) {
			return market.Errorf(market.KindInvalidStateTransition, "order %s is %s", orderID, o.Status)
		}
		o.Status = market.OrderCancelled
		o.UpdatedAt = m.Now()
		cancelled, err = m.Orders.UpdateOrder(ctx, o)
		return err
	})
	if err != nil {
		return market.Order{}, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	if replay {
		return cancelled, nil
	}

	// the cancel is committed; finish or undo it even if the caller is gone
	uctx, done := market.Detach(ctx)
	defer done()

	if _, err := m.Inventory.Restore(uctx, cancelled.ListingID, cancelled.Quantity); err != nil {
		m.reopen(uctx, cancelled)
		return market.Order{}, fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	if cancelled.Source == market.SourceUnlock {
		if _, err := m.Ledger.RefundPoint(uctx, cancelled.BuyerID, cancelled.SellerID, cancelled.ID); err != nil {
			if _, rerr := m.Inventory.ReserveAndDecrement(uctx, cancelled.ListingID, cancelled.Quantity); rerr != nil {
				m.Log.Error("compensate restore failed",
					zap.String("order_id", cancelled.ID), zap.Error(rerr))
			}
			m.reopen(uctx, cancelled)
			return market.Order{}, fmt.Errorf("cancel order %s: %w", orderID, err)
		}
	}

	recipient := cancelled.SellerID
	if actorID == cancelled.SellerID {
		recipient = cancelled.BuyerID
	}
	m.Notifier.Notify(ctx, market.Event{
		Type:        market.EventOrderCancelled,
		AggregateID: cancelled.ID,
		RecipientID: recipient,
		Payload:     market.OrderPayload{Order: cancelled, CancelledBy: actorID},
	})
	return cancelled, nil
}

// reopen puts a cancelled order back to pending after a later step failed.
func (m *Materializer) reopen(ctx context.Context, o market.Order) {
	o.Status = market.OrderPending
	o.UpdatedAt = m.Now()
	if _, err := m.Orders.UpdateOrder(ctx, o); err != nil {
		lvl := m.Log.Error
		if errors.Is(err, market.ErrConflict) {
			lvl = m.Log.Warn
		}
		lvl("reopen order failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

// Package deals runs the negotiation state machine. Every entry point loads
// the deal, sweeps expiry, then applies the requested transition with a
// versioned update.
package deals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-produce-market/internal/ledger"
	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/ariefcatur/go-produce-market/internal/orders"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultTTL = 5 * 24 * time.Hour

type Inventory interface {
	ReserveAndDecrement(ctx context.Context, listingID string, qty int) (market.Listing, error)
	Restore(ctx context.Context, listingID string, qty int) (market.Listing, error)
}

type Ledger interface {
	Charge(ctx context.Context, buyerID string, points int, dealID string) (ledger.Receipt, error)
	Reverse(ctx context.Context, r ledger.Receipt) error
}

type Orders interface {
	Materialize(ctx context.Context, d orders.Draft) (market.Order, error)
	ByDeal(ctx context.Context, dealID string) (market.Order, error)
}

type Manager struct {
	Deals     market.DealRepo
	Listings  market.ListingRepo
	Inventory Inventory
	Ledger    Ledger
	Orders    Orders
	Links     market.LinkIssuer
	Notifier  market.Notifier
	Policy    ledger.PointsPolicy
	Log       *zap.Logger
	Now       market.Clock

	TTL      time.Duration
	BaseURL  string
	Attempts int
}

type Decision string

const (
	Accept  Decision = "accept"
	Decline Decision = "decline"
)

// Role narrows List to one side of the negotiation. Empty means both.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return market.SystemClock()
	}
	return m.Now()
}

func (m *Manager) log() *zap.Logger {
	if m.Log == nil {
		return zap.NewNop()
	}
	return m.Log
}

func (m *Manager) notify(ctx context.Context, ev market.Event) {
	if m.Notifier != nil {
		m.Notifier.Notify(ctx, ev)
	}
}

// load reads the deal and flags it expired when its window has passed. A lost
// race on that write comes back as ErrConflict so the caller re-reads.
func (m *Manager) load(ctx context.Context, dealID string) (market.Deal, error) {
	d, err := m.Deals.GetDeal(ctx, dealID)
	if err != nil {
		return market.Deal{}, err
	}
	now := m.now()
	if !market.IsExpired(d, now) {
		return d, nil
	}
	d.Status = market.DealExpired
	d.UpdatedAt = now
	d, err = m.Deals.UpdateDeal(ctx, d)
	if err != nil {
		return market.Deal{}, err
	}
	m.log().Info("deal expired", zap.String("deal_id", d.ID))
	return d, nil
}

func expiredErr(d market.Deal) error {
	return market.Errorf(market.KindExpired, "deal %s expired at %s", d.ID, d.ExpiresAt.Format(time.RFC3339))
}

func transitionErr(d market.Deal, action string) error {
	return market.Errorf(market.KindInvalidStateTransition, "cannot %s a %s deal", action, d.Status)
}

func (m *Manager) Propose(ctx context.Context, buyerID, listingID string, qty int, price decimal.Decimal, message string) (market.Deal, error) {
	l, err := m.Listings.GetListing(ctx, listingID)
	if err != nil {
		return market.Deal{}, err
	}
	if !l.Active {
		return market.Deal{}, market.Errorf(market.KindNotFound, "listing %s is not active", listingID)
	}
	if l.SellerID == buyerID {
		return market.Deal{}, market.Errorf(market.KindSelfDealNotAllowed, "cannot propose a deal on your own listing")
	}
	if qty <= 0 {
		return market.Deal{}, market.Errorf(market.KindInvalidArgument, "quantity must be positive")
	}
	if !price.IsPositive() {
		return market.Deal{}, market.Errorf(market.KindInvalidArgument, "price must be positive")
	}
	if qty > l.AvailableQuantity {
		return market.Deal{}, market.Errorf(market.KindInsufficientStock,
			"only %d %s available", l.AvailableQuantity, l.Unit)
	}

	ttl := m.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := m.now()
	d, err := m.Deals.CreateDeal(ctx, market.Deal{
		ListingID:     l.ID,
		SellerID:      l.SellerID,
		BuyerID:       buyerID,
		Quantity:      qty,
		ProposedPrice: price,
		OriginalPrice: l.UnitPrice,
		Message:       strings.TrimSpace(message),
		Status:        market.DealPending,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return market.Deal{}, fmt.Errorf("create deal: %w", err)
	}
	m.log().Info("deal proposed",
		zap.String("deal_id", d.ID), zap.String("listing_id", l.ID), zap.Int("qty", qty))

	m.notify(ctx, market.Event{
		Type:        market.EventDealProposed,
		AggregateID: d.ID,
		RecipientID: d.SellerID,
		Payload:     market.DealPayload{Deal: d, Links: m.links(ctx, d, d.SellerID, market.ActionAccept, market.ActionDecline)},
	})
	return d, nil
}

func (m *Manager) Respond(ctx context.Context, dealID, actorID string, decision Decision) (market.Deal, error) {
	var target market.DealStatus
	switch decision {
	case Accept:
		target = market.DealAccepted
	case Decline:
		target = market.DealDeclined
	default:
		return market.Deal{}, market.Errorf(market.KindInvalidArgument, "decision must be accept or decline")
	}

	var (
		out     market.Deal
		changed bool
	)
	err := market.Retry(ctx, m.Attempts, func() error {
		changed = false
		d, err := m.load(ctx, dealID)
		if err != nil {
			return err
		}
		if d.SellerID != actorID {
			return market.Errorf(market.KindUnauthorized, "only the seller can respond to deal %s", dealID)
		}
		switch {
		case d.Status == target:
			out = d
			return nil
		case d.Status == market.DealExpired:
			return expiredErr(d)
		case d.Status != market.DealPending:
			return transitionErr(d, string(decision))
		}
		now := m.now()
		d.Status = target
		d.SellerRespondedAt = &now
		d.UpdatedAt = now
		out, err = m.Deals.UpdateDeal(ctx, d)
		changed = err == nil
		return err
	})
	if err != nil {
		return market.Deal{}, fmt.Errorf("%s deal %s: %w", decision, dealID, err)
	}
	if !changed {
		return out, nil
	}

	ev := market.Event{AggregateID: out.ID, RecipientID: out.BuyerID}
	if target == market.DealAccepted {
		ev.Type = market.EventDealAccepted
		ev.Payload = market.DealPayload{Deal: out, Links: m.links(ctx, out, out.BuyerID, market.ActionPurchase, market.ActionCancel)}
	} else {
		ev.Type = market.EventDealDeclined
		ev.Payload = market.DealPayload{Deal: out}
	}
	m.notify(ctx, ev)
	return out, nil
}

// Cancel is the single buyer-side cancel, shared by the API and email links.
func (m *Manager) Cancel(ctx context.Context, dealID, actorID string) (market.Deal, error) {
	var (
		out     market.Deal
		changed bool
	)
	err := market.Retry(ctx, m.Attempts, func() error {
		changed = false
		d, err := m.load(ctx, dealID)
		if err != nil {
			return err
		}
		if d.BuyerID != actorID {
			return market.Errorf(market.KindUnauthorized, "only the buyer can cancel deal %s", dealID)
		}
		switch {
		case d.Status == market.DealCancelled:
			out = d
			return nil
		case d.Status == market.DealExpired:
			return expiredErr(d)
		case !market.CanTransitionDeal(d.Status, market.DealCancelled):
			return transitionErr(d, "cancel")
		}
		now := m.now()
		d.Status = market.DealCancelled
		d.BuyerRespondedAt = &now
		d.UpdatedAt = now
		out, err = m.Deals.UpdateDeal(ctx, d)
		changed = err == nil
		return err
	})
	if err != nil {
		return market.Deal{}, fmt.Errorf("cancel deal %s: %w", dealID, err)
	}
	if changed {
		m.notify(ctx, market.Event{
			Type:        market.EventDealCancelled,
			AggregateID: out.ID,
			RecipientID: out.SellerID,
			Payload:     market.DealPayload{Deal: out},
		})
	}
	return out, nil
}

// Purchase claims an accepted deal, charges points, takes the stock and
// writes the order. A purchased deal returns its existing order. When a step
// fails, the earlier ones are undone and the deal goes back to accepted.
func (m *Manager) Purchase(ctx context.Context, dealID, buyerID string) (market.Deal, market.Order, error) {
	var (
		claimed  market.Deal
		existing *market.Order
	)
	err := market.Retry(ctx, m.Attempts, func() error {
		existing = nil
		d, err := m.load(ctx, dealID)
		if err != nil {
			return err
		}
		if d.BuyerID != buyerID {
			return market.Errorf(market.KindUnauthorized, "only the buyer can purchase deal %s", dealID)
		}
		switch d.Status {
		case market.DealPurchased:
			o, err := m.Orders.ByDeal(ctx, d.ID)
			if errors.Is(err, market.ErrNotFound) {
				// claimed by a concurrent purchase that has not written its order yet
				return market.Errorf(market.KindConflict, "purchase of deal %s in progress", d.ID)
			}
			if err != nil {
				return err
			}
			claimed, existing = d, &o
			return nil
		case market.DealExpired:
			return expiredErr(d)
		case market.DealAccepted:
		default:
			return transitionErr(d, "purchase")
		}

		now := m.now()
		if !now.Before(d.ExpiresAt) {
			d.Status = market.DealExpired
			d.UpdatedAt = now
			if _, err := m.Deals.UpdateDeal(ctx, d); err != nil {
				return err
			}
			return expiredErr(d)
		}
		d.Status = market.DealPurchased
		d.BuyerRespondedAt = &now
		d.UpdatedAt = now
		claimed, err = m.Deals.UpdateDeal(ctx, d)
		return err
	})
	if err != nil {
		return market.Deal{}, market.Order{}, fmt.Errorf("purchase deal %s: %w", dealID, err)
	}
	if existing != nil {
		return claimed, *existing, nil
	}

	// undo steps run on a detached context: the request may already be gone
	fail := func(err error, undo ...func(context.Context)) (market.Deal, market.Order, error) {
		uctx, done := market.Detach(ctx)
		defer done()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i](uctx)
		}
		m.rollback(uctx, claimed)
		return market.Deal{}, market.Order{}, fmt.Errorf("purchase deal %s: %w", dealID, err)
	}

	receipt, err := m.Ledger.Charge(ctx, buyerID, m.Policy.Required(claimed.Total()), claimed.ID)
	if err != nil {
		return fail(err)
	}
	reverse := func(ctx context.Context) {
		if err := m.Ledger.Reverse(ctx, receipt); err != nil {
			m.log().Error("reverse charge failed", zap.String("deal_id", claimed.ID), zap.Error(err))
		}
	}

	if _, err := m.Inventory.ReserveAndDecrement(ctx, claimed.ListingID, claimed.Quantity); err != nil {
		return fail(err, reverse)
	}
	restore := func(ctx context.Context) {
		if _, err := m.Inventory.Restore(ctx, claimed.ListingID, claimed.Quantity); err != nil {
			m.log().Error("restore stock failed", zap.String("deal_id", claimed.ID), zap.Error(err))
		}
	}

	dealRef := claimed.ID
	o, err := m.Orders.Materialize(ctx, orders.Draft{
		ListingID: claimed.ListingID,
		SellerID:  claimed.SellerID,
		BuyerID:   claimed.BuyerID,
		DealID:    &dealRef,
		Source:    market.SourceDeal,
		Quantity:  claimed.Quantity,
		UnitPrice: claimed.ProposedPrice,
		Status:    market.OrderPurchased,
	})
	if err != nil {
		return fail(err, reverse, restore)
	}

	m.log().Info("deal purchased",
		zap.String("deal_id", claimed.ID), zap.String("order_id", o.ID), zap.Int("points", receipt.Points))
	m.notify(ctx, market.Event{
		Type:        market.EventDealPurchased,
		AggregateID: claimed.ID,
		RecipientID: claimed.SellerID,
		Payload:     market.DealPayload{Deal: claimed, Order: &o},
	})
	return claimed, o, nil
}

// rollback returns a claimed deal to accepted. It only succeeds while nobody
// else has touched the deal since the claim.
func (m *Manager) rollback(ctx context.Context, claimed market.Deal) {
	d := claimed
	d.Status = market.DealAccepted
	d.BuyerRespondedAt = nil
	d.UpdatedAt = m.now()
	if _, err := m.Deals.UpdateDeal(ctx, d); err != nil {
		m.log().Error("rollback deal failed", zap.String("deal_id", d.ID), zap.Error(err))
	}
}

// Get returns the deal to either party, sweeping expiry on the way.
func (m *Manager) Get(ctx context.Context, dealID, actorID string) (market.Deal, error) {
	var out market.Deal
	err := market.Retry(ctx, m.Attempts, func() error {
		d, err := m.load(ctx, dealID)
		if err != nil {
			return err
		}
		if d.BuyerID != actorID && d.SellerID != actorID {
			return market.Errorf(market.KindUnauthorized, "not a party to deal %s", dealID)
		}
		out = d
		return nil
	})
	return out, err
}

// List returns the actor's deals. Pending deals past their window are
// swept before they are returned.
func (m *Manager) List(ctx context.Context, actorID string, role Role, status market.DealStatus) ([]market.Deal, error) {
	f := market.DealFilter{}
	switch role {
	case RoleBuyer:
		f.BuyerID = actorID
	case RoleSeller:
		f.SellerID = actorID
	case "":
		f.BuyerID, f.SellerID = actorID, actorID
	default:
		return nil, market.Errorf(market.KindInvalidArgument, "unknown role %q", role)
	}
	if status != "" && !status.Valid() {
		return nil, market.Errorf(market.KindInvalidArgument, "unknown status %q", status)
	}
	// filter on status after the sweep so a stale pending row is not listed as pending
	all, err := m.Deals.ListDeals(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]market.Deal, 0, len(all))
	now := m.now()
	for _, d := range all {
		if market.IsExpired(d, now) {
			swept, err := m.Get(ctx, d.ID, actorID)
			if err != nil {
				return nil, err
			}
			d = swept
		}
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

// Act runs an emailed action through the same functions the API uses.
func (m *Manager) Act(ctx context.Context, a market.Action) (market.Deal, *market.Order, error) {
	switch a.Kind {
	case market.ActionAccept:
		d, err := m.Respond(ctx, a.DealID, a.ActorID, Accept)
		return d, nil, err
	case market.ActionDecline:
		d, err := m.Respond(ctx, a.DealID, a.ActorID, Decline)
		return d, nil, err
	case market.ActionCancel:
		d, err := m.Cancel(ctx, a.DealID, a.ActorID)
		return d, nil, err
	case market.ActionPurchase:
		d, o, err := m.Purchase(ctx, a.DealID, a.ActorID)
		if err != nil {
			return market.Deal{}, nil, err
		}
		return d, &o, nil
	default:
		return market.Deal{}, nil, market.Errorf(market.KindInvalidArgument, "unknown action %q", a.Kind)
	}
}

// links issues one emailed link per action, valid until the deal expires.
// Failures only cost the email its buttons.
func (m *Manager) links(ctx context.Context, d market.Deal, actorID string, kinds ...market.ActionKind) map[string]string {
	if m.Links == nil {
		return nil
	}
	ttl := d.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return nil
	}
	out := make(map[string]string, len(kinds))
	for _, k := range kinds {
		tok, err := m.Links.Issue(ctx, market.Action{DealID: d.ID, ActorID: actorID, Kind: k}, ttl)
		if err != nil {
			m.log().Warn("issue action link", zap.String("deal_id", d.ID), zap.String("action", string(k)), zap.Error(err))
			continue
		}
		out[string(k)] = strings.TrimRight(m.BaseURL, "/") + "/links/" + tok
	}
	return out
}

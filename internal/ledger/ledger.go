// Package ledger owns every read-modify-write of a buyer's point balance and
// unlocked sellers. Nothing else updates a Subscription.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-produce-market/internal/market"
	"go.uber.org/zap"
)

const DefaultLowBalanceThreshold = 2

type Ledger struct {
	Subs     market.SubscriptionRepo
	Notifier market.Notifier
	Log      *zap.Logger
	Now      market.Clock

	LowBalanceThreshold int
	Attempts            int
}

func New(subs market.SubscriptionRepo, n market.Notifier, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	if n == nil {
		n = market.NotifierFunc(func(context.Context, market.Event) {})
	}
	return &Ledger{
		Subs:                subs,
		Notifier:            n,
		Log:                 log,
		Now:                 market.SystemClock,
		LowBalanceThreshold: DefaultLowBalanceThreshold,
		Attempts:            market.DefaultAttempts,
	}
}

type SpendResult struct {
	PointsRemaining int  `json:"points_remaining"`
	AlreadyUnlocked bool `json:"already_unlocked"`
}

// Receipt identifies a Charge so it can be reversed against the same ledger.
type Receipt struct {
	SubscriptionID string
	BuyerID        string
	DealID         string
	Points         int
}

func (l *Ledger) active(ctx context.Context, buyerID string) (market.Subscription, error) {
	sub, err := l.Subs.ActiveSubscription(ctx, buyerID, l.Now())
	if errors.Is(err, market.ErrNotFound) {
		return market.Subscription{}, market.Errorf(market.KindNoActiveEntitlement, "buyer %s has no active subscription", buyerID)
	}
	return sub, err
}

func (l *Ledger) HasActiveEntitlement(ctx context.Context, buyerID string) (bool, error) {
	_, err := l.active(ctx, buyerID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, market.ErrNoActiveEntitlement):
		return false, nil
	default:
		return false, err
	}
}

// Current returns the active ledger, or NoActiveEntitlement.
func (l *Ledger) Current(ctx context.Context, buyerID string) (market.Subscription, error) {
	return l.active(ctx, buyerID)
}

func (l *Ledger) History(ctx context.Context, buyerID string) ([]market.LedgerEntry, error) {
	return l.Subs.ListEntries(ctx, buyerID)
}

// Subscribe opens a new ledger on plan. A buyer holds at most one active
// ledger at a time.
func (l *Ledger) Subscribe(ctx context.Context, buyerID, planName string) (market.Subscription, error) {
	plan, ok := PlanByName(planName)
	if !ok {
		return market.Subscription{}, market.Errorf(market.KindInvalidArgument, "unknown plan %q", planName)
	}
	if has, err := l.HasActiveEntitlement(ctx, buyerID); err != nil {
		return market.Subscription{}, err
	} else if has {
		return market.Subscription{}, market.Errorf(market.KindConflict, "buyer %s already has an active subscription", buyerID)
	}
	now := l.Now()
	sub, err := l.Subs.CreateSubscription(ctx, market.Subscription{
		BuyerID:         buyerID,
		Plan:            plan.Name,
		PointsRemaining: plan.Points,
		PointsTotal:     plan.Points,
		ValidFrom:       now,
		ValidUntil:      now.Add(plan.Duration),
		UnlockedSellers: []market.Unlock{},
	}, market.LedgerEntry{Delta: plan.Points, Reason: market.ReasonGrant, CreatedAt: now})
	if err != nil {
		return market.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	l.Log.Info("subscription created",
		zap.String("buyer_id", buyerID), zap.String("plan", plan.Name), zap.String("subscription_id", sub.ID))
	return sub, nil
}

// SpendPoint unlocks sellerID for the buyer. A seller unlocked earlier costs
// nothing and reports AlreadyUnlocked.
func (l *Ledger) SpendPoint(ctx context.Context, buyerID, sellerID string, orderID *string) (SpendResult, error) {
	var (
		res     SpendResult
		updated market.Subscription
		spent   bool
	)
	err := market.Retry(ctx, l.Attempts, func() error {
		spent = false
		cur, err := l.active(ctx, buyerID)
		if err != nil {
			return err
		}
		if cur.FindUnlock(sellerID) >= 0 {
			res = SpendResult{PointsRemaining: cur.PointsRemaining, AlreadyUnlocked: true}
			return nil
		}
		if cur.PointsRemaining <= 0 {
			return market.Errorf(market.KindInsufficientPoints, "no points remaining")
		}
		now := l.Now()
		cur.PointsRemaining--
		cur.UnlockedSellers = append(cur.UnlockedSellers, market.Unlock{SellerID: sellerID, OrderID: orderID, UnlockedAt: now})
		seller := sellerID
		updated, err = l.Subs.UpdateSubscription(ctx, cur, market.LedgerEntry{
			Delta: -1, Reason: market.ReasonUnlock, SellerID: &seller, OrderID: orderID, CreatedAt: now,
		})
		if err != nil {
			return err
		}
		res = SpendResult{PointsRemaining: updated.PointsRemaining}
		spent = true
		return nil
	})
	if err != nil {
		return SpendResult{}, fmt.Errorf("spend point: %w", err)
	}
	if spent {
		l.checkLowBalance(ctx, updated)
	}
	return res, nil
}

// RefundPoint undoes the unlock recorded for exactly (sellerID, orderID) on
// whichever ledger holds it, so a renewal does not strand the refund. It
// reports false when no such unlock exists.
func (l *Ledger) RefundPoint(ctx context.Context, buyerID, sellerID, orderID string) (bool, error) {
	var refunded bool
	err := market.Retry(ctx, l.Attempts, func() error {
		refunded = false
		cur, err := l.Subs.SubscriptionWithUnlock(ctx, buyerID, sellerID, orderID)
		if errors.Is(err, market.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		idx := cur.FindOrderUnlock(sellerID, orderID)
		if idx < 0 {
			return nil
		}
		cur.UnlockedSellers = append(cur.UnlockedSellers[:idx:idx], cur.UnlockedSellers[idx+1:]...)
		delta := 0
		if cur.PointsRemaining < cur.PointsTotal {
			cur.PointsRemaining++
			delta = 1
		}
		seller, order := sellerID, orderID
		if _, err := l.Subs.UpdateSubscription(ctx, cur, market.LedgerEntry{
			Delta: delta, Reason: market.ReasonRefund, SellerID: &seller, OrderID: &order, CreatedAt: l.Now(),
		}); err != nil {
			return err
		}
		refunded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("refund point: %w", err)
	}
	return refunded, nil
}

// Charge takes points off the active ledger for a deal purchase. Zero points
// is a no-op that needs no ledger at all.
func (l *Ledger) Charge(ctx context.Context, buyerID string, points int, dealID string) (Receipt, error) {
	r := Receipt{BuyerID: buyerID, DealID: dealID}
	if points <= 0 {
		return r, nil
	}
	var updated market.Subscription
	err := market.Retry(ctx, l.Attempts, func() error {
		cur, err := l.active(ctx, buyerID)
		if err != nil {
			return err
		}
		if cur.PointsRemaining < points {
			return market.Errorf(market.KindInsufficientPoints,
				"need %d points, %d remaining", points, cur.PointsRemaining)
		}
		cur.PointsRemaining -= points
		deal := dealID
		updated, err = l.Subs.UpdateSubscription(ctx, cur, market.LedgerEntry{
			Delta: -points, Reason: market.ReasonDealPurchase, DealID: &deal, CreatedAt: l.Now(),
		})
		return err
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("charge points: %w", err)
	}
	r.SubscriptionID = updated.ID
	r.Points = points
	l.checkLowBalance(ctx, updated)
	return r, nil
}

// Reverse puts a Charge back, capped at the ledger's total.
func (l *Ledger) Reverse(ctx context.Context, r Receipt) error {
	if r.Points <= 0 || r.SubscriptionID == "" {
		return nil
	}
	err := market.Retry(ctx, l.Attempts, func() error {
		cur, err := l.Subs.GetSubscription(ctx, r.SubscriptionID)
		if err != nil {
			return err
		}
		give := r.Points
		if room := cur.PointsTotal - cur.PointsRemaining; give > room {
			give = room
		}
		cur.PointsRemaining += give
		deal := r.DealID
		_, err = l.Subs.UpdateSubscription(ctx, cur, market.LedgerEntry{
			Delta: give, Reason: market.ReasonDealPurchaseRev, DealID: &deal, CreatedAt: l.Now(),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("reverse charge: %w", err)
	}
	return nil
}

func (l *Ledger) checkLowBalance(ctx context.Context, sub market.Subscription) {
	if sub.PointsRemaining > l.LowBalanceThreshold {
		return
	}
	l.Notifier.Notify(ctx, market.Event{
		Type:        market.EventLowPointBalance,
		AggregateID: sub.ID,
		RecipientID: sub.BuyerID,
		Payload: market.LowPointBalancePayload{
			BuyerID:         sub.BuyerID,
			SubscriptionID:  sub.ID,
			PointsRemaining: sub.PointsRemaining,
		},
	})
}

package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/ariefcatur/go-produce-market/internal/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []market.Event
}

func (r *recorder) Notify(_ context.Context, ev market.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(typ string) []market.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []market.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func newLedger(t *testing.T) (*Ledger, *memstore.Store, *recorder) {
	t.Helper()
	ms := memstore.New()
	ms.Now = func() time.Time { return t0 }
	rec := &recorder{}
	l := New(ms, rec, nil)
	l.Now = func() time.Time { return t0 }
	return l, ms, rec
}

func withPoints(t *testing.T, l *Ledger, ms *memstore.Store, buyer string, points int) market.Subscription {
	t.Helper()
	sub, err := l.Subscribe(context.Background(), buyer, "basic")
	require.NoError(t, err)
	if points != sub.PointsRemaining {
		sub.PointsRemaining = points
		sub, err = ms.UpdateSubscription(context.Background(), sub, market.LedgerEntry{})
		require.NoError(t, err)
	}
	return sub
}

func TestSubscribe(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	sub, err := l.Subscribe(ctx, "b1", "premium")
	require.NoError(t, err)
	assert.Equal(t, 25, sub.PointsRemaining)
	assert.Equal(t, 25, sub.PointsTotal)
	assert.Equal(t, t0.Add(90*24*time.Hour), sub.ValidUntil)

	_, err = l.Subscribe(ctx, "b1", "basic")
	assert.ErrorIs(t, err, market.ErrConflict)

	_, err = l.Subscribe(ctx, "b2", "gold")
	assert.ErrorIs(t, err, market.ErrInvalidArgument)

	hist, err := l.History(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, market.ReasonGrant, hist[0].Reason)
	assert.Equal(t, 25, hist[0].Delta)
}

func TestHasActiveEntitlement(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	ok, err := l.HasActiveEntitlement(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.Subscribe(ctx, "b1", "basic")
	require.NoError(t, err)
	ok, err = l.HasActiveEntitlement(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, ok)

	l.Now = func() time.Time { return t0.Add(31 * 24 * time.Hour) }
	ok, err = l.HasActiveEntitlement(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpendPoint(t *testing.T) {
	l, ms, _ := newLedger(t)
	ctx := context.Background()
	withPoints(t, l, ms, "b1", 10)

	res, err := l.SpendPoint(ctx, "b1", "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, 9, res.PointsRemaining)
	assert.False(t, res.AlreadyUnlocked)

	again, err := l.SpendPoint(ctx, "b1", "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, 9, again.PointsRemaining, "second spend for the same seller is free")
	assert.True(t, again.AlreadyUnlocked)

	sub, err := l.Current(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, sub.UnlockedSellers, 1)
}

func TestSpendPointWithoutLedger(t *testing.T) {
	l, _, _ := newLedger(t)
	_, err := l.SpendPoint(context.Background(), "b1", "s1", nil)
	assert.ErrorIs(t, err, market.ErrNoActiveEntitlement)
}

func TestSpendPointEmptyBalance(t *testing.T) {
	l, ms, _ := newLedger(t)
	withPoints(t, l, ms, "b1", 0)
	_, err := l.SpendPoint(context.Background(), "b1", "s1", nil)
	assert.ErrorIs(t, err, market.ErrInsufficientPoints)
}

func TestLastPointThenReplayStaysNoop(t *testing.T) {
	l, ms, _ := newLedger(t)
	ctx := context.Background()
	withPoints(t, l, ms, "b1", 1)

	res, err := l.SpendPoint(ctx, "b1", "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.PointsRemaining)

	res, err = l.SpendPoint(ctx, "b1", "s1", nil)
	require.NoError(t, err)
	assert.True(t, res.AlreadyUnlocked)
}

func TestLowBalanceNotification(t *testing.T) {
	l, ms, rec := newLedger(t)
	ctx := context.Background()
	withPoints(t, l, ms, "b1", 4)

	_, err := l.SpendPoint(ctx, "b1", "s1", nil)
	require.NoError(t, err)
	assert.Empty(t, rec.ofType(market.EventLowPointBalance), "3 left is above the threshold")

	_, err = l.SpendPoint(ctx, "b1", "s2", nil)
	require.NoError(t, err)
	evs := rec.ofType(market.EventLowPointBalance)
	require.Len(t, evs, 1)
	assert.Equal(t, "b1", evs[0].RecipientID)
	p, ok := evs[0].Payload.(market.LowPointBalancePayload)
	require.True(t, ok)
	assert.Equal(t, 2, p.PointsRemaining)
}

func TestRefundPoint(t *testing.T) {
	l, ms, _ := newLedger(t)
	ctx := context.Background()
	withPoints(t, l, ms, "b1", 5)
	orderID := "o1"

	_, err := l.SpendPoint(ctx, "b1", "s1", &orderID)
	require.NoError(t, err)

	ok, err := l.RefundPoint(ctx, "b1", "s1", "other-order")
	require.NoError(t, err)
	assert.False(t, ok, "order id must match")

	ok, err = l.RefundPoint(ctx, "b1", "s1", orderID)
	require.NoError(t, err)
	assert.True(t, ok)

	sub, err := l.Current(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 5, sub.PointsRemaining)
	assert.Equal(t, -1, sub.FindUnlock("s1"))

	ok, err = l.RefundPoint(ctx, "b1", "s1", orderID)
	require.NoError(t, err)
	assert.False(t, ok, "never refunds twice")

	sub, _ = l.Current(ctx, "b1")
	assert.Equal(t, 5, sub.PointsRemaining)
}

func TestRefundAfterRenewalHitsOldLedger(t *testing.T) {
	l, ms, _ := newLedger(t)
	ctx := context.Background()
	now := t0
	l.Now = func() time.Time { return now }
	ms.Now = l.Now

	old, err := l.Subscribe(ctx, "b1", "basic")
	require.NoError(t, err)
	orderID := "o1"
	_, err = l.SpendPoint(ctx, "b1", "s1", &orderID)
	require.NoError(t, err)

	now = now.Add(31 * 24 * time.Hour)
	renewed, err := l.Subscribe(ctx, "b1", "basic")
	require.NoError(t, err)
	require.NotEqual(t, old.ID, renewed.ID)

	ok, err := l.RefundPoint(ctx, "b1", "s1", orderID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := ms.GetSubscription(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.PointsRemaining)
	assert.Equal(t, -1, got.FindOrderUnlock("s1", orderID))

	cur, err := l.Current(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, renewed.ID, cur.ID)
	assert.Equal(t, 10, cur.PointsRemaining)
	assert.Equal(t, renewed.Version, cur.Version, "new ledger untouched")
}

func TestRefundCapsAtTotal(t *testing.T) {
	l, ms, _ := newLedger(t)
	ctx := context.Background()
	sub := withPoints(t, l, ms, "b1", 10)
	orderID := "o1"
	sub.UnlockedSellers = []market.Unlock{{SellerID: "s1", OrderID: &orderID, UnlockedAt: t0}}
	_, err := ms.UpdateSubscription(ctx, sub, market.LedgerEntry{})
	require.NoError(t, err)

	ok, err := l.RefundPoint(ctx, "b1", "s1", orderID)
	require.NoError(t, err)
	assert.True(t, ok)
	cur, _ := l.Current(ctx, "b1")
	assert.Equal(t, 10, cur.PointsRemaining)
}

func TestConcurrentSpendsNeverOverdraw(t *testing.T) {
	l, ms, _ := newLedger(t)
	l.Attempts = 100
	withPoints(t, l, ms, "b1", 3)

	var ok, short int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seller := string(rune('a' + i))
			_, err := l.SpendPoint(context.Background(), "b1", seller, nil)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, market.ErrInsufficientPoints):
				atomic.AddInt32(&short, 1)
			}
		}(i)
	}
	wg.Wait()

	sub, err := l.Current(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 0, sub.PointsRemaining)
	assert.Len(t, sub.UnlockedSellers, 3)
	assert.EqualValues(t, 3, ok)
	assert.EqualValues(t, 7, short)
}

func TestChargeAndReverse(t *testing.T) {
	l, ms, _ := newLedger(t)
	ctx := context.Background()
	withPoints(t, l, ms, "b1", 10)

	r, err := l.Charge(ctx, "b1", 4, "d1")
	require.NoError(t, err)
	assert.Equal(t, 4, r.Points)
	cur, _ := l.Current(ctx, "b1")
	assert.Equal(t, 6, cur.PointsRemaining)

	_, err = l.Charge(ctx, "b1", 7, "d2")
	assert.ErrorIs(t, err, market.ErrInsufficientPoints)

	require.NoError(t, l.Reverse(ctx, r))
	cur, _ = l.Current(ctx, "b1")
	assert.Equal(t, 10, cur.PointsRemaining)

	hist, _ := l.History(ctx, "b1")
	assert.Equal(t, market.ReasonDealPurchaseRev, hist[0].Reason)
	assert.Equal(t, market.ReasonDealPurchase, hist[1].Reason)
}

func TestChargeZeroNeedsNoLedger(t *testing.T) {
	l, _, _ := newLedger(t)
	r, err := l.Charge(context.Background(), "nobody", 0, "d1")
	require.NoError(t, err)
	assert.NoError(t, l.Reverse(context.Background(), r))
}

func TestPointsPolicy(t *testing.T) {
	p := PointsPolicy{PricePerPoint: decimal.NewFromInt(10)}
	assert.Equal(t, 20, p.Required(decimal.NewFromInt(200)))
	assert.Equal(t, 21, p.Required(decimal.NewFromInt(201)))
	assert.Equal(t, 1, p.Required(decimal.RequireFromString("0.5")))
	assert.Equal(t, 0, PointsPolicy{}.Required(decimal.NewFromInt(200)))
}

func TestPlans(t *testing.T) {
	ps := Plans()
	require.Len(t, ps, 3)
	p, ok := PlanByName("unlimited")
	require.True(t, ok)
	assert.Equal(t, 100, p.Points)
	assert.Equal(t, 365*24*time.Hour, p.Duration)
}

package market

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionDeal(t *testing.T) {
	allowed := map[[2]DealStatus]bool{
		{DealPending, DealAccepted}:    true,
		{DealPending, DealDeclined}:    true,
		{DealPending, DealCancelled}:   true,
		{DealPending, DealExpired}:     true,
		{DealAccepted, DealPurchased}:  true,
		{DealAccepted, DealCancelled}:  true,
		{DealAccepted, DealExpired}:    true,
		{DealPurchased, DealAccepted}:  true,
	}
	all := []DealStatus{DealPending, DealAccepted, DealDeclined, DealPurchased, DealCancelled, DealExpired}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]DealStatus{from, to}]
			assert.Equal(t, want, CanTransitionDeal(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalDealStatusesHaveNoCallerEdges(t *testing.T) {
	for _, s := range []DealStatus{DealDeclined, DealCancelled, DealExpired} {
		assert.True(t, s.Terminal())
		assert.Empty(t, dealNext[s])
	}
	assert.False(t, DealPending.Terminal())
	assert.False(t, DealAccepted.Terminal())
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := Deal{Status: DealPending, ExpiresAt: now.Add(-time.Second)}
	assert.True(t, IsExpired(d, now))

	d.ExpiresAt = now
	assert.False(t, IsExpired(d, now), "boundary instant is still live")

	d.ExpiresAt = now.Add(-time.Hour)
	d.Status = DealAccepted
	assert.False(t, IsExpired(d, now), "only pending deals are swept")
}

func TestCanTransitionOrder(t *testing.T) {
	assert.True(t, CanTransitionOrder(OrderPending, OrderCancelled))
	assert.False(t, CanTransitionOrder(OrderPending, OrderPurchased))
	assert.False(t, CanTransitionOrder(OrderPurchased, OrderCancelled))
	assert.False(t, CanTransitionOrder(OrderCancelled, OrderPending))
}

func TestErrorKindsMatchSentinels(t *testing.T) {
	err := fmt.Errorf("purchase: %w", Errorf(KindExpired, "deal %s expired", "d1"))
	require.True(t, errors.Is(err, ErrExpired))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindExpired, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, "deal d1 expired", errors.Unwrap(err).Error())
}

func TestDealTotalAndTransactions(t *testing.T) {
	d := Deal{ID: "d1", Quantity: 5, ProposedPrice: decimal.NewFromInt(40), CreatedAt: time.Unix(10, 0)}
	assert.True(t, decimal.NewFromInt(200).Equal(d.Total()))

	tx := DealTransaction(d)
	assert.Equal(t, KindDeal, tx.Kind)
	require.NotNil(t, tx.Deal)
	assert.Nil(t, tx.Order)
	assert.Equal(t, d.CreatedAt, tx.At)

	otx := OrderTransaction(Order{ID: "o1", CreatedAt: time.Unix(20, 0)})
	assert.Equal(t, KindOrder, otx.Kind)
	assert.Nil(t, otx.Deal)
}

func TestSubscriptionHelpers(t *testing.T) {
	now := time.Now()
	s := Subscription{ValidUntil: now.Add(time.Hour), UnlockedSellers: []Unlock{{SellerID: "a"}, {SellerID: "b"}}}
	assert.True(t, s.ActiveAt(now))
	assert.False(t, s.ActiveAt(now.Add(2*time.Hour)))
	assert.Equal(t, 1, s.FindUnlock("b"))
	assert.Equal(t, -1, s.FindUnlock("c"))
}

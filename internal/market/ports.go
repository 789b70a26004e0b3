package market

import (
	"context"
	"time"
)

// Repositories follow one rule: Update* only succeeds when the document's
// Version still matches the stored one, and returns ErrConflict otherwise.
// The returned copy carries the new version.

type ListingRepo interface {
	GetListing(ctx context.Context, id string) (Listing, error)
	UpdateListing(ctx context.Context, l Listing) (Listing, error)
}

type DealFilter struct {
	BuyerID  string
	SellerID string
	Status   DealStatus
}

type DealRepo interface {
	CreateDeal(ctx context.Context, d Deal) (Deal, error)
	GetDeal(ctx context.Context, id string) (Deal, error)
	UpdateDeal(ctx context.Context, d Deal) (Deal, error)
	ListDeals(ctx context.Context, f DealFilter) ([]Deal, error)
}

type OrderRepo interface {
	// CreateOrder fails with ErrConflict when an order already exists for
	// the same DealID.
	CreateOrder(ctx context.Context, o Order) (Order, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	GetOrderByDeal(ctx context.Context, dealID string) (Order, error)
	UpdateOrder(ctx context.Context, o Order) (Order, error)
	// ListOrders returns orders where userID is buyer or seller.
	ListOrders(ctx context.Context, userID string) ([]Order, error)
}

type SubscriptionRepo interface {
	CreateSubscription(ctx context.Context, s Subscription, grant LedgerEntry) (Subscription, error)
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	// ActiveSubscription returns the newest ledger valid at now, or NotFound.
	ActiveSubscription(ctx context.Context, buyerID string, now time.Time) (Subscription, error)
	// SubscriptionWithUnlock returns the newest ledger holding the unlock of
	// sellerID for orderID, valid or not, or NotFound. Refunds land there even
	// after the buyer renewed.
	SubscriptionWithUnlock(ctx context.Context, buyerID, sellerID, orderID string) (Subscription, error)
	// UpdateSubscription applies the versioned update and appends entry in
	// one step.
	UpdateSubscription(ctx context.Context, s Subscription, entry LedgerEntry) (Subscription, error)
	ListEntries(ctx context.Context, buyerID string) ([]LedgerEntry, error)
}

// Directory is the identity layer's view of sellers.
type Directory interface {
	Contact(ctx context.Context, sellerID string) (Contact, error)
}

// Clock is injected wherever expiry or validity is evaluated.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }

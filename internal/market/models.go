package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Listing is the catalog row the engine reads and reconciles. Catalog CRUD
// lives elsewhere; only AvailableQuantity and Active are mutated here, and
// only through the inventory reconciler.
type Listing struct {
	ID                string          `json:"id"`
	SellerID          string          `json:"seller_id"`
	Title             string          `json:"title"`
	Unit              string          `json:"unit"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	AvailableQuantity int             `json:"available_quantity"`
	Active            bool            `json:"active"`
	Version           int64           `json:"version"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Deal struct {
	ID                string          `json:"id"`
	ListingID         string          `json:"listing_id"`
	SellerID          string          `json:"seller_id"`
	BuyerID           string          `json:"buyer_id"`
	Quantity          int             `json:"quantity"`
	ProposedPrice     decimal.Decimal `json:"proposed_price"`
	OriginalPrice     decimal.Decimal `json:"original_price"`
	Message           string          `json:"message,omitempty"`
	Status            DealStatus      `json:"status"`
	ExpiresAt         time.Time       `json:"expires_at"`
	SellerRespondedAt *time.Time      `json:"seller_responded_at,omitempty"`
	BuyerRespondedAt  *time.Time      `json:"buyer_responded_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Version           int64           `json:"version"`
}

// Total is the negotiated price for the whole quantity.
func (d Deal) Total() decimal.Decimal {
	return d.ProposedPrice.Mul(decimal.NewFromInt(int64(d.Quantity)))
}

// OrderSource tells which purchase path materialized an order.
type OrderSource string

const (
	SourceDirect OrderSource = "direct"
	SourceDeal   OrderSource = "deal"
	SourceUnlock OrderSource = "unlock"
)

type Order struct {
	ID         string          `json:"id"`
	ListingID  string          `json:"listing_id"`
	SellerID   string          `json:"seller_id"`
	BuyerID    string          `json:"buyer_id"`
	DealID     *string         `json:"deal_id,omitempty"`
	Source     OrderSource     `json:"source"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Version    int64           `json:"version"`
}

// Unlock records one point spent on a seller relationship.
type Unlock struct {
	SellerID   string    `json:"seller_id"`
	OrderID    *string   `json:"order_id,omitempty"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// Subscription is a buyer's entitlement ledger: a prepaid point balance plus
// the set of sellers those points unlocked.
type Subscription struct {
	ID              string    `json:"id"`
	BuyerID         string    `json:"buyer_id"`
	Plan            string    `json:"plan"`
	PointsRemaining int       `json:"points_remaining"`
	PointsTotal     int       `json:"points_total"`
	ValidFrom       time.Time `json:"valid_from"`
	ValidUntil      time.Time `json:"valid_until"`
	UnlockedSellers []Unlock  `json:"unlocked_sellers"`
	Version         int64     `json:"version"`
}

// ActiveAt reports whether the ledger still grants entitlements.
func (s Subscription) ActiveAt(now time.Time) bool {
	return now.Before(s.ValidUntil)
}

// FindUnlock returns the index of the unlock for sellerID, or -1.
func (s Subscription) FindUnlock(sellerID string) int {
	for i, u := range s.UnlockedSellers {
		if u.SellerID == sellerID {
			return i
		}
	}
	return -1
}

// FindOrderUnlock returns the index of the unlock of sellerID bought with
// orderID, or -1.
func (s Subscription) FindOrderUnlock(sellerID, orderID string) int {
	for i, u := range s.UnlockedSellers {
		if u.SellerID == sellerID && u.OrderID != nil && *u.OrderID == orderID {
			return i
		}
	}
	return -1
}

type EntryReason string

const (
	ReasonGrant           EntryReason = "grant"
	ReasonUnlock          EntryReason = "unlock"
	ReasonRefund          EntryReason = "refund"
	ReasonDealPurchase    EntryReason = "deal_purchase"
	ReasonDealPurchaseRev EntryReason = "deal_purchase_reversal"
)

// LedgerEntry is one append-only balance movement.
type LedgerEntry struct {
	ID             string      `json:"id"`
	SubscriptionID string      `json:"subscription_id"`
	BuyerID        string      `json:"buyer_id"`
	Delta          int         `json:"delta"`
	BalanceAfter   int         `json:"balance_after"`
	Reason         EntryReason `json:"reason"`
	SellerID       *string     `json:"seller_id,omitempty"`
	OrderID        *string     `json:"order_id,omitempty"`
	DealID         *string     `json:"deal_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Contact is what an unlock reveals about a seller.
type Contact struct {
	SellerID string `json:"seller_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	FarmName string `json:"farm_name,omitempty"`
	Address  string `json:"address,omitempty"`
}

type TransactionKind string

const (
	KindDeal  TransactionKind = "deal"
	KindOrder TransactionKind = "order"
)

// Transaction is the union shown in a user's history: exactly one of Deal or
// Order is set, as named by Kind.
type Transaction struct {
	Kind  TransactionKind `json:"kind"`
	At    time.Time       `json:"at"`
	Deal  *Deal           `json:"deal,omitempty"`
	Order *Order          `json:"order,omitempty"`
}

func DealTransaction(d Deal) Transaction {
	return Transaction{Kind: KindDeal, At: d.CreatedAt, Deal: &d}
}

func OrderTransaction(o Order) Transaction {
	return Transaction{Kind: KindOrder, At: o.CreatedAt, Order: &o}
}

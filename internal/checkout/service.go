// Package checkout holds the purchase paths that do not go through a
// negotiated deal: buying a listing outright, and buying it by spending a
// subscription point on the seller.
package checkout

import (
	"context"
	"fmt"
	"sort"

	"github.com/ariefcatur/go-produce-market/internal/deals"
	"github.com/ariefcatur/go-produce-market/internal/ledger"
	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/ariefcatur/go-produce-market/internal/orders"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Inventory interface {
	ReserveAndDecrement(ctx context.Context, listingID string, qty int) (market.Listing, error)
	Restore(ctx context.Context, listingID string, qty int) (market.Listing, error)
}

type Ledger interface {
	Current(ctx context.Context, buyerID string) (market.Subscription, error)
	SpendPoint(ctx context.Context, buyerID, sellerID string, orderID *string) (ledger.SpendResult, error)
	RefundPoint(ctx context.Context, buyerID, sellerID, orderID string) (bool, error)
}

type Orders interface {
	Materialize(ctx context.Context, d orders.Draft) (market.Order, error)
	List(ctx context.Context, actorID string) ([]market.Order, error)
}

type Deals interface {
	List(ctx context.Context, actorID string, role deals.Role, status market.DealStatus) ([]market.Deal, error)
}

type Service struct {
	Listings  market.ListingRepo
	Directory market.Directory
	Inventory Inventory
	Ledger    Ledger
	Orders    Orders
	Deals     Deals
	Log       *zap.Logger
}

type UnlockPurchase struct {
	Order           market.Order   `json:"order"`
	Seller          market.Contact `json:"seller"`
	PointsRemaining int            `json:"points_remaining"`
	AlreadyUnlocked bool           `json:"already_unlocked"`
}

type ContactUnlock struct {
	Seller          market.Contact `json:"seller"`
	PointsRemaining int            `json:"points_remaining"`
	AlreadyUnlocked bool           `json:"already_unlocked"`
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// buyable loads a listing a buyer other than its seller may purchase.
func (s *Service) buyable(ctx context.Context, buyerID, listingID string, qty int) (market.Listing, error) {
	if qty <= 0 {
		return market.Listing{}, market.Errorf(market.KindInvalidArgument, "quantity must be positive")
	}
	l, err := s.Listings.GetListing(ctx, listingID)
	if err != nil {
		return market.Listing{}, err
	}
	if !l.Active {
		return market.Listing{}, market.Errorf(market.KindNotFound, "listing %s is not active", listingID)
	}
	if l.SellerID == buyerID {
		return market.Listing{}, market.Errorf(market.KindSelfDealNotAllowed, "cannot buy your own listing")
	}
	return l, nil
}

// PurchaseListing buys qty units at list price. The order stays pending so
// either party can still cancel it.
func (s *Service) PurchaseListing(ctx context.Context, buyerID, listingID string, qty int) (market.Order, error) {
	l, err := s.buyable(ctx, buyerID, listingID, qty)
	if err != nil {
		return market.Order{}, err
	}
	if _, err := s.Inventory.ReserveAndDecrement(ctx, l.ID, qty); err != nil {
		return market.Order{}, err
	}
	o, err := s.Orders.Materialize(ctx, orders.Draft{
		ListingID: l.ID,
		SellerID:  l.SellerID,
		BuyerID:   buyerID,
		Source:    market.SourceDirect,
		Quantity:  qty,
		UnitPrice: l.UnitPrice,
		Status:    market.OrderPending,
	})
	if err != nil {
		s.restore(ctx, l.ID, qty)
		return market.Order{}, err
	}
	return o, nil
}

// UnlockSellerForListing buys qty units and spends a point on the listing's
// seller in one step, revealing the seller's contact. The point is linked to
// the order so cancelling the order refunds it.
func (s *Service) UnlockSellerForListing(ctx context.Context, buyerID, listingID string, qty int) (UnlockPurchase, error) {
	l, err := s.buyable(ctx, buyerID, listingID, qty)
	if err != nil {
		return UnlockPurchase{}, err
	}
	// checked up front so a buyer without points leaves nothing behind
	sub, err := s.Ledger.Current(ctx, buyerID)
	if err != nil {
		return UnlockPurchase{}, err
	}
	if sub.FindUnlock(l.SellerID) < 0 && sub.PointsRemaining <= 0 {
		return UnlockPurchase{}, market.Errorf(market.KindInsufficientPoints, "no points remaining")
	}
	contact, err := s.Directory.Contact(ctx, l.SellerID)
	if err != nil {
		return UnlockPurchase{}, fmt.Errorf("seller contact: %w", err)
	}

	if _, err := s.Inventory.ReserveAndDecrement(ctx, l.ID, qty); err != nil {
		return UnlockPurchase{}, err
	}
	orderID := uuid.NewString()
	spent, err := s.Ledger.SpendPoint(ctx, buyerID, l.SellerID, &orderID)
	if err != nil {
		uctx, done := market.Detach(ctx)
		defer done()
		s.restore(uctx, l.ID, qty)
		return UnlockPurchase{}, err
	}
	o, err := s.Orders.Materialize(ctx, orders.Draft{
		ID:        orderID,
		ListingID: l.ID,
		SellerID:  l.SellerID,
		BuyerID:   buyerID,
		Source:    market.SourceUnlock,
		Quantity:  qty,
		UnitPrice: l.UnitPrice,
		Status:    market.OrderPending,
	})
	if err != nil {
		uctx, done := market.Detach(ctx)
		defer done()
		if !spent.AlreadyUnlocked {
			if _, rerr := s.Ledger.RefundPoint(uctx, buyerID, l.SellerID, orderID); rerr != nil {
				s.log().Error("refund after failed unlock", zap.String("order_id", orderID), zap.Error(rerr))
			}
		}
		s.restore(uctx, l.ID, qty)
		return UnlockPurchase{}, err
	}

	s.log().Info("seller unlocked for listing",
		zap.String("buyer_id", buyerID), zap.String("seller_id", l.SellerID),
		zap.String("order_id", o.ID), zap.Int("points_remaining", spent.PointsRemaining))
	return UnlockPurchase{
		Order:           o,
		Seller:          contact,
		PointsRemaining: spent.PointsRemaining,
		AlreadyUnlocked: spent.AlreadyUnlocked,
	}, nil
}

// UnlockSellerContactOnly spends a point to reveal a seller without buying
// anything. A seller unlocked before is revealed for free.
func (s *Service) UnlockSellerContactOnly(ctx context.Context, buyerID, sellerID string) (ContactUnlock, error) {
	if sellerID == buyerID {
		return ContactUnlock{}, market.Errorf(market.KindSelfDealNotAllowed, "cannot unlock yourself")
	}
	contact, err := s.Directory.Contact(ctx, sellerID)
	if err != nil {
		return ContactUnlock{}, err
	}
	spent, err := s.Ledger.SpendPoint(ctx, buyerID, sellerID, nil)
	if err != nil {
		return ContactUnlock{}, err
	}
	return ContactUnlock{Seller: contact, PointsRemaining: spent.PointsRemaining, AlreadyUnlocked: spent.AlreadyUnlocked}, nil
}

// Transactions merges the actor's deals and orders, newest first.
func (s *Service) Transactions(ctx context.Context, actorID string) ([]market.Transaction, error) {
	ds, err := s.Deals.List(ctx, actorID, "", "")
	if err != nil {
		return nil, err
	}
	os, err := s.Orders.List(ctx, actorID)
	if err != nil {
		return nil, err
	}
	out := make([]market.Transaction, 0, len(ds)+len(os))
	for _, d := range ds {
		out = append(out, market.DealTransaction(d))
	}
	for _, o := range os {
		out = append(out, market.OrderTransaction(o))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out, nil
}

func (s *Service) restore(ctx context.Context, listingID string, qty int) {
	if _, err := s.Inventory.Restore(ctx, listingID, qty); err != nil {
		s.log().Error("restore stock failed", zap.String("listing_id", listingID), zap.Error(err))
	}
}

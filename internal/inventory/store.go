// Package inventory owns every change to a listing's available quantity.
package inventory

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-produce-market/internal/market"
	"go.uber.org/zap"
)

type Store struct {
	Listings market.ListingRepo
	Log      *zap.Logger
	Attempts int
}

func New(listings market.ListingRepo, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{Listings: listings, Log: log, Attempts: market.DefaultAttempts}
}

// ReserveAndDecrement takes qty units off the listing. A listing that hits
// zero is deactivated in the same write.
func (s *Store) ReserveAndDecrement(ctx context.Context, listingID string, qty int) (market.Listing, error) {
	if qty <= 0 {
		return market.Listing{}, market.Errorf(market.KindInvalidArgument, "quantity must be positive")
	}
	var out market.Listing
	err := market.Retry(ctx, s.Attempts, func() error {
		l, err := s.Listings.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		if qty > l.AvailableQuantity {
			return market.Errorf(market.KindInsufficientStock,
				"only %d %s available, requested %d", l.AvailableQuantity, l.Unit, qty)
		}
		l.AvailableQuantity -= qty
		if l.AvailableQuantity == 0 {
			l.Active = false
		}
		out, err = s.Listings.UpdateListing(ctx, l)
		return err
	})
	if err != nil {
		return market.Listing{}, fmt.Errorf("reserve listing %s: %w", listingID, err)
	}
	if !out.Active {
		s.Log.Info("listing depleted", zap.String("listing_id", listingID))
	}
	return out, nil
}

// Restore returns qty units to the listing and re-activates it if it had
// been depleted.
func (s *Store) Restore(ctx context.Context, listingID string, qty int) (market.Listing, error) {
	if qty <= 0 {
		return market.Listing{}, market.Errorf(market.KindInvalidArgument, "quantity must be positive")
	}
	var out market.Listing
	err := market.Retry(ctx, s.Attempts, func() error {
		l, err := s.Listings.GetListing(ctx, listingID)
		if err != nil {
			return err
		}
		wasDepleted := l.AvailableQuantity == 0
		l.AvailableQuantity += qty
		if wasDepleted {
			l.Active = true
		}
		out, err = s.Listings.UpdateListing(ctx, l)
		return err
	})
	if err != nil {
		return market.Listing{}, fmt.Errorf("restore listing %s: %w", listingID, err)
	}
	return out, nil
}

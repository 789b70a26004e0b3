package postgres

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/jackc/pgx/v5"
)

const listingCols = `id, seller_id, title, unit, unit_price, available_quantity, active, version, updated_at`

func scanListing(row pgx.Row) (market.Listing, error) {
	var l market.Listing
	err := row.Scan(&l.ID, &l.SellerID, &l.Title, &l.Unit, &l.UnitPrice, &l.AvailableQuantity, &l.Active, &l.Version, &l.UpdatedAt)
	return l, err
}

func (s *Store) GetListing(ctx context.Context, id string) (market.Listing, error) {
	l, err := scanListing(s.DB.QueryRow(ctx, `SELECT `+listingCols+` FROM listings WHERE id=$1`, id))
	if err != nil {
		return market.Listing{}, notFound(err, "listing", id)
	}
	return l, nil
}

// UpdateListing writes only the stock columns; the catalog owns the rest.
func (s *Store) UpdateListing(ctx context.Context, l market.Listing) (market.Listing, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE listings
		   SET available_quantity=$3, active=$4, version=version+1, updated_at=now()
		 WHERE id=$1 AND version=$2
		RETURNING `+listingCols, l.ID, l.Version, l.AvailableQuantity, l.Active)
	out, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Listing{}, lostRace(ctx, s.DB, "listings", "listing", l.ID)
	}
	if err != nil {
		return market.Listing{}, err
	}
	return out, nil
}

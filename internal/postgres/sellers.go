package postgres

import (
	"context"

	"github.com/ariefcatur/go-produce-market/internal/market"
)

// Contact reads the identity layer's sellers table.
func (s *Store) Contact(ctx context.Context, sellerID string) (market.Contact, error) {
	var c market.Contact
	err := s.DB.QueryRow(ctx, `SELECT id, name, email, phone, farm_name, address FROM sellers WHERE id=$1`, sellerID).
		Scan(&c.SellerID, &c.Name, &c.Email, &c.Phone, &c.FarmName, &c.Address)
	if err != nil {
		return market.Contact{}, notFound(err, "seller", sellerID)
	}
	return c, nil
}

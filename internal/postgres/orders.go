package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const orderCols = `id, listing_id, seller_id, buyer_id, deal_id, source, quantity, unit_price, total_price, status,
	created_at, updated_at, version`

func scanOrder(row pgx.Row) (market.Order, error) {
	var (
		o              market.Order
		source, status string
	)
	err := row.Scan(&o.ID, &o.ListingID, &o.SellerID, &o.BuyerID, &o.DealID, &source, &o.Quantity, &o.UnitPrice,
		&o.TotalPrice, &status, &o.CreatedAt, &o.UpdatedAt, &o.Version)
	o.Source = market.OrderSource(source)
	o.Status = market.OrderStatus(status)
	return o, err
}

// CreateOrder relies on the unique deal_id index: a second order for the
// same deal comes back as ErrConflict.
func (s *Store) CreateOrder(ctx context.Context, o market.Order) (market.Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	row := s.DB.QueryRow(ctx, `
		INSERT INTO orders (id, listing_id, seller_id, buyer_id, deal_id, source, quantity, unit_price, total_price,
		                    status, created_at, updated_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1)
		RETURNING `+orderCols,
		o.ID, o.ListingID, o.SellerID, o.BuyerID, o.DealID, string(o.Source), o.Quantity, o.UnitPrice, o.TotalPrice,
		string(o.Status), o.CreatedAt, o.UpdatedAt)
	out, err := scanOrder(row)
	if isUniqueViolation(err) {
		return market.Order{}, market.ErrConflict
	}
	if err != nil {
		return market.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (market.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return market.Order{}, notFound(err, "order", id)
	}
	return o, nil
}

func (s *Store) GetOrderByDeal(ctx context.Context, dealID string) (market.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE deal_id=$1`, dealID))
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Order{}, market.Errorf(market.KindNotFound, "no order for deal %s", dealID)
	}
	return o, err
}

func (s *Store) UpdateOrder(ctx context.Context, o market.Order) (market.Order, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE orders SET status=$3, updated_at=$4, version=version+1
		 WHERE id=$1 AND version=$2
		RETURNING `+orderCols,
		o.ID, o.Version, string(o.Status), o.UpdatedAt)
	out, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Order{}, lostRace(ctx, s.DB, "orders", "order", o.ID)
	}
	if err != nil {
		return market.Order{}, err
	}
	return out, nil
}

func (s *Store) ListOrders(ctx context.Context, userID string) ([]market.Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderCols+` FROM orders
		WHERE buyer_id=$1 OR seller_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]market.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

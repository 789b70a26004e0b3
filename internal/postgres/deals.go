package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const dealCols = `id, listing_id, seller_id, buyer_id, quantity, proposed_price, original_price, message, status,
	expires_at, seller_responded_at, buyer_responded_at, created_at, updated_at, version`

func scanDeal(row pgx.Row) (market.Deal, error) {
	var (
		d      market.Deal
		status string
	)
	err := row.Scan(&d.ID, &d.ListingID, &d.SellerID, &d.BuyerID, &d.Quantity, &d.ProposedPrice, &d.OriginalPrice,
		&d.Message, &status, &d.ExpiresAt, &d.SellerRespondedAt, &d.BuyerRespondedAt, &d.CreatedAt, &d.UpdatedAt, &d.Version)
	d.Status = market.DealStatus(status)
	return d, err
}

func (s *Store) CreateDeal(ctx context.Context, d market.Deal) (market.Deal, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	row := s.DB.QueryRow(ctx, `
		INSERT INTO deals (id, listing_id, seller_id, buyer_id, quantity, proposed_price, original_price, message, status,
		                   expires_at, seller_responded_at, buyer_responded_at, created_at, updated_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,1)
		RETURNING `+dealCols,
		d.ID, d.ListingID, d.SellerID, d.BuyerID, d.Quantity, d.ProposedPrice, d.OriginalPrice, d.Message, string(d.Status),
		d.ExpiresAt, d.SellerRespondedAt, d.BuyerRespondedAt, d.CreatedAt, d.UpdatedAt)
	out, err := scanDeal(row)
	if isUniqueViolation(err) {
		return market.Deal{}, market.ErrConflict
	}
	if err != nil {
		return market.Deal{}, fmt.Errorf("insert deal: %w", err)
	}
	return out, nil
}

func (s *Store) GetDeal(ctx context.Context, id string) (market.Deal, error) {
	d, err := scanDeal(s.DB.QueryRow(ctx, `SELECT `+dealCols+` FROM deals WHERE id=$1`, id))
	if err != nil {
		return market.Deal{}, notFound(err, "deal", id)
	}
	return d, nil
}

func (s *Store) UpdateDeal(ctx context.Context, d market.Deal) (market.Deal, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE deals
		   SET status=$3, seller_responded_at=$4, buyer_responded_at=$5, updated_at=$6, version=version+1
		 WHERE id=$1 AND version=$2
		RETURNING `+dealCols,
		d.ID, d.Version, string(d.Status), d.SellerRespondedAt, d.BuyerRespondedAt, d.UpdatedAt)
	out, err := scanDeal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Deal{}, lostRace(ctx, s.DB, "deals", "deal", d.ID)
	}
	if err != nil {
		return market.Deal{}, err
	}
	return out, nil
}

// ListDeals matches either party when both BuyerID and SellerID are set.
func (s *Store) ListDeals(ctx context.Context, f market.DealFilter) ([]market.Deal, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	switch {
	case f.BuyerID != "" && f.SellerID != "":
		where = append(where, "(buyer_id="+arg(f.BuyerID)+" OR seller_id="+arg(f.SellerID)+")")
	case f.BuyerID != "":
		where = append(where, "buyer_id="+arg(f.BuyerID))
	case f.SellerID != "":
		where = append(where, "seller_id="+arg(f.SellerID))
	}
	if f.Status != "" {
		where = append(where, "status="+arg(string(f.Status)))
	}
	q := `SELECT ` + dealCols + ` FROM deals`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]market.Deal, 0)
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const subCols = `id, buyer_id, plan, points_remaining, points_total, valid_from, valid_until, unlocked_sellers, version`

func scanSub(row pgx.Row) (market.Subscription, error) {
	var (
		sub      market.Subscription
		unlocked []byte
	)
	if err := row.Scan(&sub.ID, &sub.BuyerID, &sub.Plan, &sub.PointsRemaining, &sub.PointsTotal,
		&sub.ValidFrom, &sub.ValidUntil, &unlocked, &sub.Version); err != nil {
		return market.Subscription{}, err
	}
	sub.UnlockedSellers = []market.Unlock{}
	if len(unlocked) > 0 {
		if err := json.Unmarshal(unlocked, &sub.UnlockedSellers); err != nil {
			return market.Subscription{}, fmt.Errorf("decode unlocked_sellers of %s: %w", sub.ID, err)
		}
	}
	return sub, nil
}

func encodeUnlocks(u []market.Unlock) ([]byte, error) {
	if u == nil {
		u = []market.Unlock{}
	}
	return json.Marshal(u)
}

// CreateSubscription inserts the ledger and its grant entry in one tx.
func (s *Store) CreateSubscription(ctx context.Context, sub market.Subscription, grant market.LedgerEntry) (market.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	unlocked, err := encodeUnlocks(sub.UnlockedSellers)
	if err != nil {
		return market.Subscription{}, err
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return market.Subscription{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out, err := scanSub(tx.QueryRow(ctx, `
		INSERT INTO subscriptions (id, buyer_id, plan, points_remaining, points_total, valid_from, valid_until, unlocked_sellers, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1)
		RETURNING `+subCols,
		sub.ID, sub.BuyerID, sub.Plan, sub.PointsRemaining, sub.PointsTotal, sub.ValidFrom, sub.ValidUntil, unlocked))
	if isUniqueViolation(err) {
		return market.Subscription{}, market.ErrConflict
	}
	if err != nil {
		return market.Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	if err := insertEntry(ctx, tx, out, grant); err != nil {
		return market.Subscription{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return market.Subscription{}, err
	}
	return out, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (market.Subscription, error) {
	sub, err := scanSub(s.DB.QueryRow(ctx, `SELECT `+subCols+` FROM subscriptions WHERE id=$1`, id))
	if err != nil {
		return market.Subscription{}, notFound(err, "subscription", id)
	}
	return sub, nil
}

func (s *Store) ActiveSubscription(ctx context.Context, buyerID string, now time.Time) (market.Subscription, error) {
	sub, err := scanSub(s.DB.QueryRow(ctx, `SELECT `+subCols+` FROM subscriptions
		WHERE buyer_id=$1 AND valid_until > $2 ORDER BY valid_from DESC LIMIT 1`, buyerID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Subscription{}, market.Errorf(market.KindNotFound, "no active subscription for %s", buyerID)
	}
	return sub, err
}

func (s *Store) SubscriptionWithUnlock(ctx context.Context, buyerID, sellerID, orderID string) (market.Subscription, error) {
	sub, err := scanSub(s.DB.QueryRow(ctx, `SELECT `+subCols+` FROM subscriptions
		WHERE buyer_id=$1
		  AND unlocked_sellers @> jsonb_build_array(jsonb_build_object('seller_id', $2::text, 'order_id', $3::text))
		ORDER BY valid_from DESC LIMIT 1`, buyerID, sellerID, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Subscription{}, market.Errorf(market.KindNotFound, "no unlock of %s for order %s", sellerID, orderID)
	}
	return sub, err
}

// UpdateSubscription bumps the version and appends entry atomically. An
// entry without a Reason is not recorded.
func (s *Store) UpdateSubscription(ctx context.Context, sub market.Subscription, entry market.LedgerEntry) (market.Subscription, error) {
	unlocked, err := encodeUnlocks(sub.UnlockedSellers)
	if err != nil {
		return market.Subscription{}, err
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return market.Subscription{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out, err := scanSub(tx.QueryRow(ctx, `
		UPDATE subscriptions
		   SET points_remaining=$3, unlocked_sellers=$4, version=version+1
		 WHERE id=$1 AND version=$2
		RETURNING `+subCols,
		sub.ID, sub.Version, sub.PointsRemaining, unlocked))
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Subscription{}, lostRace(ctx, tx, "subscriptions", "subscription", sub.ID)
	}
	if err != nil {
		return market.Subscription{}, err
	}
	if err := insertEntry(ctx, tx, out, entry); err != nil {
		return market.Subscription{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return market.Subscription{}, err
	}
	return out, nil
}

func insertEntry(ctx context.Context, q querier, sub market.Subscription, e market.LedgerEntry) error {
	if e.Reason == "" {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO ledger_entries (id, subscription_id, buyer_id, delta, balance_after, reason, seller_id, order_id, deal_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, sub.ID, sub.BuyerID, e.Delta, sub.PointsRemaining, string(e.Reason), e.SellerID, e.OrderID, e.DealID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, buyerID string) ([]market.LedgerEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, subscription_id, buyer_id, delta, balance_after, reason, seller_id, order_id, deal_id, created_at
		  FROM ledger_entries WHERE buyer_id=$1 ORDER BY created_at DESC`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]market.LedgerEntry, 0)
	for rows.Next() {
		var (
			e      market.LedgerEntry
			reason string
		)
		if err := rows.Scan(&e.ID, &e.SubscriptionID, &e.BuyerID, &e.Delta, &e.BalanceAfter, &reason,
			&e.SellerID, &e.OrderID, &e.DealID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reason = market.EntryReason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

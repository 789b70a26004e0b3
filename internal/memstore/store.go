// Package memstore keeps every repository in process memory. It is the
// storage used when no POSTGRES_DSN is configured, and by the service tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/google/uuid"
)

type Store struct {
	mu       sync.Mutex
	listings map[string]market.Listing
	deals    map[string]market.Deal
	orders   map[string]market.Order
	subs     map[string]market.Subscription
	entries  []market.LedgerEntry
	contacts map[string]market.Contact

	Now market.Clock
}

func New() *Store {
	return &Store{
		listings: map[string]market.Listing{},
		deals:    map[string]market.Deal{},
		orders:   map[string]market.Order{},
		subs:     map[string]market.Subscription{},
		contacts: map[string]market.Contact{},
		Now:      market.SystemClock,
	}
}

var (
	_ market.ListingRepo      = (*Store)(nil)
	_ market.DealRepo         = (*Store)(nil)
	_ market.OrderRepo        = (*Store)(nil)
	_ market.SubscriptionRepo = (*Store)(nil)
	_ market.Directory        = (*Store)(nil)
)

// PutListing seeds or replaces a catalog row. Catalog CRUD is not part of the
// engine; this stands in for it.
func (s *Store) PutListing(l market.Listing) market.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Version == 0 {
		l.Version = 1
	}
	l.UpdatedAt = s.Now()
	s.listings[l.ID] = l
	return l
}

func (s *Store) PutContact(c market.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.SellerID] = c
}

// ---- listings ----

func (s *Store) GetListing(_ context.Context, id string) (market.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return market.Listing{}, market.Errorf(market.KindNotFound, "listing %s not found", id)
	}
	return l, nil
}

func (s *Store) UpdateListing(_ context.Context, l market.Listing) (market.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.listings[l.ID]
	if !ok {
		return market.Listing{}, market.Errorf(market.KindNotFound, "listing %s not found", l.ID)
	}
	if cur.Version != l.Version {
		return market.Listing{}, market.ErrConflict
	}
	l.Version++
	l.UpdatedAt = s.Now()
	s.listings[l.ID] = l
	return l, nil
}

// ---- deals ----

func (s *Store) CreateDeal(_ context.Context, d market.Deal) (market.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if _, dup := s.deals[d.ID]; dup {
		return market.Deal{}, market.ErrConflict
	}
	d.Version = 1
	s.deals[d.ID] = d
	return d, nil
}

func (s *Store) GetDeal(_ context.Context, id string) (market.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return market.Deal{}, market.Errorf(market.KindNotFound, "deal %s not found", id)
	}
	return d, nil
}

func (s *Store) UpdateDeal(_ context.Context, d market.Deal) (market.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.deals[d.ID]
	if !ok {
		return market.Deal{}, market.Errorf(market.KindNotFound, "deal %s not found", d.ID)
	}
	if cur.Version != d.Version {
		return market.Deal{}, market.ErrConflict
	}
	d.Version++
	s.deals[d.ID] = d
	return d, nil
}

func (s *Store) ListDeals(_ context.Context, f market.DealFilter) ([]market.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]market.Deal, 0)
	for _, d := range s.deals {
		if f.BuyerID != "" && f.SellerID != "" {
			if d.BuyerID != f.BuyerID && d.SellerID != f.SellerID {
				continue
			}
		} else if f.BuyerID != "" && d.BuyerID != f.BuyerID {
			continue
		} else if f.SellerID != "" && d.SellerID != f.SellerID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ---- orders ----

func (s *Store) CreateOrder(_ context.Context, o market.Order) (market.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if _, dup := s.orders[o.ID]; dup {
		return market.Order{}, market.ErrConflict
	}
	if o.DealID != nil {
		for _, other := range s.orders {
			if other.DealID != nil && *other.DealID == *o.DealID {
				return market.Order{}, market.ErrConflict
			}
		}
	}
	o.Version = 1
	s.orders[o.ID] = o
	return o, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (market.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return market.Order{}, market.Errorf(market.KindNotFound, "order %s not found", id)
	}
	return o, nil
}

func (s *Store) GetOrderByDeal(_ context.Context, dealID string) (market.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.DealID != nil && *o.DealID == dealID {
			return o, nil
		}
	}
	return market.Order{}, market.Errorf(market.KindNotFound, "no order for deal %s", dealID)
}

func (s *Store) UpdateOrder(_ context.Context, o market.Order) (market.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return market.Order{}, market.Errorf(market.KindNotFound, "order %s not found", o.ID)
	}
	if cur.Version != o.Version {
		return market.Order{}, market.ErrConflict
	}
	o.Version++
	s.orders[o.ID] = o
	return o, nil
}

func (s *Store) ListOrders(_ context.Context, userID string) ([]market.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]market.Order, 0)
	for _, o := range s.orders {
		if o.BuyerID == userID || o.SellerID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ---- subscriptions ----

func cloneSub(sub market.Subscription) market.Subscription {
	sub.UnlockedSellers = append([]market.Unlock(nil), sub.UnlockedSellers...)
	return sub
}

func (s *Store) CreateSubscription(_ context.Context, sub market.Subscription, grant market.LedgerEntry) (market.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if _, dup := s.subs[sub.ID]; dup {
		return market.Subscription{}, market.ErrConflict
	}
	sub.Version = 1
	if sub.UnlockedSellers == nil {
		sub.UnlockedSellers = []market.Unlock{}
	}
	s.subs[sub.ID] = cloneSub(sub)
	s.appendEntry(sub, grant)
	return cloneSub(sub), nil
}

func (s *Store) GetSubscription(_ context.Context, id string) (market.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return market.Subscription{}, market.Errorf(market.KindNotFound, "subscription %s not found", id)
	}
	return cloneSub(sub), nil
}

func (s *Store) newest(buyerID string, keep func(market.Subscription) bool) (market.Subscription, bool) {
	var (
		best  market.Subscription
		found bool
	)
	for _, sub := range s.subs {
		if sub.BuyerID != buyerID || !keep(sub) {
			continue
		}
		if !found || sub.ValidFrom.After(best.ValidFrom) {
			best, found = sub, true
		}
	}
	return best, found
}

func (s *Store) ActiveSubscription(_ context.Context, buyerID string, now time.Time) (market.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.newest(buyerID, func(x market.Subscription) bool { return x.ActiveAt(now) })
	if !ok {
		return market.Subscription{}, market.Errorf(market.KindNotFound, "no active subscription for %s", buyerID)
	}
	return cloneSub(sub), nil
}

func (s *Store) SubscriptionWithUnlock(_ context.Context, buyerID, sellerID, orderID string) (market.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.newest(buyerID, func(x market.Subscription) bool { return x.FindOrderUnlock(sellerID, orderID) >= 0 })
	if !ok {
		return market.Subscription{}, market.Errorf(market.KindNotFound, "no unlock of %s for order %s", sellerID, orderID)
	}
	return cloneSub(sub), nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub market.Subscription, entry market.LedgerEntry) (market.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.subs[sub.ID]
	if !ok {
		return market.Subscription{}, market.Errorf(market.KindNotFound, "subscription %s not found", sub.ID)
	}
	if cur.Version != sub.Version {
		return market.Subscription{}, market.ErrConflict
	}
	sub.Version++
	s.subs[sub.ID] = cloneSub(sub)
	s.appendEntry(sub, entry)
	return cloneSub(sub), nil
}

// appendEntry expects s.mu held.
func (s *Store) appendEntry(sub market.Subscription, e market.LedgerEntry) {
	if e.Reason == "" {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.SubscriptionID = sub.ID
	e.BuyerID = sub.BuyerID
	e.BalanceAfter = sub.PointsRemaining
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.Now()
	}
	s.entries = append(s.entries, e)
}

func (s *Store) ListEntries(_ context.Context, buyerID string) ([]market.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]market.LedgerEntry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].BuyerID == buyerID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// ---- directory ----

func (s *Store) Contact(_ context.Context, sellerID string) (market.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[sellerID]
	if !ok {
		return market.Contact{}, market.Errorf(market.KindNotFound, "seller %s not found", sellerID)
	}
	return c, nil
}

package market

import "time"

type DealStatus string

const (
	DealPending   DealStatus = "pending"
	DealAccepted  DealStatus = "accepted"
	DealDeclined  DealStatus = "declined"
	DealPurchased DealStatus = "purchased"
	DealCancelled DealStatus = "cancelled"
	DealExpired   DealStatus = "expired"
)

// purchased -> accepted exists only to undo a purchase whose later steps
// failed; it is never offered to a caller.
var dealNext = map[DealStatus]map[DealStatus]bool{
	DealPending:   {DealAccepted: true, DealDeclined: true, DealCancelled: true, DealExpired: true},
	DealAccepted:  {DealPurchased: true, DealCancelled: true, DealExpired: true},
	DealPurchased: {DealAccepted: true},
	DealDeclined:  {},
	DealCancelled: {},
	DealExpired:   {},
}

func CanTransitionDeal(from, to DealStatus) bool {
	return dealNext[from][to]
}

func (s DealStatus) Terminal() bool {
	switch s {
	case DealDeclined, DealPurchased, DealCancelled, DealExpired:
		return true
	}
	return false
}

func (s DealStatus) Valid() bool {
	_, ok := dealNext[s]
	return ok
}

// IsExpired is the lazy expiry rule: only pending deals age out on read.
func IsExpired(d Deal, now time.Time) bool {
	return d.Status == DealPending && now.After(d.ExpiresAt)
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPurchased OrderStatus = "purchased"
	OrderCancelled OrderStatus = "cancelled"
)

var orderNext = map[OrderStatus]map[OrderStatus]bool{
	OrderPending:   {OrderCancelled: true},
	OrderPurchased: {},
	OrderCancelled: {},
}

func CanTransitionOrder(from, to OrderStatus) bool {
	return orderNext[from][to]
}

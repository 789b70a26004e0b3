package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Plan struct {
	Name     string          `json:"name"`
	Points   int             `json:"points"`
	Duration time.Duration   `json:"-"`
	Days     int             `json:"days"`
	Price    decimal.Decimal `json:"price"`
}

var plans = []Plan{
	{Name: "basic", Points: 10, Days: 30, Price: decimal.NewFromInt(199)},
	{Name: "premium", Points: 25, Days: 90, Price: decimal.NewFromInt(399)},
	{Name: "unlimited", Points: 100, Days: 365, Price: decimal.NewFromInt(999)},
}

func init() {
	for i := range plans {
		plans[i].Duration = time.Duration(plans[i].Days) * 24 * time.Hour
	}
}

// Plans returns the catalog in display order.
func Plans() []Plan { return append([]Plan(nil), plans...) }

func PlanByName(name string) (Plan, bool) {
	for _, p := range plans {
		if p.Name == name {
			return p, true
		}
	}
	return Plan{}, false
}

// PointsPolicy converts a deal total into the points a purchase costs.
// A zero PricePerPoint turns charging off.
type PointsPolicy struct {
	PricePerPoint decimal.Decimal
}

func (p PointsPolicy) Required(total decimal.Decimal) int {
	if !p.PricePerPoint.IsPositive() || !total.IsPositive() {
		return 0
	}
	return int(total.Div(p.PricePerPoint).Ceil().IntPart())
}

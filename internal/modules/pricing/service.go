// README: Fare calculator selects a tier by local hour-of-day and applies its rate.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"orderflow/internal/types"
)

type Calculator struct {
	loc       *time.Location
	normal    Rate
	surcharge Rate
}

// NewCalculator uses loc to read the hour of the order time; nil means UTC.
func NewCalculator(loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{loc: loc, normal: NormalRate, surcharge: SurchargeRate}
}

func (c *Calculator) Location() *time.Location { return c.loc }

func (c *Calculator) TierAt(t time.Time) Tier {
	h := t.In(c.loc).Hour()
	if h >= surchargeStartHour || h < surchargeEndHour {
		return TierSurcharge
	}
	return TierNormal
}

func (c *Calculator) RateAt(t time.Time) Rate {
	if c.TierAt(t) == TierSurcharge {
		return c.surcharge
	}
	return c.normal
}

// Compute prices a trip of totalMeters ordered at orderAt. Distances under the
// base distance are not floored, so short trips can price below the base fare.
func (c *Calculator) Compute(totalMeters int64, orderAt time.Time) types.Money {
	return types.HKD(c.RateAt(orderAt).Apply(totalMeters))
}

func (r Rate) Apply(meters int64) decimal.Decimal {
	extra := decimal.NewFromInt(meters - r.BaseMeters).Div(decimal.NewFromInt(r.StepMeters))
	return r.Base.Add(extra.Mul(r.PerStep))
}

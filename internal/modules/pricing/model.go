// README: Fare tiers and rate definitions.
package pricing

import "github.com/shopspring/decimal"

type Tier string

const (
	TierNormal    Tier = "normal"
	TierSurcharge Tier = "surcharge"
)

// Rate is a linear tariff: Base + (meters - BaseMeters) / StepMeters * PerStep.
type Rate struct {
	Tier       Tier
	Base       decimal.Decimal
	BaseMeters int64
	StepMeters int64
	PerStep    decimal.Decimal
}

var (
	NormalRate = Rate{
		Tier:       TierNormal,
		Base:       decimal.NewFromInt(20),
		BaseMeters: 2000,
		StepMeters: 200,
		PerStep:    decimal.NewFromInt(5),
	}
	SurchargeRate = Rate{
		Tier:       TierSurcharge,
		Base:       decimal.NewFromInt(30),
		BaseMeters: 2000,
		StepMeters: 200,
		PerStep:    decimal.NewFromInt(8),
	}
)

const (
	// Normal tier covers [surchargeEndHour, surchargeStartHour) local time.
	surchargeStartHour = 21
	surchargeEndHour   = 5
)

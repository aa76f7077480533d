// README: Common money value object used across modules.
package types

import "github.com/shopspring/decimal"

const CurrencyHKD = "HKD"

type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func HKD(amount decimal.Decimal) Money {
	return Money{Amount: amount, Currency: CurrencyHKD}
}

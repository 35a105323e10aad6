package ledger

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Interest returns principal * ratePercent / 100 rounded half-up to places
// minor-unit digits.
func Interest(principal, ratePercent decimal.Decimal, places int32) (decimal.Decimal, error) {
	if principal.IsNegative() {
		return decimal.Zero, invalidArgument("principal must not be negative, got %s", principal)
	}
	if ratePercent.IsNegative() {
		return decimal.Zero, invalidArgument("rate must not be negative, got %s", ratePercent)
	}
	// Both operands are non-negative, so Round (half away from zero) is half-up here.
	return principal.Mul(ratePercent).Div(hundred).Round(places), nil
}

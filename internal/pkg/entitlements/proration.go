package entitlements

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// BillingPeriodDays is the fixed month length used for proration and plan renewal.
const BillingPeriodDays = 30

var periodDays = decimal.NewFromInt(BillingPeriodDays)

// CalculateProration returns the amount, in minor units rounded to whole cents, charged
// when moving from current to next with daysRemaining left in the billing period.
// Downgrades and negative day counts never produce a charge.
func CalculateProration(current, next Tier, daysRemaining int) decimal.Decimal {
	if daysRemaining <= 0 {
		return decimal.Zero
	}
	delta := decimal.NewFromInt(next.PriceCents - current.PriceCents)
	if !delta.IsPositive() {
		return decimal.Zero
	}
	dailyDelta := delta.Div(periodDays)
	return dailyDelta.Mul(decimal.NewFromInt(int64(daysRemaining))).Round(0)
}

// DaysRemaining returns ceil((planEnd - now) / 24h), or 0 when planEnd is nil or past.
func DaysRemaining(planEnd *time.Time, now time.Time) int {
	if planEnd == nil || !planEnd.After(now) {
		return 0
	}
	days := planEnd.Sub(now).Hours() / 24
	return int(math.Ceil(days))
}

// CentsToMajor converts a minor-unit amount into major units, e.g. 1250 -> 12.5.
func CentsToMajor(cents decimal.Decimal) decimal.Decimal {
	return cents.Shift(-2)
}

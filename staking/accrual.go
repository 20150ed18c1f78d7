package staking

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCRUAL ENGINE - Linear interest, re-based on every deposit
// =============================================================================

// SecondsPerYear is the accrual year: 365 days, no leap handling.
const SecondsPerYear = 365 * 86400

var secondsPerYear = decimal.NewFromInt(SecondsPerYear)

// AccruedProfit returns the interest earned by principal over elapsed
// seconds at the annual rate rate/10^rateDecimals:
//
//	principal * rate * elapsed / (10^rateDecimals * SecondsPerYear)
//
// The product is formed before dividing and the quotient is truncated to
// whole base units. decimal.Decimal is backed by big.Int, which serves as
// the widened accumulator for the principal x rate x elapsed product.
func AccruedProfit(principal Amount, rate uint64, rateDecimals uint32, elapsed int64) Amount {
	if elapsed <= 0 || rate == 0 || !principal.IsPositive() {
		return Amount{Value: decimal.Zero}
	}

	numerator := principal.Value.
		Mul(decimal.NewFromBigInt(new(big.Int).SetUint64(rate), 0)).
		Mul(decimal.NewFromInt(elapsed))
	denominator := decimal.New(1, int32(rateDecimals)).Mul(secondsPerYear)

	q, _ := numerator.QuoRem(denominator, 0)
	return Amount{Value: q}
}

// Accrue returns r with profit accrued up to now folded into TotalProfit and
// TimePoint moved to now. The principal is unchanged. Accruing twice at the
// same timestamp yields the same record.
//
// A clock reading earlier than TimePoint accrues nothing and leaves
// TimePoint where it is, so TimePoint never moves backwards.
func (r StakeRecord) Accrue(pkg StakePackage, now Timestamp) StakeRecord {
	if !now.After(r.TimePoint) {
		return r
	}
	delta := AccruedProfit(r.Amount, pkg.Rate, pkg.RateDecimals, now.SecondsSince(r.TimePoint))
	r.TotalProfit = r.TotalProfit.Add(delta)
	r.TimePoint = now
	return r
}

// PendingProfit is the profit earned since TimePoint that has not yet been
// folded into TotalProfit.
func (r StakeRecord) PendingProfit(pkg StakePackage, now Timestamp) Amount {
	return r.Accrue(pkg, now).TotalProfit.Sub(r.TotalProfit)
}

// Rebase applies a deposit: profit is accrued on the old principal up to
// now, the clock is reset, and the deposit joins the principal. The deposit
// only earns from now on.
//
// An empty record is initialised with StartTime = TimePoint = now.
func Rebase(r StakeRecord, pkg StakePackage, now Timestamp, deposit Amount) StakeRecord {
	if r.IsEmpty() {
		return StakeRecord{
			Staker:      r.Staker,
			PackageID:   pkg.ID,
			Amount:      deposit,
			StartTime:   now,
			TimePoint:   now,
			TotalProfit: NewAmount(0),
		}
	}

	r = r.Accrue(pkg, now)
	r.Amount = r.Amount.Add(deposit)
	return r
}

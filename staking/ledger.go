package staking

import (
	"context"
	"fmt"
)

// =============================================================================
// STAKE LEDGER - Per (staker, package) positions
// =============================================================================

// loadStake returns the stored record, or an empty record for the pair when
// nothing was deposited yet. This mirrors reading an unset mapping entry.
func loadStake(ctx context.Context, s Store, staker Address, id PackageID) (StakeRecord, error) {
	rec, err := s.Stake(ctx, staker, id)
	if err != nil {
		return StakeRecord{}, fmt.Errorf("load stake %s/%d: %w", staker.Hex(), id, err)
	}
	if rec == nil {
		return StakeRecord{Staker: staker, PackageID: id, Amount: NewAmount(0), TotalProfit: NewAmount(0)}, nil
	}
	return *rec, nil
}

// checkDeposit validates a deposit against the package minimum. The minimum
// applies to the position's running total after the deposit.
func checkDeposit(rec StakeRecord, pkg StakePackage, amount Amount) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	total := rec.Amount.Add(amount)
	if total.LessThan(pkg.MinStakeAmount) {
		return &BelowMinimumError{PackageID: pkg.ID, Minimum: pkg.MinStakeAmount, Total: total}
	}
	return nil
}

// applyDeposit re-bases the record at now and persists it.
func applyDeposit(ctx context.Context, s Store, rec StakeRecord, pkg StakePackage, amount Amount, now Timestamp) (StakeRecord, error) {
	next := Rebase(rec, pkg, now, amount)
	if err := s.PutStake(ctx, next); err != nil {
		return StakeRecord{}, fmt.Errorf("store stake %s/%d: %w", next.Staker.Hex(), next.PackageID, err)
	}
	return next, nil
}

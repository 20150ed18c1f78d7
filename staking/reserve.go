package staking

import (
	"context"
	"fmt"
)

// =============================================================================
// RESERVE LINK - Payout custodian
// =============================================================================

func (e *Engine) linkReserve(ctx context.Context, s Store, caller, reserve Address) error {
	if err := requireOwner(ctx, s, caller); err != nil {
		return err
	}
	if IsZeroAddress(reserve) {
		return ErrZeroAddress
	}
	if e.reserves != nil {
		linked, err := e.reserves.IsLinked(ctx, reserve, e.address, e.tokenAddress)
		if err != nil {
			return fmt.Errorf("verify reserve %s: %w", reserve.Hex(), err)
		}
		if !linked {
			return fmt.Errorf("reserve %s: %w", reserve.Hex(), ErrReserveNotLinked)
		}
	}
	if err := s.SetReserve(ctx, reserve); err != nil {
		return fmt.Errorf("store reserve: %w", err)
	}
	return nil
}

// requireReserve is the staking precondition: a reserve must be configured.
func requireReserve(ctx context.Context, s Store) (Address, error) {
	reserve, err := s.Reserve(ctx)
	if err != nil {
		return ZeroAddress, fmt.Errorf("load reserve: %w", err)
	}
	if IsZeroAddress(reserve) {
		return ZeroAddress, ErrReserveNotConfigured
	}
	return reserve, nil
}

package staking

import (
	"context"
	"fmt"
)

// =============================================================================
// ACCESS GATE - Single-owner authorization
// =============================================================================

// requireOwner rejects callers other than the configured owner. An
// uninitialised contract has no owner, so every administrative call fails.
func requireOwner(ctx context.Context, s Store, caller Address) error {
	owner, err := s.Owner(ctx)
	if err != nil {
		return fmt.Errorf("load owner: %w", err)
	}
	if IsZeroAddress(owner) || caller != owner {
		return ErrUnauthorized
	}
	return nil
}

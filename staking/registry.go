package staking

import (
	"context"
	"fmt"
)

// =============================================================================
// PACKAGE REGISTRY - Creation and soft deletion
// =============================================================================

func addPackage(ctx context.Context, s Store, p PackageParams, now Timestamp) (StakePackage, error) {
	if err := p.Validate(); err != nil {
		return StakePackage{}, err
	}

	id, err := s.NextPackageID(ctx)
	if err != nil {
		return StakePackage{}, fmt.Errorf("assign package id: %w", err)
	}

	pkg := StakePackage{
		ID:             id,
		Rate:           p.Rate,
		RateDecimals:   p.RateDecimals,
		MinStakeAmount: p.MinStakeAmount,
		LockDuration:   p.LockDuration,
		Status:         PackageActive,
		CreatedAt:      now,
	}
	if err := s.InsertPackage(ctx, pkg); err != nil {
		return StakePackage{}, fmt.Errorf("insert package %d: %w", id, err)
	}
	return pkg, nil
}

// removePackage marks a package offline. Active -> Offline is the only
// transition; there is no way back.
func removePackage(ctx context.Context, s Store, id PackageID) (StakePackage, error) {
	pkg, err := lookupPackage(ctx, s, id)
	if err != nil {
		return StakePackage{}, err
	}
	if pkg.IsOffline() {
		return StakePackage{}, fmt.Errorf("package %d: %w", id, ErrPackageAlreadyOffline)
	}

	if err := s.SetPackageStatus(ctx, id, PackageOffline); err != nil {
		return StakePackage{}, fmt.Errorf("mark package %d offline: %w", id, err)
	}
	pkg.Status = PackageOffline
	return pkg, nil
}

func lookupPackage(ctx context.Context, s Store, id PackageID) (StakePackage, error) {
	pkg, err := s.Package(ctx, id)
	if err != nil {
		return StakePackage{}, fmt.Errorf("load package %d: %w", id, err)
	}
	if pkg == nil {
		return StakePackage{}, fmt.Errorf("package %d: %w", id, ErrPackageNotFound)
	}
	return *pkg, nil
}

// lookupActivePackage is lookupPackage for operations that need an online package.
func lookupActivePackage(ctx context.Context, s Store, id PackageID) (StakePackage, error) {
	pkg, err := lookupPackage(ctx, s, id)
	if err != nil {
		return StakePackage{}, err
	}
	if pkg.IsOffline() {
		return StakePackage{}, fmt.Errorf("package %d: %w", id, ErrPackageOffline)
	}
	return pkg, nil
}

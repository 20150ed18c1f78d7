/*
store.go - Persistence interface for the staking state

PURPOSE:
  Defines the interface between the engine and the database. The persisted
  layout is:
  - Owner:   single address slot
  - Reserve: single address slot
  - Package Registry keyed by sequential id starting at 1
  - Stake Ledger keyed by (staker, package id)

NO DELETES:
  Packages are soft-deleted through SetPackageStatus and stake records are
  only ever upserted. There is no Delete method.

ATOMICITY:
  Every engine mutation runs inside TxStore.WithTx. If fn returns an error
  the transaction is rolled back and no write is visible.

IMPLEMENTATIONS:
  - staking/store/memory.go: In-memory, for tests and demos
  - store/sqlite/sqlite.go:  SQLite (default)
  - store/postgres/postgres.go: PostgreSQL

SEE ALSO:
  - engine.go: The only writer
*/
package staking

import "context"

// Store handles persistence of the contract state.
type Store interface {
	Owner(ctx context.Context) (Address, error)
	SetOwner(ctx context.Context, owner Address) error

	Reserve(ctx context.Context) (Address, error)
	SetReserve(ctx context.Context, reserve Address) error

	// NextPackageID returns the id the next inserted package will get.
	// Ids start at 1 and are never reused.
	NextPackageID(ctx context.Context) (PackageID, error)
	InsertPackage(ctx context.Context, pkg StakePackage) error
	// Package returns nil when the id was never assigned.
	Package(ctx context.Context, id PackageID) (*StakePackage, error)
	SetPackageStatus(ctx context.Context, id PackageID, status PackageStatus) error
	// ListPackages returns all packages in id order, offline ones included.
	ListPackages(ctx context.Context) ([]StakePackage, error)

	// Stake returns nil when nothing was deposited into the pair.
	Stake(ctx context.Context, staker Address, id PackageID) (*StakeRecord, error)
	PutStake(ctx context.Context, rec StakeRecord) error
	StakesByStaker(ctx context.Context, staker Address) ([]StakeRecord, error)
	ListStakes(ctx context.Context) ([]StakeRecord, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

/*
engine.go - The staking contract

PURPOSE:
  Engine is the explicit store object behind every operation: it owns the
  persistence handle, the token collaborator, the clock and the locks. All
  mutations go through the component functions (gate.go, registry.go,
  ledger.go, reserve.go); nothing writes the store ad hoc.

EXECUTION MODEL:
  Every mutating call either fully commits or fully fails:
  1. Reentrancy guard: a call made with a context handed out to the token
     collaborator is rejected before it touches anything
  2. Locker: admin calls share one key, stakes lock their (staker, package)
  3. Store transaction: all reads and writes of the call, rolled back on error
  4. Token transfer last, still inside the transaction, so a failed
     transfer discards the ledger update

OPERATIONS:
  Admin (owner-only): SetReserve, AddStakePackage, RemoveStakePackage,
                      TransferOwnership
  Public:             Stake
  Reads:              Owner, Reserve, StakePackage, Packages, StakeOf,
                      StakesOf, Position, Liability

SEE ALSO:
  - accrual.go: Re-basing arithmetic
  - store.go: Persistence interface
  - collaborators.go: Token, ReserveVerifier, Locker, Clock
*/
package staking

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warp/stake-ledger/lock"
)

// Config holds the dependencies of an Engine.
type Config struct {
	// Address is the contract's own account; staked tokens are held here.
	Address Address
	// TokenAddress identifies the staked token for reserve verification.
	TokenAddress Address

	Store TxStore
	Token Token

	// Optional. Defaults: SystemClock, process-local locks, no reserve
	// verification, the standard logrus logger.
	Clock    Clock
	Locker   Locker
	Reserves ReserveVerifier
	Logger   logrus.FieldLogger
}

// Engine implements the staking contract.
type Engine struct {
	address      Address
	tokenAddress Address

	store    TxStore
	token    Token
	clock    Clock
	locker   Locker
	reserves ReserveVerifier
	log      logrus.FieldLogger
}

// NewEngine validates cfg and returns an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("staking: store is required")
	}
	if cfg.Token == nil {
		return nil, errors.New("staking: token is required")
	}
	if IsZeroAddress(cfg.Address) {
		return nil, fmt.Errorf("staking: contract address: %w", ErrZeroAddress)
	}

	e := &Engine{
		address:      cfg.Address,
		tokenAddress: cfg.TokenAddress,
		store:        cfg.Store,
		token:        cfg.Token,
		clock:        cfg.Clock,
		locker:       cfg.Locker,
		reserves:     cfg.Reserves,
		log:          cfg.Logger,
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.locker == nil {
		e.locker = lock.NewLocal()
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	e.log = e.log.WithField("contract", e.address.Hex())
	return e, nil
}

// Address is the contract's custody account.
func (e *Engine) Address() Address { return e.address }

// TokenAddress is the staked token.
func (e *Engine) TokenAddress() Address { return e.tokenAddress }

// Now is the engine's current block time.
func (e *Engine) Now() Timestamp { return e.clock.Now() }

// =============================================================================
// EXECUTION - Guard, lock, transaction
// =============================================================================

const adminLockKey = "staking/admin"

func stakeLockKey(staker Address, id PackageID) string {
	return fmt.Sprintf("staking/stake/%s/%d", staker.Hex(), id)
}

type callKey struct{}

// enter marks ctx as inside an engine call. A context that is already
// marked belongs to a call in progress, e.g. one handed to the token.
func enter(ctx context.Context) (context.Context, error) {
	if ctx.Value(callKey{}) != nil {
		return ctx, ErrReentrantCall
	}
	return context.WithValue(ctx, callKey{}, true), nil
}

// guardRead rejects reads issued from inside a call in progress; they would
// observe the ledger mid-update.
func guardRead(ctx context.Context) error {
	if ctx.Value(callKey{}) != nil {
		return ErrReentrantCall
	}
	return nil
}

func (e *Engine) mutate(ctx context.Context, op, key string, fn func(ctx context.Context, s Store) error) error {
	err := e.execute(ctx, key, fn)
	if err != nil {
		e.log.WithFields(logrus.Fields{"op": op, "code": CodeOf(err)}).WithError(err).Debug("call rejected")
	}
	return err
}

func (e *Engine) execute(ctx context.Context, key string, fn func(ctx context.Context, s Store) error) error {
	ctx, err := enter(ctx)
	if err != nil {
		return err
	}

	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer unlock()

	return e.store.WithTx(ctx, func(s Store) error {
		return fn(ctx, s)
	})
}

// =============================================================================
// OWNERSHIP
// =============================================================================

// Deploy sets the owner once, like a constructor.
func (e *Engine) Deploy(ctx context.Context, owner Address) error {
	err := e.mutate(ctx, "deploy", adminLockKey, func(ctx context.Context, s Store) error {
		if IsZeroAddress(owner) {
			return fmt.Errorf("owner: %w", ErrZeroAddress)
		}
		current, err := s.Owner(ctx)
		if err != nil {
			return fmt.Errorf("load owner: %w", err)
		}
		if !IsZeroAddress(current) {
			return ErrAlreadyInitialized
		}
		return s.SetOwner(ctx, owner)
	})
	if err == nil {
		e.log.WithField("owner", owner.Hex()).Info("contract deployed")
	}
	return err
}

// TransferOwnership hands the owner slot to newOwner.
func (e *Engine) TransferOwnership(ctx context.Context, caller, newOwner Address) error {
	err := e.mutate(ctx, "transfer_ownership", adminLockKey, func(ctx context.Context, s Store) error {
		if err := requireOwner(ctx, s, caller); err != nil {
			return err
		}
		if IsZeroAddress(newOwner) {
			return fmt.Errorf("new owner: %w", ErrZeroAddress)
		}
		return s.SetOwner(ctx, newOwner)
	})
	if err == nil {
		e.log.WithFields(logrus.Fields{"previous": caller.Hex(), "owner": newOwner.Hex()}).Info("ownership transferred")
	}
	return err
}

// Owner returns the configured owner, or the zero address before Deploy.
func (e *Engine) Owner(ctx context.Context) (Address, error) {
	if err := guardRead(ctx); err != nil {
		return ZeroAddress, err
	}
	return e.store.Owner(ctx)
}

// IsOwner is the Access Gate predicate.
func (e *Engine) IsOwner(ctx context.Context, caller Address) (bool, error) {
	owner, err := e.Owner(ctx)
	if err != nil {
		return false, err
	}
	return !IsZeroAddress(owner) && owner == caller, nil
}

// =============================================================================
// RESERVE LINK
// =============================================================================

// SetReserve configures the payout custodian. Owner-only; the zero address
// and, when a verifier is configured, custodians bound to another contract
// or token are rejected.
func (e *Engine) SetReserve(ctx context.Context, caller, reserve Address) error {
	err := e.mutate(ctx, "set_reserve", adminLockKey, func(ctx context.Context, s Store) error {
		return e.linkReserve(ctx, s, caller, reserve)
	})
	if err == nil {
		e.log.WithField("reserve", reserve.Hex()).Info("reserve configured")
	}
	return err
}

// Reserve returns the configured custodian, or the zero address.
func (e *Engine) Reserve(ctx context.Context) (Address, error) {
	if err := guardRead(ctx); err != nil {
		return ZeroAddress, err
	}
	return e.store.Reserve(ctx)
}

// =============================================================================
// PACKAGE REGISTRY
// =============================================================================

// AddStakePackage registers a new package. Owner-only.
func (e *Engine) AddStakePackage(ctx context.Context, caller Address, params PackageParams) (StakePackage, error) {
	var pkg StakePackage
	err := e.mutate(ctx, "add_stake_package", adminLockKey, func(ctx context.Context, s Store) error {
		if err := requireOwner(ctx, s, caller); err != nil {
			return err
		}
		var err error
		pkg, err = addPackage(ctx, s, params, e.clock.Now())
		return err
	})
	if err != nil {
		return StakePackage{}, err
	}

	e.log.WithFields(logrus.Fields{
		"package_id":    pkg.ID,
		"rate":          pkg.Rate,
		"rate_decimals": pkg.RateDecimals,
		"min_stake":     pkg.MinStakeAmount.String(),
		"lock_duration": pkg.LockDuration,
	}).Info("stake package added")
	return pkg, nil
}

// RemoveStakePackage marks a package offline. Owner-only. Existing stakes
// in the package are kept.
func (e *Engine) RemoveStakePackage(ctx context.Context, caller Address, id PackageID) error {
	err := e.mutate(ctx, "remove_stake_package", adminLockKey, func(ctx context.Context, s Store) error {
		if err := requireOwner(ctx, s, caller); err != nil {
			return err
		}
		_, err := removePackage(ctx, s, id)
		return err
	})
	if err == nil {
		e.log.WithField("package_id", id).Info("stake package removed")
	}
	return err
}

// StakePackage returns a package, offline or not.
func (e *Engine) StakePackage(ctx context.Context, id PackageID) (StakePackage, error) {
	if err := guardRead(ctx); err != nil {
		return StakePackage{}, err
	}
	return lookupPackage(ctx, e.store, id)
}

// Packages lists every package in id order.
func (e *Engine) Packages(ctx context.Context) ([]StakePackage, error) {
	if err := guardRead(ctx); err != nil {
		return nil, err
	}
	return e.store.ListPackages(ctx)
}

// =============================================================================
// STAKE
// =============================================================================

// Stake deposits amount from caller into package id.
//
// Checks run in order: package exists, package online, amount positive,
// running total meets the minimum, reserve configured. The record is then
// re-based and stored, and finally the token moves from the caller into
// the contract. A failed transfer rolls the whole call back.
func (e *Engine) Stake(ctx context.Context, caller Address, id PackageID, amount Amount) (StakeRecord, error) {
	if IsZeroAddress(caller) {
		return StakeRecord{}, fmt.Errorf("staker: %w", ErrZeroAddress)
	}

	var rec StakeRecord
	err := e.mutate(ctx, "stake", stakeLockKey(caller, id), func(ctx context.Context, s Store) error {
		pkg, err := lookupActivePackage(ctx, s, id)
		if err != nil {
			return err
		}
		current, err := loadStake(ctx, s, caller, id)
		if err != nil {
			return err
		}
		if err := checkDeposit(current, pkg, amount); err != nil {
			return err
		}
		if _, err := requireReserve(ctx, s); err != nil {
			return err
		}

		rec, err = applyDeposit(ctx, s, current, pkg, amount, e.clock.Now())
		if err != nil {
			return err
		}

		if err := e.token.TransferFrom(ctx, e.address, caller, e.address, amount); err != nil {
			return &TransferError{From: caller, To: e.address, Amount: amount, Err: err}
		}
		return nil
	})
	if err != nil {
		return StakeRecord{}, err
	}

	e.log.WithFields(logrus.Fields{
		"staker":       caller.Hex(),
		"package_id":   id,
		"amount":       amount.String(),
		"principal":    rec.Amount.String(),
		"total_profit": rec.TotalProfit.String(),
	}).Info("stake deposited")
	return rec, nil
}

// StakeOf returns the stored record for the pair. A pair without deposits
// yields an empty record, not an error.
func (e *Engine) StakeOf(ctx context.Context, staker Address, id PackageID) (StakeRecord, error) {
	if err := guardRead(ctx); err != nil {
		return StakeRecord{}, err
	}
	return loadStake(ctx, e.store, staker, id)
}

// StakesOf returns every record of a staker.
func (e *Engine) StakesOf(ctx context.Context, staker Address) ([]StakeRecord, error) {
	if err := guardRead(ctx); err != nil {
		return nil, err
	}
	return e.store.StakesByStaker(ctx, staker)
}

// Position is a read-only accrual view of a record.
type Position struct {
	Record  StakeRecord
	Package StakePackage
	AsOf    Timestamp
	// AccruedProfit is TotalProfit plus Pending.
	AccruedProfit Amount
	Pending       Amount
}

// Position computes the profit a record has earned up to now without
// persisting anything.
func (e *Engine) Position(ctx context.Context, staker Address, id PackageID) (Position, error) {
	if err := guardRead(ctx); err != nil {
		return Position{}, err
	}
	pkg, err := lookupPackage(ctx, e.store, id)
	if err != nil {
		return Position{}, err
	}
	rec, err := loadStake(ctx, e.store, staker, id)
	if err != nil {
		return Position{}, err
	}

	now := e.clock.Now()
	accrued := rec.Accrue(pkg, now)
	return Position{
		Record:        rec,
		Package:       pkg,
		AsOf:          now,
		AccruedProfit: accrued.TotalProfit,
		Pending:       accrued.TotalProfit.Sub(rec.TotalProfit),
	}, nil
}

// Liability summarises what the contract owes its stakers at a point in time.
type Liability struct {
	AsOf          Timestamp
	Reserve       Address
	Stakes        int
	Principal     Amount
	AccruedProfit Amount
}

// Liability totals principal and profit accrued up to now across all records.
func (e *Engine) Liability(ctx context.Context) (Liability, error) {
	if err := guardRead(ctx); err != nil {
		return Liability{}, err
	}
	pkgs, err := e.store.ListPackages(ctx)
	if err != nil {
		return Liability{}, fmt.Errorf("list packages: %w", err)
	}
	byID := make(map[PackageID]StakePackage, len(pkgs))
	for _, p := range pkgs {
		byID[p.ID] = p
	}

	stakes, err := e.store.ListStakes(ctx)
	if err != nil {
		return Liability{}, fmt.Errorf("list stakes: %w", err)
	}
	reserve, err := e.store.Reserve(ctx)
	if err != nil {
		return Liability{}, fmt.Errorf("load reserve: %w", err)
	}

	now := e.clock.Now()
	out := Liability{
		AsOf:          now,
		Reserve:       reserve,
		Stakes:        len(stakes),
		Principal:     NewAmount(0),
		AccruedProfit: NewAmount(0),
	}
	for _, rec := range stakes {
		pkg, ok := byID[rec.PackageID]
		if !ok {
			return Liability{}, fmt.Errorf("stake %s/%d: %w", rec.Staker.Hex(), rec.PackageID, ErrPackageNotFound)
		}
		out.Principal = out.Principal.Add(rec.Amount)
		out.AccruedProfit = out.AccruedProfit.Add(rec.Accrue(pkg, now).TotalProfit)
	}
	return out, nil
}

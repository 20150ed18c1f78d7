package staking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stake-ledger/reserve"
	"github.com/warp/stake-ledger/staking"
	"github.com/warp/stake-ledger/staking/store"
	"github.com/warp/stake-ledger/store/sqlite"
	"github.com/warp/stake-ledger/token"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	ownerAddr   = staking.MustParseAddress("0x00000000000000000000000000000000000000a1")
	staker1     = staking.MustParseAddress("0x00000000000000000000000000000000000000c3")
	staker2     = staking.MustParseAddress("0x00000000000000000000000000000000000000d4")
	stakingAddr = staking.MustParseAddress("0x0000000000000000000000000000000000000501")
	tokenAddr   = staking.MustParseAddress("0x0000000000000000000000000000000000000f01")
	reserveAddr = staking.MustParseAddress("0x0000000000000000000000000000000000000b01")

	genesis = staking.Timestamp(1_700_000_000)
)

type fixture struct {
	engine *staking.Engine
	token  *token.Ledger
	clock  *staking.ManualClock
	store  staking.TxStore
	logs   *test.Hook
}

// newFixture mirrors a fresh deployment: the contract and reserve hold
// 100000 tokens each, both stakers hold 100, staker1 approved all of it.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewTxMemory())
}

func newFixtureWithStore(t *testing.T, s staking.TxStore) *fixture {
	t.Helper()
	ctx := context.Background()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	tok := token.New(tokenAddr, logger)
	require.NoError(t, tok.Mint(ctx, reserveAddr, staking.Ether(100000)))
	require.NoError(t, tok.Mint(ctx, stakingAddr, staking.Ether(100000)))
	require.NoError(t, tok.Mint(ctx, staker1, staking.Ether(100)))
	require.NoError(t, tok.Mint(ctx, staker2, staking.Ether(100)))
	require.NoError(t, tok.Approve(ctx, staker1, stakingAddr, staking.Ether(100)))

	r, err := reserve.New(reserveAddr, tokenAddr, stakingAddr)
	require.NoError(t, err)
	dir := reserve.NewDirectory()
	require.NoError(t, dir.Register(r))

	clock := staking.NewManualClock(genesis)
	engine, err := staking.NewEngine(staking.Config{
		Address:      stakingAddr,
		TokenAddress: tokenAddr,
		Store:        s,
		Token:        tok,
		Clock:        clock,
		Reserves:     dir,
		Logger:       logger,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Deploy(ctx, ownerAddr))

	return &fixture{engine: engine, token: tok, clock: clock, store: s, logs: hook}
}

// standardPackage is 6% a year, 0.1 token minimum, 30-day lock.
func standardPackage() staking.PackageParams {
	return staking.PackageParams{
		Rate:           6,
		RateDecimals:   2,
		MinStakeAmount: staking.EtherFraction(1, 10),
		LockDuration:   60 * 60 * 24 * 30,
	}
}

func (f *fixture) ready(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.engine.SetReserve(ctx, ownerAddr, reserveAddr))
	_, err := f.engine.AddStakePackage(ctx, ownerAddr, standardPackage())
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, a staking.Address) staking.Amount {
	t.Helper()
	b, err := f.token.BalanceOf(context.Background(), a)
	require.NoError(t, err)
	return b
}

func assertAmount(t *testing.T, want, got staking.Amount, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, want.String(), got.String(), msgAndArgs...)
}

// =============================================================================
// DEPLOY & OWNERSHIP
// =============================================================================

func TestNewEngine_RequiresDependencies(t *testing.T) {
	_, err := staking.NewEngine(staking.Config{Address: stakingAddr, Token: token.New(tokenAddr, nil)})
	assert.Error(t, err, "store is required")

	_, err = staking.NewEngine(staking.Config{Address: stakingAddr, Store: store.NewTxMemory()})
	assert.Error(t, err, "token is required")

	_, err = staking.NewEngine(staking.Config{Store: store.NewTxMemory(), Token: token.New(tokenAddr, nil)})
	assert.ErrorIs(t, err, staking.ErrZeroAddress)
}

func TestDeploy_Once(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owner, err := f.engine.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, ownerAddr, owner)

	err = f.engine.Deploy(ctx, staker1)
	assert.ErrorIs(t, err, staking.ErrAlreadyInitialized)

	owner, err = f.engine.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, ownerAddr, owner)
}

func TestUndeployedContract_RejectsAdmin(t *testing.T) {
	engine, err := staking.NewEngine(staking.Config{
		Address: stakingAddr,
		Store:   store.NewTxMemory(),
		Token:   token.New(tokenAddr, nil),
	})
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, engine.Deploy(ctx, staking.ZeroAddress), staking.ErrZeroAddress)
	assert.ErrorIs(t, engine.SetReserve(ctx, staking.ZeroAddress, reserveAddr), staking.ErrUnauthorized,
		"no owner means nobody, not even the zero address, is authorized")
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.TransferOwnership(ctx, staker1, staker1)
	assert.ErrorIs(t, err, staking.ErrUnauthorized)

	err = f.engine.TransferOwnership(ctx, ownerAddr, staking.ZeroAddress)
	assert.ErrorIs(t, err, staking.ErrZeroAddress)

	require.NoError(t, f.engine.TransferOwnership(ctx, ownerAddr, staker2))

	isOwner, err := f.engine.IsOwner(ctx, staker2)
	require.NoError(t, err)
	assert.True(t, isOwner)

	err = f.engine.SetReserve(ctx, ownerAddr, reserveAddr)
	assert.ErrorIs(t, err, staking.ErrUnauthorized, "previous owner lost its rights")
	require.NoError(t, f.engine.SetReserve(ctx, staker2, reserveAddr))
}

// =============================================================================
// RESERVE LINK
// =============================================================================

func TestSetReserve_Owner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.SetReserve(ctx, ownerAddr, reserveAddr))

	got, err := f.engine.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, reserveAddr, got)
}

func TestSetReserve_NonOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.SetReserve(ctx, staker1, reserveAddr)
	assert.ErrorIs(t, err, staking.ErrUnauthorized)
	assert.Equal(t, "Ownable: caller is not the owner", staking.ErrUnauthorized.Error())

	got, err := f.engine.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, staking.ZeroAddress, got, "reserve unchanged")
}

func TestSetReserve_ZeroAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetReserve(ctx, ownerAddr, reserveAddr))

	err := f.engine.SetReserve(ctx, ownerAddr, staking.ZeroAddress)
	assert.ErrorIs(t, err, staking.ErrZeroAddress)
	assert.EqualError(t, err, "Staking: reserveAddress must be different from address(0)")

	got, err := f.engine.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, reserveAddr, got, "previous reserve kept")
}

func TestSetReserve_Unlinked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stranger := staking.MustParseAddress("0x0000000000000000000000000000000000000b99")
	err := f.engine.SetReserve(ctx, ownerAddr, stranger)
	assert.ErrorIs(t, err, staking.ErrReserveNotLinked)

	got, err := f.engine.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, staking.ZeroAddress, got)
}

// =============================================================================
// PACKAGE REGISTRY
// =============================================================================

func TestAddStakePackage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.Advance(time.Hour)
	pkg, err := f.engine.AddStakePackage(ctx, ownerAddr, standardPackage())
	require.NoError(t, err)

	assert.Equal(t, staking.PackageID(1), pkg.ID)
	assert.Equal(t, uint64(6), pkg.Rate)
	assert.Equal(t, uint32(2), pkg.RateDecimals)
	assert.Equal(t, "100000000000000000", pkg.MinStakeAmount.String())
	assert.Equal(t, uint64(2592000), pkg.LockDuration)
	assert.Equal(t, staking.PackageActive, pkg.Status)
	assert.Equal(t, genesis.Add(time.Hour), pkg.CreatedAt)

	stored, err := f.engine.StakePackage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, pkg.ID, stored.ID)
	assert.False(t, stored.IsOffline())
}

func TestAddStakePackage_SequentialIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for want := staking.PackageID(1); want <= 5; want++ {
		pkg, err := f.engine.AddStakePackage(ctx, ownerAddr, standardPackage())
		require.NoError(t, err)
		assert.Equal(t, want, pkg.ID)
	}

	// failed adds do not consume ids
	_, err := f.engine.AddStakePackage(ctx, staker1, standardPackage())
	require.Error(t, err)
	bad := standardPackage()
	bad.Rate = 0
	_, err = f.engine.AddStakePackage(ctx, ownerAddr, bad)
	require.Error(t, err)

	pkg, err := f.engine.AddStakePackage(ctx, ownerAddr, standardPackage())
	require.NoError(t, err)
	assert.Equal(t, staking.PackageID(6), pkg.ID)

	all, err := f.engine.Packages(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestAddStakePackage_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	zeroRate := standardPackage()
	zeroRate.Rate = 0
	zeroMin := standardPackage()
	zeroMin.MinStakeAmount = staking.NewAmount(0)

	tests := []struct {
		name   string
		caller staking.Address
		params staking.PackageParams
		want   error
	}{
		{"non-owner", staker1, standardPackage(), staking.ErrUnauthorized},
		{"zero rate", ownerAddr, zeroRate, staking.ErrInvalidRate},
		{"zero minimum", ownerAddr, zeroMin, staking.ErrInvalidMinStake},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.AddStakePackage(ctx, tt.caller, tt.params)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	all, err := f.engine.Packages(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRemoveStakePackage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before, err := f.engine.AddStakePackage(ctx, ownerAddr, standardPackage())
	require.NoError(t, err)

	// GIVEN: A non-owner tries first
	err = f.engine.RemoveStakePackage(ctx, staker1, 1)
	assert.ErrorIs(t, err, staking.ErrUnauthorized)

	// WHEN: The owner removes it
	require.NoError(t, f.engine.RemoveStakePackage(ctx, ownerAddr, 1))

	// THEN: Only the status changed
	after, err := f.engine.StakePackage(ctx, 1)
	require.NoError(t, err)
	assert.True(t, after.IsOffline())
	assert.Equal(t, before.Rate, after.Rate)
	assert.Equal(t, before.RateDecimals, after.RateDecimals)
	assert.Equal(t, before.MinStakeAmount.String(), after.MinStakeAmount.String())
	assert.Equal(t, before.LockDuration, after.LockDuration)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestRemoveStakePackage_NonExistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.AddStakePackage(ctx, ownerAddr, standardPackage())
	require.NoError(t, err)

	for _, id := range []staking.PackageID{0, 2, 99} {
		err := f.engine.RemoveStakePackage(ctx, ownerAddr, id)
		assert.ErrorIs(t, err, staking.ErrPackageNotFound, "id %d", id)
		assert.Contains(t, err.Error(), "Staking: stakePackage is non-existent")
	}
}

func TestRemoveStakePackage_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.AddStakePackage(ctx, ownerAddr, standardPackage())
	require.NoError(t, err)
	require.NoError(t, f.engine.RemoveStakePackage(ctx, ownerAddr, 1))

	err = f.engine.RemoveStakePackage(ctx, ownerAddr, 1)
	assert.ErrorIs(t, err, staking.ErrPackageAlreadyOffline)
	assert.Contains(t, err.Error(), "Staking: stakePackage is offline")
}

// =============================================================================
// STAKE
// =============================================================================

func TestStake_Success(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()

	stakerBefore := f.balance(t, staker1)
	contractBefore := f.balance(t, stakingAddr)

	rec, err := f.engine.Stake(ctx, staker1, 1, staking.Ether(20))
	require.NoError(t, err)

	assertAmount(t, staking.Ether(20), rec.Amount)
	assert.Equal(t, genesis, rec.StartTime)
	assert.Equal(t, genesis, rec.TimePoint)
	assertAmount(t, staking.NewAmount(0), rec.TotalProfit)

	stored, err := f.engine.StakeOf(ctx, staker1, 1)
	require.NoError(t, err)
	assertAmount(t, staking.Ether(20), stored.Amount)

	assertAmount(t, stakerBefore.Sub(staking.Ether(20)), f.balance(t, staker1), "staker paid")
	assertAmount(t, contractBefore.Add(staking.Ether(20)), f.balance(t, stakingAddr), "contract received")
}

func TestStake_Rebase(t *testing.T) {
	// GIVEN: A 365% package and an existing 10 token stake
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SetReserve(ctx, ownerAddr, reserveAddr))
	_, err := f.engine.AddStakePackage(ctx, ownerAddr, staking.PackageParams{
		Rate:           365,
		RateDecimals:   2,
		MinStakeAmount: staking.EtherFraction(1, 10),
		LockDuration:   60 * 60 * 24 * 30,
	})
	require.NoError(t, err)
	_, err = f.engine.Stake(ctx, staker1, 1, staking.Ether(10))
	require.NoError(t, err)

	// WHEN: Ten days pass and the staker adds another 10
	f.clock.Advance(10 * 24 * time.Hour)
	rec, err := f.engine.Stake(ctx, staker1, 1, staking.Ether(10))
	require.NoError(t, err)

	// THEN: One token of profit was folded in and the principal doubled
	assertAmount(t, staking.Ether(1), rec.TotalProfit)
	assertAmount(t, staking.Ether(20), rec.Amount)
	assert.Equal(t, genesis, rec.StartTime)
	assert.Equal(t, genesis+864000, rec.TimePoint)
}

func TestStake_OfflinePackage(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()
	require.NoError(t, f.engine.RemoveStakePackage(ctx, ownerAddr, 1))

	stakerBefore := f.balance(t, staker1)
	contractBefore := f.balance(t, stakingAddr)

	_, err := f.engine.Stake(ctx, staker1, 1, staking.Ether(2))
	assert.ErrorIs(t, err, staking.ErrPackageOffline)
	assert.Contains(t, err.Error(), "Staking: stakePackage is offline")

	assertAmount(t, stakerBefore, f.balance(t, staker1))
	assertAmount(t, contractBefore, f.balance(t, stakingAddr))
	rec, err := f.engine.StakeOf(ctx, staker1, 1)
	require.NoError(t, err)
	assert.True(t, rec.IsEmpty())
}

func TestStake_Rejections(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		caller staking.Address
		id     staking.PackageID
		amount staking.Amount
		want   error
	}{
		{"non-existent package", staker1, 2, staking.Ether(1), staking.ErrPackageNotFound},
		{"zero amount", staker1, 1, staking.NewAmount(0), staking.ErrInvalidAmount},
		{"below minimum", staker1, 1, staking.EtherFraction(1, 100), staking.ErrBelowMinimum},
		{"zero caller", staking.ZeroAddress, 1, staking.Ether(1), staking.ErrZeroAddress},
		{"no allowance", staker2, 1, staking.Ether(1), staking.ErrTransferFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Stake(ctx, tt.caller, tt.id, tt.amount)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	stakes, err := f.store.ListStakes(ctx)
	require.NoError(t, err)
	assert.Empty(t, stakes, "no rejected call left a record behind")
}

func TestStake_MinimumBoundary(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()
	min := standardPackage().MinStakeAmount

	_, err := f.engine.Stake(ctx, staker1, 1, min.Sub(staking.NewAmount(1)))
	var below *staking.BelowMinimumError
	require.ErrorAs(t, err, &below)
	assertAmount(t, min, below.Minimum)

	rec, err := f.engine.Stake(ctx, staker1, 1, min)
	require.NoError(t, err, "exactly the minimum is accepted")
	assertAmount(t, min, rec.Amount)

	// the running total already meets the minimum
	rec, err = f.engine.Stake(ctx, staker1, 1, staking.NewAmount(1))
	require.NoError(t, err)
	assertAmount(t, min.Add(staking.NewAmount(1)), rec.Amount)
}

func TestStake_ReserveNotConfigured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.AddStakePackage(ctx, ownerAddr, standardPackage())
	require.NoError(t, err)

	_, err = f.engine.Stake(ctx, staker1, 1, staking.Ether(1))
	assert.ErrorIs(t, err, staking.ErrReserveNotConfigured)
}

func TestStake_CheckOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.AddStakePackage(ctx, ownerAddr, standardPackage())
	require.NoError(t, err)
	_, err = f.engine.AddStakePackage(ctx, ownerAddr, standardPackage())
	require.NoError(t, err)
	require.NoError(t, f.engine.RemoveStakePackage(ctx, ownerAddr, 2))

	// no reserve yet, so every case below also violates the reserve check
	_, err = f.engine.Stake(ctx, staker1, 9, staking.NewAmount(0))
	assert.ErrorIs(t, err, staking.ErrPackageNotFound, "existence first")

	_, err = f.engine.Stake(ctx, staker1, 2, staking.NewAmount(0))
	assert.ErrorIs(t, err, staking.ErrPackageOffline, "then status")

	_, err = f.engine.Stake(ctx, staker1, 1, staking.NewAmount(0))
	assert.ErrorIs(t, err, staking.ErrInvalidAmount, "then amount")

	_, err = f.engine.Stake(ctx, staker1, 1, staking.NewAmount(1))
	assert.ErrorIs(t, err, staking.ErrBelowMinimum, "then minimum")

	_, err = f.engine.Stake(ctx, staker1, 1, staking.Ether(1))
	assert.ErrorIs(t, err, staking.ErrReserveNotConfigured, "then reserve")
}

func TestStake_TransferFailureRollsBack(t *testing.T) {
	// GIVEN: An existing stake and an allowance smaller than the next deposit
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()
	first, err := f.engine.Stake(ctx, staker1, 1, staking.Ether(10))
	require.NoError(t, err)
	require.NoError(t, f.token.Approve(ctx, staker1, stakingAddr, staking.Ether(1)))
	f.clock.Advance(24 * time.Hour)

	// WHEN: The transfer is refused
	_, err = f.engine.Stake(ctx, staker1, 1, staking.Ether(5))

	// THEN: The error says why and the re-based record was discarded
	require.ErrorIs(t, err, staking.ErrTransferFailed)
	assert.ErrorIs(t, err, token.ErrInsufficientAllowance)
	var transferErr *staking.TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, staker1, transferErr.From)
	assert.Equal(t, stakingAddr, transferErr.To)

	rec, err := f.engine.StakeOf(ctx, staker1, 1)
	require.NoError(t, err)
	assertAmount(t, first.Amount, rec.Amount)
	assert.Equal(t, first.TimePoint, rec.TimePoint)
	assertAmount(t, first.TotalProfit, rec.TotalProfit)
}

func TestStake_SeparatePositions(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()
	_, err := f.engine.AddStakePackage(ctx, ownerAddr, standardPackage())
	require.NoError(t, err)
	require.NoError(t, f.token.Approve(ctx, staker2, stakingAddr, staking.Ether(100)))

	_, err = f.engine.Stake(ctx, staker1, 1, staking.Ether(1))
	require.NoError(t, err)
	_, err = f.engine.Stake(ctx, staker1, 2, staking.Ether(2))
	require.NoError(t, err)
	_, err = f.engine.Stake(ctx, staker2, 1, staking.Ether(3))
	require.NoError(t, err)

	mine, err := f.engine.StakesOf(ctx, staker1)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assertAmount(t, staking.Ether(1), mine[0].Amount)
	assertAmount(t, staking.Ether(2), mine[1].Amount)

	theirs, err := f.engine.StakeOf(ctx, staker2, 1)
	require.NoError(t, err)
	assertAmount(t, staking.Ether(3), theirs.Amount)
}

func TestStake_ExistingStakeSurvivesRemoval(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()
	_, err := f.engine.Stake(ctx, staker1, 1, staking.Ether(10))
	require.NoError(t, err)

	require.NoError(t, f.engine.RemoveStakePackage(ctx, ownerAddr, 1))
	f.clock.Advance(365 * 24 * time.Hour)

	pos, err := f.engine.Position(ctx, staker1, 1)
	require.NoError(t, err)
	assertAmount(t, staking.Ether(10), pos.Record.Amount)
	assertAmount(t, staking.EtherFraction(6, 10), pos.AccruedProfit, "offline packages keep accruing for existing stakes")
}

func TestStake_ConcurrentSamePair(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Stake(ctx, staker1, 1, staking.Ether(1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := f.engine.StakeOf(ctx, staker1, 1)
	require.NoError(t, err)
	assertAmount(t, staking.Ether(10), rec.Amount, "no deposit was lost")
	assertAmount(t, staking.Ether(90), f.balance(t, staker1))
}

// =============================================================================
// REENTRANCY
// =============================================================================

func TestStake_ReentrantCallRejected(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()

	// GIVEN: A token that calls back into the contract during the transfer
	var reentryErr, readErr error
	f.token.SetHook(func(ctx context.Context, tr token.Transfer) error {
		if tr.To != stakingAddr {
			return nil
		}
		_, reentryErr = f.engine.Stake(ctx, staker1, 1, staking.Ether(1))
		_, readErr = f.engine.StakeOf(ctx, staker1, 1)
		return nil
	})

	// WHEN: The outer stake runs
	rec, err := f.engine.Stake(ctx, staker1, 1, staking.Ether(5))

	// THEN: The nested calls were refused and only the outer deposit counted
	require.NoError(t, err)
	assert.ErrorIs(t, reentryErr, staking.ErrReentrantCall)
	assert.ErrorIs(t, readErr, staking.ErrReentrantCall)
	assertAmount(t, staking.Ether(5), rec.Amount)
	assertAmount(t, staking.Ether(95), f.balance(t, staker1))
}

func TestStake_ReentrantFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()

	f.token.SetHook(func(ctx context.Context, tr token.Transfer) error {
		if tr.To != stakingAddr {
			return nil
		}
		return f.engine.RemoveStakePackage(ctx, ownerAddr, 1)
	})

	_, err := f.engine.Stake(ctx, staker1, 1, staking.Ether(5))
	assert.ErrorIs(t, err, staking.ErrTransferFailed)
	assert.ErrorIs(t, err, staking.ErrReentrantCall)

	pkg, err := f.engine.StakePackage(ctx, 1)
	require.NoError(t, err)
	assert.False(t, pkg.IsOffline())
	rec, err := f.engine.StakeOf(ctx, staker1, 1)
	require.NoError(t, err)
	assert.True(t, rec.IsEmpty())
	assertAmount(t, staking.Ether(100), f.balance(t, staker1))
}

// =============================================================================
// READ VIEWS
// =============================================================================

func TestPosition(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()
	_, err := f.engine.Stake(ctx, staker1, 1, staking.Ether(50))
	require.NoError(t, err)

	f.clock.Advance(365 * 24 * time.Hour)
	pos, err := f.engine.Position(ctx, staker1, 1)
	require.NoError(t, err)

	assertAmount(t, staking.Ether(3), pos.Pending, "6% of 50 over a year")
	assertAmount(t, staking.Ether(3), pos.AccruedProfit)
	assert.Equal(t, genesis, pos.Record.TimePoint, "reads never re-base")

	again, err := f.engine.Position(ctx, staker1, 1)
	require.NoError(t, err)
	assertAmount(t, pos.AccruedProfit, again.AccruedProfit)

	empty, err := f.engine.Position(ctx, staker2, 1)
	require.NoError(t, err)
	assertAmount(t, staking.NewAmount(0), empty.AccruedProfit)

	_, err = f.engine.Position(ctx, staker1, 7)
	assert.ErrorIs(t, err, staking.ErrPackageNotFound)
}

func TestLiability(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()
	require.NoError(t, f.token.Approve(ctx, staker2, stakingAddr, staking.Ether(100)))

	_, err := f.engine.Stake(ctx, staker1, 1, staking.Ether(50))
	require.NoError(t, err)
	_, err = f.engine.Stake(ctx, staker2, 1, staking.Ether(50))
	require.NoError(t, err)

	f.clock.Advance(365 * 24 * time.Hour)
	l, err := f.engine.Liability(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, l.Stakes)
	assert.Equal(t, reserveAddr, l.Reserve)
	assertAmount(t, staking.Ether(100), l.Principal)
	assertAmount(t, staking.Ether(6), l.AccruedProfit)
	assert.Equal(t, genesis.Add(365*24*time.Hour), l.AsOf)
}

// =============================================================================
// LOGGING
// =============================================================================

func TestLogging(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	ctx := context.Background()
	f.logs.Reset()

	_, err := f.engine.Stake(ctx, staker1, 1, staking.Ether(1))
	require.NoError(t, err)
	entry := f.logs.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "stake deposited", entry.Message)
	assert.Equal(t, stakingAddr.Hex(), entry.Data["contract"])

	_, err = f.engine.Stake(ctx, staker1, 9, staking.Ether(1))
	require.Error(t, err)
	entry = f.logs.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "package_not_found", entry.Data["code"])
}

// =============================================================================
// PERSISTENT STORE
// =============================================================================

func TestEngine_SQLite(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := newFixtureWithStore(t, s)
	f.ready(t)
	ctx := context.Background()

	_, err = f.engine.Stake(ctx, staker1, 1, staking.Ether(10))
	require.NoError(t, err)
	f.clock.Advance(30 * 24 * time.Hour)
	require.NoError(t, f.token.Approve(ctx, staker1, stakingAddr, staking.Ether(1)))

	// a failed transfer rolls back the SQL transaction too
	_, err = f.engine.Stake(ctx, staker1, 1, staking.Ether(5))
	require.ErrorIs(t, err, staking.ErrTransferFailed)

	rec, err := f.engine.StakeOf(ctx, staker1, 1)
	require.NoError(t, err)
	assertAmount(t, staking.Ether(10), rec.Amount)
	assert.Equal(t, genesis, rec.TimePoint)

	rec, err = f.engine.Stake(ctx, staker1, 1, staking.Ether(1))
	require.NoError(t, err)
	assertAmount(t, staking.Ether(11), rec.Amount)
	assert.True(t, rec.TotalProfit.IsPositive())
}

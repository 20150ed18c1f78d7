// Package storetest is a conformance suite for staking.TxStore
// implementations. Each backend's tests call Run with a constructor.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stake-ledger/staking"
)

var (
	Owner   = staking.MustParseAddress("0x00000000000000000000000000000000000000a1")
	Reserve = staking.MustParseAddress("0x00000000000000000000000000000000000000b2")
	Alice   = staking.MustParseAddress("0x00000000000000000000000000000000000000c3")
	Bob     = staking.MustParseAddress("0x00000000000000000000000000000000000000d4")
)

var errBoom = errors.New("boom")

// Run exercises every Store method against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) staking.TxStore) {
	t.Run("SlotsStartZero", func(t *testing.T) { testSlotsStartZero(t, newStore(t)) })
	t.Run("Slots", func(t *testing.T) { testSlots(t, newStore(t)) })
	t.Run("PackageSequence", func(t *testing.T) { testPackageSequence(t, newStore(t)) })
	t.Run("PackageStatus", func(t *testing.T) { testPackageStatus(t, newStore(t)) })
	t.Run("StakeUpsert", func(t *testing.T) { testStakeUpsert(t, newStore(t)) })
	t.Run("StakeListing", func(t *testing.T) { testStakeListing(t, newStore(t)) })
	t.Run("TxCommit", func(t *testing.T) { testTxCommit(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
}

// Package returns a valid package for tests.
func Package(id staking.PackageID) staking.StakePackage {
	return staking.StakePackage{
		ID:             id,
		Rate:           6,
		RateDecimals:   2,
		MinStakeAmount: staking.EtherFraction(1, 10),
		LockDuration:   30 * 86400,
		Status:         staking.PackageActive,
		CreatedAt:      1_700_000_000,
	}
}

// Record returns a stake record for tests.
func Record(staker staking.Address, id staking.PackageID, amount staking.Amount) staking.StakeRecord {
	return staking.StakeRecord{
		Staker:      staker,
		PackageID:   id,
		Amount:      amount,
		StartTime:   1_700_000_000,
		TimePoint:   1_700_000_100,
		TotalProfit: staking.NewAmount(12345),
	}
}

// AssertRecord compares records field by field; Amount holds a decimal.
func AssertRecord(t *testing.T, want, got staking.StakeRecord) {
	t.Helper()
	assert.Equal(t, want.Staker, got.Staker)
	assert.Equal(t, want.PackageID, got.PackageID)
	assert.Equal(t, want.Amount.String(), got.Amount.String(), "amount")
	assert.Equal(t, want.StartTime, got.StartTime)
	assert.Equal(t, want.TimePoint, got.TimePoint)
	assert.Equal(t, want.TotalProfit.String(), got.TotalProfit.String(), "total profit")
}

func assertPackage(t *testing.T, want, got staking.StakePackage) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Rate, got.Rate)
	assert.Equal(t, want.RateDecimals, got.RateDecimals)
	assert.Equal(t, want.MinStakeAmount.String(), got.MinStakeAmount.String())
	assert.Equal(t, want.LockDuration, got.LockDuration)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.CreatedAt, got.CreatedAt)
}

func testSlotsStartZero(t *testing.T, s staking.TxStore) {
	ctx := context.Background()

	owner, err := s.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, staking.ZeroAddress, owner)

	reserve, err := s.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, staking.ZeroAddress, reserve)

	id, err := s.NextPackageID(ctx)
	require.NoError(t, err)
	assert.Equal(t, staking.PackageID(1), id, "ids start at 1")
}

func testSlots(t *testing.T, s staking.TxStore) {
	ctx := context.Background()

	require.NoError(t, s.SetOwner(ctx, Owner))
	require.NoError(t, s.SetReserve(ctx, Reserve))

	owner, err := s.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, Owner, owner)

	reserve, err := s.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, Reserve, reserve)
}

func testPackageSequence(t *testing.T, s staking.TxStore) {
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		id, err := s.NextPackageID(ctx)
		require.NoError(t, err)
		require.Equal(t, staking.PackageID(i), id)
		require.NoError(t, s.InsertPackage(ctx, Package(id)))
	}

	got, err := s.Package(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assertPackage(t, Package(2), *got)

	missing, err := s.Package(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing, "unknown id is nil, not an error")

	all, err := s.ListPackages(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, p := range all {
		assert.Equal(t, staking.PackageID(i+1), p.ID, "listed in id order")
	}
}

func testPackageStatus(t *testing.T, s staking.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertPackage(ctx, Package(1)))

	require.NoError(t, s.SetPackageStatus(ctx, 1, staking.PackageOffline))

	got, err := s.Package(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, staking.PackageOffline, got.Status)

	want := Package(1)
	want.Status = staking.PackageOffline
	assertPackage(t, want, *got)

	id, err := s.NextPackageID(ctx)
	require.NoError(t, err)
	assert.Equal(t, staking.PackageID(2), id, "offline packages keep their id")
}

func testStakeUpsert(t *testing.T, s staking.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertPackage(ctx, Package(1)))

	none, err := s.Stake(ctx, Alice, 1)
	require.NoError(t, err)
	assert.Nil(t, none)

	first := Record(Alice, 1, staking.Ether(10))
	require.NoError(t, s.PutStake(ctx, first))

	second := first
	second.Amount = staking.Ether(20)
	second.TimePoint = first.TimePoint + 864000
	second.TotalProfit = staking.Ether(1)
	require.NoError(t, s.PutStake(ctx, second))

	got, err := s.Stake(ctx, Alice, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	AssertRecord(t, second, *got)

	all, err := s.ListStakes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "upsert keeps one row per pair")
}

func testStakeListing(t *testing.T, s staking.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertPackage(ctx, Package(1)))
	require.NoError(t, s.InsertPackage(ctx, Package(2)))

	require.NoError(t, s.PutStake(ctx, Record(Bob, 1, staking.Ether(3))))
	require.NoError(t, s.PutStake(ctx, Record(Alice, 2, staking.Ether(2))))
	require.NoError(t, s.PutStake(ctx, Record(Alice, 1, staking.Ether(1))))

	alice, err := s.StakesByStaker(ctx, Alice)
	require.NoError(t, err)
	require.Len(t, alice, 2)
	assert.Equal(t, staking.PackageID(1), alice[0].PackageID)
	assert.Equal(t, staking.PackageID(2), alice[1].PackageID)

	all, err := s.ListStakes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, Alice, all[0].Staker)
	assert.Equal(t, Alice, all[1].Staker)
	assert.Equal(t, Bob, all[2].Staker)

	nobody, err := s.StakesByStaker(ctx, Owner)
	require.NoError(t, err)
	assert.Empty(t, nobody)
}

func testTxCommit(t *testing.T, s staking.TxStore) {
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx staking.Store) error {
		if err := tx.SetOwner(ctx, Owner); err != nil {
			return err
		}
		if err := tx.InsertPackage(ctx, Package(1)); err != nil {
			return err
		}
		// reads inside the transaction see its own writes
		owner, err := tx.Owner(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, Owner, owner)
		pkg, err := tx.Package(ctx, 1)
		if err != nil {
			return err
		}
		assert.NotNil(t, pkg)
		return tx.PutStake(ctx, Record(Alice, 1, staking.Ether(5)))
	})
	require.NoError(t, err)

	owner, err := s.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, Owner, owner)

	rec, err := s.Stake(ctx, Alice, 1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, staking.Ether(5).String(), rec.Amount.String())
}

func testTxRollback(t *testing.T, s staking.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertPackage(ctx, Package(1)))
	before := Record(Alice, 1, staking.Ether(1))
	require.NoError(t, s.PutStake(ctx, before))

	err := s.WithTx(ctx, func(tx staking.Store) error {
		if err := tx.SetReserve(ctx, Reserve); err != nil {
			return err
		}
		if err := tx.SetPackageStatus(ctx, 1, staking.PackageOffline); err != nil {
			return err
		}
		if err := tx.InsertPackage(ctx, Package(2)); err != nil {
			return err
		}
		changed := before
		changed.Amount = staking.Ether(100)
		if err := tx.PutStake(ctx, changed); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	reserve, err := s.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, staking.ZeroAddress, reserve, "reserve write rolled back")

	pkg, err := s.Package(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, pkg)
	assert.Equal(t, staking.PackageActive, pkg.Status, "status write rolled back")

	next, err := s.NextPackageID(ctx)
	require.NoError(t, err)
	assert.Equal(t, staking.PackageID(2), next, "inserted package rolled back")

	rec, err := s.Stake(ctx, Alice, 1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	AssertRecord(t, before, *rec)
}

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stake-ledger/staking"
	"github.com/warp/stake-ledger/staking/storetest"
	"github.com/warp/stake-ledger/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) staking.TxStore {
		return newTestStore(t)
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	// GIVEN: A file-backed store with state
	path := filepath.Join(t.TempDir(), "staking.db")
	ctx := context.Background()

	s, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, s.SetOwner(ctx, storetest.Owner))
	require.NoError(t, s.InsertPackage(ctx, storetest.Package(1)))
	require.NoError(t, s.PutStake(ctx, storetest.Record(storetest.Alice, 1, staking.Ether(7))))
	require.NoError(t, s.Close())

	// WHEN: The database is opened again (migrate runs a second time)
	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	// THEN: Everything is still there
	owner, err := s.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, storetest.Owner, owner)

	rec, err := s.Stake(ctx, storetest.Alice, 1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	storetest.AssertRecord(t, storetest.Record(storetest.Alice, 1, staking.Ether(7)), *rec)
}

func TestStore_LargeValues(t *testing.T) {
	// Amounts and rates beyond 64 bits round-trip exactly
	s := newTestStore(t)
	ctx := context.Background()

	pkg := storetest.Package(1)
	pkg.Rate = ^uint64(0)
	pkg.LockDuration = ^uint64(0)
	pkg.MinStakeAmount = staking.MustParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, s.InsertPackage(ctx, pkg))

	got, err := s.Package(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pkg.Rate, got.Rate)
	assert.Equal(t, pkg.LockDuration, got.LockDuration)
	assert.Equal(t, pkg.MinStakeAmount.String(), got.MinStakeAmount.String())
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetOwner(ctx, storetest.Owner))
	require.NoError(t, s.InsertPackage(ctx, storetest.Package(1)))
	require.NoError(t, s.PutStake(ctx, storetest.Record(storetest.Alice, 1, staking.Ether(1))))

	require.NoError(t, s.Reset(ctx))

	owner, err := s.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, staking.ZeroAddress, owner)

	pkgs, err := s.ListPackages(ctx)
	require.NoError(t, err)
	assert.Empty(t, pkgs)

	require.NoError(t, s.Ping(ctx))
}

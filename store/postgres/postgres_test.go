package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/warp/stake-ledger/staking"
	"github.com/warp/stake-ledger/staking/storetest"
	"github.com/warp/stake-ledger/store/postgres"
)

// Requires a disposable database: every subtest truncates all tables.
func TestStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	storetest.Run(t, func(t *testing.T) staking.TxStore {
		require.NoError(t, s.Reset(ctx))
		return s
	})
}

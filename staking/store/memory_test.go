package store_test

import (
	"testing"

	"github.com/warp/stake-ledger/staking"
	"github.com/warp/stake-ledger/staking/store"
	"github.com/warp/stake-ledger/staking/storetest"
)

func TestTxMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) staking.TxStore {
		return store.NewTxMemory()
	})
}

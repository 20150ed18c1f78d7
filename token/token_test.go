package token_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stake-ledger/staking"
	"github.com/warp/stake-ledger/token"
)

var (
	tokenAddr = staking.MustParseAddress("0x0000000000000000000000000000000000000f01")
	alice     = staking.MustParseAddress("0x00000000000000000000000000000000000000c3")
	bob       = staking.MustParseAddress("0x00000000000000000000000000000000000000d4")
	spender   = staking.MustParseAddress("0x00000000000000000000000000000000000000e5")
)

func newLedger(t *testing.T) *token.Ledger {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return token.New(tokenAddr, logger)
}

func balanceOf(t *testing.T, l *token.Ledger, a staking.Address) string {
	t.Helper()
	b, err := l.BalanceOf(context.Background(), a)
	require.NoError(t, err)
	return b.String()
}

func TestMint(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Mint(ctx, alice, staking.Ether(5)))
	require.NoError(t, l.Mint(ctx, alice, staking.Ether(1)))

	assert.Equal(t, staking.Ether(6).String(), balanceOf(t, l, alice))
	supply, err := l.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, staking.Ether(6).String(), supply.String())
	assert.Equal(t, []staking.Address{alice}, l.Holders(ctx))

	assert.ErrorIs(t, l.Mint(ctx, staking.ZeroAddress, staking.Ether(1)), token.ErrZeroAddress)
}

func TestTransfer(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Mint(ctx, alice, staking.Ether(3)))

	require.NoError(t, l.Transfer(ctx, alice, bob, staking.Ether(2)))
	assert.Equal(t, staking.Ether(1).String(), balanceOf(t, l, alice))
	assert.Equal(t, staking.Ether(2).String(), balanceOf(t, l, bob))

	err := l.Transfer(ctx, alice, bob, staking.Ether(2))
	assert.ErrorIs(t, err, token.ErrInsufficientBalance)
	assert.Equal(t, staking.Ether(1).String(), balanceOf(t, l, alice), "failed transfer changes nothing")
}

func TestTransferFrom_ConsumesAllowance(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Mint(ctx, alice, staking.Ether(10)))

	// GIVEN: No allowance
	err := l.TransferFrom(ctx, spender, alice, spender, staking.Ether(1))
	assert.ErrorIs(t, err, token.ErrInsufficientAllowance)

	// WHEN: Alice approves 4 and the spender pulls 3
	require.NoError(t, l.Approve(ctx, alice, spender, staking.Ether(4)))
	require.NoError(t, l.TransferFrom(ctx, spender, alice, spender, staking.Ether(3)))

	// THEN: 1 remains approved
	allowed, err := l.Allowance(ctx, alice, spender)
	require.NoError(t, err)
	assert.Equal(t, staking.Ether(1).String(), allowed.String())
	assert.Equal(t, staking.Ether(7).String(), balanceOf(t, l, alice))
	assert.Equal(t, staking.Ether(3).String(), balanceOf(t, l, spender))

	err = l.TransferFrom(ctx, spender, alice, spender, staking.Ether(2))
	assert.ErrorIs(t, err, token.ErrInsufficientAllowance)
}

func TestTransferFrom_AllowanceButNoBalance(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Mint(ctx, alice, staking.Ether(1)))
	require.NoError(t, l.Approve(ctx, alice, spender, staking.Ether(5)))

	err := l.TransferFrom(ctx, spender, alice, spender, staking.Ether(2))
	assert.ErrorIs(t, err, token.ErrInsufficientBalance)

	allowed, err := l.Allowance(ctx, alice, spender)
	require.NoError(t, err)
	assert.Equal(t, staking.Ether(5).String(), allowed.String(), "allowance untouched")
}

func TestHook_RejectReverts(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Mint(ctx, alice, staking.Ether(5)))
	require.NoError(t, l.Approve(ctx, alice, spender, staking.Ether(5)))

	rejected := errors.New("receiver refused")
	var seen []token.Transfer
	l.SetHook(func(_ context.Context, tr token.Transfer) error {
		seen = append(seen, tr)
		return rejected
	})

	err := l.TransferFrom(ctx, spender, alice, bob, staking.Ether(2))
	assert.ErrorIs(t, err, rejected)
	require.Len(t, seen, 1)
	assert.Equal(t, alice, seen[0].From)
	assert.Equal(t, bob, seen[0].To)

	assert.Equal(t, staking.Ether(5).String(), balanceOf(t, l, alice))
	assert.Equal(t, "0", balanceOf(t, l, bob))
	allowed, err := l.Allowance(ctx, alice, spender)
	require.NoError(t, err)
	assert.Equal(t, staking.Ether(5).String(), allowed.String())
}

func TestHook_SeesUpdatedBalances(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Mint(ctx, alice, staking.Ether(5)))

	var during staking.Amount
	l.SetHook(func(ctx context.Context, _ token.Transfer) error {
		var err error
		during, err = l.BalanceOf(ctx, bob)
		return err
	})

	require.NoError(t, l.Transfer(ctx, alice, bob, staking.Ether(2)))
	assert.Equal(t, staking.Ether(2).String(), during.String(), "hook runs after the balance change")
}

func TestMint_Logs(t *testing.T) {
	logger, hook := test.NewNullLogger()
	l := token.New(tokenAddr, logger)

	require.NoError(t, l.Mint(context.Background(), alice, staking.Ether(1)))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "minted", entry.Message)
	assert.Equal(t, staking.Ether(1).String(), entry.Data["amount"])
}

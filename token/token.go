/*
Package token provides an in-process fungible token with ERC-20 style
balances and allowances.

PURPOSE:
  The staking engine pulls deposits through staking.Token. This ledger is
  the token the server runs against: balances are minted by the operator,
  stakers approve the staking contract, and Stake moves funds with
  TransferFrom.

TRANSFER HOOK:
  An optional hook runs after every balance change, outside the token lock,
  with the caller's context. Returning an error reverts the transfer. The
  hook is how receivers observe (and may call back into) the system during
  a transfer.

USAGE:
  tok := token.New(tokenAddr, logger)
  tok.Mint(ctx, alice, staking.Ether(100))
  tok.Approve(ctx, alice, stakingAddr, staking.Ether(100))
*/
package token

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/warp/stake-ledger/staking"
)

var (
	ErrInsufficientBalance   = errors.New("ERC20: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("ERC20: insufficient allowance")
	ErrZeroAddress           = errors.New("ERC20: zero address")
	ErrInvalidAmount         = errors.New("ERC20: amount must not be negative")
)

// Transfer describes one balance movement. From is the zero address for mints.
type Transfer struct {
	From   staking.Address
	To     staking.Address
	Amount staking.Amount
}

// Hook observes a completed transfer. A non-nil error reverts it.
type Hook func(ctx context.Context, t Transfer) error

// Ledger is the token state.
type Ledger struct {
	address staking.Address
	log     logrus.FieldLogger

	mu         sync.Mutex
	balances   map[staking.Address]staking.Amount
	allowances map[allowanceKey]staking.Amount
	supply     staking.Amount
	hook       Hook
}

type allowanceKey struct {
	Owner   staking.Address
	Spender staking.Address
}

// New returns an empty token at address.
func New(address staking.Address, log logrus.FieldLogger) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{
		address:    address,
		log:        log.WithField("token", address.Hex()),
		balances:   make(map[staking.Address]staking.Amount),
		allowances: make(map[allowanceKey]staking.Amount),
		supply:     staking.NewAmount(0),
	}
}

// Address is the token's own address.
func (l *Ledger) Address() staking.Address { return l.address }

// SetHook installs the transfer hook; nil removes it.
func (l *Ledger) SetHook(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = h
}

// =============================================================================
// READS
// =============================================================================

func (l *Ledger) BalanceOf(_ context.Context, account staking.Address) (staking.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(account), nil
}

func (l *Ledger) Allowance(_ context.Context, owner, spender staking.Address) (staking.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowance(owner, spender), nil
}

func (l *Ledger) TotalSupply(_ context.Context) (staking.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply, nil
}

// Holders returns every account with a non-zero balance, sorted by address.
func (l *Ledger) Holders(_ context.Context) []staking.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]staking.Address, 0, len(l.balances))
	for a, b := range l.balances {
		if b.IsPositive() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// =============================================================================
// WRITES
// =============================================================================

// Mint creates amount new units for to.
func (l *Ledger) Mint(ctx context.Context, to staking.Address, amount staking.Amount) error {
	if staking.IsZeroAddress(to) {
		return fmt.Errorf("mint: %w", ErrZeroAddress)
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	l.balances[to] = l.balance(to).Add(amount)
	l.supply = l.supply.Add(amount)
	hook := l.hook
	l.mu.Unlock()

	t := Transfer{From: staking.ZeroAddress, To: to, Amount: amount}
	if err := l.notify(ctx, hook, t); err != nil {
		l.mu.Lock()
		l.balances[to] = l.balance(to).Sub(amount)
		l.supply = l.supply.Sub(amount)
		l.mu.Unlock()
		return err
	}

	l.log.WithFields(logrus.Fields{"to": to.Hex(), "amount": amount.String()}).Info("minted")
	return nil
}

// Approve sets the allowance spender may pull from owner. It replaces any
// previous allowance.
func (l *Ledger) Approve(_ context.Context, owner, spender staking.Address, amount staking.Amount) error {
	if staking.IsZeroAddress(owner) || staking.IsZeroAddress(spender) {
		return fmt.Errorf("approve: %w", ErrZeroAddress)
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	l.allowances[allowanceKey{Owner: owner, Spender: spender}] = amount
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{
		"owner":   owner.Hex(),
		"spender": spender.Hex(),
		"amount":  amount.String(),
	}).Debug("approval")
	return nil
}

// Transfer moves amount from `from` to `to`.
func (l *Ledger) Transfer(ctx context.Context, from, to staking.Address, amount staking.Amount) error {
	return l.move(ctx, staking.ZeroAddress, from, to, amount)
}

// TransferFrom moves amount from `from` to `to` on behalf of spender,
// consuming spender's allowance.
func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to staking.Address, amount staking.Amount) error {
	if staking.IsZeroAddress(spender) {
		return fmt.Errorf("spender: %w", ErrZeroAddress)
	}
	return l.move(ctx, spender, from, to, amount)
}

// move applies a transfer; a zero spender means the holder moves its own
// funds and no allowance is consumed.
func (l *Ledger) move(ctx context.Context, spender, from, to staking.Address, amount staking.Amount) error {
	if staking.IsZeroAddress(from) || staking.IsZeroAddress(to) {
		return fmt.Errorf("transfer: %w", ErrZeroAddress)
	}
	if amount.IsNegative() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	key := allowanceKey{Owner: from, Spender: spender}
	if !staking.IsZeroAddress(spender) {
		if allowed := l.allowance(from, spender); allowed.LessThan(amount) {
			l.mu.Unlock()
			return fmt.Errorf("%w: allowance %s, need %s", ErrInsufficientAllowance, allowed, amount)
		}
	}
	if bal := l.balance(from); bal.LessThan(amount) {
		l.mu.Unlock()
		return fmt.Errorf("%w: balance %s, need %s", ErrInsufficientBalance, bal, amount)
	}

	if !staking.IsZeroAddress(spender) {
		l.allowances[key] = l.allowance(from, spender).Sub(amount)
	}
	l.balances[from] = l.balance(from).Sub(amount)
	l.balances[to] = l.balance(to).Add(amount)
	hook := l.hook
	l.mu.Unlock()

	t := Transfer{From: from, To: to, Amount: amount}
	if err := l.notify(ctx, hook, t); err != nil {
		l.mu.Lock()
		l.balances[to] = l.balance(to).Sub(amount)
		l.balances[from] = l.balance(from).Add(amount)
		if !staking.IsZeroAddress(spender) {
			l.allowances[key] = l.allowance(from, spender).Add(amount)
		}
		l.mu.Unlock()
		return err
	}

	l.log.WithFields(logrus.Fields{
		"from":   from.Hex(),
		"to":     to.Hex(),
		"amount": amount.String(),
	}).Debug("transfer")
	return nil
}

func (l *Ledger) notify(ctx context.Context, hook Hook, t Transfer) error {
	if hook == nil {
		return nil
	}
	if err := hook(ctx, t); err != nil {
		return fmt.Errorf("transfer hook: %w", err)
	}
	return nil
}

func (l *Ledger) balance(a staking.Address) staking.Amount {
	if b, ok := l.balances[a]; ok {
		return b
	}
	return staking.NewAmount(0)
}

func (l *Ledger) allowance(owner, spender staking.Address) staking.Amount {
	if a, ok := l.allowances[allowanceKey{Owner: owner, Spender: spender}]; ok {
		return a
	}
	return staking.NewAmount(0)
}

var _ staking.Token = (*Ledger)(nil)

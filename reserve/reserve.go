// Package reserve models the payout custodian a staking contract links to.
//
// A Reserve is bound at construction to one token and one staking
// contract and holds funds as a plain token balance. Payout authorization
// is not modelled here; the staking engine only needs to verify the
// binding before accepting a reserve address.
package reserve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/stake-ledger/staking"
)

var (
	ErrZeroAddress = errors.New("reserve: zero address")
	ErrDuplicate   = errors.New("reserve: address already registered")
)

// Reserve is a custodian bound to a token and a staking contract.
type Reserve struct {
	address staking.Address
	token   staking.Address
	staking staking.Address
}

// New binds a custodian at address to token and stakingContract.
func New(address, token, stakingContract staking.Address) (*Reserve, error) {
	if staking.IsZeroAddress(address) || staking.IsZeroAddress(token) || staking.IsZeroAddress(stakingContract) {
		return nil, ErrZeroAddress
	}
	return &Reserve{address: address, token: token, staking: stakingContract}, nil
}

func (r *Reserve) Address() staking.Address { return r.address }
func (r *Reserve) Token() staking.Address   { return r.token }
func (r *Reserve) Staking() staking.Address { return r.staking }

// IsLinked reports whether the custodian serves stakingContract and token.
func (r *Reserve) IsLinked(stakingContract, token staking.Address) bool {
	return r.staking == stakingContract && r.token == token
}

// Balance is the token balance the custodian holds for payouts.
func (r *Reserve) Balance(ctx context.Context, tok staking.Token) (staking.Amount, error) {
	return tok.BalanceOf(ctx, r.address)
}

// Fund moves amount from `from` into the custodian.
func (r *Reserve) Fund(ctx context.Context, tok staking.Token, from staking.Address, amount staking.Amount) error {
	if err := tok.Transfer(ctx, from, r.address, amount); err != nil {
		return fmt.Errorf("fund reserve %s: %w", r.address.Hex(), err)
	}
	return nil
}

// =============================================================================
// DIRECTORY - Known custodians, consulted by the engine
// =============================================================================

// Directory is the set of deployed custodians. It implements
// staking.ReserveVerifier.
type Directory struct {
	mu       sync.RWMutex
	reserves map[staking.Address]*Reserve
}

func NewDirectory() *Directory {
	return &Directory{reserves: make(map[staking.Address]*Reserve)}
}

// Register adds a custodian. Addresses are unique.
func (d *Directory) Register(r *Reserve) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.reserves[r.address]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, r.address.Hex())
	}
	d.reserves[r.address] = r
	return nil
}

// Get returns the custodian at address.
func (d *Directory) Get(address staking.Address) (*Reserve, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.reserves[address]
	return r, ok
}

// List returns all custodians sorted by address.
func (d *Directory) List() []*Reserve {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Reserve, 0, len(d.reserves))
	for _, r := range d.reserves {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].address.Hex() < out[j].address.Hex() })
	return out
}

// IsLinked is false for addresses the directory does not know.
func (d *Directory) IsLinked(_ context.Context, reserve, stakingContract, token staking.Address) (bool, error) {
	r, ok := d.Get(reserve)
	if !ok {
		return false, nil
	}
	return r.IsLinked(stakingContract, token), nil
}

var _ staking.ReserveVerifier = (*Directory)(nil)

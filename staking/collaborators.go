package staking

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// TOKEN - Fungible token transfer mechanism (external)
// =============================================================================

// Token moves the staked token. Implementations own balances and allowances.
//
// TransferFrom uses pull semantics: spender moves amount from `from` to `to`
// and needs an allowance of at least amount granted by `from`.
type Token interface {
	Transfer(ctx context.Context, from, to Address, amount Amount) error
	TransferFrom(ctx context.Context, spender, from, to Address, amount Amount) error
	Approve(ctx context.Context, owner, spender Address, amount Amount) error
	BalanceOf(ctx context.Context, account Address) (Amount, error)
}

// =============================================================================
// RESERVE VERIFIER - Reserve custodian linkage (external)
// =============================================================================

// ReserveVerifier confirms that a reserve custodian is bound to a staking
// contract and to its token.
type ReserveVerifier interface {
	IsLinked(ctx context.Context, reserve, staking, token Address) (bool, error)
}

// =============================================================================
// LOCKER - Critical sections across engine instances
// =============================================================================

// Locker serialises mutations. Lock blocks until the key is held or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// =============================================================================
// CLOCK - Block time
// =============================================================================

// Clock supplies the current block time.
type Clock interface {
	Now() Timestamp
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() Timestamp { return TimestampOf(time.Now()) }

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now Timestamp
}

func NewManualClock(start Timestamp) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

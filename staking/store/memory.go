// Package store provides an in-memory staking.TxStore.
package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/stake-ledger/staking"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	owner    staking.Address
	reserve  staking.Address
	lastID   staking.PackageID
	packages map[staking.PackageID]staking.StakePackage
	stakes   map[stakeKey]staking.StakeRecord
}

type stakeKey struct {
	Staker    staking.Address
	PackageID staking.PackageID
}

func NewMemory() *Memory {
	return &Memory{state: newMemoryState()}
}

func newMemoryState() memoryState {
	return memoryState{
		packages: make(map[staking.PackageID]staking.StakePackage),
		stakes:   make(map[stakeKey]staking.StakeRecord),
	}
}

func (m *Memory) Owner(_ context.Context) (staking.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.owner, nil
}

func (m *Memory) SetOwner(_ context.Context, owner staking.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.owner = owner
	return nil
}

func (m *Memory) Reserve(_ context.Context) (staking.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.reserve, nil
}

func (m *Memory) SetReserve(_ context.Context, reserve staking.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.reserve = reserve
	return nil
}

func (m *Memory) NextPackageID(_ context.Context) (staking.PackageID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.lastID + 1, nil
}

func (m *Memory) InsertPackage(_ context.Context, pkg staking.StakePackage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertPackage(pkg)
}

func (m *Memory) Package(_ context.Context, id staking.PackageID) (*staking.StakePackage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.pkg(id), nil
}

func (m *Memory) SetPackageStatus(_ context.Context, id staking.PackageID, status staking.PackageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.setStatus(id, status)
}

func (m *Memory) ListPackages(_ context.Context) ([]staking.StakePackage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listPackages(), nil
}

func (m *Memory) Stake(_ context.Context, staker staking.Address, id staking.PackageID) (*staking.StakeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.stake(staker, id), nil
}

func (m *Memory) PutStake(_ context.Context, rec staking.StakeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.stakes[stakeKey{Staker: rec.Staker, PackageID: rec.PackageID}] = rec
	return nil
}

func (m *Memory) StakesByStaker(_ context.Context, staker staking.Address) ([]staking.StakeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listStakes(func(r staking.StakeRecord) bool { return r.Staker == staker }), nil
}

func (m *Memory) ListStakes(_ context.Context) ([]staking.StakeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listStakes(nil), nil
}

// =============================================================================
// STATE HELPERS - Callers hold the lock
// =============================================================================

func (s *memoryState) insertPackage(pkg staking.StakePackage) error {
	if pkg.ID != s.lastID+1 {
		return fmt.Errorf("package id %d out of sequence, expected %d", pkg.ID, s.lastID+1)
	}
	s.packages[pkg.ID] = pkg
	s.lastID = pkg.ID
	return nil
}

func (s *memoryState) pkg(id staking.PackageID) *staking.StakePackage {
	p, ok := s.packages[id]
	if !ok {
		return nil
	}
	return &p
}

func (s *memoryState) setStatus(id staking.PackageID, status staking.PackageStatus) error {
	p, ok := s.packages[id]
	if !ok {
		return fmt.Errorf("package %d: %w", id, staking.ErrPackageNotFound)
	}
	p.Status = status
	s.packages[id] = p
	return nil
}

func (s *memoryState) listPackages() []staking.StakePackage {
	out := make([]staking.StakePackage, 0, len(s.packages))
	for _, p := range s.packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryState) stake(staker staking.Address, id staking.PackageID) *staking.StakeRecord {
	r, ok := s.stakes[stakeKey{Staker: staker, PackageID: id}]
	if !ok {
		return nil
	}
	return &r
}

func (s *memoryState) listStakes(keep func(staking.StakeRecord) bool) []staking.StakeRecord {
	out := make([]staking.StakeRecord, 0)
	for _, r := range s.stakes {
		if keep == nil || keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Staker[:], out[j].Staker[:]); c != 0 {
			return c < 0
		}
		return out[i].PackageID < out[j].PackageID
	})
	return out
}

func (s memoryState) clone() memoryState {
	c := s
	c.packages = make(map[staking.PackageID]staking.StakePackage, len(s.packages))
	for k, v := range s.packages {
		c.packages[k] = v
	}
	c.stakes = make(map[stakeKey]staking.StakeRecord, len(s.stakes))
	for k, v := range s.stakes {
		c.stakes[k] = v
	}
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// Simulated with a snapshot, restored when fn fails. Transactions are
// serialised: the store lock is held for the whole of fn.
// The snapshot copies every record, so each transaction costs O(total
// records). Fine for tests and demos; serve real traffic from sqlite or postgres.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(staking.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()

	if err := fn(&txMemoryView{state: &tm.state}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

// txMemoryView reads and writes the state directly; the parent lock is held.
type txMemoryView struct {
	state *memoryState
}

func (tv *txMemoryView) Owner(context.Context) (staking.Address, error) { return tv.state.owner, nil }

func (tv *txMemoryView) SetOwner(_ context.Context, owner staking.Address) error {
	tv.state.owner = owner
	return nil
}

func (tv *txMemoryView) Reserve(context.Context) (staking.Address, error) { return tv.state.reserve, nil }

func (tv *txMemoryView) SetReserve(_ context.Context, reserve staking.Address) error {
	tv.state.reserve = reserve
	return nil
}

func (tv *txMemoryView) NextPackageID(context.Context) (staking.PackageID, error) {
	return tv.state.lastID + 1, nil
}

func (tv *txMemoryView) InsertPackage(_ context.Context, pkg staking.StakePackage) error {
	return tv.state.insertPackage(pkg)
}

func (tv *txMemoryView) Package(_ context.Context, id staking.PackageID) (*staking.StakePackage, error) {
	return tv.state.pkg(id), nil
}

func (tv *txMemoryView) SetPackageStatus(_ context.Context, id staking.PackageID, status staking.PackageStatus) error {
	return tv.state.setStatus(id, status)
}

func (tv *txMemoryView) ListPackages(context.Context) ([]staking.StakePackage, error) {
	return tv.state.listPackages(), nil
}

func (tv *txMemoryView) Stake(_ context.Context, staker staking.Address, id staking.PackageID) (*staking.StakeRecord, error) {
	return tv.state.stake(staker, id), nil
}

func (tv *txMemoryView) PutStake(_ context.Context, rec staking.StakeRecord) error {
	tv.state.stakes[stakeKey{Staker: rec.Staker, PackageID: rec.PackageID}] = rec
	return nil
}

func (tv *txMemoryView) StakesByStaker(_ context.Context, staker staking.Address) ([]staking.StakeRecord, error) {
	return tv.state.listStakes(func(r staking.StakeRecord) bool { return r.Staker == staker }), nil
}

func (tv *txMemoryView) ListStakes(context.Context) ([]staking.StakeRecord, error) {
	return tv.state.listStakes(nil), nil
}

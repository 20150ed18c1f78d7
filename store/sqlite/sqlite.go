/*
Package sqlite provides a SQLite-backed staking.TxStore.

PURPOSE:
  Default persistence for the staking engine. The same layout is used by
  store/postgres with only dialect differences.

KEY TABLES:
  contract: Single row (id = 1) holding the owner and reserve slots
  packages: Package Registry, ids assigned sequentially from 1
  stakes:   Stake Ledger, one row per (staker, package_id)

NO DELETES:
  Packages are soft-deleted via status; stake rows are only upserted.

ENCODING:
  - Addresses:  lower-case 0x hex, '' for the zero address
  - Amounts:    base-10 integer TEXT (values exceed 64 bits)
  - Timestamps: unix seconds INTEGER

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so an
  in-memory database is one database and WithTx holds it exclusively.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/staking.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - staking/store.go: Interface definitions
  - staking/store/memory.go: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/stake-ledger/staking"
)

// Store implements staking.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Owner and reserve slots
	CREATE TABLE IF NOT EXISTS contract (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		owner TEXT NOT NULL DEFAULT '',
		reserve TEXT NOT NULL DEFAULT ''
	);
	INSERT OR IGNORE INTO contract (id) VALUES (1);

	-- Package Registry
	CREATE TABLE IF NOT EXISTS packages (
		id INTEGER PRIMARY KEY,
		rate TEXT NOT NULL,
		rate_decimals INTEGER NOT NULL,
		min_stake_amount TEXT NOT NULL,
		lock_duration TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL
	);

	-- Stake Ledger
	CREATE TABLE IF NOT EXISTS stakes (
		staker TEXT NOT NULL,
		package_id INTEGER NOT NULL REFERENCES packages(id),
		amount TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		time_point INTEGER NOT NULL,
		total_profit TEXT NOT NULL,
		PRIMARY KEY (staker, package_id)
	);

	CREATE INDEX IF NOT EXISTS idx_stakes_package
		ON stakes(package_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// CONTRACT SLOTS
// =============================================================================

func (s *Store) Owner(ctx context.Context) (staking.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadSlot(ctx, s.db, "owner")
}

func (s *Store) SetOwner(ctx context.Context, owner staking.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storeSlot(ctx, s.db, "owner", owner)
}

func (s *Store) Reserve(ctx context.Context) (staking.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadSlot(ctx, s.db, "reserve")
}

func (s *Store) SetReserve(ctx context.Context, reserve staking.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storeSlot(ctx, s.db, "reserve", reserve)
}

// slot is "owner" or "reserve"; never caller input.
func loadSlot(ctx context.Context, q querier, slot string) (staking.Address, error) {
	var v string
	if err := q.QueryRowContext(ctx, "SELECT "+slot+" FROM contract WHERE id = 1").Scan(&v); err != nil {
		return staking.ZeroAddress, fmt.Errorf("failed to load %s: %w", slot, err)
	}
	return parseAddress(v), nil
}

func storeSlot(ctx context.Context, q querier, slot string, a staking.Address) error {
	if _, err := q.ExecContext(ctx, "UPDATE contract SET "+slot+" = ? WHERE id = 1", formatAddress(a)); err != nil {
		return fmt.Errorf("failed to store %s: %w", slot, err)
	}
	return nil
}

// =============================================================================
// PACKAGE REGISTRY
// =============================================================================

func (s *Store) NextPackageID(ctx context.Context) (staking.PackageID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return nextPackageID(ctx, s.db)
}

func (s *Store) InsertPackage(ctx context.Context, pkg staking.StakePackage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPackage(ctx, s.db, pkg)
}

func (s *Store) Package(ctx context.Context, id staking.PackageID) (*staking.StakePackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPackage(ctx, s.db, id)
}

func (s *Store) SetPackageStatus(ctx context.Context, id staking.PackageID, status staking.PackageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setPackageStatus(ctx, s.db, id, status)
}

func (s *Store) ListPackages(ctx context.Context) ([]staking.StakePackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPackages(ctx, s.db, "ORDER BY id ASC")
}

func nextPackageID(ctx context.Context, q querier) (staking.PackageID, error) {
	var last int64
	if err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM packages").Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to read last package id: %w", err)
	}
	return staking.PackageID(last + 1), nil
}

func insertPackage(ctx context.Context, q querier, pkg staking.StakePackage) error {
	query := `
		INSERT INTO packages
		(id, rate, rate_decimals, min_stake_amount, lock_duration, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		int64(pkg.ID),
		strconv.FormatUint(pkg.Rate, 10),
		pkg.RateDecimals,
		pkg.MinStakeAmount.String(),
		strconv.FormatUint(pkg.LockDuration, 10),
		string(pkg.Status),
		int64(pkg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert package: %w", err)
	}
	return nil
}

func getPackage(ctx context.Context, q querier, id staking.PackageID) (*staking.StakePackage, error) {
	pkgs, err := queryPackages(ctx, q, "WHERE id = ?", int64(id))
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, nil
	}
	return &pkgs[0], nil
}

func setPackageStatus(ctx context.Context, q querier, id staking.PackageID, status staking.PackageStatus) error {
	res, err := q.ExecContext(ctx, "UPDATE packages SET status = ? WHERE id = ?", string(status), int64(id))
	if err != nil {
		return fmt.Errorf("failed to update package status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("package %d: %w", id, staking.ErrPackageNotFound)
	}
	return nil
}

func queryPackages(ctx context.Context, q querier, clause string, args ...any) ([]staking.StakePackage, error) {
	query := `
		SELECT id, rate, rate_decimals, min_stake_amount, lock_duration, status, created_at
		FROM packages ` + clause

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	pkgs := make([]staking.StakePackage, 0)
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, rows.Err()
}

func scanPackage(rows *sql.Rows) (staking.StakePackage, error) {
	var (
		pkg          staking.StakePackage
		id           int64
		rate         string
		minStake     string
		lockDuration string
		status       string
		createdAt    int64
	)

	err := rows.Scan(&id, &rate, &pkg.RateDecimals, &minStake, &lockDuration, &status, &createdAt)
	if err != nil {
		return pkg, fmt.Errorf("failed to scan package: %w", err)
	}

	pkg.ID = staking.PackageID(id)
	pkg.Status = staking.PackageStatus(status)
	pkg.CreatedAt = staking.Timestamp(createdAt)
	if pkg.Rate, err = strconv.ParseUint(rate, 10, 64); err != nil {
		return pkg, fmt.Errorf("package %d rate: %w", id, err)
	}
	if pkg.LockDuration, err = strconv.ParseUint(lockDuration, 10, 64); err != nil {
		return pkg, fmt.Errorf("package %d lock duration: %w", id, err)
	}
	if pkg.MinStakeAmount, err = staking.ParseAmount(minStake); err != nil {
		return pkg, fmt.Errorf("package %d: %w", id, err)
	}
	return pkg, nil
}

// =============================================================================
// STAKE LEDGER
// =============================================================================

func (s *Store) Stake(ctx context.Context, staker staking.Address, id staking.PackageID) (*staking.StakeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getStake(ctx, s.db, staker, id)
}

func (s *Store) PutStake(ctx context.Context, rec staking.StakeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putStake(ctx, s.db, rec)
}

func (s *Store) StakesByStaker(ctx context.Context, staker staking.Address) ([]staking.StakeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryStakes(ctx, s.db, "WHERE staker = ? ORDER BY package_id ASC", formatAddress(staker))
}

func (s *Store) ListStakes(ctx context.Context) ([]staking.StakeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryStakes(ctx, s.db, "ORDER BY staker ASC, package_id ASC")
}

func getStake(ctx context.Context, q querier, staker staking.Address, id staking.PackageID) (*staking.StakeRecord, error) {
	recs, err := queryStakes(ctx, q, "WHERE staker = ? AND package_id = ?", formatAddress(staker), int64(id))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func putStake(ctx context.Context, q querier, rec staking.StakeRecord) error {
	query := `
		INSERT INTO stakes
		(staker, package_id, amount, start_time, time_point, total_profit)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (staker, package_id) DO UPDATE SET
			amount = excluded.amount,
			start_time = excluded.start_time,
			time_point = excluded.time_point,
			total_profit = excluded.total_profit
	`
	_, err := q.ExecContext(ctx, query,
		formatAddress(rec.Staker),
		int64(rec.PackageID),
		rec.Amount.String(),
		int64(rec.StartTime),
		int64(rec.TimePoint),
		rec.TotalProfit.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to store stake: %w", err)
	}
	return nil
}

func queryStakes(ctx context.Context, q querier, clause string, args ...any) ([]staking.StakeRecord, error) {
	query := `
		SELECT staker, package_id, amount, start_time, time_point, total_profit
		FROM stakes ` + clause

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stakes: %w", err)
	}
	defer rows.Close()

	recs := make([]staking.StakeRecord, 0)
	for rows.Next() {
		rec, err := scanStake(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanStake(rows *sql.Rows) (staking.StakeRecord, error) {
	var (
		rec         staking.StakeRecord
		staker      string
		packageID   int64
		amount      string
		startTime   int64
		timePoint   int64
		totalProfit string
	)

	if err := rows.Scan(&staker, &packageID, &amount, &startTime, &timePoint, &totalProfit); err != nil {
		return rec, fmt.Errorf("failed to scan stake: %w", err)
	}

	var err error
	rec.Staker = parseAddress(staker)
	rec.PackageID = staking.PackageID(packageID)
	rec.StartTime = staking.Timestamp(startTime)
	rec.TimePoint = staking.Timestamp(timePoint)
	if rec.Amount, err = staking.ParseAmount(amount); err != nil {
		return rec, fmt.Errorf("stake %s/%d amount: %w", staker, packageID, err)
	}
	if rec.TotalProfit, err = staking.ParseAmount(totalProfit); err != nil {
		return rec, fmt.Errorf("stake %s/%d profit: %w", staker, packageID, err)
	}
	return rec, nil
}

// =============================================================================
// TRANSACTIONAL STORE (staking.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Reads and
// writes made through the store handed to fn all go through the same
// transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store staking.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Owner(ctx context.Context) (staking.Address, error) {
	return loadSlot(ctx, ts.tx, "owner")
}

func (ts *txStore) SetOwner(ctx context.Context, owner staking.Address) error {
	return storeSlot(ctx, ts.tx, "owner", owner)
}

func (ts *txStore) Reserve(ctx context.Context) (staking.Address, error) {
	return loadSlot(ctx, ts.tx, "reserve")
}

func (ts *txStore) SetReserve(ctx context.Context, reserve staking.Address) error {
	return storeSlot(ctx, ts.tx, "reserve", reserve)
}

func (ts *txStore) NextPackageID(ctx context.Context) (staking.PackageID, error) {
	return nextPackageID(ctx, ts.tx)
}

func (ts *txStore) InsertPackage(ctx context.Context, pkg staking.StakePackage) error {
	return insertPackage(ctx, ts.tx, pkg)
}

func (ts *txStore) Package(ctx context.Context, id staking.PackageID) (*staking.StakePackage, error) {
	return getPackage(ctx, ts.tx, id)
}

func (ts *txStore) SetPackageStatus(ctx context.Context, id staking.PackageID, status staking.PackageStatus) error {
	return setPackageStatus(ctx, ts.tx, id, status)
}

func (ts *txStore) ListPackages(ctx context.Context) ([]staking.StakePackage, error) {
	return queryPackages(ctx, ts.tx, "ORDER BY id ASC")
}

func (ts *txStore) Stake(ctx context.Context, staker staking.Address, id staking.PackageID) (*staking.StakeRecord, error) {
	return getStake(ctx, ts.tx, staker, id)
}

func (ts *txStore) PutStake(ctx context.Context, rec staking.StakeRecord) error {
	return putStake(ctx, ts.tx, rec)
}

func (ts *txStore) StakesByStaker(ctx context.Context, staker staking.Address) ([]staking.StakeRecord, error) {
	return queryStakes(ctx, ts.tx, "WHERE staker = ? ORDER BY package_id ASC", formatAddress(staker))
}

func (ts *txStore) ListStakes(ctx context.Context) ([]staking.StakeRecord, error) {
	return queryStakes(ctx, ts.tx, "ORDER BY staker ASC, package_id ASC")
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmts := []string{
		"DELETE FROM stakes",
		"DELETE FROM packages",
		"UPDATE contract SET owner = '', reserve = '' WHERE id = 1",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Helper functions

func formatAddress(a staking.Address) string {
	if staking.IsZeroAddress(a) {
		return ""
	}
	return strings.ToLower(a.Hex())
}

func parseAddress(s string) staking.Address {
	if s == "" {
		return staking.ZeroAddress
	}
	return common.HexToAddress(s)
}

var _ staking.TxStore = (*Store)(nil)

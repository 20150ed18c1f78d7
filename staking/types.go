/*
Package staking provides the package-based token staking engine.

PURPOSE:
  Depositors lock a fungible token against one of several owner-defined
  reward packages and accrue linear interest over time. The owner controls
  which packages are offered; a separate reserve custodian funds payouts.

KEY CONCEPTS IN THIS FILE (types.go):
  - Address:      20-byte account address (EVM style, 0x-prefixed hex)
  - Amount:       Non-negative integer quantity of token base units
  - Timestamp:    Block time in unix seconds
  - StakePackage: An owner-defined staking offer (rate, minimum, lock, status)
  - StakeRecord:  A staker's position within one package

DESIGN PRINCIPLES:
  1. Integer math: amounts are whole base units held in decimal.Decimal,
     which is backed by big.Int, so 18-decimal token values never overflow
  2. Soft delete: packages are marked offline, never removed
  3. Immutability: only a package's status may change after creation

USAGE:
  pkg := staking.PackageParams{
      Rate:           6,
      RateDecimals:   2,
      MinStakeAmount: staking.EtherFraction(1, 10),
      LockDuration:   30 * 24 * 60 * 60,
  }

SEE ALSO:
  - accrual.go: Linear interest and re-basing
  - engine.go: Contract operations
  - store.go: Persistence interface
*/
package staking

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ADDRESS
// =============================================================================

// Address identifies an account: owner, staker, reserve, token or contract.
type Address = common.Address

// ZeroAddress is the null address. It is never a valid owner or reserve.
var ZeroAddress = Address{}

// ParseAddress parses a 0x-prefixed 20-byte hex address.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return ZeroAddress, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZeroAddress reports whether a is the null address.
func IsZeroAddress(a Address) bool { return a == ZeroAddress }

// =============================================================================
// AMOUNT - Token base units
// =============================================================================

// TokenDecimals is the precision of the staked token (1 token = 10^18 units).
const TokenDecimals = 18

// Amount is a whole number of token base units.
type Amount struct {
	Value decimal.Decimal
}

// NewAmount returns an amount of n base units.
func NewAmount(n int64) Amount {
	return Amount{Value: decimal.NewFromInt(n)}
}

// Ether returns n whole tokens expressed in base units.
func Ether(n int64) Amount {
	return Amount{Value: decimal.New(n, TokenDecimals)}
}

// EtherFraction returns num/den whole tokens in base units, truncated.
func EtherFraction(num, den int64) Amount {
	v := decimal.New(num, TokenDecimals)
	q, _ := v.QuoRem(decimal.NewFromInt(den), 0)
	return Amount{Value: q}
}

// MaxAmountDigits bounds parsed amounts to the NUMERIC(78,0) column width,
// which holds any 256-bit token quantity.
const MaxAmountDigits = 78

// ParseAmount parses a plain base-10 integer string. Signs, fractions and
// exponents are rejected: amounts are whole base units.
func ParseAmount(s string) (Amount, error) {
	if s == "" {
		return Amount{}, fmt.Errorf("invalid amount %q: empty", s)
	}
	if len(s) > MaxAmountDigits {
		return Amount{}, fmt.Errorf("invalid amount %q: more than %d digits", s[:16]+"...", MaxAmountDigits)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return Amount{}, fmt.Errorf("invalid amount %q: not a whole number of base units", s)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{Value: d}, nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Cmp(b Amount) int          { return a.Value.Cmp(b.Value) }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }

// String renders the amount as an integer without exponent.
func (a Amount) String() string { return a.Value.StringFixed(0) }

// MarshalJSON encodes amounts as strings; they routinely exceed 2^53.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a string or a bare JSON number.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(b)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// =============================================================================
// TIMESTAMP - Block time
// =============================================================================

// Timestamp is a point in time in unix seconds.
type Timestamp int64

// TimestampOf converts a time.Time, truncating sub-second precision.
func TimestampOf(t time.Time) Timestamp { return Timestamp(t.Unix()) }

func (t Timestamp) Time() time.Time                { return time.Unix(int64(t), 0).UTC() }
func (t Timestamp) Add(d time.Duration) Timestamp  { return t + Timestamp(d/time.Second) }
func (t Timestamp) Before(other Timestamp) bool    { return t < other }
func (t Timestamp) After(other Timestamp) bool     { return t > other }
func (t Timestamp) IsZero() bool                   { return t == 0 }
func (t Timestamp) String() string                 { return t.Time().Format(time.RFC3339) }

// SecondsSince returns t - earlier in seconds, floored at zero.
func (t Timestamp) SecondsSince(earlier Timestamp) int64 {
	if t < earlier {
		return 0
	}
	return int64(t - earlier)
}

// =============================================================================
// STAKE PACKAGE
// =============================================================================

// PackageID identifies a package. Ids are assigned sequentially from 1.
type PackageID uint64

// PackageStatus is the soft-delete state of a package.
type PackageStatus string

const (
	PackageActive  PackageStatus = "active"
	PackageOffline PackageStatus = "offline"
)

// StakePackage is an owner-defined staking offer.
//
// The effective annual rate is Rate / 10^RateDecimals: Rate=6 with
// RateDecimals=2 is 6% per year. Everything except Status is immutable.
type StakePackage struct {
	ID             PackageID
	Rate           uint64
	RateDecimals   uint32
	MinStakeAmount Amount
	LockDuration   uint64 // seconds
	Status         PackageStatus
	CreatedAt      Timestamp
}

// IsOffline reports whether the package was removed.
func (p StakePackage) IsOffline() bool { return p.Status == PackageOffline }

// PackageParams are the immutable terms of a new package.
type PackageParams struct {
	Rate           uint64
	RateDecimals   uint32
	MinStakeAmount Amount
	LockDuration   uint64
}

// MaxRateDecimals bounds RateDecimals so the rate scale stays meaningful.
const MaxRateDecimals = 36

// Validate checks the package terms.
func (p PackageParams) Validate() error {
	if p.Rate == 0 {
		return ErrInvalidRate
	}
	if p.RateDecimals > MaxRateDecimals {
		return fmt.Errorf("rate decimals %d above %d: %w", p.RateDecimals, MaxRateDecimals, ErrInvalidRate)
	}
	if !p.MinStakeAmount.IsPositive() {
		return ErrInvalidMinStake
	}
	return nil
}

// =============================================================================
// STAKE RECORD
// =============================================================================

// StakeRecord is a staker's accumulated position within one package.
//
// INVARIANTS:
//   - TimePoint >= StartTime
//   - Amount and TotalProfit never decrease
//   - TotalProfit is the interest earned on the principal trajectory up to TimePoint
type StakeRecord struct {
	Staker      Address
	PackageID   PackageID
	Amount      Amount
	StartTime   Timestamp
	TimePoint   Timestamp
	TotalProfit Amount
}

// IsEmpty reports whether nothing was ever deposited into the pair.
func (r StakeRecord) IsEmpty() bool { return r.Amount.IsZero() && r.StartTime.IsZero() }

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  staking data model.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

ENCODING:
  - Addresses: 0x-prefixed hex (EIP-55 checksummed on output)
  - Amounts:   base-10 integer strings of token base units
  - Times:     unix seconds (block time)

VALIDATION:
  Request shape is checked with go-playground/validator struct tags.
  Business rules (rate > 0, minimum stake, ...) stay in the engine so the
  error codes match the contract's.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/stake-ledger/staking"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SetReserveRequest configures the reserve custodian.
type SetReserveRequest struct {
	Reserve string `json:"reserve" validate:"required,eth_addr"`
}

// TransferOwnershipRequest hands over the owner slot.
type TransferOwnershipRequest struct {
	NewOwner string `json:"new_owner" validate:"required,eth_addr"`
}

// AddPackageRequest creates a stake package. Rate and LockDurationSeconds
// are signed so negative values are reported as invalid_rate and
// invalid_lock_time rather than as malformed JSON.
type AddPackageRequest struct {
	Rate                int64          `json:"rate"`
	RateDecimals        uint32         `json:"rate_decimals"`
	MinStakeAmount      staking.Amount `json:"min_stake_amount"`
	LockDurationSeconds int64          `json:"lock_duration_seconds"`
}

// StakeRequest deposits into a package.
type StakeRequest struct {
	PackageID uint64         `json:"package_id"`
	Amount    staking.Amount `json:"amount"`
}

// ApproveRequest grants spender an allowance over the caller's tokens.
type ApproveRequest struct {
	Spender string         `json:"spender" validate:"required,eth_addr"`
	Amount  staking.Amount `json:"amount"`
}

// TransferRequest moves the caller's tokens.
type TransferRequest struct {
	To     string         `json:"to" validate:"required,eth_addr"`
	Amount staking.Amount `json:"amount"`
}

// MintRequest creates tokens. Owner-only.
type MintRequest struct {
	To     string         `json:"to" validate:"required,eth_addr"`
	Amount staking.Amount `json:"amount"`
}

// LoadScenarioRequest seeds demo data.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// OwnerDTO is the owner slot.
type OwnerDTO struct {
	Owner string `json:"owner"`
}

// ReserveDTO is the reserve slot with the custodian's token balance.
type ReserveDTO struct {
	Reserve    string          `json:"reserve"`
	Configured bool            `json:"configured"`
	Balance    *staking.Amount `json:"balance,omitempty"`
}

// PackageDTO represents a stake package in API responses.
type PackageDTO struct {
	ID                  uint64         `json:"id"`
	Rate                uint64         `json:"rate"`
	RateDecimals        uint32         `json:"rate_decimals"`
	MinStakeAmount      staking.Amount `json:"min_stake_amount"`
	LockDurationSeconds uint64         `json:"lock_duration_seconds"`
	Status              string         `json:"status"`
	IsOffline           bool           `json:"is_offline"`
	CreatedAt           int64          `json:"created_at"`
}

// StakeDTO represents a stake record in API responses.
type StakeDTO struct {
	Staker      string         `json:"staker"`
	PackageID   uint64         `json:"package_id"`
	Amount      staking.Amount `json:"amount"`
	StartTime   int64          `json:"start_time"`
	TimePoint   int64          `json:"time_point"`
	TotalProfit staking.Amount `json:"total_profit"`
}

// PositionDTO is a stake record with profit accrued up to AsOf.
type PositionDTO struct {
	Stake         StakeDTO       `json:"stake"`
	Package       PackageDTO     `json:"package"`
	AsOf          int64          `json:"as_of"`
	PendingProfit staking.Amount `json:"pending_profit"`
	AccruedProfit staking.Amount `json:"accrued_profit"`
}

// LiabilityDTO is what the contract owes its stakers.
type LiabilityDTO struct {
	AsOf           int64           `json:"as_of"`
	Reserve        string          `json:"reserve"`
	Stakes         int             `json:"stakes"`
	Principal      staking.Amount  `json:"principal"`
	AccruedProfit  staking.Amount  `json:"accrued_profit"`
	ReserveBalance *staking.Amount `json:"reserve_balance,omitempty"`
	Covered        bool            `json:"covered"`
}

// BalanceDTO is a token account.
type BalanceDTO struct {
	Address string         `json:"address"`
	Balance staking.Amount `json:"balance"`

	// Allowance granted to the staking contract.
	StakingAllowance staking.Amount `json:"staking_allowance"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toPackageDTO(p staking.StakePackage) PackageDTO {
	return PackageDTO{
		ID:                  uint64(p.ID),
		Rate:                p.Rate,
		RateDecimals:        p.RateDecimals,
		MinStakeAmount:      p.MinStakeAmount,
		LockDurationSeconds: p.LockDuration,
		Status:              string(p.Status),
		IsOffline:           p.IsOffline(),
		CreatedAt:           int64(p.CreatedAt),
	}
}

func toPackageDTOs(pkgs []staking.StakePackage) []PackageDTO {
	out := make([]PackageDTO, len(pkgs))
	for i, p := range pkgs {
		out[i] = toPackageDTO(p)
	}
	return out
}

func toStakeDTO(r staking.StakeRecord) StakeDTO {
	return StakeDTO{
		Staker:      r.Staker.Hex(),
		PackageID:   uint64(r.PackageID),
		Amount:      r.Amount,
		StartTime:   int64(r.StartTime),
		TimePoint:   int64(r.TimePoint),
		TotalProfit: r.TotalProfit,
	}
}

func toStakeDTOs(recs []staking.StakeRecord) []StakeDTO {
	out := make([]StakeDTO, len(recs))
	for i, r := range recs {
		out[i] = toStakeDTO(r)
	}
	return out
}

func toPositionDTO(p staking.Position) PositionDTO {
	return PositionDTO{
		Stake:         toStakeDTO(p.Record),
		Package:       toPackageDTO(p.Package),
		AsOf:          int64(p.AsOf),
		PendingProfit: p.Pending,
		AccruedProfit: p.AccruedProfit,
	}
}

func addressString(a staking.Address) string {
	if staking.IsZeroAddress(a) {
		return staking.ZeroAddress.Hex()
	}
	return a.Hex()
}

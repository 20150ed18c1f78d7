/*
handlers.go - HTTP API handlers for the staking contract

PURPOSE:
  Exposes the staking engine and its token via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Contract:
    GET    /api/owner                        Owner slot
    GET    /api/reserve                      Reserve slot and balance
    GET    /api/packages                     All packages, offline included
    GET    /api/packages/{id}                One package
    GET    /api/liability                    Principal + accrued profit owed

  Staking:
    POST   /api/stakes                       Deposit into a package
    GET    /api/stakes/{staker}              All records of a staker
    GET    /api/stakes/{staker}/{package_id} One position with accrued profit

  Token:
    POST   /api/token/approve                Approve a spender
    POST   /api/token/transfer               Transfer tokens
    GET    /api/token/balances/{address}     Balance and staking allowance

  Admin (owner only):
    POST   /api/admin/reserve                Configure the reserve
    POST   /api/admin/packages               Add a package
    DELETE /api/admin/packages/{id}          Take a package offline
    POST   /api/admin/owner                  Transfer ownership
    POST   /api/admin/token/mint             Mint tokens

  Scenarios:
    GET    /api/scenarios                    List demo scenarios
    GET    /api/scenarios/current            Last loaded scenario
    POST   /api/scenarios/load               Load a demo scenario

CALLER IDENTITY:
  Mutations act on behalf of the address in the X-Caller-Address header.
  The header plays the role of msg.sender; there is no signature check.
  Deploy this behind an authenticating gateway.

ERROR HANDLING:
  Errors are returned as JSON with the engine's error code:
  - 401: Missing or malformed caller
  - 402: Token transfer rejected
  - 403: Caller is not the owner
  - 404: Package not found
  - 409: State conflict (offline, not configured, reentrant)
  - 422: Invalid input
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/stake-ledger/reserve"
	"github.com/warp/stake-ledger/staking"
	"github.com/warp/stake-ledger/token"
)

// CallerHeader carries the address mutations are performed as.
const CallerHeader = "X-Caller-Address"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// TokenService is the token surface the API needs beyond the engine's.
type TokenService interface {
	staking.Token
	Mint(ctx context.Context, to staking.Address, amount staking.Amount) error
	Allowance(ctx context.Context, owner, spender staking.Address) (staking.Amount, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *staking.Engine
	Token    TokenService
	Reserves *reserve.Directory
	Metrics  *Metrics
	Log      logrus.FieldLogger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. reserves may be nil when reserve balances
// are not tracked.
func NewHandler(engine *staking.Engine, tok TokenService, reserves *reserve.Directory, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Engine:   engine,
		Token:    tok,
		Reserves: reserves,
		Metrics:  NewMetrics(),
		Log:      log,
		validate: validator.New(),
	}
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// GetOwner returns the owner slot.
func (h *Handler) GetOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := h.Engine.Owner(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OwnerDTO{Owner: addressString(owner)})
}

// GetReserve returns the reserve slot and, when configured, its balance.
func (h *Handler) GetReserve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.Engine.Reserve(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	dto := ReserveDTO{Reserve: addressString(res), Configured: !staking.IsZeroAddress(res)}
	if dto.Configured {
		bal, err := h.Token.BalanceOf(ctx, res)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		dto.Balance = &bal
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListPackages returns every package, offline ones included.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.Engine.Packages(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageDTOs(pkgs))
}

// GetPackage returns one package.
func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	id, ok := packageIDParam(w, r, "id")
	if !ok {
		return
	}
	pkg, err := h.Engine.StakePackage(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageDTO(pkg))
}

// GetLiability returns what the contract owes its stakers as of now.
func (h *Handler) GetLiability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l, err := h.Engine.Liability(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	dto := LiabilityDTO{
		AsOf:          int64(l.AsOf),
		Reserve:       addressString(l.Reserve),
		Stakes:        l.Stakes,
		Principal:     l.Principal,
		AccruedProfit: l.AccruedProfit,
	}
	if !staking.IsZeroAddress(l.Reserve) {
		bal, err := h.Token.BalanceOf(ctx, l.Reserve)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		dto.ReserveBalance = &bal
		dto.Covered = !bal.LessThan(l.AccruedProfit)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// STAKING HANDLERS
// =============================================================================

// Stake deposits the request amount into a package on behalf of the caller.
func (h *Handler) Stake(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req StakeRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.Engine.Stake(r.Context(), caller, staking.PackageID(req.PackageID), req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStakeDTO(rec))
}

// ListStakes returns every record of a staker.
func (h *Handler) ListStakes(w http.ResponseWriter, r *http.Request) {
	staker, ok := addressParam(w, r, "staker")
	if !ok {
		return
	}
	recs, err := h.Engine.StakesOf(r.Context(), staker)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStakeDTOs(recs))
}

// GetPosition returns one record with profit accrued up to now.
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	staker, ok := addressParam(w, r, "staker")
	if !ok {
		return
	}
	id, ok := packageIDParam(w, r, "package_id")
	if !ok {
		return
	}
	pos, err := h.Engine.Position(r.Context(), staker, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionDTO(pos))
}

// =============================================================================
// TOKEN HANDLERS
// =============================================================================

// Approve grants the request spender an allowance over the caller's tokens.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req ApproveRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	spender := staking.MustParseAddress(req.Spender)
	if err := h.Token.Approve(ctx, caller, spender, req.Amount); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeBalance(w, r, caller)
}

// Transfer moves the caller's tokens.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	to := staking.MustParseAddress(req.To)
	if err := h.Token.Transfer(r.Context(), caller, to, req.Amount); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeBalance(w, r, caller)
}

// GetBalance returns an account's balance and its allowance to the contract.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	h.writeBalance(w, r, addr)
}

func (h *Handler) writeBalance(w http.ResponseWriter, r *http.Request, addr staking.Address) {
	ctx := r.Context()
	bal, err := h.Token.BalanceOf(ctx, addr)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	allowance, err := h.Token.Allowance(ctx, addr, h.Engine.Address())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		Address:          addr.Hex(),
		Balance:          bal,
		StakingAllowance: allowance,
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// SetReserve configures the reserve custodian.
func (h *Handler) SetReserve(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req SetReserveRequest
	if !h.decode(w, r, &req) {
		return
	}

	res := staking.MustParseAddress(req.Reserve)
	if err := h.Engine.SetReserve(r.Context(), caller, res); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReserveDTO{Reserve: addressString(res), Configured: !staking.IsZeroAddress(res)})
}

// AddPackage creates a package.
func (h *Handler) AddPackage(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req AddPackageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Rate < 0 {
		h.respondError(w, r, staking.ErrInvalidRate)
		return
	}
	if req.LockDurationSeconds < 0 {
		h.respondError(w, r, staking.ErrInvalidLockTime)
		return
	}

	pkg, err := h.Engine.AddStakePackage(r.Context(), caller, staking.PackageParams{
		Rate:           uint64(req.Rate),
		RateDecimals:   req.RateDecimals,
		MinStakeAmount: req.MinStakeAmount,
		LockDuration:   uint64(req.LockDurationSeconds),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPackageDTO(pkg))
}

// RemovePackage takes a package offline.
func (h *Handler) RemovePackage(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := packageIDParam(w, r, "id")
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.Engine.RemoveStakePackage(ctx, caller, id); err != nil {
		h.respondError(w, r, err)
		return
	}
	pkg, err := h.Engine.StakePackage(ctx, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPackageDTO(pkg))
}

// TransferOwnership hands the owner slot to another address.
func (h *Handler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req TransferOwnershipRequest
	if !h.decode(w, r, &req) {
		return
	}

	newOwner := staking.MustParseAddress(req.NewOwner)
	if err := h.Engine.TransferOwnership(r.Context(), caller, newOwner); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OwnerDTO{Owner: addressString(newOwner)})
}

// Mint creates tokens. Only the contract owner may mint.
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req MintRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.requireOwner(w, r, caller) {
		return
	}

	to := staking.MustParseAddress(req.To)
	if err := h.Token.Mint(r.Context(), to, req.Amount); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.writeBalance(w, r, to)
}

func (h *Handler) requireOwner(w http.ResponseWriter, r *http.Request, caller staking.Address) bool {
	ok, err := h.Engine.IsOwner(r.Context(), caller)
	if err != nil {
		h.respondError(w, r, err)
		return false
	}
	if !ok {
		h.respondError(w, r, staking.ErrUnauthorized)
		return false
	}
	return true
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (staking.Address, bool) {
	raw := r.Header.Get(CallerHeader)
	if raw == "" {
		writeCodedError(w, http.StatusUnauthorized, "missing_caller", CallerHeader+" header is required", nil)
		return staking.Address{}, false
	}
	addr, err := staking.ParseAddress(raw)
	if err != nil {
		writeCodedError(w, http.StatusUnauthorized, "missing_caller", "invalid "+CallerHeader+" header", err)
		return staking.Address{}, false
	}
	return addr, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeCodedError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeCodedError(w, http.StatusUnprocessableEntity, "validation_failed", "Validation failed", fields)
			return false
		}
		writeCodedError(w, http.StatusUnprocessableEntity, "validation_failed", "Validation failed", err.Error())
		return false
	}
	return true
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (staking.Address, bool) {
	addr, err := staking.ParseAddress(chi.URLParam(r, name))
	if err != nil {
		writeCodedError(w, http.StatusBadRequest, "invalid_address", "Invalid "+name, err.Error())
		return staking.Address{}, false
	}
	return addr, true
}

func packageIDParam(w http.ResponseWriter, r *http.Request, name string) (staking.PackageID, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeCodedError(w, http.StatusBadRequest, "invalid_package_id", "Invalid "+name, err.Error())
		return 0, false
	}
	return staking.PackageID(id), true
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeCodedError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// respondError maps an engine or token error to its status and code.
// Internal errors are logged and their detail withheld.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		h.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeCodedError(w, status, code, "Internal error", nil)
		return
	}

	var details any
	var below *staking.BelowMinimumError
	if errors.As(err, &below) {
		details = map[string]string{
			"package_id": strconv.FormatUint(uint64(below.PackageID), 10),
			"minimum":    below.Minimum.String(),
			"total":      below.Total.String(),
		}
	}
	writeCodedError(w, status, code, err.Error(), details)
}

// classify returns the HTTP status and machine code for err.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, token.ErrInsufficientBalance) && !errors.Is(err, staking.ErrTransferFailed):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, token.ErrInsufficientAllowance) && !errors.Is(err, staking.ErrTransferFailed):
		return http.StatusUnprocessableEntity, "insufficient_allowance"
	case errors.Is(err, token.ErrZeroAddress), errors.Is(err, token.ErrInvalidAmount):
		if !errors.Is(err, staking.ErrTransferFailed) {
			return http.StatusUnprocessableEntity, "invalid_transfer"
		}
	}

	code := staking.CodeOf(err)
	return statusForCode(code), code
}

func statusForCode(code string) int {
	switch code {
	case "unauthorized":
		return http.StatusForbidden
	case "package_not_found":
		return http.StatusNotFound
	case "package_offline", "package_already_offline", "already_initialized",
		"reserve_not_configured", "reentrant_call":
		return http.StatusConflict
	case "invalid_rate", "invalid_min_stake", "invalid_lock_time", "invalid_amount",
		"below_minimum", "zero_address", "reserve_not_linked":
		return http.StatusUnprocessableEntity
	case "transfer_failed":
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

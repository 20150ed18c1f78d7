package staking_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stake-ledger/staking"
)

func TestParseAmount(t *testing.T) {
	a, err := staking.ParseAmount("100000000000000000")
	require.NoError(t, err)
	assert.Equal(t, staking.EtherFraction(1, 10).String(), a.String())

	_, err = staking.ParseAmount("1.5")
	assert.Error(t, err, "fractions of a base unit are rejected")
	_, err = staking.ParseAmount("-1")
	assert.Error(t, err)
	_, err = staking.ParseAmount("ten")
	assert.Error(t, err)
	_, err = staking.ParseAmount("")
	assert.Error(t, err)
}

func TestParseAmount_RejectsExponentsAndOversizedValues(t *testing.T) {
	// GIVEN: short inputs that would expand to enormous integers
	for _, s := range []string{"1e20000000", "1E2000000000", "5e3", "+7"} {
		// WHEN: parsing
		_, err := staking.ParseAmount(s)

		// THEN: only plain digit strings are accepted
		assert.Error(t, err, s)
	}

	max := strings.Repeat("9", staking.MaxAmountDigits)
	a, err := staking.ParseAmount(max)
	require.NoError(t, err)
	assert.Equal(t, max, a.String())

	_, err = staking.ParseAmount(max + "9")
	assert.Error(t, err, "79 digits exceed the column width")

	var bad staking.Amount
	assert.Error(t, json.Unmarshal([]byte(`"1e20000000"`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`1e20000000`), &bad))
}

func TestAmount_JSON(t *testing.T) {
	b, err := json.Marshal(staking.Ether(20))
	require.NoError(t, err)
	assert.Equal(t, `"20000000000000000000"`, string(b), "amounts encode as strings")

	var fromString, fromNumber staking.Amount
	require.NoError(t, json.Unmarshal([]byte(`"20000000000000000000"`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`42`), &fromNumber))
	assert.True(t, fromString.Equal(staking.Ether(20)))
	assert.Equal(t, "42", fromNumber.String())

	var bad staking.Amount
	assert.Error(t, json.Unmarshal([]byte(`"-5"`), &bad))
}

func TestParseAddress(t *testing.T) {
	a, err := staking.ParseAddress("0x00000000000000000000000000000000000000C3")
	require.NoError(t, err)
	assert.Equal(t, staking.MustParseAddress("0x00000000000000000000000000000000000000c3"), a)

	_, err = staking.ParseAddress("0x1234")
	assert.Error(t, err)
	assert.True(t, staking.IsZeroAddress(staking.ZeroAddress))
}

func TestPackageParams_Validate(t *testing.T) {
	valid := staking.PackageParams{Rate: 6, RateDecimals: 2, MinStakeAmount: staking.EtherFraction(1, 10), LockDuration: 2592000}
	require.NoError(t, valid.Validate())

	zeroRate := valid
	zeroRate.Rate = 0
	assert.ErrorIs(t, zeroRate.Validate(), staking.ErrInvalidRate)

	wideDecimals := valid
	wideDecimals.RateDecimals = staking.MaxRateDecimals + 1
	assert.ErrorIs(t, wideDecimals.Validate(), staking.ErrInvalidRate)

	zeroMin := valid
	zeroMin.MinStakeAmount = staking.NewAmount(0)
	assert.ErrorIs(t, zeroMin.Validate(), staking.ErrInvalidMinStake)

	noLock := valid
	noLock.LockDuration = 0
	assert.NoError(t, noLock.Validate(), "a zero lock is allowed")
}

func TestErrorCodes(t *testing.T) {
	wrapped := fmt.Errorf("package 2: %w", staking.ErrPackageNotFound)
	assert.Equal(t, "package_not_found", staking.CodeOf(wrapped))
	assert.Equal(t, "Staking: stakePackage is non-existent", staking.ErrPackageNotFound.Error())
	assert.True(t, staking.IsNotFound(wrapped))
	assert.True(t, staking.IsClientError(wrapped))

	below := &staking.BelowMinimumError{PackageID: 1, Minimum: staking.Ether(1), Total: staking.NewAmount(5)}
	assert.ErrorIs(t, below, staking.ErrBelowMinimum)
	assert.Equal(t, "below_minimum", staking.CodeOf(below))

	cause := errors.New("insufficient allowance")
	transfer := &staking.TransferError{Amount: staking.Ether(1), Err: cause}
	assert.ErrorIs(t, transfer, staking.ErrTransferFailed)
	assert.ErrorIs(t, transfer, cause)
	assert.Equal(t, "transfer_failed", staking.CodeOf(transfer))

	assert.Equal(t, staking.CodeInternal, staking.CodeOf(errors.New("disk full")))
	assert.False(t, staking.IsClientError(errors.New("disk full")))
}

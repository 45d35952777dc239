package vault

import (
	"context"
	"errors"
	"fmt"

	errorsmod "cosmossdk.io/errors"

	"PositionVault/internal/custody"
)

const codespace = "vault"

var (
	// Configuration
	ErrAlreadyInitialized     = errorsmod.Register(codespace, 2, "vault already initialized")
	ErrNotInitialized         = errorsmod.Register(codespace, 3, "vault not initialized")
	ErrProgramMismatch        = errorsmod.Register(codespace, 4, "amm program does not match")
	ErrUnknownPool            = errorsmod.Register(codespace, 5, "pool not found")
	ErrClaimMintAuthority     = errorsmod.Register(codespace, 6, "claim mint authority is not the custody address")
	ErrClaimSupplyNotZero     = errorsmod.Register(codespace, 7, "claim mint already has supply")
	ErrCustodyAccountMismatch = errorsmod.Register(codespace, 8, "custody claim account mismatch")
	ErrPositionMismatch       = errorsmod.Register(codespace, 9, "position is not the vault's position")
	ErrWrongPool              = errorsmod.Register(codespace, 10, "position does not belong to the vault pool")

	// Preconditions
	ErrAlreadyCustodied     = errorsmod.Register(codespace, 11, "position already custodied")
	ErrVaultOccupied        = errorsmod.Register(codespace, 12, "vault already custodies a position")
	ErrPositionNotOwned     = errorsmod.Register(codespace, 13, "caller does not hold the position")
	ErrInsufficientBalance  = errorsmod.Register(codespace, 14, "insufficient claim balance")
	ErrExceedsLiquidity     = errorsmod.Register(codespace, 15, "amount exceeds backing liquidity")
	ErrNothingCustodied     = errorsmod.Register(codespace, 16, "no position in custody")
	ErrInvalidAmount        = errorsmod.Register(codespace, 17, "amount must be positive")
	ErrMissingSlippageBound = errorsmod.Register(codespace, 18, "minimum output bound is required")
	ErrEmptyPosition        = errorsmod.Register(codespace, 19, "position has no liquidity")
	ErrLiquidityTooLarge    = errorsmod.Register(codespace, 20, "position liquidity exceeds claim range")

	// External
	ErrLiquidityReadFailed = errorsmod.Register(codespace, 21, "liquidity read failed")
	ErrExternalCallFailed  = errorsmod.Register(codespace, 22, "external call failed")

	// Not found
	ErrPositionNotFound = errorsmod.Register(codespace, 23, "position not found")
	ErrVaultNotFound    = errorsmod.Register(codespace, 24, "vault not found")

	// Fatal
	ErrInvariantViolated = errorsmod.Register(codespace, 25, "vault invariant violated")
	ErrCustodyDerivation = errorsmod.Register(codespace, 26, "custody derivation failed")
)

// Category tells a caller what to do about an error.
type Category int

const (
	CategoryConfiguration Category = iota + 1
	CategoryPrecondition
	CategoryExternal
	CategoryNotFound
	CategoryFatal
)

func (c Category) String() string {
	switch c {
	case CategoryConfiguration:
		return "configuration"
	case CategoryPrecondition:
		return "precondition"
	case CategoryExternal:
		return "external"
	case CategoryNotFound:
		return "not_found"
	case CategoryFatal:
		return "fatal"
	default:
		return "none"
	}
}

// Fatal entries come first so a violated post-check wins over whatever it wraps.
var categoryTable = []struct {
	err error
	cat Category
}{
	{ErrInvariantViolated, CategoryFatal},
	{ErrCustodyDerivation, CategoryFatal},
	{custody.ErrNoViableBump, CategoryFatal},
	{custody.ErrProofMismatch, CategoryFatal},

	{ErrAlreadyInitialized, CategoryConfiguration},
	{ErrNotInitialized, CategoryConfiguration},
	{ErrProgramMismatch, CategoryConfiguration},
	{ErrUnknownPool, CategoryConfiguration},
	{ErrClaimMintAuthority, CategoryConfiguration},
	{ErrClaimSupplyNotZero, CategoryConfiguration},
	{ErrCustodyAccountMismatch, CategoryConfiguration},
	{ErrPositionMismatch, CategoryConfiguration},
	{ErrWrongPool, CategoryConfiguration},
	{custody.ErrInvalidNonce, CategoryConfiguration},

	{ErrAlreadyCustodied, CategoryPrecondition},
	{ErrVaultOccupied, CategoryPrecondition},
	{ErrPositionNotOwned, CategoryPrecondition},
	{ErrInsufficientBalance, CategoryPrecondition},
	{ErrExceedsLiquidity, CategoryPrecondition},
	{ErrNothingCustodied, CategoryPrecondition},
	{ErrInvalidAmount, CategoryPrecondition},
	{ErrMissingSlippageBound, CategoryPrecondition},
	{ErrEmptyPosition, CategoryPrecondition},
	{ErrLiquidityTooLarge, CategoryPrecondition},

	{ErrLiquidityReadFailed, CategoryExternal},
	{ErrExternalCallFailed, CategoryExternal},

	{ErrPositionNotFound, CategoryNotFound},
	{ErrVaultNotFound, CategoryNotFound},
}

// CategoryOf classifies err. Errors from the token ledger, the AMM or the
// runtime count as external. Anything unrecognised is fatal.
func CategoryOf(err error) Category {
	if err == nil {
		return 0
	}
	for _, entry := range categoryTable {
		if errors.Is(err, entry.err) {
			return entry.cat
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryExternal
	}

	var coded *errorsmod.Error
	if errors.As(err, &coded) {
		switch coded.Codespace() {
		case "token", "amm", "platform":
			return CategoryExternal
		}
	}
	return CategoryFatal
}

// Retryable reports whether resubmitting the same request may succeed.
func Retryable(err error) bool {
	return CategoryOf(err) == CategoryExternal
}

// external tags a collaborator failure with sentinel while keeping the
// collaborator's error reachable through errors.Is.
func external(sentinel *errorsmod.Error, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

func invariant(format string, args ...any) error {
	return errorsmod.Wrapf(ErrInvariantViolated, format, args...)
}

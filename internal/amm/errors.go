package amm

import errorsmod "cosmossdk.io/errors"

const codespace = "amm"

var (
	ErrPoolNotFound       = errorsmod.Register(codespace, 2, "pool not found")
	ErrPoolExists         = errorsmod.Register(codespace, 3, "pool already exists")
	ErrPositionNotFound   = errorsmod.Register(codespace, 4, "position not found")
	ErrPositionExists     = errorsmod.Register(codespace, 5, "position already exists")
	ErrInvalidTickRange   = errorsmod.Register(codespace, 6, "invalid tick range")
	ErrTickOutOfBounds    = errorsmod.Register(codespace, 7, "tick out of bounds")
	ErrPositionAuthority  = errorsmod.Register(codespace, 8, "authority does not hold the position token")
	ErrLiquidityUnderflow = errorsmod.Register(codespace, 9, "liquidity decrease exceeds position liquidity")
	ErrSlippageExceeded   = errorsmod.Register(codespace, 10, "token amount below minimum out")
	ErrTokenMaxExceeded   = errorsmod.Register(codespace, 11, "token amount above maximum in")
	ErrZeroLiquidity      = errorsmod.Register(codespace, 12, "liquidity amount must be positive")
	ErrAmountOverflow     = errorsmod.Register(codespace, 13, "token amount overflow")
	ErrInvalidPool        = errorsmod.Register(codespace, 14, "invalid pool parameters")
)

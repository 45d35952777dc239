package ledger

import errorsmod "cosmossdk.io/errors"

const codespace = "token"

var (
	ErrUnknownMint       = errorsmod.Register(codespace, 2, "unknown mint")
	ErrUnknownAccount    = errorsmod.Register(codespace, 3, "unknown token account")
	ErrAccountExists     = errorsmod.Register(codespace, 4, "token account already exists")
	ErrMintExists        = errorsmod.Register(codespace, 5, "mint already exists")
	ErrMintMismatch      = errorsmod.Register(codespace, 6, "token account holds a different mint")
	ErrOwnerMismatch     = errorsmod.Register(codespace, 7, "authority is not the account owner")
	ErrAuthorityMismatch = errorsmod.Register(codespace, 8, "authority is not the mint authority")
	ErrInsufficientFunds = errorsmod.Register(codespace, 9, "insufficient funds")
	ErrAmountOverflow    = errorsmod.Register(codespace, 10, "amount overflows ledger range")
)

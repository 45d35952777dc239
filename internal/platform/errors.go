package platform

import errorsmod "cosmossdk.io/errors"

const codespace = "platform"

var (
	ErrMissingSignature = errorsmod.Register(codespace, 2, "authority did not sign")
	ErrReadOnly         = errorsmod.Register(codespace, 3, "read-only view")
	ErrForeignProof     = errorsmod.Register(codespace, 4, "proof belongs to another program")
	ErrRecordOwner      = errorsmod.Register(codespace, 5, "record owned by another program")
	ErrRecordCodec      = errorsmod.Register(codespace, 6, "record encoding failed")
)

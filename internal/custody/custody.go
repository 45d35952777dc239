package custody

import (
	"bytes"

	errorsmod "cosmossdk.io/errors"
	"github.com/gagliardetto/solana-go"
)

// Seed is the fixed first seed of every custody address.
const Seed = "pdaProgram"

const codespace = "custody"

var (
	ErrInvalidNonce  = errorsmod.Register(codespace, 2, "custody nonce must be 1 to 32 bytes")
	ErrNoViableBump  = errorsmod.Register(codespace, 3, "no off-curve bump for custody seeds")
	ErrProofMismatch = errorsmod.Register(codespace, 4, "custody proof does not reproduce address")
)

// Proof is the seed set that lets the owning program sign as the custody
// address. It carries no key material.
type Proof struct {
	ProgramID solana.PublicKey
	Nonce     []byte
	Bump      uint8
}

// Seeds returns the full signer seeds including the bump byte.
func (p Proof) Seeds() [][]byte {
	return [][]byte{[]byte(Seed), p.Nonce, {p.Bump}}
}

// Address recomputes the custody address from the proof.
func (p Proof) Address() (solana.PublicKey, error) {
	addr, err := solana.CreateProgramAddress(p.Seeds(), p.ProgramID)
	if err != nil {
		return solana.PublicKey{}, errorsmod.Wrapf(ErrProofMismatch, "bump %d: %v", p.Bump, err)
	}
	return addr, nil
}

// Derive computes the custody address for (programID, nonce) and the proof
// with the largest bump that yields an off-curve address.
func Derive(programID solana.PublicKey, nonce []byte) (solana.PublicKey, Proof, error) {
	if err := ValidateNonce(nonce); err != nil {
		return solana.PublicKey{}, Proof{}, err
	}

	addr, bump, err := solana.FindProgramAddress([][]byte{[]byte(Seed), nonce}, programID)
	if err != nil {
		return solana.PublicKey{}, Proof{}, errorsmod.Wrapf(ErrNoViableBump, "program %s: %v", programID, err)
	}

	n := make([]byte, len(nonce))
	copy(n, nonce)

	return addr, Proof{ProgramID: programID, Nonce: n, Bump: bump}, nil
}

// Verify checks that a stored (nonce, bump) pair still reproduces the
// expected custody address under programID.
func Verify(programID solana.PublicKey, nonce []byte, bump uint8, expected solana.PublicKey) (Proof, error) {
	if err := ValidateNonce(nonce); err != nil {
		return Proof{}, err
	}
	proof := Proof{ProgramID: programID, Nonce: nonce, Bump: bump}
	addr, err := proof.Address()
	if err != nil {
		return Proof{}, err
	}
	if !addr.Equals(expected) {
		return Proof{}, errorsmod.Wrapf(ErrProofMismatch, "got %s, want %s", addr, expected)
	}
	return proof, nil
}

func ValidateNonce(nonce []byte) error {
	if len(nonce) == 0 || len(nonce) > solana.MaxSeedLength {
		return errorsmod.Wrapf(ErrInvalidNonce, "length %d", len(nonce))
	}
	return nil
}

// Equal reports whether two proofs describe the same signer.
func (p Proof) Equal(o Proof) bool {
	return p.ProgramID.Equals(o.ProgramID) && p.Bump == o.Bump && bytes.Equal(p.Nonce, o.Nonce)
}

package amm

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

func DerivePoolAddress(programID, mintA, mintB solana.PublicKey, tickSpacing uint16) (solana.PublicKey, error) {
	spacing := make([]byte, 2)
	binary.LittleEndian.PutUint16(spacing, tickSpacing)

	pda, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte("whirlpool"),
			mintA.Bytes(),
			mintB.Bytes(),
			spacing,
		},
		programID,
	)
	return pda, err
}

func DerivePositionAddress(programID, positionMint solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte("position"),
			positionMint.Bytes(),
		},
		programID,
	)
	return pda, err
}

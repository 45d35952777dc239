package platform

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"PositionVault/internal/amm"
	"PositionVault/internal/custody"
	"PositionVault/internal/ledger"
)

const (
	DevnetTickSpacing      uint16 = 64
	DevnetPositionLower    int32  = -1280
	DevnetPositionUpper    int32  = 1280
	DevnetPositionLiq      uint64 = 1_000_000
	DevnetFunding          uint64 = 1_000_000_000_000
	devnetMarketMakerLower int32  = -12800
	devnetMarketMakerUpper int32  = 12800
	devnetMarketMakerLiq   uint64 = 10_000_000
)

// Devnet is a seeded local world: two tokens, a pool at parity, a funded
// depositor holding one position and a claim mint already handed to the
// custody address of DevnetNonce.
type Devnet struct {
	Admin        solana.PublicKey
	Depositor    solana.PublicKey
	Recipient    solana.PublicKey
	MintA        solana.PublicKey
	MintB        solana.PublicKey
	Pool         amm.Pool
	PositionMint solana.PublicKey
	ClaimMint    solana.PublicKey
	Nonce        []byte
	Custody      solana.PublicKey
}

// DevnetKey derives a deterministic address for label under seed. The
// result is not guaranteed to be off-curve; it is only ever used as an
// identifier.
func DevnetKey(seed, label string) solana.PublicKey {
	h := sha256.Sum256([]byte(seed + "/" + label))
	return solana.PublicKeyFromBytes(h[:])
}

// SeedDevnet populates an empty simulator. The same seed always produces the
// same world.
func SeedDevnet(ctx context.Context, sim *Simulator, seed string, nonce []byte) (*Devnet, error) {
	custodyAddr, _, err := custody.Derive(sim.VaultProgramID(), nonce)
	if err != nil {
		return nil, fmt.Errorf("derive devnet custody: %w", err)
	}

	d := &Devnet{
		Admin:        DevnetKey(seed, "admin"),
		Depositor:    DevnetKey(seed, "depositor"),
		Recipient:    DevnetKey(seed, "recipient"),
		MintA:        DevnetKey(seed, "mint-a"),
		MintB:        DevnetKey(seed, "mint-b"),
		PositionMint: DevnetKey(seed, "position"),
		ClaimMint:    DevnetKey(seed, "claim-mint"),
		Nonce:        append([]byte(nil), nonce...),
		Custody:      custodyAddr,
	}

	_, err = sim.Submit(ctx, "devnet-seed", func(tx *Tx) error {
		u := tx.Ledger
		for _, mint := range []solana.PublicKey{d.MintA, d.MintB} {
			if err := u.CreateMint(mint, 6, d.Admin); err != nil {
				return err
			}
			for _, holder := range []solana.PublicKey{d.Admin, d.Depositor} {
				acct, err := u.CreateAccount(holder, mint)
				if err != nil {
					return err
				}
				if err := u.MintTo(mint, acct, DevnetFunding, d.Admin); err != nil {
					return err
				}
			}
		}

		pool, err := tx.AMM.InitializePool(u, amm.InitializePoolRequest{
			TokenMintA:  d.MintA,
			TokenMintB:  d.MintB,
			TickSpacing: DevnetTickSpacing,
		})
		if err != nil {
			return fmt.Errorf("initialize pool: %w", err)
		}

		// Wide background liquidity so the pool vaults carry reserves
		// beyond the depositor's position.
		if _, _, err := tx.AMM.OpenPosition(u, d.Admin, amm.OpenPositionRequest{
			Pool:         pool.Address,
			PositionMint: DevnetKey(seed, "market-maker"),
			TickLower:    devnetMarketMakerLower,
			TickUpper:    devnetMarketMakerUpper,
			Liquidity:    devnetMarketMakerLiq,
			TokenMaxA:    DevnetFunding,
			TokenMaxB:    DevnetFunding,
		}); err != nil {
			return fmt.Errorf("open market maker position: %w", err)
		}

		if _, _, err := tx.AMM.OpenPosition(u, d.Depositor, amm.OpenPositionRequest{
			Pool:         pool.Address,
			PositionMint: d.PositionMint,
			TickLower:    DevnetPositionLower,
			TickUpper:    DevnetPositionUpper,
			Liquidity:    DevnetPositionLiq,
			TokenMaxA:    DevnetFunding,
			TokenMaxB:    DevnetFunding,
		}); err != nil {
			return fmt.Errorf("open depositor position: %w", err)
		}

		if err := u.CreateMint(d.ClaimMint, 0, custodyAddr); err != nil {
			return err
		}

		d.Pool, err = tx.AMM.GetPool(pool.Address)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// DepositorAccount returns the depositor's associated account for mint.
func (d *Devnet) DepositorAccount(mint solana.PublicKey) solana.PublicKey {
	addr, err := ledger.AssociatedAddress(d.Depositor, mint)
	if err != nil {
		panic(fmt.Sprintf("devnet associated address: %v", err))
	}
	return addr
}

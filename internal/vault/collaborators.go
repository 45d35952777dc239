package vault

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"PositionVault/internal/amm"
	"PositionVault/internal/custody"
	"PositionVault/internal/ledger"
)

// TokenLedger is the fungible and non-fungible token book. Authority-gated
// calls fail unless the authority signed the enclosing unit.
type TokenLedger interface {
	CreateAccount(owner, mint solana.PublicKey) (solana.PublicKey, error)
	MintTo(mint, account solana.PublicKey, amount uint64, authority solana.PublicKey) error
	Burn(account solana.PublicKey, amount uint64, authority solana.PublicKey) error
	Transfer(from, to solana.PublicKey, amount uint64, authority solana.PublicKey) error
	BalanceOf(account solana.PublicKey) uint64
	TotalSupply(mint solana.PublicKey) uint64
	Account(address solana.PublicKey) (ledger.TokenAccount, bool)
	Mint(address solana.PublicKey) (ledger.Mint, bool)
	CreateMint(address solana.PublicKey, decimals uint8, authority solana.PublicKey) error
}

// LiquidityProtocol is the external AMM as the vault sees it.
type LiquidityProtocol interface {
	ProgramID() solana.PublicKey
	GetPool(pool solana.PublicKey) (amm.Pool, error)
	GetPosition(positionMint solana.PublicKey) (amm.Position, error)
	DecreaseLiquidity(req amm.DecreaseLiquidityRequest) (amm.Amounts, error)
}

// StateStore holds records owned by the vault program, keyed by address.
type StateStore interface {
	Load(address solana.PublicKey, v any) (bool, error)
	Store(address solana.PublicKey, v any) error
}

// Env is what one unit of work can reach.
type Env interface {
	ProgramID() solana.PublicKey
	Signer() solana.PublicKey
	// Sign admits a custody proof as a signer for the rest of the unit and
	// returns the address it signs for.
	Sign(proof custody.Proof) (solana.PublicKey, error)
	Ledger() TokenLedger
	Liquidity() LiquidityProtocol
	State() StateStore
}

// Invocation identifies who submits a unit of work.
type Invocation struct {
	Signer    solana.PublicKey
	Ref       string
	Timestamp int64
}

// Runtime executes units atomically. Execute commits every effect of fn or,
// when fn returns an error, none of them.
type Runtime interface {
	Execute(ctx context.Context, inv Invocation, fn func(Env) error) (*ledger.Batch, error)
	View(ctx context.Context, fn func(Env) error) error
}

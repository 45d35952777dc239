package vault

import (
	"github.com/gagliardetto/solana-go"

	"PositionVault/internal/amm"
	"PositionVault/internal/ledger"
)

// VaultConfig is written once by Initialize and never changed.
type VaultConfig struct {
	AMMProgramID solana.PublicKey `json:"amm_program_id"`
	PoolID       solana.PublicKey `json:"pool_id"`
	// PositionMint pins the vault to one position. Zero accepts any
	// position of the pool.
	PositionMint        solana.PublicKey `json:"position_mint"`
	ClaimMint           solana.PublicKey `json:"claim_mint"`
	CustodyClaimAccount solana.PublicKey `json:"custody_claim_account"`
	CustodyNonce        []byte           `json:"custody_nonce"`
	CustodyBump         uint8            `json:"custody_bump"`
	Custody             solana.PublicKey `json:"custody"`
}

// VaultState tracks what the vault currently custodies.
type VaultState struct {
	CustodiedPosition      solana.PublicKey `json:"custodied_position"`
	CustodyPositionAccount solana.PublicKey `json:"custody_position_account"`
	Depositor              solana.PublicKey `json:"depositor"`
	Deposits               uint64           `json:"deposits"`
	Withdrawals            uint64           `json:"withdrawals"`
	TotalMinted            uint64           `json:"total_minted"`
	TotalBurned            uint64           `json:"total_burned"`
}

func (s VaultState) Occupied() bool {
	return !s.CustodiedPosition.IsZero()
}

// VaultRecord is stored at the custody address.
type VaultRecord struct {
	Config VaultConfig `json:"config"`
	State  VaultState  `json:"state"`
}

type InitializeRequest struct {
	AMMProgramID        solana.PublicKey
	PoolID              solana.PublicKey
	PositionMint        solana.PublicKey // optional
	ClaimMint           solana.PublicKey // optional, derived when zero
	CustodyClaimAccount solana.PublicKey // optional, custody's associated account when zero
	CustodyNonce        []byte
}

type InitializeResult struct {
	Config VaultConfig   `json:"config"`
	Batch  *ledger.Batch `json:"-"`
}

type DepositRequest struct {
	CustodyNonce []byte
	PositionMint solana.PublicKey
}

type DepositResult struct {
	Minted       uint64           `json:"minted"`
	ClaimAccount solana.PublicKey `json:"claim_account"`
	Custody      solana.PublicKey `json:"custody"`
	Batch        *ledger.Batch    `json:"-"`
}

type WithdrawRequest struct {
	CustodyNonce []byte
	Amount       uint64
	// MinOut is required. Callers derive it from QuoteWithdraw.
	MinOut *amm.Amounts
}

type WithdrawResult struct {
	Burned             uint64        `json:"burned"`
	Out                amm.Amounts   `json:"out"`
	RemainingLiquidity uint64        `json:"remaining_liquidity"`
	PositionReleased   bool          `json:"position_released"`
	Batch              *ledger.Batch `json:"-"`
}

// PositionData is a read-only view of a backing position.
type PositionData struct {
	PositionMint solana.PublicKey `json:"position_mint"`
	Address      solana.PublicKey `json:"address"`
	Pool         solana.PublicKey `json:"pool"`
	TickLower    int32            `json:"tick_lower"`
	TickUpper    int32            `json:"tick_upper"`
	Liquidity    uint64           `json:"liquidity"`
}

type WithdrawQuote struct {
	Liquidity uint64      `json:"liquidity"`
	Expected  amm.Amounts `json:"expected"`
	MinOut    amm.Amounts `json:"min_out"`
}

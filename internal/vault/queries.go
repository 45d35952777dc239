package vault

import (
	"context"
	"errors"

	errorsmod "cosmossdk.io/errors"
	"github.com/gagliardetto/solana-go"

	"PositionVault/internal/amm"
)

// GetBalance returns the token amount in account, 0 if it does not exist.
func (s *Service) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var bal uint64
	err := s.runtime.View(ctx, func(env Env) error {
		bal = env.Ledger().BalanceOf(account)
		return nil
	})
	return bal, err
}

// GetTotalSupply returns minted-and-not-burned units of mint, 0 if unknown.
func (s *Service) GetTotalSupply(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	var supply uint64
	err := s.runtime.View(ctx, func(env Env) error {
		supply = env.Ledger().TotalSupply(mint)
		return nil
	})
	return supply, err
}

// GetPositionData reads a position's range and liquidity from the AMM.
func (s *Service) GetPositionData(ctx context.Context, positionMint solana.PublicKey) (PositionData, error) {
	var data PositionData
	err := s.runtime.View(ctx, func(env Env) error {
		pos, err := env.Liquidity().GetPosition(positionMint)
		if errors.Is(err, amm.ErrPositionNotFound) {
			return errorsmod.Wrapf(ErrPositionNotFound, "%s", positionMint)
		}
		if err != nil {
			return external(ErrLiquidityReadFailed, err)
		}
		data = PositionData{
			PositionMint: pos.PositionMint,
			Address:      pos.Address,
			Pool:         pos.Pool,
			TickLower:    pos.TickLower,
			TickUpper:    pos.TickUpper,
			Liquidity:    pos.Liquidity,
		}
		return nil
	})
	return data, err
}

// GetVault returns the record of the vault addressed by nonce.
func (s *Service) GetVault(ctx context.Context, nonce []byte) (VaultRecord, error) {
	var rec VaultRecord
	err := s.runtime.View(ctx, func(env Env) error {
		custodyAddr, _, err := deriveCustody(env.ProgramID(), nonce)
		if err != nil {
			return err
		}
		found, err := env.State().Load(custodyAddr, &rec)
		if err != nil {
			return external(ErrExternalCallFailed, err)
		}
		if !found {
			return errorsmod.Wrapf(ErrVaultNotFound, "custody %s", custodyAddr)
		}
		return nil
	})
	return rec, err
}

// QuoteWithdraw prices a withdraw of amount at the current pool price and
// derives minimum-out bounds from slippageBps.
func (s *Service) QuoteWithdraw(ctx context.Context, nonce []byte, amount uint64, slippageBps uint16) (WithdrawQuote, error) {
	var q WithdrawQuote
	err := s.runtime.View(ctx, func(env Env) error {
		rec, _, err := loadVault(env, nonce)
		if err != nil {
			return err
		}
		if !rec.State.Occupied() {
			return errorsmod.Wrapf(ErrNothingCustodied, "custody %s", rec.Config.Custody)
		}
		if amount == 0 {
			return ErrInvalidAmount
		}

		liq := env.Liquidity()
		pos, err := liq.GetPosition(rec.State.CustodiedPosition)
		if err != nil {
			return external(ErrLiquidityReadFailed, err)
		}
		if amount > pos.Liquidity {
			return errorsmod.Wrapf(ErrExceedsLiquidity, "requested %d, liquidity %d", amount, pos.Liquidity)
		}
		pool, err := liq.GetPool(pos.Pool)
		if err != nil {
			return external(ErrLiquidityReadFailed, err)
		}
		expected, err := amm.QuoteDecrease(pool, pos, amount)
		if err != nil {
			return external(ErrLiquidityReadFailed, err)
		}

		q = WithdrawQuote{
			Liquidity: pos.Liquidity,
			Expected:  expected,
			MinOut:    amm.ApplySlippage(expected, slippageBps),
		}
		return nil
	})
	return q, err
}

package vault

import (
	"context"
	"errors"
	"math"

	errorsmod "cosmossdk.io/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"PositionVault/internal/amm"
	"PositionVault/internal/custody"
	"PositionVault/internal/ledger"
)

// ClaimMintSeed derives the claim mint a vault creates for itself when
// Initialize is not given one.
const ClaimMintSeed = "claim_mint"

// Service is the vault program. It keeps no state of its own; every
// record lives in the runtime and every mutation is one atomic unit.
type Service struct {
	runtime Runtime
	logger  zerolog.Logger
}

func NewService(rt Runtime, logger zerolog.Logger) *Service {
	return &Service{runtime: rt, logger: logger}
}

// DeriveClaimMint returns the claim mint address owned by a custody address.
func DeriveClaimMint(programID, custodyAddr solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte(ClaimMintSeed),
			custodyAddr.Bytes(),
		},
		programID,
	)
	return addr, err
}

// Initialize creates the vault instance addressed by req.CustodyNonce.
func (s *Service) Initialize(ctx context.Context, inv Invocation, req InitializeRequest) (*InitializeResult, error) {
	var cfg VaultConfig

	batch, err := s.runtime.Execute(ctx, inv, func(env Env) error {
		custodyAddr, proof, err := deriveCustody(env.ProgramID(), req.CustodyNonce)
		if err != nil {
			return err
		}

		// Step 1: Exactly once per instance
		var existing VaultRecord
		found, err := env.State().Load(custodyAddr, &existing)
		if err != nil {
			return external(ErrExternalCallFailed, err)
		}
		if found {
			return errorsmod.Wrapf(ErrAlreadyInitialized, "custody %s", custodyAddr)
		}

		// Step 2: AMM identity and pool
		liq := env.Liquidity()
		if !req.AMMProgramID.Equals(liq.ProgramID()) {
			return errorsmod.Wrapf(ErrProgramMismatch, "got %s, vault calls %s", req.AMMProgramID, liq.ProgramID())
		}
		if _, err := liq.GetPool(req.PoolID); err != nil {
			return errorsmod.Wrapf(ErrUnknownPool, "%s: %v", req.PoolID, err)
		}
		if !req.PositionMint.IsZero() {
			pos, err := liq.GetPosition(req.PositionMint)
			if err != nil {
				return errorsmod.Wrapf(ErrPositionMismatch, "position %s: %v", req.PositionMint, err)
			}
			if !pos.Pool.Equals(req.PoolID) {
				return errorsmod.Wrapf(ErrWrongPool, "position %s is in pool %s", req.PositionMint, pos.Pool)
			}
		}

		// Step 3: Claim mint, owned by custody with no supply
		book := env.Ledger()
		claimMint := req.ClaimMint
		if claimMint.IsZero() {
			claimMint, err = DeriveClaimMint(env.ProgramID(), custodyAddr)
			if err != nil {
				return errorsmod.Wrapf(ErrCustodyDerivation, "claim mint: %v", err)
			}
			if err := book.CreateMint(claimMint, 0, custodyAddr); err != nil {
				return external(ErrExternalCallFailed, err)
			}
		}
		mint, ok := book.Mint(claimMint)
		if !ok {
			return errorsmod.Wrapf(ErrClaimMintAuthority, "claim mint %s not found", claimMint)
		}
		if !mint.MintAuthority.Equals(custodyAddr) {
			return errorsmod.Wrapf(ErrClaimMintAuthority, "mint %s authority is %s", claimMint, mint.MintAuthority)
		}
		if supply := book.TotalSupply(claimMint); supply != 0 {
			return errorsmod.Wrapf(ErrClaimSupplyNotZero, "mint %s supply %d", claimMint, supply)
		}

		// Step 4: Custody claim account
		claimAccount := req.CustodyClaimAccount
		if claimAccount.IsZero() {
			if claimAccount, err = ensureAccount(book, custodyAddr, claimMint); err != nil {
				return external(ErrExternalCallFailed, err)
			}
		} else {
			acct, ok := book.Account(claimAccount)
			switch {
			case !ok:
				return errorsmod.Wrapf(ErrCustodyAccountMismatch, "account %s not found", claimAccount)
			case !acct.Owner.Equals(custodyAddr):
				return errorsmod.Wrapf(ErrCustodyAccountMismatch, "account %s owned by %s", claimAccount, acct.Owner)
			case !acct.Mint.Equals(claimMint):
				return errorsmod.Wrapf(ErrCustodyAccountMismatch, "account %s holds %s", claimAccount, acct.Mint)
			}
		}

		cfg = VaultConfig{
			AMMProgramID:        req.AMMProgramID,
			PoolID:              req.PoolID,
			PositionMint:        req.PositionMint,
			ClaimMint:           claimMint,
			CustodyClaimAccount: claimAccount,
			CustodyNonce:        proof.Nonce,
			CustodyBump:         proof.Bump,
			Custody:             custodyAddr,
		}
		if err := env.State().Store(custodyAddr, VaultRecord{Config: cfg}); err != nil {
			return external(ErrExternalCallFailed, err)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("category", CategoryOf(err).String()).Msg("initialize rejected")
		return nil, err
	}

	s.logger.Info().
		Str("custody", cfg.Custody.String()).
		Str("pool", cfg.PoolID.String()).
		Str("claim_mint", cfg.ClaimMint.String()).
		Msg("vault initialized")
	return &InitializeResult{Config: cfg, Batch: batch}, nil
}

// Deposit moves the caller's position token into custody and mints claims
// equal to the position's liquidity.
func (s *Service) Deposit(ctx context.Context, inv Invocation, req DepositRequest) (*DepositResult, error) {
	res := &DepositResult{}

	batch, err := s.runtime.Execute(ctx, inv, func(env Env) error {
		rec, proof, err := loadVault(env, req.CustodyNonce)
		if err != nil {
			return err
		}
		cfg := rec.Config
		book := env.Ledger()
		liq := env.Liquidity()
		caller := env.Signer()

		// Step 1: Preconditions, all before any effect
		if rec.State.CustodiedPosition.Equals(req.PositionMint) {
			return errorsmod.Wrapf(ErrAlreadyCustodied, "position %s", req.PositionMint)
		}
		if custodyAcct, err := ledger.AssociatedAddress(cfg.Custody, req.PositionMint); err == nil && book.BalanceOf(custodyAcct) > 0 {
			return errorsmod.Wrapf(ErrAlreadyCustodied, "position %s", req.PositionMint)
		}
		if rec.State.Occupied() {
			return errorsmod.Wrapf(ErrVaultOccupied, "custodying %s", rec.State.CustodiedPosition)
		}
		if !cfg.PositionMint.IsZero() && !cfg.PositionMint.Equals(req.PositionMint) {
			return errorsmod.Wrapf(ErrPositionMismatch, "vault accepts %s, got %s", cfg.PositionMint, req.PositionMint)
		}

		pos, err := liq.GetPosition(req.PositionMint)
		if errors.Is(err, amm.ErrPositionNotFound) {
			return errorsmod.Wrapf(ErrPositionNotFound, "%s", req.PositionMint)
		}
		if err != nil {
			return external(ErrLiquidityReadFailed, err)
		}
		if !pos.Pool.Equals(cfg.PoolID) {
			return errorsmod.Wrapf(ErrWrongPool, "position %s is in pool %s", req.PositionMint, pos.Pool)
		}

		callerPosAcct, err := ledger.AssociatedAddress(caller, req.PositionMint)
		if err != nil {
			return errorsmod.Wrapf(ErrPositionNotOwned, "%v", err)
		}
		if acct, ok := book.Account(callerPosAcct); !ok || !acct.Owner.Equals(caller) || book.BalanceOf(callerPosAcct) != 1 {
			return errorsmod.Wrapf(ErrPositionNotOwned, "caller %s", caller)
		}
		if err := checkMintable(pos.Liquidity); err != nil {
			return err
		}

		// Step 2: Position token into custody
		custodyPosAcct, err := ensureAccount(book, cfg.Custody, req.PositionMint)
		if err != nil {
			return external(ErrExternalCallFailed, err)
		}
		if err := book.Transfer(callerPosAcct, custodyPosAcct, 1, caller); err != nil {
			return external(ErrExternalCallFailed, err)
		}

		// Step 3: Authoritative liquidity, read inside the same unit as the mint
		pos, err = liq.GetPosition(req.PositionMint)
		if err != nil {
			return external(ErrLiquidityReadFailed, err)
		}
		if err := checkMintable(pos.Liquidity); err != nil {
			return err
		}

		// Step 4: Mint claims, signed by custody
		claimAcct, err := ensureAccount(book, caller, cfg.ClaimMint)
		if err != nil {
			return external(ErrExternalCallFailed, err)
		}
		signer, err := env.Sign(proof)
		if err != nil {
			return errorsmod.Wrapf(ErrCustodyDerivation, "%v", err)
		}
		if err := book.MintTo(cfg.ClaimMint, claimAcct, pos.Liquidity, signer); err != nil {
			return external(ErrExternalCallFailed, err)
		}

		// Step 5: Post-checks
		if supply := book.TotalSupply(cfg.ClaimMint); supply != pos.Liquidity {
			return invariant("claim supply %d != liquidity %d after deposit", supply, pos.Liquidity)
		}
		if book.BalanceOf(custodyPosAcct) != 1 {
			return invariant("custody does not hold position %s after deposit", req.PositionMint)
		}

		rec.State.CustodiedPosition = req.PositionMint
		rec.State.CustodyPositionAccount = custodyPosAcct
		rec.State.Depositor = caller
		rec.State.Deposits++
		rec.State.TotalMinted += pos.Liquidity
		if err := env.State().Store(cfg.Custody, rec); err != nil {
			return external(ErrExternalCallFailed, err)
		}

		res.Minted = pos.Liquidity
		res.ClaimAccount = claimAcct
		res.Custody = cfg.Custody
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("position", req.PositionMint.String()).
			Str("category", CategoryOf(err).String()).
			Msg("deposit rejected")
		return nil, err
	}

	res.Batch = batch
	s.logger.Info().
		Str("custody", res.Custody.String()).
		Str("position", req.PositionMint.String()).
		Uint64("minted", res.Minted).
		Msg("position deposited")
	return res, nil
}

// Withdraw redeems amount claims for the underlying tokens. When the
// position's liquidity reaches zero the position token goes to the caller.
func (s *Service) Withdraw(ctx context.Context, inv Invocation, req WithdrawRequest) (*WithdrawResult, error) {
	res := &WithdrawResult{}

	batch, err := s.runtime.Execute(ctx, inv, func(env Env) error {
		// Step 1: Request shape
		if req.Amount == 0 {
			return ErrInvalidAmount
		}
		if req.MinOut == nil {
			return ErrMissingSlippageBound
		}

		rec, proof, err := loadVault(env, req.CustodyNonce)
		if err != nil {
			return err
		}
		cfg := rec.Config
		book := env.Ledger()
		liq := env.Liquidity()
		caller := env.Signer()

		// Step 2: Preconditions against current state
		if !rec.State.Occupied() {
			return errorsmod.Wrapf(ErrNothingCustodied, "custody %s", cfg.Custody)
		}
		pos, err := liq.GetPosition(rec.State.CustodiedPosition)
		if err != nil {
			return external(ErrLiquidityReadFailed, err)
		}
		if req.Amount > pos.Liquidity {
			return errorsmod.Wrapf(ErrExceedsLiquidity, "requested %d, liquidity %d", req.Amount, pos.Liquidity)
		}
		callerClaim, err := ledger.AssociatedAddress(caller, cfg.ClaimMint)
		if err != nil {
			return errorsmod.Wrapf(ErrInsufficientBalance, "%v", err)
		}
		if bal := book.BalanceOf(callerClaim); bal < req.Amount {
			return errorsmod.Wrapf(ErrInsufficientBalance, "balance %d, requested %d", bal, req.Amount)
		}
		pool, err := liq.GetPool(cfg.PoolID)
		if err != nil {
			return external(ErrLiquidityReadFailed, err)
		}

		// Step 3: Decrease liquidity into custody, signed by custody
		custodyA, err := ensureAccount(book, cfg.Custody, pool.TokenMintA)
		if err != nil {
			return external(ErrExternalCallFailed, err)
		}
		custodyB, err := ensureAccount(book, cfg.Custody, pool.TokenMintB)
		if err != nil {
			return external(ErrExternalCallFailed, err)
		}
		signer, err := env.Sign(proof)
		if err != nil {
			return errorsmod.Wrapf(ErrCustodyDerivation, "%v", err)
		}
		out, err := liq.DecreaseLiquidity(amm.DecreaseLiquidityRequest{
			PositionMint:         rec.State.CustodiedPosition,
			PositionTokenAccount: rec.State.CustodyPositionAccount,
			Authority:            signer,
			Liquidity:            req.Amount,
			MinTokenA:            req.MinOut.A,
			MinTokenB:            req.MinOut.B,
			RecipientA:           custodyA,
			RecipientB:           custodyB,
		})
		if err != nil {
			return external(ErrExternalCallFailed, err)
		}

		// Step 4: Confirm the decrease before touching claims
		after, err := liq.GetPosition(rec.State.CustodiedPosition)
		if err != nil {
			return external(ErrLiquidityReadFailed, err)
		}
		remaining := pos.Liquidity - req.Amount
		if after.Liquidity != remaining {
			return invariant("liquidity %d after decrease, expected %d", after.Liquidity, remaining)
		}

		// Step 5: Forward underlying to the caller
		callerA, err := ensureAccount(book, caller, pool.TokenMintA)
		if err != nil {
			return external(ErrExternalCallFailed, err)
		}
		callerB, err := ensureAccount(book, caller, pool.TokenMintB)
		if err != nil {
			return external(ErrExternalCallFailed, err)
		}
		if err := book.Transfer(custodyA, callerA, out.A, signer); err != nil {
			return external(ErrExternalCallFailed, err)
		}
		if err := book.Transfer(custodyB, callerB, out.B, signer); err != nil {
			return external(ErrExternalCallFailed, err)
		}

		// Step 6: Claims through the custody claim account, then burned
		if err := book.Transfer(callerClaim, cfg.CustodyClaimAccount, req.Amount, caller); err != nil {
			return external(ErrExternalCallFailed, err)
		}
		if err := book.Burn(cfg.CustodyClaimAccount, req.Amount, signer); err != nil {
			return external(ErrExternalCallFailed, err)
		}

		// Step 7: Release the position token on full redemption
		if remaining == 0 {
			callerPosAcct, err := ensureAccount(book, caller, rec.State.CustodiedPosition)
			if err != nil {
				return external(ErrExternalCallFailed, err)
			}
			if err := book.Transfer(rec.State.CustodyPositionAccount, callerPosAcct, 1, signer); err != nil {
				return external(ErrExternalCallFailed, err)
			}
			res.PositionReleased = true
		}

		// Step 8: Post-checks
		if supply := book.TotalSupply(cfg.ClaimMint); supply != remaining {
			return invariant("claim supply %d != liquidity %d after withdraw", supply, remaining)
		}
		if bal := book.BalanceOf(cfg.CustodyClaimAccount); bal != 0 {
			return invariant("custody claim account holds %d after burn", bal)
		}
		if held := book.BalanceOf(rec.State.CustodyPositionAccount); (remaining == 0) != (held == 0) {
			return invariant("custody holds %d position tokens with liquidity %d", held, remaining)
		}

		rec.State.Withdrawals++
		rec.State.TotalBurned += req.Amount
		if res.PositionReleased {
			rec.State.CustodiedPosition = solana.PublicKey{}
			rec.State.CustodyPositionAccount = solana.PublicKey{}
			rec.State.Depositor = solana.PublicKey{}
		}
		if err := env.State().Store(cfg.Custody, rec); err != nil {
			return external(ErrExternalCallFailed, err)
		}

		res.Burned = req.Amount
		res.Out = out
		res.RemainingLiquidity = remaining
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Uint64("amount", req.Amount).
			Str("category", CategoryOf(err).String()).
			Msg("withdraw rejected")
		return nil, err
	}

	res.Batch = batch
	s.logger.Info().
		Uint64("burned", res.Burned).
		Uint64("out_a", res.Out.A).
		Uint64("out_b", res.Out.B).
		Uint64("remaining", res.RemainingLiquidity).
		Bool("released", res.PositionReleased).
		Msg("liquidity withdrawn")
	return res, nil
}

func deriveCustody(programID solana.PublicKey, nonce []byte) (solana.PublicKey, custody.Proof, error) {
	addr, proof, err := custody.Derive(programID, nonce)
	if err != nil {
		if errors.Is(err, custody.ErrInvalidNonce) {
			return solana.PublicKey{}, custody.Proof{}, err
		}
		return solana.PublicKey{}, custody.Proof{}, errorsmod.Wrapf(ErrCustodyDerivation, "%v", err)
	}
	return addr, proof, nil
}

// loadVault reads the record for nonce and re-derives its signing proof
// from the stored bump.
func loadVault(env Env, nonce []byte) (VaultRecord, custody.Proof, error) {
	custodyAddr, _, err := deriveCustody(env.ProgramID(), nonce)
	if err != nil {
		return VaultRecord{}, custody.Proof{}, err
	}

	var rec VaultRecord
	found, err := env.State().Load(custodyAddr, &rec)
	if err != nil {
		return VaultRecord{}, custody.Proof{}, external(ErrExternalCallFailed, err)
	}
	if !found {
		return VaultRecord{}, custody.Proof{}, errorsmod.Wrapf(ErrNotInitialized, "custody %s", custodyAddr)
	}

	proof, err := custody.Verify(env.ProgramID(), rec.Config.CustodyNonce, rec.Config.CustodyBump, rec.Config.Custody)
	if err != nil {
		return VaultRecord{}, custody.Proof{}, errorsmod.Wrapf(ErrCustodyDerivation, "%v", err)
	}
	return rec, proof, nil
}

func ensureAccount(book TokenLedger, owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, err := book.CreateAccount(owner, mint)
	if errors.Is(err, ledger.ErrAccountExists) {
		return addr, nil
	}
	return addr, err
}

func checkMintable(liquidity uint64) error {
	if liquidity == 0 {
		return ErrEmptyPosition
	}
	if liquidity > math.MaxInt64 {
		return errorsmod.Wrapf(ErrLiquidityTooLarge, "%d", liquidity)
	}
	return nil
}

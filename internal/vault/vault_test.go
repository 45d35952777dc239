package vault_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PositionVault/internal/amm"
	"PositionVault/internal/ledger"
	"PositionVault/internal/platform"
	"PositionVault/internal/vault"
)

var (
	vaultProgram = platform.DevnetKey("vault-test", "vault-program")
	ammProgram   = platform.DevnetKey("vault-test", "amm-program")
)

// flakyAMM performs the real decrease and then reports failure, as a
// dropped connection after the remote side applied the call would.
type flakyAMM struct {
	vault.LiquidityProtocol
	fail *atomic.Bool
}

func (f flakyAMM) DecreaseLiquidity(req amm.DecreaseLiquidityRequest) (amm.Amounts, error) {
	out, err := f.LiquidityProtocol.DecreaseLiquidity(req)
	if err != nil || !f.fail.Load() {
		return out, err
	}
	return amm.Amounts{}, errors.New("connection reset after decrease")
}

type harness struct {
	ctx  context.Context
	sim  *platform.Simulator
	dev  *platform.Devnet
	svc  *vault.Service
	fail *atomic.Bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fail := &atomic.Bool{}
	sim := platform.NewSimulator(vaultProgram, ammProgram,
		platform.WithAMMInterceptor(func(lp vault.LiquidityProtocol) vault.LiquidityProtocol {
			return flakyAMM{LiquidityProtocol: lp, fail: fail}
		}),
	)
	ctx := context.Background()
	dev, err := platform.SeedDevnet(ctx, sim, "vault-test", []byte{1})
	require.NoError(t, err)

	return &harness{
		ctx:  ctx,
		sim:  sim,
		dev:  dev,
		svc:  vault.NewService(sim, zerolog.Nop()),
		fail: fail,
	}
}

func (h *harness) as(signer solana.PublicKey) vault.Invocation {
	return vault.Invocation{Signer: signer, Ref: "test"}
}

func (h *harness) initialize(t *testing.T) vault.VaultConfig {
	t.Helper()
	res, err := h.svc.Initialize(h.ctx, h.as(h.dev.Admin), vault.InitializeRequest{
		AMMProgramID: ammProgram,
		PoolID:       h.dev.Pool.Address,
		ClaimMint:    h.dev.ClaimMint,
		CustodyNonce: h.dev.Nonce,
	})
	require.NoError(t, err)
	return res.Config
}

func (h *harness) deposit(t *testing.T) *vault.DepositResult {
	t.Helper()
	res, err := h.svc.Deposit(h.ctx, h.as(h.dev.Depositor), vault.DepositRequest{
		CustodyNonce: h.dev.Nonce,
		PositionMint: h.dev.PositionMint,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) minOut(t *testing.T, amount uint64) *amm.Amounts {
	t.Helper()
	q, err := h.svc.QuoteWithdraw(h.ctx, h.dev.Nonce, amount, 50)
	require.NoError(t, err)
	return &q.MinOut
}

func (h *harness) withdraw(signer solana.PublicKey, amount uint64, minOut *amm.Amounts) (*vault.WithdrawResult, error) {
	return h.svc.Withdraw(h.ctx, h.as(signer), vault.WithdrawRequest{
		CustodyNonce: h.dev.Nonce,
		Amount:       amount,
		MinOut:       minOut,
	})
}

func (h *harness) balance(t *testing.T, owner, mint solana.PublicKey) uint64 {
	t.Helper()
	acct, err := ledger.AssociatedAddress(owner, mint)
	require.NoError(t, err)
	bal, err := h.svc.GetBalance(h.ctx, acct)
	require.NoError(t, err)
	return bal
}

func (h *harness) supply(t *testing.T) uint64 {
	t.Helper()
	s, err := h.svc.GetTotalSupply(h.ctx, h.dev.ClaimMint)
	require.NoError(t, err)
	return s
}

func (h *harness) liquidity(t *testing.T) uint64 {
	t.Helper()
	pos, err := h.svc.GetPositionData(h.ctx, h.dev.PositionMint)
	require.NoError(t, err)
	return pos.Liquidity
}

// ============================================================================
// Initialize
// ============================================================================

func TestInitialize(t *testing.T) {
	h := newHarness(t)
	cfg := h.initialize(t)

	assert.Equal(t, h.dev.Custody, cfg.Custody)
	assert.Equal(t, h.dev.ClaimMint, cfg.ClaimMint)

	acct, ok := ledgerAccount(t, h, cfg.CustodyClaimAccount)
	require.True(t, ok)
	assert.Equal(t, h.dev.Custody, acct.Owner)
	assert.Equal(t, h.dev.ClaimMint, acct.Mint)
}

func TestInitialize_Twice(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	before, err := h.svc.GetVault(h.ctx, h.dev.Nonce)
	require.NoError(t, err)

	_, err = h.svc.Initialize(h.ctx, h.as(h.dev.Admin), vault.InitializeRequest{
		AMMProgramID: ammProgram,
		PoolID:       h.dev.Pool.Address,
		PositionMint: h.dev.PositionMint,
		ClaimMint:    h.dev.ClaimMint,
		CustodyNonce: h.dev.Nonce,
	})
	require.ErrorIs(t, err, vault.ErrAlreadyInitialized)
	assert.Equal(t, vault.CategoryConfiguration, vault.CategoryOf(err))

	after, err := h.svc.GetVault(h.ctx, h.dev.Nonce)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestInitialize_Rejections(t *testing.T) {
	cases := []struct {
		name string
		req  func(d *platform.Devnet) vault.InitializeRequest
		want error
	}{
		{
			name: "foreign amm program",
			req: func(d *platform.Devnet) vault.InitializeRequest {
				return vault.InitializeRequest{AMMProgramID: d.Admin, PoolID: d.Pool.Address, CustodyNonce: d.Nonce}
			},
			want: vault.ErrProgramMismatch,
		},
		{
			name: "unknown pool",
			req: func(d *platform.Devnet) vault.InitializeRequest {
				return vault.InitializeRequest{AMMProgramID: ammProgram, PoolID: d.Admin, CustodyNonce: d.Nonce}
			},
			want: vault.ErrUnknownPool,
		},
		{
			name: "claim mint not controlled by custody",
			req: func(d *platform.Devnet) vault.InitializeRequest {
				return vault.InitializeRequest{AMMProgramID: ammProgram, PoolID: d.Pool.Address, ClaimMint: d.MintA, CustodyNonce: d.Nonce}
			},
			want: vault.ErrClaimMintAuthority,
		},
		{
			name: "custody claim account owned by someone else",
			req: func(d *platform.Devnet) vault.InitializeRequest {
				return vault.InitializeRequest{
					AMMProgramID:        ammProgram,
					PoolID:              d.Pool.Address,
					ClaimMint:           d.ClaimMint,
					CustodyClaimAccount: d.DepositorAccount(d.MintA),
					CustodyNonce:        d.Nonce,
				}
			},
			want: vault.ErrCustodyAccountMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			before := h.sim.StateDigest()

			_, err := h.svc.Initialize(h.ctx, h.as(h.dev.Admin), tc.req(h.dev))
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, vault.CategoryConfiguration, vault.CategoryOf(err))
			assert.Equal(t, before, h.sim.StateDigest())
		})
	}
}

func TestInitialize_DerivesClaimMint(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Initialize(h.ctx, h.as(h.dev.Admin), vault.InitializeRequest{
		AMMProgramID: ammProgram,
		PoolID:       h.dev.Pool.Address,
		CustodyNonce: []byte("second"),
	})
	require.NoError(t, err)

	want, err := vault.DeriveClaimMint(vaultProgram, res.Config.Custody)
	require.NoError(t, err)
	assert.Equal(t, want, res.Config.ClaimMint)
	assert.NotEqual(t, h.dev.Custody, res.Config.Custody)
}

// ============================================================================
// Deposit and withdraw
// ============================================================================

func TestEndToEnd(t *testing.T) {
	h := newHarness(t)
	cfg := h.initialize(t)

	dep := h.deposit(t)
	assert.Equal(t, uint64(1_000_000), dep.Minted)
	assert.Equal(t, uint64(1_000_000), h.balance(t, h.dev.Depositor, h.dev.ClaimMint))
	assert.Equal(t, uint64(1_000_000), h.supply(t))
	assert.Equal(t, uint64(1), h.balance(t, cfg.Custody, h.dev.PositionMint))
	assert.Equal(t, uint64(0), h.balance(t, h.dev.Depositor, h.dev.PositionMint))

	startA := h.balance(t, h.dev.Depositor, h.dev.MintA)
	startB := h.balance(t, h.dev.Depositor, h.dev.MintB)

	first, err := h.withdraw(h.dev.Depositor, 400_000, h.minOut(t, 400_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(600_000), first.RemainingLiquidity)
	assert.False(t, first.PositionReleased)
	assert.NotZero(t, first.Out.A)
	assert.NotZero(t, first.Out.B)
	assert.Equal(t, startA+first.Out.A, h.balance(t, h.dev.Depositor, h.dev.MintA))
	assert.Equal(t, startB+first.Out.B, h.balance(t, h.dev.Depositor, h.dev.MintB))
	assert.Equal(t, uint64(600_000), h.supply(t))
	assert.Equal(t, uint64(600_000), h.liquidity(t))
	assert.Equal(t, uint64(1), h.balance(t, cfg.Custody, h.dev.PositionMint))

	second, err := h.withdraw(h.dev.Depositor, 600_000, h.minOut(t, 600_000))
	require.NoError(t, err)
	assert.Zero(t, second.RemainingLiquidity)
	assert.True(t, second.PositionReleased)
	assert.Zero(t, h.supply(t))
	assert.Zero(t, h.liquidity(t))
	assert.Zero(t, h.balance(t, cfg.Custody, h.dev.PositionMint))
	assert.Equal(t, uint64(1), h.balance(t, h.dev.Depositor, h.dev.PositionMint))

	rec, err := h.svc.GetVault(h.ctx, h.dev.Nonce)
	require.NoError(t, err)
	assert.False(t, rec.State.Occupied())
	assert.Equal(t, uint64(1_000_000), rec.State.TotalBurned)
	assert.Equal(t, uint64(2), rec.State.Withdrawals)
	assert.Zero(t, h.balance(t, cfg.Custody, h.dev.MintA), "custody forwards all underlying")
}

func TestWithdraw_ExceedsLiquidity(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.deposit(t)
	_, err := h.withdraw(h.dev.Depositor, 400_000, h.minOut(t, 400_000))
	require.NoError(t, err)

	before := h.sim.StateDigest()
	_, err = h.withdraw(h.dev.Depositor, 700_000, &amm.Amounts{})
	require.ErrorIs(t, err, vault.ErrExceedsLiquidity)
	assert.Equal(t, vault.CategoryPrecondition, vault.CategoryOf(err))
	assert.Equal(t, before, h.sim.StateDigest())
	assert.Equal(t, uint64(600_000), h.balance(t, h.dev.Depositor, h.dev.ClaimMint))
}

func TestSupplyTracksLiquidity(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.deposit(t)

	for _, amount := range []uint64{100_000, 250_000, 1, 649_998, 1} {
		_, err := h.withdraw(h.dev.Depositor, amount, h.minOut(t, amount))
		require.NoError(t, err)
		assert.Equal(t, h.liquidity(t), h.supply(t), "after withdrawing %d", amount)
	}
	assert.Zero(t, h.supply(t))
}

func TestClaimsAreFungible(t *testing.T) {
	h := newHarness(t)
	cfg := h.initialize(t)
	h.deposit(t)

	// Depositor hands 600k claims to someone else
	_, err := h.sim.Execute(h.ctx, h.as(h.dev.Depositor), func(env vault.Env) error {
		from, err := ledger.AssociatedAddress(h.dev.Depositor, cfg.ClaimMint)
		if err != nil {
			return err
		}
		to, err := env.Ledger().CreateAccount(h.dev.Recipient, cfg.ClaimMint)
		if err != nil {
			return err
		}
		return env.Ledger().Transfer(from, to, 600_000, h.dev.Depositor)
	})
	require.NoError(t, err)

	_, err = h.withdraw(h.dev.Recipient, 600_001, &amm.Amounts{})
	require.ErrorIs(t, err, vault.ErrInsufficientBalance)

	_, err = h.withdraw(h.dev.Depositor, 400_000, h.minOut(t, 400_000))
	require.NoError(t, err)

	res, err := h.withdraw(h.dev.Recipient, 600_000, h.minOut(t, 600_000))
	require.NoError(t, err)
	assert.True(t, res.PositionReleased)
	assert.Equal(t, uint64(1), h.balance(t, h.dev.Recipient, h.dev.PositionMint))
	assert.Equal(t, res.Out.A, h.balance(t, h.dev.Recipient, h.dev.MintA))
}

func TestDeposit_Rejections(t *testing.T) {
	t.Run("already custodied", func(t *testing.T) {
		h := newHarness(t)
		h.initialize(t)
		h.deposit(t)

		_, err := h.svc.Deposit(h.ctx, h.as(h.dev.Depositor), vault.DepositRequest{
			CustodyNonce: h.dev.Nonce, PositionMint: h.dev.PositionMint,
		})
		require.ErrorIs(t, err, vault.ErrAlreadyCustodied)
		assert.Equal(t, vault.CategoryPrecondition, vault.CategoryOf(err))
		assert.Equal(t, uint64(1_000_000), h.supply(t))
	})

	t.Run("caller does not hold the position", func(t *testing.T) {
		h := newHarness(t)
		h.initialize(t)
		before := h.sim.StateDigest()

		_, err := h.svc.Deposit(h.ctx, h.as(h.dev.Recipient), vault.DepositRequest{
			CustodyNonce: h.dev.Nonce, PositionMint: h.dev.PositionMint,
		})
		require.ErrorIs(t, err, vault.ErrPositionNotOwned)
		assert.Zero(t, h.supply(t))
		assert.Equal(t, before, h.sim.StateDigest())
	})

	t.Run("position in another pool", func(t *testing.T) {
		h := newHarness(t)
		h.initialize(t)
		other := platform.DevnetKey("vault-test", "other-position")
		_, err := h.sim.Submit(h.ctx, "other-pool", func(tx *platform.Tx) error {
			pool, err := tx.AMM.InitializePool(tx.Ledger, amm.InitializePoolRequest{
				TokenMintA: h.dev.MintA, TokenMintB: h.dev.MintB, TickSpacing: 128,
			})
			if err != nil {
				return err
			}
			_, _, err = tx.AMM.OpenPosition(tx.Ledger, h.dev.Depositor, amm.OpenPositionRequest{
				Pool: pool.Address, PositionMint: other, TickLower: -1280, TickUpper: 1280,
				Liquidity: 5_000, TokenMaxA: 1_000_000, TokenMaxB: 1_000_000,
			})
			return err
		})
		require.NoError(t, err)

		_, err = h.svc.Deposit(h.ctx, h.as(h.dev.Depositor), vault.DepositRequest{
			CustodyNonce: h.dev.Nonce, PositionMint: other,
		})
		require.ErrorIs(t, err, vault.ErrWrongPool)
		assert.Equal(t, vault.CategoryConfiguration, vault.CategoryOf(err))
		assert.Zero(t, h.supply(t))
	})

	t.Run("unknown position", func(t *testing.T) {
		h := newHarness(t)
		h.initialize(t)

		_, err := h.svc.Deposit(h.ctx, h.as(h.dev.Depositor), vault.DepositRequest{
			CustodyNonce: h.dev.Nonce, PositionMint: h.dev.Admin,
		})
		require.ErrorIs(t, err, vault.ErrPositionNotFound)
		assert.Equal(t, vault.CategoryNotFound, vault.CategoryOf(err))
		assert.False(t, vault.Retryable(err))
		assert.Zero(t, h.supply(t))
	})

	t.Run("vault not initialized", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.Deposit(h.ctx, h.as(h.dev.Depositor), vault.DepositRequest{
			CustodyNonce: h.dev.Nonce, PositionMint: h.dev.PositionMint,
		})
		require.ErrorIs(t, err, vault.ErrNotInitialized)
	})
}

func TestWithdraw_Rejections(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	_, err := h.withdraw(h.dev.Depositor, 1, &amm.Amounts{})
	require.ErrorIs(t, err, vault.ErrNothingCustodied)

	h.deposit(t)

	_, err = h.withdraw(h.dev.Depositor, 0, &amm.Amounts{})
	require.ErrorIs(t, err, vault.ErrInvalidAmount)

	_, err = h.withdraw(h.dev.Depositor, 1, nil)
	require.ErrorIs(t, err, vault.ErrMissingSlippageBound)
	assert.Equal(t, vault.CategoryPrecondition, vault.CategoryOf(err))

	_, err = h.withdraw(h.dev.Recipient, 1, &amm.Amounts{})
	require.ErrorIs(t, err, vault.ErrInsufficientBalance)
}

// ============================================================================
// Atomicity under external failure
// ============================================================================

func TestWithdraw_ExternalFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.deposit(t)
	minOut := h.minOut(t, 400_000)

	before := h.sim.StateDigest()
	h.fail.Store(true)
	_, err := h.withdraw(h.dev.Depositor, 400_000, minOut)
	h.fail.Store(false)

	require.ErrorIs(t, err, vault.ErrExternalCallFailed)
	assert.True(t, vault.Retryable(err))
	assert.Equal(t, before, h.sim.StateDigest())
	assert.Equal(t, uint64(1_000_000), h.liquidity(t))
	assert.Equal(t, uint64(1_000_000), h.balance(t, h.dev.Depositor, h.dev.ClaimMint))

	// The same request goes through once the AMM recovers
	_, err = h.withdraw(h.dev.Depositor, 400_000, minOut)
	require.NoError(t, err)
}

func TestWithdraw_SlippageBoundEnforced(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.deposit(t)
	minOut := h.minOut(t, 400_000)

	_, err := h.sim.Submit(h.ctx, "market-moves", func(tx *platform.Tx) error {
		return tx.AMM.MovePrice(h.dev.Pool.Address, 640)
	})
	require.NoError(t, err)

	before := h.sim.StateDigest()
	_, err = h.withdraw(h.dev.Depositor, 400_000, minOut)
	require.ErrorIs(t, err, vault.ErrExternalCallFailed)
	assert.ErrorIs(t, err, amm.ErrSlippageExceeded)
	assert.Equal(t, before, h.sim.StateDigest())
}

// ============================================================================
// Queries
// ============================================================================

func TestQueries(t *testing.T) {
	h := newHarness(t)

	bal, err := h.svc.GetBalance(h.ctx, h.dev.Admin)
	require.NoError(t, err)
	assert.Zero(t, bal, "missing account reads zero")

	supply, err := h.svc.GetTotalSupply(h.ctx, h.dev.Admin)
	require.NoError(t, err)
	assert.Zero(t, supply, "missing mint reads zero")

	_, err = h.svc.GetPositionData(h.ctx, h.dev.Admin)
	require.ErrorIs(t, err, vault.ErrPositionNotFound)
	assert.Equal(t, vault.CategoryNotFound, vault.CategoryOf(err))

	pos, err := h.svc.GetPositionData(h.ctx, h.dev.PositionMint)
	require.NoError(t, err)
	assert.Equal(t, platform.DevnetPositionLower, pos.TickLower)
	assert.Equal(t, platform.DevnetPositionUpper, pos.TickUpper)
	assert.Equal(t, platform.DevnetPositionLiq, pos.Liquidity)

	_, err = h.svc.GetVault(h.ctx, h.dev.Nonce)
	require.ErrorIs(t, err, vault.ErrVaultNotFound)
}

func TestQuoteWithdraw(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.deposit(t)

	q, err := h.svc.QuoteWithdraw(h.ctx, h.dev.Nonce, 400_000, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), q.Liquidity)
	assert.LessOrEqual(t, q.MinOut.A, q.Expected.A)
	assert.LessOrEqual(t, q.MinOut.B, q.Expected.B)

	res, err := h.withdraw(h.dev.Depositor, 400_000, &q.MinOut)
	require.NoError(t, err)
	assert.Equal(t, q.Expected, res.Out)
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, vault.Category(0), vault.CategoryOf(nil))
	assert.Equal(t, vault.CategoryFatal, vault.CategoryOf(errors.New("unknown")))
	assert.Equal(t, vault.CategoryExternal, vault.CategoryOf(platform.ErrMissingSignature))
	assert.Equal(t, vault.CategoryExternal, vault.CategoryOf(context.DeadlineExceeded))
	assert.Equal(t, vault.CategoryFatal, vault.CategoryOf(vault.ErrInvariantViolated))
	assert.Equal(t, "precondition", vault.CategoryPrecondition.String())
}

func ledgerAccount(t *testing.T, h *harness, addr solana.PublicKey) (ledger.TokenAccount, bool) {
	t.Helper()
	var (
		acct ledger.TokenAccount
		ok   bool
	)
	require.NoError(t, h.sim.View(h.ctx, func(env vault.Env) error {
		acct, ok = env.Ledger().Account(addr)
		return nil
	}))
	return acct, ok
}

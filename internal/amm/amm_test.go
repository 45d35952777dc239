package amm_test

import (
	"crypto/sha256"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PositionVault/internal/amm"
	"PositionVault/internal/ledger"
)

func key(label string) solana.PublicKey {
	h := sha256.Sum256([]byte(label))
	return solana.PublicKeyFromBytes(h[:])
}

func TestSqrtPriceAtTick(t *testing.T) {
	one := new(uint256.Int).Lsh(uint256.NewInt(1), 64)

	p0, err := amm.SqrtPriceAtTick(0)
	require.NoError(t, err)
	assert.Equal(t, one, p0)

	prev, err := amm.SqrtPriceAtTick(amm.MinTick)
	require.NoError(t, err)
	for _, tick := range []int32{-200_000, -1280, -1, 1, 64, 1280, 200_000, amm.MaxTick} {
		p, err := amm.SqrtPriceAtTick(tick)
		require.NoError(t, err)
		assert.True(t, p.Gt(prev), "price at %d should exceed the previous tick", tick)
		prev = p
	}

	_, err = amm.SqrtPriceAtTick(amm.MaxTick + 1)
	assert.ErrorIs(t, err, amm.ErrTickOutOfBounds)
	_, err = amm.SqrtPriceAtTick(amm.MinTick - 1)
	assert.ErrorIs(t, err, amm.ErrTickOutOfBounds)
}

func TestValidTickRange(t *testing.T) {
	assert.NoError(t, amm.ValidTickRange(-128, 128, 64))
	assert.ErrorIs(t, amm.ValidTickRange(128, 128, 64), amm.ErrInvalidTickRange)
	assert.ErrorIs(t, amm.ValidTickRange(-100, 128, 64), amm.ErrInvalidTickRange)
	assert.ErrorIs(t, amm.ValidTickRange(amm.MinTick-64, 0, 64), amm.ErrTickOutOfBounds)
}

func TestAmountsForLiquidity(t *testing.T) {
	lo, err := amm.SqrtPriceAtTick(-1280)
	require.NoError(t, err)
	hi, err := amm.SqrtPriceAtTick(1280)
	require.NoError(t, err)
	mid, err := amm.SqrtPriceAtTick(0)
	require.NoError(t, err)

	t.Run("symmetric range at parity splits evenly", func(t *testing.T) {
		down, err := amm.AmountsForLiquidity(mid, lo, hi, 1_000_000, false)
		require.NoError(t, err)
		assert.InDelta(t, down.A, down.B, 2)
		assert.Greater(t, down.A, uint64(50_000))
		assert.Less(t, down.A, uint64(70_000))
	})

	t.Run("rounding up never pays less", func(t *testing.T) {
		down, err := amm.AmountsForLiquidity(mid, lo, hi, 999_999, false)
		require.NoError(t, err)
		up, err := amm.AmountsForLiquidity(mid, lo, hi, 999_999, true)
		require.NoError(t, err)
		assert.LessOrEqual(t, up.A-down.A, uint64(1))
		assert.LessOrEqual(t, up.B-down.B, uint64(1))
		assert.GreaterOrEqual(t, up.A, down.A)
		assert.GreaterOrEqual(t, up.B, down.B)
	})

	t.Run("below range is all token A", func(t *testing.T) {
		below, err := amm.SqrtPriceAtTick(-5000)
		require.NoError(t, err)
		out, err := amm.AmountsForLiquidity(below, lo, hi, 1_000_000, false)
		require.NoError(t, err)
		assert.Zero(t, out.B)
		assert.NotZero(t, out.A)
	})

	t.Run("above range is all token B", func(t *testing.T) {
		above, err := amm.SqrtPriceAtTick(5000)
		require.NoError(t, err)
		out, err := amm.AmountsForLiquidity(above, lo, hi, 1_000_000, false)
		require.NoError(t, err)
		assert.Zero(t, out.A)
		assert.NotZero(t, out.B)
	})
}

func TestApplySlippage(t *testing.T) {
	assert.Equal(t, amm.Amounts{A: 990, B: 99}, amm.ApplySlippage(amm.Amounts{A: 1000, B: 100}, 100))
	assert.Equal(t, amm.Amounts{A: 1000, B: 100}, amm.ApplySlippage(amm.Amounts{A: 1000, B: 100}, 0))
	assert.Equal(t, amm.Amounts{}, amm.ApplySlippage(amm.Amounts{A: 1000, B: 100}, amm.BpsDenominator))
}

// ============================================================================
// Program
// ============================================================================

type fixture struct {
	ledger  *ledger.Ledger
	program *amm.Program
	pool    amm.Pool
	owner   solana.PublicKey
	nft     solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.NewLedger()
	prog := amm.NewProgram(key("amm-program"))
	admin, owner := key("admin"), key("owner")
	mintA, mintB := key("mint-a"), key("mint-b")

	u := l.Begin("setup", 1, 0)
	for _, m := range []solana.PublicKey{mintA, mintB} {
		require.NoError(t, u.CreateMint(m, 6, admin))
		acct, err := u.CreateAccount(owner, m)
		require.NoError(t, err)
		require.NoError(t, u.MintTo(m, acct, 10_000_000, admin))
	}

	pool, err := prog.InitializePool(u, amm.InitializePoolRequest{
		TokenMintA: mintA, TokenMintB: mintB, TickSpacing: 64,
	})
	require.NoError(t, err)

	nft := key("position-nft")
	_, spent, err := prog.OpenPosition(u, owner, amm.OpenPositionRequest{
		Pool:         pool.Address,
		PositionMint: nft,
		TickLower:    -1280,
		TickUpper:    1280,
		Liquidity:    1_000_000,
		TokenMaxA:    1_000_000,
		TokenMaxB:    1_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, spent.A, u.BalanceOf(pool.TokenVaultA))
	assert.Equal(t, spent.B, u.BalanceOf(pool.TokenVaultB))

	_, err = u.Commit()
	require.NoError(t, err)

	pool, err = prog.GetPool(pool.Address)
	require.NoError(t, err)
	return &fixture{ledger: l, program: prog, pool: pool, owner: owner, nft: nft}
}

func (f *fixture) decreaseRequest(t *testing.T, liquidity uint64, min amm.Amounts) amm.DecreaseLiquidityRequest {
	t.Helper()
	nftAcct, err := ledger.AssociatedAddress(f.owner, f.nft)
	require.NoError(t, err)
	recvA, err := ledger.AssociatedAddress(f.owner, f.pool.TokenMintA)
	require.NoError(t, err)
	recvB, err := ledger.AssociatedAddress(f.owner, f.pool.TokenMintB)
	require.NoError(t, err)
	return amm.DecreaseLiquidityRequest{
		PositionMint:         f.nft,
		PositionTokenAccount: nftAcct,
		Authority:            f.owner,
		Liquidity:            liquidity,
		MinTokenA:            min.A,
		MinTokenB:            min.B,
		RecipientA:           recvA,
		RecipientB:           recvB,
	}
}

func TestProgram_OpenPosition(t *testing.T) {
	f := newFixture(t)

	pos, err := f.program.GetPosition(f.nft)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), pos.Liquidity)
	assert.Equal(t, f.pool.Address, pos.Pool)
	assert.Equal(t, uint64(1_000_000), f.pool.Liquidity, "position is in range")

	mint, ok := f.ledger.Mint(f.nft)
	require.True(t, ok)
	assert.True(t, mint.MintAuthority.IsZero(), "position mint authority revoked")
	assert.Equal(t, uint64(1), f.ledger.TotalSupply(f.nft))

	_, err = f.program.GetPosition(key("missing"))
	assert.ErrorIs(t, err, amm.ErrPositionNotFound)
}

func TestProgram_DecreaseLiquidity(t *testing.T) {
	f := newFixture(t)
	pos, err := f.program.GetPosition(f.nft)
	require.NoError(t, err)

	quote, err := amm.QuoteDecrease(f.pool, pos, 400_000)
	require.NoError(t, err)

	u := f.ledger.Begin("decrease", 2, 0)
	out, err := f.program.DecreaseLiquidity(u, f.decreaseRequest(t, 400_000, quote))
	require.NoError(t, err)
	assert.Equal(t, quote, out)
	_, err = u.Commit()
	require.NoError(t, err)

	pos, err = f.program.GetPosition(f.nft)
	require.NoError(t, err)
	assert.Equal(t, uint64(600_000), pos.Liquidity)
}

func TestProgram_DecreaseLiquidity_Rejections(t *testing.T) {
	f := newFixture(t)
	pos, err := f.program.GetPosition(f.nft)
	require.NoError(t, err)
	quote, err := amm.QuoteDecrease(f.pool, pos, 400_000)
	require.NoError(t, err)

	t.Run("exceeds position liquidity", func(t *testing.T) {
		u := f.ledger.Begin("over", 2, 0)
		_, err := f.program.Clone().DecreaseLiquidity(u, f.decreaseRequest(t, 1_000_001, amm.Amounts{}))
		assert.ErrorIs(t, err, amm.ErrLiquidityUnderflow)
	})

	t.Run("authority does not hold the position", func(t *testing.T) {
		u := f.ledger.Begin("thief", 2, 0)
		req := f.decreaseRequest(t, 1, amm.Amounts{})
		req.Authority = key("thief")
		_, err := f.program.Clone().DecreaseLiquidity(u, req)
		assert.ErrorIs(t, err, amm.ErrPositionAuthority)
	})

	t.Run("price moved against the minimum", func(t *testing.T) {
		prog := f.program.Clone()
		require.NoError(t, prog.MovePrice(f.pool.Address, 640))
		u := f.ledger.Begin("slip", 2, 0)
		_, err := prog.DecreaseLiquidity(u, f.decreaseRequest(t, 400_000, quote))
		assert.ErrorIs(t, err, amm.ErrSlippageExceeded)
	})

	// Clones absorbed every failure
	pos, err = f.program.GetPosition(f.nft)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), pos.Liquidity)
}

func TestProgram_ExportRestore(t *testing.T) {
	f := newFixture(t)

	restored := amm.NewProgram(f.program.ProgramID())
	require.NoError(t, restored.Restore(f.program.Export()))
	assert.Equal(t, f.program.Export(), restored.Export())
	assert.Len(t, restored.PositionsByPool(f.pool.Address), 1)
}

package amm

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/holiman/uint256"
)

// BpsDenominator is the basis point scale for slippage tolerances.
const BpsDenominator = 10_000

// Amounts is a pair of underlying token amounts.
type Amounts struct {
	A uint64 `json:"token_a"`
	B uint64 `json:"token_b"`
}

// AmountADelta returns the token A amount for liquidity between two sqrt
// prices: L * (upper - lower) * 2^64 / (upper * lower).
func AmountADelta(sqrtLower, sqrtUpper *uint256.Int, liquidity uint64, roundUp bool) (uint64, error) {
	lo, hi := ordered(sqrtLower, sqrtUpper)
	if lo.IsZero() {
		return 0, errorsmod.Wrap(ErrAmountOverflow, "zero sqrt price")
	}

	num := new(uint256.Int).Lsh(uint256.NewInt(liquidity), 64)
	diff := new(uint256.Int).Sub(hi, lo)

	step, overflow := new(uint256.Int).MulDivOverflow(num, diff, hi)
	if overflow {
		return 0, errorsmod.Wrapf(ErrAmountOverflow, "token A delta for liquidity %d", liquidity)
	}
	if roundUp && !new(uint256.Int).MulMod(num, diff, hi).IsZero() {
		step.AddUint64(step, 1)
	}

	rem := new(uint256.Int)
	out := new(uint256.Int)
	out.DivMod(step, lo, rem)
	if roundUp && !rem.IsZero() {
		out.AddUint64(out, 1)
	}
	return toAmount(out)
}

// AmountBDelta returns the token B amount for liquidity between two sqrt
// prices: L * (upper - lower) / 2^64.
func AmountBDelta(sqrtLower, sqrtUpper *uint256.Int, liquidity uint64, roundUp bool) (uint64, error) {
	lo, hi := ordered(sqrtLower, sqrtUpper)
	diff := new(uint256.Int).Sub(hi, lo)

	prod := new(uint256.Int).Mul(uint256.NewInt(liquidity), diff)
	out := new(uint256.Int).Rsh(prod, 64)
	if roundUp && prod[0] != 0 {
		out.AddUint64(out, 1)
	}
	return toAmount(out)
}

// AmountsForLiquidity splits liquidity over [lower, upper) at the current
// sqrt price. Below the range it is all token A, above it all token B.
func AmountsForLiquidity(sqrtCurrent, sqrtLower, sqrtUpper *uint256.Int, liquidity uint64, roundUp bool) (Amounts, error) {
	var (
		out Amounts
		err error
	)
	switch {
	case sqrtCurrent.Cmp(sqrtLower) <= 0:
		out.A, err = AmountADelta(sqrtLower, sqrtUpper, liquidity, roundUp)
	case sqrtCurrent.Cmp(sqrtUpper) >= 0:
		out.B, err = AmountBDelta(sqrtLower, sqrtUpper, liquidity, roundUp)
	default:
		if out.A, err = AmountADelta(sqrtCurrent, sqrtUpper, liquidity, roundUp); err != nil {
			return Amounts{}, err
		}
		out.B, err = AmountBDelta(sqrtLower, sqrtCurrent, liquidity, roundUp)
	}
	if err != nil {
		return Amounts{}, err
	}
	return out, nil
}

// QuoteDecrease returns what removing liquidity from pos would pay out at
// the pool's current price. Amounts round down.
func QuoteDecrease(pool Pool, pos Position, liquidity uint64) (Amounts, error) {
	return quote(pool, pos.TickLower, pos.TickUpper, liquidity, false)
}

// QuoteIncrease returns what adding liquidity to [lower, upper) costs at the
// pool's current price. Amounts round up.
func QuoteIncrease(pool Pool, lower, upper int32, liquidity uint64) (Amounts, error) {
	return quote(pool, lower, upper, liquidity, true)
}

func quote(pool Pool, lower, upper int32, liquidity uint64, roundUp bool) (Amounts, error) {
	cur, err := pool.SqrtPrice()
	if err != nil {
		return Amounts{}, err
	}
	lo, err := SqrtPriceAtTick(lower)
	if err != nil {
		return Amounts{}, err
	}
	hi, err := SqrtPriceAtTick(upper)
	if err != nil {
		return Amounts{}, err
	}
	return AmountsForLiquidity(cur, lo, hi, liquidity, roundUp)
}

// ApplySlippage lowers a quote by bps basis points, producing minimum-out
// bounds for a decrease.
func ApplySlippage(a Amounts, bps uint16) Amounts {
	if bps >= BpsDenominator {
		return Amounts{}
	}
	keep := uint256.NewInt(uint64(BpsDenominator - bps))
	den := uint256.NewInt(BpsDenominator)
	scale := func(v uint64) uint64 {
		z := new(uint256.Int).Mul(uint256.NewInt(v), keep)
		return z.Div(z, den).Uint64()
	}
	return Amounts{A: scale(a.A), B: scale(a.B)}
}

func ordered(a, b *uint256.Int) (*uint256.Int, *uint256.Int) {
	if a.Gt(b) {
		return b, a
	}
	return a, b
}

func toAmount(v *uint256.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, errorsmod.Wrapf(ErrAmountOverflow, "amount %s", v.Dec())
	}
	return v.Uint64(), nil
}

package amm

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/holiman/uint256"
)

const (
	// MinTick and MaxTick bound the Q64.64 price range.
	MinTick int32 = -443636
	MaxTick int32 = 443636
)

var (
	uint256Max = new(uint256.Int).SetAllOne()
	q64        = new(uint256.Int).Lsh(uint256.NewInt(1), 64)

	// sqrt(1.0001^-(2^i)) in Q128.128, applied per set bit of |tick|.
	// Index 0 and 1 are the starting ratios for odd and even ticks.
	sqrtRatioConsts = [21]*uint256.Int{
		uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
		uint256.MustFromHex("0x100000000000000000000000000000000"),
		uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
		uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
		uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
	}
)

// SqrtPriceAtTick returns sqrt(1.0001^tick) as a Q64.64 fixed point number,
// rounded up.
func SqrtPriceAtTick(tick int32) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, errorsmod.Wrapf(ErrTickOutOfBounds, "tick %d", tick)
	}

	absTick := uint64(tick)
	if tick < 0 {
		absTick = uint64(-int64(tick))
	}

	ratio := new(uint256.Int)
	if absTick&1 != 0 {
		ratio.Set(sqrtRatioConsts[0])
	} else {
		ratio.Set(sqrtRatioConsts[1])
	}
	for i := 0; i < 19; i++ {
		if absTick&(1<<(i+1)) != 0 {
			ratio.Mul(ratio, sqrtRatioConsts[i+2])
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Div(uint256Max, ratio)
	}

	// Q128.128 -> Q64.64
	rem := new(uint256.Int).Mod(ratio, q64)
	ratio.Rsh(ratio, 64)
	if !rem.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio, nil
}

// ValidTickRange reports whether [lower, upper) is a usable position range
// for the given spacing.
func ValidTickRange(lower, upper int32, spacing uint16) error {
	if lower < MinTick || upper > MaxTick {
		return errorsmod.Wrapf(ErrTickOutOfBounds, "range [%d, %d)", lower, upper)
	}
	if lower >= upper {
		return errorsmod.Wrapf(ErrInvalidTickRange, "lower %d >= upper %d", lower, upper)
	}
	s := int32(spacing)
	if s == 0 || lower%s != 0 || upper%s != 0 {
		return errorsmod.Wrapf(ErrInvalidTickRange, "range [%d, %d) not aligned to spacing %d", lower, upper, spacing)
	}
	return nil
}

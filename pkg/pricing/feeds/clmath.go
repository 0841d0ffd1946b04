package feeds

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// clPrec is the mantissa precision used for tick and sqrt-price math.
const clPrec = 256

var (
	q96      = new(big.Float).SetPrec(clPrec).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	sqrtTick = sqrtTickBase()
	floatOne = new(big.Float).SetPrec(clPrec).SetInt64(1)
)

func sqrtTickBase() *big.Float {
	base, _ := new(big.Float).SetPrec(clPrec).SetString("1.0001")
	return new(big.Float).SetPrec(clPrec).Sqrt(base)
}

// sqrtRatioAtTick returns sqrt(1.0001^tick).
func sqrtRatioAtTick(tick int64) *big.Float {
	n := tick
	if n < 0 {
		n = -n
	}
	result := new(big.Float).SetPrec(clPrec).Set(floatOne)
	base := new(big.Float).SetPrec(clPrec).Set(sqrtTick)
	for n > 0 {
		if n&1 == 1 {
			result.Mul(result, base)
		}
		base.Mul(base, base)
		n >>= 1
	}
	if tick < 0 {
		result.Quo(floatOne, result)
	}
	return result
}

// sqrtPriceFromX96 converts a Q64.96 sqrt price into a float.
func sqrtPriceFromX96(x *big.Int) *big.Float {
	f := new(big.Float).SetPrec(clPrec).SetInt(x)
	return f.Quo(f, q96)
}

// positionAmounts splits liquidity into base-unit token amounts given the current sqrt
// price sp and the range bounds sa < sb:
//
//	sp <= sa:      amount0 = L(sb-sa)/(sa*sb), amount1 = 0
//	sa < sp < sb:  amount0 = L(sb-sp)/(sp*sb), amount1 = L(sp-sa)
//	sp >= sb:      amount0 = 0,                amount1 = L(sb-sa)
func positionAmounts(liquidity *big.Int, sp, sa, sb *big.Float) (*big.Float, *big.Float) {
	if sa.Cmp(sb) > 0 {
		sa, sb = sb, sa
	}
	l := new(big.Float).SetPrec(clPrec).SetInt(liquidity)
	amount0 := new(big.Float).SetPrec(clPrec)
	amount1 := new(big.Float).SetPrec(clPrec)

	switch {
	case sp.Cmp(sa) <= 0:
		amount0.Quo(amount0.Mul(l, amount0.Sub(sb, sa)), new(big.Float).SetPrec(clPrec).Mul(sa, sb))
	case sp.Cmp(sb) >= 0:
		amount1.Mul(l, amount1.Sub(sb, sa))
	default:
		amount0.Quo(amount0.Mul(l, amount0.Sub(sb, sp)), new(big.Float).SetPrec(clPrec).Mul(sp, sb))
		amount1.Mul(l, amount1.Sub(sp, sa))
	}
	return amount0, amount1
}

// floatToDecimal converts f to a decimal and shifts it by -decimals.
func floatToDecimal(f *big.Float, decimals int32) decimal.Decimal {
	if f.Sign() == 0 {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(f.Text('e', 40))
	if err != nil {
		return decimal.Zero
	}
	return d.Shift(-decimals)
}

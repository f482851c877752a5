package stakecore

import (
	"math/big"
	"strings"
)

// FormatUnits renders a raw token amount as a decimal string, trimming
// trailing zeros. Full fractional precision is kept so the output stays
// byte-stable across runs.
func FormatUnits(x *big.Int, decimals int) string {
	if x == nil {
		return "0"
	}
	if decimals <= 0 || x.Sign() < 0 {
		return x.String()
	}
	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	var intPart, frac big.Int
	intPart.QuoRem(x, base, &frac)
	fs := frac.String()
	if len(fs) < decimals {
		fs = strings.Repeat("0", decimals-len(fs)) + fs
	}
	fs = strings.TrimRight(fs, "0")
	if fs == "" {
		return intPart.String()
	}
	return intPart.String() + "." + fs
}

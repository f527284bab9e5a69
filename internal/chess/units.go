package chess

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount reads a non-negative amount. With units set the value is in
// whole tokens and is scaled by decimals; otherwise it is in base units.
// Hex base-unit amounts with a 0x prefix are accepted.
func ParseAmount(s string, decimals uint8, units bool) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("amount is empty")
	}
	if !units && (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		digits := s[2:]
		if digits == "" || strings.ContainsAny(digits[:1], "+-") {
			return nil, fmt.Errorf("invalid hex amount %q", s)
		}
		v, ok := new(big.Int).SetString(digits, 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex amount %q", s)
		}
		return checkRange(s, v)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, errors.New("amount must be non-negative")
	}
	if units {
		d = d.Shift(int32(decimals))
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	return checkRange(s, d.BigInt())
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func checkRange(s string, v *big.Int) (*big.Int, error) {
	if v.Sign() < 0 {
		return nil, errors.New("amount must be non-negative")
	}
	if v.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("amount %q exceeds 2^256-1", s)
	}
	return v, nil
}

// FormatUnits renders a base-unit amount as whole tokens.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}

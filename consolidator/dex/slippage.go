package dex

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// CalculateMinOutput calculates minimum output with slippage tolerance.
// slippageBps is basis points (e.g., 100 = 1%)
// minOutput = expected * (10000 - slippageBps) / 10000
func CalculateMinOutput(expectedOutput *big.Int, slippageBps uint32) *big.Int {
	if expectedOutput == nil || slippageBps >= 10000 {
		return new(big.Int)
	}
	minOutput := new(big.Int).Mul(expectedOutput, big.NewInt(int64(10000-slippageBps)))
	return minOutput.Quo(minOutput, big.NewInt(10000))
}

// PriceImpactBps converts a fractional price impact (e.g. "0.0125" for 1.25%)
// into basis points, rounded half up. Negative impacts are clamped to zero and
// impacts above 100% to 10000.
func PriceImpactBps(fraction string) (uint32, error) {
	if fraction == "" {
		return 0, nil
	}
	v, err := decimal.NewFromString(fraction)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price impact: %w", err)
	}
	bps := v.Shift(4).Round(0)
	switch {
	case !bps.IsPositive():
		return 0, nil
	case bps.GreaterThan(decimal.NewFromInt(10000)):
		return 10000, nil
	}
	return uint32(bps.IntPart()), nil
}

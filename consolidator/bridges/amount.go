package bridges

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseAmount parses a base 10 integer amount as returned by provider APIs.
// Empty strings parse to zero.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// ApplySlippage returns amount reduced by slippageBps, 0 meaning DefaultSlippageBps
func ApplySlippage(amount *big.Int, slippageBps uint32) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	if slippageBps == 0 {
		slippageBps = DefaultSlippageBps
	}
	if slippageBps >= 10000 {
		return new(big.Int)
	}
	cut := new(big.Int).Mul(amount, big.NewInt(int64(slippageBps)))
	cut.Quo(cut, big.NewInt(10000))
	return new(big.Int).Sub(amount, cut)
}

// CloneQuote returns a copy of q that shares no mutable state with it
func CloneQuote(q Quote) Quote {
	out := q
	out.InputAmount = cloneInt(q.InputAmount)
	out.OutputAmount = cloneInt(q.OutputAmount)
	out.MinOutputAmount = cloneInt(q.MinOutputAmount)
	out.Fees = Fees{
		BridgeFee:  cloneInt(q.Fees.BridgeFee),
		GasFee:     cloneInt(q.Fees.GasFee),
		RelayerFee: cloneInt(q.Fees.RelayerFee),
	}
	if q.Extra != nil {
		out.Extra = make(map[string]string, len(q.Extra))
		for k, v := range q.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

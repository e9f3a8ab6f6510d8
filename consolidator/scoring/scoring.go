// Package scoring ranks bridge quotes. The composite score combines the output
// ratio, transfer time, fee efficiency and a per provider reliability prior,
// each normalised to [0,1] and multiplied by a strategy dependent weight.
package scoring

import (
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/shopspring/decimal"
)

// Strategy selects how bridge quotes and plans are optimised
type Strategy string

const (
	Speed       Strategy = "speed"
	Cost        Strategy = "cost"
	Reliability Strategy = "reliability"
)

// DefaultStrategy is used when a request does not name one
const DefaultStrategy = Cost

// MaxBridgeTimeSeconds is the time at which the time component reaches zero
const MaxBridgeTimeSeconds = 3600

// scores are rounded so equal inputs always compare equal
const scorePrecision = 6

// Strategies returns every strategy in a fixed order
func Strategies() []Strategy {
	return []Strategy{Speed, Cost, Reliability}
}

// ParseStrategy accepts a case insensitive strategy name, empty means DefaultStrategy
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return DefaultStrategy, nil
	}
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown optimization strategy %q", s)
	}
	return st, nil
}

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	return slices.Contains(Strategies(), s)
}

// Weights are the maximum points each component contributes
type Weights struct {
	Output      decimal.Decimal
	Time        decimal.Decimal
	Fee         decimal.Decimal
	Reliability decimal.Decimal
}

func weights(output, time, fee, reliability int64) Weights {
	return Weights{
		Output:      decimal.NewFromInt(output),
		Time:        decimal.NewFromInt(time),
		Fee:         decimal.NewFromInt(fee),
		Reliability: decimal.NewFromInt(reliability),
	}
}

// WeightsFor returns the weights of a strategy. Cost uses the base weighting
// where output dominates.
func WeightsFor(s Strategy) Weights {
	switch s {
	case Speed:
		return weights(40, 40, 10, 10)
	case Reliability:
		return weights(35, 15, 10, 40)
	default:
		return weights(50, 20, 15, 15)
	}
}

var reliabilityPriors = map[string]int{
	"across":   15,
	"stargate": 12,
	"hop":      10,
	"cbridge":  10,
	"socket":   8,
}

// DefaultReliability is the prior of providers without a track record
const DefaultReliability = 5

// MaxReliability is the highest prior a provider can have
const MaxReliability = 15

// ReliabilityPrior returns the reliability prior of a provider on a 0 to 15 scale
func ReliabilityPrior(provider string) int {
	if v, ok := reliabilityPriors[strings.ToLower(provider)]; ok {
		return v
	}
	return DefaultReliability
}

// Ratio returns num/den, zero when den is zero or either is nil
func Ratio(num, den *big.Int) decimal.Decimal {
	if num == nil || den == nil || den.Sign() == 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(num, 0).Div(decimal.NewFromBigInt(den, 0))
}

func clamp01(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return d
}

// TimeScore is 1 for fast fills and decays linearly to 0 at MaxBridgeTimeSeconds
func TimeScore(seconds int, fastFill bool) decimal.Decimal {
	if fastFill {
		return decimal.NewFromInt(1)
	}
	spent := decimal.NewFromInt(int64(seconds)).Div(decimal.NewFromInt(MaxBridgeTimeSeconds))
	return clamp01(decimal.NewFromInt(1).Sub(spent))
}

// FeeScore is 1 for free transfers and reaches 0 at a 15% fee
func FeeScore(fee, input *big.Int) decimal.Decimal {
	pct := Ratio(fee, input).Mul(decimal.NewFromInt(100))
	return clamp01(decimal.NewFromInt(1).Sub(pct.Div(decimal.NewFromInt(15))))
}

// Score computes the composite score of a quote, higher is better
func Score(q bridges.Quote, w Weights) decimal.Decimal {
	output := clamp01(Ratio(q.OutputAmount, q.InputAmount))
	rel := decimal.NewFromInt(int64(ReliabilityPrior(q.Provider))).Div(decimal.NewFromInt(MaxReliability))

	score := w.Output.Mul(output).
		Add(w.Time.Mul(TimeScore(q.EstimatedTimeSeconds, q.FastFill))).
		Add(w.Fee.Mul(FeeScore(q.Fees.Total(), q.InputAmount))).
		Add(w.Reliability.Mul(rel))
	return score.Round(scorePrecision)
}

// Less reports whether a ranks before b under strategy s.
//
// speed: shorter time, then larger net output.
// cost: larger net output, then shorter time, then higher reliability.
// reliability: higher score.
// Provider name breaks every remaining tie.
func Less(a, b bridges.Comparison, s Strategy) bool {
	switch s {
	case Speed:
		if a.EstimatedTimeSeconds != b.EstimatedTimeSeconds {
			return a.EstimatedTimeSeconds < b.EstimatedTimeSeconds
		}
		if c := cmpInt(a.NetOutput, b.NetOutput); c != 0 {
			return c > 0
		}
	case Reliability:
		if c := a.Score.Cmp(b.Score); c != 0 {
			return c > 0
		}
	default:
		if c := cmpInt(a.NetOutput, b.NetOutput); c != 0 {
			return c > 0
		}
		if a.EstimatedTimeSeconds != b.EstimatedTimeSeconds {
			return a.EstimatedTimeSeconds < b.EstimatedTimeSeconds
		}
		if a.Reliability != b.Reliability {
			return a.Reliability > b.Reliability
		}
	}
	return a.Provider < b.Provider
}

func cmpInt(a, b *big.Int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Cmp(b)
}

// Rank returns a sorted copy of comparisons with scores recomputed for s.
// The input slice is not modified.
func Rank(comparisons []bridges.Comparison, s Strategy) []bridges.Comparison {
	w := WeightsFor(s)
	out := make([]bridges.Comparison, len(comparisons))
	for i, c := range comparisons {
		c.Reliability = ReliabilityPrior(c.Provider)
		c.Score = Score(c.Quote, w)
		out[i] = c
	}
	slices.SortStableFunc(out, func(a, b bridges.Comparison) int {
		switch {
		case Less(a, b, s):
			return -1
		case Less(b, a, s):
			return 1
		}
		return 0
	})
	return out
}

// Best returns the top ranked comparison under s
func Best(comparisons []bridges.Comparison, s Strategy) (bridges.Comparison, bool) {
	if len(comparisons) == 0 {
		return bridges.Comparison{}, false
	}
	return Rank(comparisons, s)[0], true
}

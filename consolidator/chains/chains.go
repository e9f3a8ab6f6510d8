// Package chains holds the static registry of chains the consolidator can sweep:
// chain ids, bridgeable intermediate tokens and rough gas costs.
package chains

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Chain is the lowercase chain name used across the service (e.g. "arbitrum").
type Chain string

const (
	Ethereum Chain = "ethereum"
	Base     Chain = "base"
	Arbitrum Chain = "arbitrum"
	Polygon  Chain = "polygon"
	Optimism Chain = "optimism"
	BSC      Chain = "bsc"
	Linea    Chain = "linea"
	Solana   Chain = "solana"
)

// NativeTokenAddress is the placeholder address aggregators and bridges use for native ETH.
const NativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// Token is a token known to the registry
type Token struct {
	Symbol   string
	Address  string
	Decimals uint8
}

// Info describes one supported chain
type Info struct {
	Name    Chain
	ChainID uint64 // 0 for non EVM chains
	EVM     bool
	// GasEstimateUsd is the typical cost of one swap or bridge transaction
	GasEstimateUsd decimal.Decimal
	// Intermediates are bridge friendly tokens in preference order
	Intermediates []Token
}

var registry = map[Chain]Info{
	Ethereum: {
		Name: Ethereum, ChainID: 1, EVM: true,
		GasEstimateUsd: decimal.NewFromInt(15),
		Intermediates: []Token{
			{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
			{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		},
	},
	Base: {
		Name: Base, ChainID: 8453, EVM: true,
		GasEstimateUsd: decimal.RequireFromString("0.05"),
		Intermediates: []Token{
			{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
			{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
		},
	},
	Arbitrum: {
		Name: Arbitrum, ChainID: 42161, EVM: true,
		GasEstimateUsd: decimal.RequireFromString("0.1"),
		Intermediates: []Token{
			{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
			{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
		},
	},
	Polygon: {
		Name: Polygon, ChainID: 137, EVM: true,
		GasEstimateUsd: decimal.RequireFromString("0.01"),
		Intermediates: []Token{
			{Symbol: "USDC", Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6},
			{Symbol: "WETH", Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Decimals: 18},
		},
	},
	Optimism: {
		Name: Optimism, ChainID: 10, EVM: true,
		GasEstimateUsd: decimal.RequireFromString("0.05"),
		Intermediates: []Token{
			{Symbol: "USDC", Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
			{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
		},
	},
	BSC: {
		Name: BSC, ChainID: 56, EVM: true,
		GasEstimateUsd: decimal.RequireFromString("0.2"),
		Intermediates: []Token{
			{Symbol: "USDC", Address: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", Decimals: 18},
			{Symbol: "WETH", Address: "0x2170Ed0880ac9A755fd29B2688956BD959F933F8", Decimals: 18},
		},
	},
	Linea: {
		Name: Linea, ChainID: 59144, EVM: true,
		GasEstimateUsd: decimal.RequireFromString("0.1"),
		Intermediates: []Token{
			{Symbol: "USDC", Address: "0x176211869cA2b568f2A7D4EE941E073a821EE1ff", Decimals: 6},
			{Symbol: "WETH", Address: "0xe5D7C2a44FfDDf6b295A15c148167daaAf5Cf34f", Decimals: 18},
		},
	},
	Solana: {
		Name: Solana, EVM: false,
		GasEstimateUsd: decimal.RequireFromString("0.001"),
		Intermediates: []Token{
			{Symbol: "USDC", Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
		},
	},
}

// Lookup returns the registry entry for a chain
func Lookup(c Chain) (Info, bool) {
	info, ok := registry[c]
	return info, ok
}

// IsSupported reports whether the chain is in the registry
func IsSupported(c Chain) bool {
	_, ok := registry[c]
	return ok
}

// All returns every supported chain sorted by name
func All() []Chain {
	out := make([]Chain, 0, len(registry))
	for c := range registry {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// ByChainID resolves an EVM chain id back to the chain name
func ByChainID(id uint64) (Chain, bool) {
	for _, info := range registry {
		if info.EVM && info.ChainID == id {
			return info.Name, true
		}
	}
	return "", false
}

// ChainID returns the EVM chain id or an error for unknown and non EVM chains
func ChainID(c Chain) (uint64, error) {
	info, ok := registry[c]
	if !ok {
		return 0, fmt.Errorf("unsupported chain %q", c)
	}
	if !info.EVM {
		return 0, fmt.Errorf("chain %q is not an EVM chain", c)
	}
	return info.ChainID, nil
}

// GasEstimateUsd returns the per transaction gas estimate, zero for unknown chains
func GasEstimateUsd(c Chain) decimal.Decimal {
	return registry[c].GasEstimateUsd
}

// Intermediates returns the bridgeable tokens of a chain in preference order (USDC first)
func Intermediates(c Chain) []Token {
	return slices.Clone(registry[c].Intermediates)
}

// IntermediateBySymbol finds a bridge friendly token by symbol on the given chain
func IntermediateBySymbol(c Chain, symbol string) (Token, bool) {
	for _, t := range registry[c].Intermediates {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return Token{}, false
}

// IntermediateByAddress finds a bridge friendly token by address on the given chain
func IntermediateByAddress(c Chain, address string) (Token, bool) {
	for _, t := range registry[c].Intermediates {
		if SameAddress(t.Address, address) {
			return t, true
		}
	}
	return Token{}, false
}

// SameAddress compares two token addresses. EVM addresses are case insensitive,
// everything else (Solana mints) is compared verbatim.
func SameAddress(a, b string) bool {
	if common.IsHexAddress(a) && common.IsHexAddress(b) {
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return a == b
}

// ValidAddress checks an account or token address for the given chain
func ValidAddress(c Chain, address string) bool {
	info, ok := registry[c]
	if !ok || address == "" {
		return false
	}
	if info.EVM {
		return common.IsHexAddress(address)
	}
	// base58 Solana keys are 32 to 44 characters
	return len(address) >= 32 && len(address) <= 44
}

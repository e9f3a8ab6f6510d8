package planner

import (
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/scoring"
)

// ErrInvalidRequest wraps every validation failure of a quote request
var ErrInvalidRequest = errors.New("invalid consolidation request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// Validate checks the shape of a quote request before any upstream is queried
func Validate(req models.ConsolidationQuoteRequest, maxChains int) error {
	if maxChains <= 0 {
		maxChains = MaxChainsPerConsolidation
	}
	if len(req.Sources) == 0 {
		return invalid("no source chains provided")
	}
	if len(req.Sources) > maxChains {
		return invalid("too many source chains: %d > %d", len(req.Sources), maxChains)
	}
	if req.DestinationChain == "" {
		return invalid("destination chain is required")
	}
	if !chains.IsSupported(req.DestinationChain) {
		return invalid("unsupported destination chain %q", req.DestinationChain)
	}
	if req.DestinationToken == "" {
		return invalid("destination token is required")
	}
	if !chains.ValidAddress(req.DestinationChain, req.DestinationToken) {
		return invalid("destination token %q is not a valid %s address", req.DestinationToken, req.DestinationChain)
	}
	if req.UserAddress == "" {
		return invalid("user address is required")
	}
	if !chains.ValidAddress(req.DestinationChain, req.UserAddress) {
		return invalid("user address %q is not a valid %s address", req.UserAddress, req.DestinationChain)
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return invalid("unknown priority %q, expected one of %v", req.Priority, scoring.Strategies())
	}
	if req.SlippageBps != nil && *req.SlippageBps >= 10000 {
		return invalid("slippage of %d bps is not below 100%%", *req.SlippageBps)
	}

	seen := make(map[chains.Chain]bool, len(req.Sources))
	for _, source := range req.Sources {
		if source.Chain == "" {
			return invalid("source chain is required")
		}
		if seen[source.Chain] {
			return invalid("chain %s listed more than once", source.Chain)
		}
		seen[source.Chain] = true
		if len(source.Tokens) == 0 {
			return invalid("no tokens provided for chain %s", source.Chain)
		}
		for _, t := range source.Tokens {
			if t.TokenAddress == "" {
				return invalid("token without address on chain %s", source.Chain)
			}
			if t.Amount == nil || t.Amount.Sign() < 0 {
				return invalid("token %s on chain %s has no valid amount", t.TokenAddress, source.Chain)
			}
			if t.ValueUsd.IsNegative() {
				return invalid("token %s on chain %s has a negative value", t.TokenAddress, source.Chain)
			}
		}
	}
	return nil
}

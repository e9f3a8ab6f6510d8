package planner

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
	"github.com/shopspring/decimal"
)

// Simulate runs a planning pass and reports per chain whether a swap and a
// bridge route exist. Unlike Quote it does not fail when no chain is viable.
func (p *Planner) Simulate(ctx context.Context, req models.ConsolidationQuoteRequest) (*models.Simulation, error) {
	plan, err := p.Quote(ctx, req)
	var noRoutes *NoViableRoutesError
	switch {
	case errors.As(err, &noRoutes):
	case err != nil:
		return nil, err
	}

	sim := &models.Simulation{TotalExpectedOutputUsd: decimal.Zero, AllRoutesAvailable: true}
	skipped := []models.SkippedChain{}
	if plan != nil {
		skipped = plan.Skipped
		for _, cp := range plan.ChainPlans {
			sim.Chains = append(sim.Chains, models.ChainSimulation{
				Chain:              cp.Chain,
				CanSwap:            true,
				CanBridge:          true,
				EstimatedOutputUsd: cp.ExpectedOutputUsd,
				Errors:             []string{},
			})
			sim.TotalExpectedOutputUsd = sim.TotalExpectedOutputUsd.Add(cp.ExpectedOutputUsd)
		}
	} else {
		skipped = noRoutes.Skipped
		if len(skipped) == 0 {
			sim.AllRoutesAvailable = false
		}
	}

	for _, s := range skipped {
		msg := s.Reason
		if s.Detail != "" {
			msg += ": " + s.Detail
		}
		sim.Chains = append(sim.Chains, models.ChainSimulation{
			Chain:              s.Chain,
			CanSwap:            s.Reason == models.SkipNoBridgeRoute,
			CanBridge:          false,
			EstimatedOutputUsd: decimal.Zero,
			Errors:             []string{msg},
		})
		sim.AllRoutesAvailable = false
	}

	slices.SortFunc(sim.Chains, func(a, b models.ChainSimulation) int {
		return strings.Compare(string(a.Chain), string(b.Chain))
	})
	return sim, nil
}

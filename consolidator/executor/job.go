package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
	"github.com/shopspring/decimal"
)

// Job is the queue payload of one consolidation, enough to rebuild the plan
// without the planner
type Job struct {
	ConsolidationID  string                          `json:"consolidationId"`
	PlanID           string                          `json:"planId"`
	UserID           string                          `json:"userId"`
	UserAddress      string                          `json:"userAddress"`
	ChainPlans       []models.ChainConsolidationPlan `json:"chainPlans"`
	DestinationChain chains.Chain                    `json:"destinationChain"`
	DestinationToken string                          `json:"destinationToken"`
	SlippageBps      uint32                          `json:"slippageBps"`
	PermitSignatures map[chains.Chain]string         `json:"permitSignatures"`
	ExpiresAt        time.Time                       `json:"expiresAt"`
}

// NewJob captures a plan and its signatures. consolidationID may be empty.
func NewJob(consolidationID string, plan *models.ConsolidationPlan, signatures map[chains.Chain]string) Job {
	return Job{
		ConsolidationID:  consolidationID,
		PlanID:           plan.ID,
		UserID:           plan.UserID,
		UserAddress:      plan.UserAddress,
		ChainPlans:       plan.ChainPlans,
		DestinationChain: plan.DestinationChain,
		DestinationToken: plan.DestinationToken,
		SlippageBps:      plan.SlippageBps,
		PermitSignatures: signatures,
		ExpiresAt:        plan.ExpiresAt,
	}
}

// Plan rebuilds the consolidation plan the job was created from
func (j Job) Plan() *models.ConsolidationPlan {
	plan := &models.ConsolidationPlan{
		ID:                     j.PlanID,
		UserID:                 j.UserID,
		UserAddress:            j.UserAddress,
		ChainPlans:             j.ChainPlans,
		DestinationChain:       j.DestinationChain,
		DestinationToken:       j.DestinationToken,
		SlippageBps:            j.SlippageBps,
		ExpiresAt:              j.ExpiresAt,
		TotalInputValueUsd:     decimal.Zero,
		ExpectedOutputValueUsd: decimal.Zero,
	}
	for _, cp := range j.ChainPlans {
		plan.TotalInputValueUsd = plan.TotalInputValueUsd.Add(cp.Swap.InputValueUsd)
		plan.ExpectedOutputValueUsd = plan.ExpectedOutputValueUsd.Add(cp.ExpectedOutputUsd)
	}
	return plan
}

// ExecuteJob runs a queued job under the consolidation id it was enqueued with
func (e *Executor) ExecuteJob(ctx context.Context, job Job) (*Run, error) {
	if job.ConsolidationID != "" && !models.IsConsolidationID(job.ConsolidationID) {
		return nil, fmt.Errorf("%w: malformed consolidation id %q", ErrInvalidPlan, job.ConsolidationID)
	}
	return e.start(ctx, job.Plan(), job.PermitSignatures, job.ConsolidationID)
}

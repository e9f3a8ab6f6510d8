package models

import (
	"math/big"
	"slices"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/shopspring/decimal"
)

// ConsolidationStatus is the overall state of a consolidation
type ConsolidationStatus string

const (
	StatusPending        ConsolidationStatus = "PENDING"
	StatusQuoting        ConsolidationStatus = "QUOTING"
	StatusQuoted         ConsolidationStatus = "QUOTED"
	StatusExecuting      ConsolidationStatus = "EXECUTING"
	StatusPartialSuccess ConsolidationStatus = "PARTIAL_SUCCESS"
	StatusCompleted      ConsolidationStatus = "COMPLETED"
	StatusFailed         ConsolidationStatus = "FAILED"
	StatusExpired        ConsolidationStatus = "EXPIRED"
)

// IsTerminal reports whether the consolidation will not change anymore
func (s ConsolidationStatus) IsTerminal() bool {
	switch s {
	case StatusPartialSuccess, StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

var consolidationTransitions = map[ConsolidationStatus][]ConsolidationStatus{
	StatusPending:   {StatusQuoting, StatusFailed},
	StatusQuoting:   {StatusQuoted, StatusFailed},
	StatusQuoted:    {StatusExecuting, StatusExpired},
	StatusExecuting: {StatusPartialSuccess, StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal consolidation transition
func (s ConsolidationStatus) CanTransition(to ConsolidationStatus) bool {
	return slices.Contains(consolidationTransitions[s], to)
}

// ChainOperationStatus is the state of one chain's swap and bridge pipeline
type ChainOperationStatus string

const (
	ChainPending        ChainOperationStatus = "PENDING"
	ChainSwapping       ChainOperationStatus = "SWAPPING"
	ChainSwapComplete   ChainOperationStatus = "SWAP_COMPLETE"
	ChainBridging       ChainOperationStatus = "BRIDGING"
	ChainBridgeComplete ChainOperationStatus = "BRIDGE_COMPLETE"
	ChainCompleted      ChainOperationStatus = "COMPLETED"
	ChainFailed         ChainOperationStatus = "FAILED"
	ChainSkipped        ChainOperationStatus = "SKIPPED"
)

// IsTerminal reports whether the chain operation is finished
func (s ChainOperationStatus) IsTerminal() bool {
	switch s {
	case ChainCompleted, ChainFailed, ChainSkipped:
		return true
	}
	return false
}

// same chain plans go straight from SWAP_COMPLETE to COMPLETED
var chainTransitions = map[ChainOperationStatus][]ChainOperationStatus{
	ChainPending:        {ChainSwapping, ChainSkipped, ChainFailed},
	ChainSwapping:       {ChainSwapComplete, ChainFailed},
	ChainSwapComplete:   {ChainBridging, ChainCompleted, ChainFailed},
	ChainBridging:       {ChainBridgeComplete, ChainFailed},
	ChainBridgeComplete: {ChainCompleted, ChainFailed},
}

// CanTransition reports whether from -> to is a legal chain transition
func (s ChainOperationStatus) CanTransition(to ChainOperationStatus) bool {
	return slices.Contains(chainTransitions[s], to)
}

// Weight is the progress contribution of a chain in this state, 0 to 100
func (s ChainOperationStatus) Weight() int {
	switch s {
	case ChainSwapping:
		return 25
	case ChainSwapComplete:
		return 50
	case ChainBridging:
		return 75
	case ChainBridgeComplete:
		return 90
	case ChainCompleted, ChainFailed, ChainSkipped:
		return 100
	}
	return 0
}

// DeriveStatus computes the overall status from the chain statuses alone.
// COMPLETED iff every chain completed, PARTIAL_SUCCESS iff at least one chain
// completed and at least one failed or was skipped, FAILED otherwise.
// While any chain is still running the consolidation is EXECUTING.
func DeriveStatus(ops []ChainOperationStatus) ConsolidationStatus {
	completed := 0
	for _, op := range ops {
		if !op.IsTerminal() {
			return StatusExecuting
		}
		if op == ChainCompleted {
			completed++
		}
	}
	switch {
	case len(ops) > 0 && completed == len(ops):
		return StatusCompleted
	case completed > 0:
		return StatusPartialSuccess
	}
	return StatusFailed
}

// Progress is the mean chain weight, rounded down
func Progress(ops []ChainOperationStatus) int {
	if len(ops) == 0 {
		return 100
	}
	total := 0
	for _, op := range ops {
		total += op.Weight()
	}
	return total / len(ops)
}

// Error stages
const (
	StageSwap      = "swap"
	StageBridge    = "bridge"
	StageSignature = "signature"
	StageCancelled = "cancelled"
)

// ChainError records why a chain did not complete
type ChainError struct {
	Chain     chains.Chain `json:"chain"`
	Stage     string       `json:"stage"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

// ChainOperationStatusDetail is the live state of one chain pipeline
type ChainOperationStatusDetail struct {
	Chain             chains.Chain         `json:"chain"`
	Status            ChainOperationStatus `json:"status"`
	InputValueUsd     decimal.Decimal      `json:"inputValueUsd"`
	SwapTxHashes      []string             `json:"swapTxHashes,omitempty"`
	SwapConfirmed     bool                 `json:"swapConfirmed"`
	BridgeProvider    string               `json:"bridgeProvider,omitempty"`
	BridgeTxHash      string               `json:"bridgeTxHash,omitempty"`
	BridgeConfirmed   bool                 `json:"bridgeConfirmed"`
	BridgeStatus      bridges.Status       `json:"bridgeStatus,omitempty"`
	DestinationTxHash string               `json:"destinationTxHash,omitempty"`
	OutputAmount      *big.Int             `json:"outputAmount,omitempty"`
	SwapError         string               `json:"swapError,omitempty"`
	BridgeError       string               `json:"bridgeError,omitempty"`
	RetryCount        int                  `json:"retryCount"`
	StartedAt         *time.Time           `json:"startedAt,omitempty"`
	UpdatedAt         time.Time            `json:"updatedAt"`
	CompletedAt       *time.Time           `json:"completedAt,omitempty"`
}

// ConsolidationStatusDetail is the pollable snapshot of an execution.
// CompletedChains counts COMPLETED chains only, FinishedChains every terminal one.
type ConsolidationStatusDetail struct {
	ConsolidationID        string                       `json:"consolidationId"`
	PlanID                 string                       `json:"planId"`
	UserID                 string                       `json:"userId"`
	UserAddress            string                       `json:"userAddress"`
	Status                 ConsolidationStatus          `json:"status"`
	ChainOperations        []ChainOperationStatusDetail `json:"chainOperations"`
	CompletedChains        int                          `json:"completedChains"`
	FinishedChains         int                          `json:"finishedChains"`
	TotalChains            int                          `json:"totalChains"`
	ProgressPercent        int                          `json:"progressPercent"`
	DestinationChain       chains.Chain                 `json:"destinationChain"`
	DestinationToken       string                       `json:"destinationToken"`
	TotalInputValueUsd     decimal.Decimal              `json:"totalInputValueUsd"`
	ExpectedOutputValueUsd decimal.Decimal              `json:"expectedOutputValueUsd"`
	ActualOutputAmount     *big.Int                     `json:"actualOutputAmount,omitempty"`
	Errors                 []ChainError                 `json:"errors"`
	StartedAt              time.Time                    `json:"startedAt"`
	UpdatedAt              time.Time                    `json:"updatedAt"`
	CompletedAt            *time.Time                   `json:"completedAt,omitempty"`
}

// NewStatus returns the QUOTED status of a consolidation about to run plan,
// with one PENDING operation per chain plan
func NewStatus(consolidationID string, plan *ConsolidationPlan, now time.Time) ConsolidationStatusDetail {
	ops := make([]ChainOperationStatusDetail, 0, len(plan.ChainPlans))
	for _, cp := range plan.ChainPlans {
		op := ChainOperationStatusDetail{
			Chain:         cp.Chain,
			Status:        ChainPending,
			InputValueUsd: cp.Swap.InputValueUsd,
			UpdatedAt:     now,
		}
		if cp.Bridge != nil {
			op.BridgeProvider = cp.Bridge.Provider
		}
		ops = append(ops, op)
	}
	s := ConsolidationStatusDetail{
		ConsolidationID:        consolidationID,
		PlanID:                 plan.ID,
		UserID:                 plan.UserID,
		UserAddress:            plan.UserAddress,
		Status:                 StatusQuoted,
		ChainOperations:        ops,
		DestinationChain:       plan.DestinationChain,
		DestinationToken:       plan.DestinationToken,
		TotalInputValueUsd:     plan.TotalInputValueUsd,
		ExpectedOutputValueUsd: plan.ExpectedOutputValueUsd,
		Errors:                 []ChainError{},
		StartedAt:              now,
		UpdatedAt:              now,
	}
	s.Refresh()
	return s
}

// Chain returns the operation of one chain
func (s *ConsolidationStatusDetail) Chain(chain chains.Chain) *ChainOperationStatusDetail {
	for i := range s.ChainOperations {
		if s.ChainOperations[i].Chain == chain {
			return &s.ChainOperations[i]
		}
	}
	return nil
}

// Refresh recomputes the derived fields from the chain operations.
// The overall status is only touched while executing.
func (s *ConsolidationStatusDetail) Refresh() {
	ops := make([]ChainOperationStatus, len(s.ChainOperations))
	completed, finished := 0, 0
	for i, op := range s.ChainOperations {
		ops[i] = op.Status
		if op.Status == ChainCompleted {
			completed++
		}
		if op.Status.IsTerminal() {
			finished++
		}
	}
	s.CompletedChains = completed
	s.FinishedChains = finished
	s.TotalChains = len(ops)
	s.ProgressPercent = Progress(ops)
	if s.Status == StatusExecuting {
		s.Status = DeriveStatus(ops)
	}
}

// Clone returns a deep copy safe to hand to other goroutines
func (s ConsolidationStatusDetail) Clone() ConsolidationStatusDetail {
	out := s
	out.ActualOutputAmount = cloneInt(s.ActualOutputAmount)
	out.CompletedAt = cloneTime(s.CompletedAt)
	out.Errors = slices.Clone(s.Errors)
	out.ChainOperations = make([]ChainOperationStatusDetail, len(s.ChainOperations))
	for i, op := range s.ChainOperations {
		op.SwapTxHashes = slices.Clone(op.SwapTxHashes)
		op.OutputAmount = cloneInt(op.OutputAmount)
		op.StartedAt = cloneTime(op.StartedAt)
		op.CompletedAt = cloneTime(op.CompletedAt)
		out.ChainOperations[i] = op
	}
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

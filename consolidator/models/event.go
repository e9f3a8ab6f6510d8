package models

import (
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
)

// EventType names a consolidation state change
type EventType string

const (
	EventConsolidationStarted   EventType = "consolidation_started"
	EventChainSkipped           EventType = "chain_skipped"
	EventChainSwapStarted       EventType = "chain_swap_started"
	EventChainSwapCompleted     EventType = "chain_swap_completed"
	EventChainBridgeStarted     EventType = "chain_bridge_started"
	EventChainBridgeCompleted   EventType = "chain_bridge_completed"
	EventChainCompleted         EventType = "chain_completed"
	EventChainFailed            EventType = "chain_failed"
	EventChainRetry             EventType = "chain_retry"
	EventConsolidationCompleted EventType = "consolidation_completed"
	EventConsolidationPartial   EventType = "consolidation_partial"
	EventConsolidationFailed    EventType = "consolidation_failed"
	EventConsolidationExpired   EventType = "consolidation_expired"
)

// IsTerminal is true for the last event of a run
func (t EventType) IsTerminal() bool {
	switch t {
	case EventConsolidationCompleted, EventConsolidationPartial, EventConsolidationFailed, EventConsolidationExpired:
		return true
	}
	return false
}

// TerminalEvent maps a final consolidation status to its closing event
func TerminalEvent(s ConsolidationStatus) EventType {
	switch s {
	case StatusCompleted:
		return EventConsolidationCompleted
	case StatusPartialSuccess:
		return EventConsolidationPartial
	case StatusExpired:
		return EventConsolidationExpired
	}
	return EventConsolidationFailed
}

// ConsolidationEvent is emitted for every state transition of an execution
type ConsolidationEvent struct {
	Type            EventType      `json:"type"`
	ConsolidationID string         `json:"consolidationId"`
	UserID          string         `json:"userId"`
	Chain           chains.Chain   `json:"chain,omitempty"`
	TxHash          string         `json:"txHash,omitempty"`
	Error           string         `json:"error,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

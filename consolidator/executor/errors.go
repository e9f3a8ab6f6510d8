package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/evm"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/upstream"
)

var (
	// ErrQuoteStale rejects plans executed after their expiry
	ErrQuoteStale = errors.New("consolidation plan expired, request a new quote")
	// ErrAlreadyExecuted rejects a plan id that was executed before
	ErrAlreadyExecuted = errors.New("consolidation plan already executed")
	// ErrInvalidPlan rejects plans that are not executable as given
	ErrInvalidPlan = errors.New("invalid consolidation plan")
	// ErrUnknownConsolidation is returned by Status for ids this executor never ran
	ErrUnknownConsolidation = errors.New("unknown consolidation")
	// ErrPriceMoved fails a swap whose fresh quote no longer covers the planned minimum
	ErrPriceMoved = errors.New("swap output fell below the planned minimum")
	// ErrRouteGone fails a swap whose aggregator no longer quotes the pair
	ErrRouteGone = errors.New("swap route no longer available")
	// ErrBridgeTimeout fails a transfer that did not settle within the bridge timeout
	ErrBridgeTimeout = errors.New("bridge transfer not final before timeout")

	// ErrReverted is returned for mined transactions that failed
	ErrReverted = evm.ErrReverted
)

// StaleQuoteError rejects a plan used after its expiry. Status is the EXPIRED
// record of the consolidation that never ran; the caller decides where to keep it.
type StaleQuoteError struct {
	PlanID    string
	ExpiresAt time.Time
	Status    models.ConsolidationStatusDetail
}

func (e *StaleQuoteError) Error() string {
	return fmt.Sprintf("%v: plan %s expired at %s", ErrQuoteStale, e.PlanID, e.ExpiresAt.Format(time.RFC3339))
}

func (e *StaleQuoteError) Unwrap() error {
	return ErrQuoteStale
}

// BridgeFailedError is a bridge transfer that ended in a terminal non success state
type BridgeFailedError struct {
	Provider string
	Status   bridges.Status
	Message  string
}

func (e *BridgeFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s transfer ended %s", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s transfer ended %s: %s", e.Provider, e.Status, e.Message)
}

// IsTransient reports whether a failed step is worth retrying: network errors,
// 429/5xx responses, open circuits and receipts that are not available yet.
// Reverts and terminal bridge states never are.
func IsTransient(err error) bool {
	var bridgeErr *BridgeFailedError
	switch {
	case err == nil, errors.Is(err, ErrReverted), errors.As(err, &bridgeErr):
		return false
	case errors.Is(err, evm.ErrReceiptNotFound):
		return true
	}
	return upstream.IsTransient(err)
}

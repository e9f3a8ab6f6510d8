package executor

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
)

// Run is one execution of a plan. Its status is only written by the executor;
// Snapshot hands out deep copies.
type Run struct {
	id     string
	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status models.ConsolidationStatusDetail

	// events are queued without bound and pumped into the channel so a slow
	// consumer never stalls a chain pipeline
	events  chan models.ConsolidationEvent
	queue   []models.ConsolidationEvent
	notify  chan struct{}
	sealed  bool
	history []models.ConsolidationEvent
}

func newRun(id string, plan *models.ConsolidationPlan, now func() time.Time) *Run {
	r := &Run{
		id:     id,
		now:    now,
		done:   make(chan struct{}),
		events: make(chan models.ConsolidationEvent, 16),
		notify: make(chan struct{}, 1),
		status: models.NewStatus(id, plan, now()),
	}
	go r.pump()
	return r
}

// ID returns the consolidation id
func (r *Run) ID() string {
	return r.id
}

// Events streams every state change. The channel is closed after the
// consolidation_* terminal event and must be drained.
func (r *Run) Events() <-chan models.ConsolidationEvent {
	return r.events
}

// Snapshot returns a copy of the current status
func (r *Run) Snapshot() models.ConsolidationStatusDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Clone()
}

// History returns every event emitted so far
func (r *Run) History() []models.ConsolidationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ConsolidationEvent, len(r.history))
	copy(out, r.history)
	return out
}

// Cancel stops scheduling chains that have not started yet.
// Chains already running finish.
func (r *Run) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Done is closed once the run reached its final status
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run is finished or ctx ends
func (r *Run) Wait(ctx context.Context) (models.ConsolidationStatusDetail, error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

func (r *Run) pump() {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			ev := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			r.events <- ev
			continue
		}
		if r.sealed {
			r.mu.Unlock()
			close(r.events)
			return
		}
		r.mu.Unlock()
		<-r.notify
	}
}

// emitLocked queues an event, r.mu must be held
func (r *Run) emitLocked(ev models.ConsolidationEvent) {
	if r.sealed {
		return
	}
	ev.ConsolidationID = r.id
	ev.UserID = r.status.UserID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}
	r.queue = append(r.queue, ev)
	r.history = append(r.history, ev)
	if ev.Type.IsTerminal() {
		r.sealed = true
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Run) emit(ev models.ConsolidationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(ev)
}

// start moves the consolidation from QUOTED to EXECUTING
func (r *Run) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Status = models.StatusExecuting
	r.status.UpdatedAt = r.now()
	r.emitLocked(models.ConsolidationEvent{
		Type: models.EventConsolidationStarted,
		Data: map[string]any{
			"chains":           len(r.status.ChainOperations),
			"destinationChain": string(r.status.DestinationChain),
		},
	})
}

// advance applies a legal chain transition, lets mutate fill in details and
// emits the event when ev.Type is set
func (r *Run) advance(
	chain chains.Chain,
	to models.ChainOperationStatus,
	ev models.ConsolidationEvent,
	mutate func(op *models.ChainOperationStatusDetail),
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := r.status.Chain(chain)
	if op == nil {
		return fmt.Errorf("%w: chain %s is not part of the plan", ErrInvalidPlan, chain)
	}
	if !op.Status.CanTransition(to) {
		return fmt.Errorf("illegal chain transition %s -> %s on %s", op.Status, to, chain)
	}
	now := r.now()
	if op.Status == models.ChainPending && to != models.ChainSkipped {
		op.StartedAt = &now
	}
	op.Status = to
	op.UpdatedAt = now
	if to.IsTerminal() {
		op.CompletedAt = &now
	}
	if mutate != nil {
		mutate(op)
	}
	r.status.UpdatedAt = now
	r.status.Refresh()

	if ev.Type != "" {
		ev.Chain = chain
		ev.Timestamp = now
		r.emitLocked(ev)
	}
	return nil
}

// update changes chain details without a transition
func (r *Run) update(chain chains.Chain, mutate func(op *models.ChainOperationStatusDetail)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op := r.status.Chain(chain); op != nil {
		mutate(op)
		op.UpdatedAt = r.now()
		r.status.UpdatedAt = op.UpdatedAt
	}
}

// fail records a chain error. Chains still PENDING are skipped, started ones fail.
func (r *Run) fail(chain chains.Chain, stage string, err error) models.ChainOperationStatus {
	r.mu.Lock()
	op := r.status.Chain(chain)
	if op == nil || op.Status.IsTerminal() {
		r.mu.Unlock()
		return ""
	}
	to, evType := models.ChainFailed, models.EventChainFailed
	if op.Status == models.ChainPending {
		to, evType = models.ChainSkipped, models.EventChainSkipped
	}
	r.status.Errors = append(r.status.Errors, models.ChainError{
		Chain:     chain,
		Stage:     stage,
		Message:   err.Error(),
		Timestamp: r.now(),
	})
	r.mu.Unlock()

	_ = r.advance(chain, to, models.ConsolidationEvent{
		Type:  evType,
		Error: err.Error(),
		Data:  map[string]any{"stage": stage},
	}, func(op *models.ChainOperationStatusDetail) {
		switch stage {
		case models.StageSwap:
			op.SwapError = err.Error()
		case models.StageBridge:
			op.BridgeError = err.Error()
		}
	})
	return to
}

func (r *Run) retried(chain chains.Chain, stage string, retry int, err error, wait time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op := r.status.Chain(chain)
	if op == nil {
		return
	}
	op.RetryCount++
	op.UpdatedAt = r.now()
	r.emitLocked(models.ConsolidationEvent{
		Type:  models.EventChainRetry,
		Chain: chain,
		Error: err.Error(),
		Data: map[string]any{
			"stage":   stage,
			"retry":   retry,
			"delayMs": wait.Milliseconds(),
		},
	})
}

// finish derives the final status, emits the terminal event and releases waiters
func (r *Run) finish() models.ConsolidationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.status.Refresh()
	total := new(big.Int)
	delivered := false
	for _, op := range r.status.ChainOperations {
		if op.Status == models.ChainCompleted && op.OutputAmount != nil {
			total.Add(total, op.OutputAmount)
			delivered = true
		}
	}
	if delivered {
		r.status.ActualOutputAmount = total
	}
	r.status.UpdatedAt = now
	r.status.CompletedAt = &now

	final := r.status.Status
	ev := models.ConsolidationEvent{
		Type: models.TerminalEvent(final),
		Data: map[string]any{
			"status":          string(final),
			"completedChains": r.countLocked(models.ChainCompleted),
			"totalChains":     r.status.TotalChains,
		},
	}
	if delivered {
		ev.Data["outputAmount"] = total.String()
	}
	r.emitLocked(ev)
	close(r.done)
	return final
}

func (r *Run) countLocked(s models.ChainOperationStatus) int {
	n := 0
	for _, op := range r.status.ChainOperations {
		if op.Status == s {
			n++
		}
	}
	return n
}

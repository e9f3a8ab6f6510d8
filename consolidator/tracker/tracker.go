// Package tracker persists plans, consolidation statuses, event logs and user
// histories so they outlive the executor's in-memory runs.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "tracker").Logger()
}

const (
	DefaultEventsLimit  = 50
	DefaultHistoryLimit = 20
	// planGrace keeps expired plans around so executing one reports it as stale
	planGrace = 10 * time.Minute
)

// ErrPlanExpired is returned when storing a plan that already expired
var ErrPlanExpired = errors.New("plan already expired")

// Run is a running consolidation. *executor.Run implements it.
type Run interface {
	ID() string
	Events() <-chan models.ConsolidationEvent
	Snapshot() models.ConsolidationStatusDetail
}

// Tracker records consolidations in a Store
type Tracker struct {
	store Store
	now   func() time.Time
}

// New creates a tracker. now may be nil.
func New(store Store, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, now: now}
}

// Store returns the underlying store
func (t *Tracker) Store() Store {
	return t.store
}

// StorePlan keeps a quoted plan until shortly after it expires
func (t *Tracker) StorePlan(ctx context.Context, plan *models.ConsolidationPlan) error {
	ttl := plan.ExpiresAt.Sub(t.now())
	if ttl <= 0 {
		return fmt.Errorf("%w: %s", ErrPlanExpired, plan.ID)
	}
	return t.store.SavePlan(ctx, plan, ttl+planGrace)
}

// Plan returns a stored plan or ErrNotFound
func (t *Tracker) Plan(ctx context.Context, planID string) (*models.ConsolidationPlan, error) {
	return t.store.GetPlan(ctx, planID)
}

// Status returns the last recorded status or ErrNotFound
func (t *Tracker) Status(ctx context.Context, consolidationID string) (models.ConsolidationStatusDetail, error) {
	return t.store.GetStatus(ctx, consolidationID)
}

// Events returns up to limit events, newest first. limit is clamped to MaxEvents.
func (t *Tracker) Events(ctx context.Context, consolidationID string, limit int) ([]models.ConsolidationEvent, error) {
	if limit <= 0 {
		limit = DefaultEventsLimit
	}
	return t.store.Events(ctx, consolidationID, min(limit, MaxEvents))
}

// History returns the statuses of a user's consolidations, newest first.
// Consolidations whose status already expired are left out.
func (t *Tracker) History(ctx context.Context, user string, offset, limit int) ([]models.ConsolidationStatusDetail, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	ids, err := t.store.History(ctx, user, offset, min(limit, MaxHistory))
	if err != nil {
		return nil, err
	}
	out := make([]models.ConsolidationStatusDetail, 0, len(ids))
	for _, id := range ids {
		status, err := t.store.GetStatus(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

// Consume records a run until its event stream closes. The stream is always
// drained, store failures are logged and the first one is returned.
func (t *Tracker) Consume(ctx context.Context, run Run) error {
	logger := log.With().Str("consolidation", run.ID()).Logger()
	var first error
	failures := 0
	record := func(err error) {
		if err == nil {
			return
		}
		if first == nil {
			first = err
		}
		failures++
		logger.Warn().Err(err).Msg("Failed to record consolidation state")
	}

	snapshot := run.Snapshot()
	record(t.store.AddHistory(ctx, snapshot.UserAddress, run.ID()))
	record(t.store.SaveStatus(ctx, snapshot))

	for ev := range run.Events() {
		record(t.store.AppendEvent(ctx, ev))
		record(t.store.SaveStatus(ctx, run.Snapshot()))
	}
	final := run.Snapshot()
	record(t.store.SaveStatus(ctx, final))

	logger.Debug().Str("status", string(final.Status)).Int("failures", failures).Msg("Consolidation recorded")
	if first != nil {
		return fmt.Errorf("%d tracker writes failed: %w", failures, first)
	}
	return nil
}

// RecordExpired keeps the EXPIRED record of a consolidation that was rejected
// because its plan went stale, with a single consolidation_expired event
func (t *Tracker) RecordExpired(ctx context.Context, status models.ConsolidationStatusDetail) error {
	if status.Status != models.StatusExpired {
		return fmt.Errorf("consolidation %s is %s, not %s", status.ConsolidationID, status.Status, models.StatusExpired)
	}
	ev := models.ConsolidationEvent{
		Type:            models.EventConsolidationExpired,
		ConsolidationID: status.ConsolidationID,
		UserID:          status.UserID,
		Data:            map[string]any{"planId": status.PlanID},
		Timestamp:       t.now(),
	}
	return errors.Join(
		t.store.AddHistory(ctx, status.UserAddress, status.ConsolidationID),
		t.store.SaveStatus(ctx, status),
		t.store.AppendEvent(ctx, ev),
	)
}

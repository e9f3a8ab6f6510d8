package tracker_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/tracker"
	"github.com/zeebo/assert"
)

var now = time.Unix(1_700_000_000, 0)

const user = "0xAbCd000000000000000000000000000000000001"

type fakeRun struct {
	id       string
	events   chan models.ConsolidationEvent
	snapshot models.ConsolidationStatusDetail
}

func newFakeRun(id string, status models.ConsolidationStatus, events ...models.EventType) *fakeRun {
	r := &fakeRun{
		id:     id,
		events: make(chan models.ConsolidationEvent, len(events)),
		snapshot: models.ConsolidationStatusDetail{
			ConsolidationID:  id,
			UserAddress:      user,
			Status:           status,
			DestinationChain: chains.Base,
		},
	}
	for _, typ := range events {
		r.events <- models.ConsolidationEvent{Type: typ, ConsolidationID: id, Timestamp: now}
	}
	close(r.events)
	return r
}

func (r *fakeRun) ID() string                                 { return r.id }
func (r *fakeRun) Events() <-chan models.ConsolidationEvent   { return r.events }
func (r *fakeRun) Snapshot() models.ConsolidationStatusDetail { return r.snapshot }

// failingStore rejects every write
type failingStore struct {
	*tracker.MemoryStore
}

var errDown = errors.New("store down")

func (failingStore) SaveStatus(context.Context, models.ConsolidationStatusDetail) error {
	return errDown
}
func (failingStore) AppendEvent(context.Context, models.ConsolidationEvent) error { return errDown }

func TestConsumeRecordsRun(t *testing.T) {
	ctx := context.Background()
	tr := tracker.New(tracker.NewMemoryStore(), func() time.Time { return now })
	run := newFakeRun("cons-1", models.StatusCompleted,
		models.EventConsolidationStarted,
		models.EventChainSwapStarted,
		models.EventChainCompleted,
		models.EventConsolidationCompleted,
	)

	assert.NoError(t, tr.Consume(ctx, run))

	status, err := tr.Status(ctx, "cons-1")
	assert.NoError(t, err)
	assert.Equal(t, status.Status, models.StatusCompleted)

	events, err := tr.Events(ctx, "cons-1", 0)
	assert.NoError(t, err)
	assert.Equal(t, len(events), 4)
	assert.Equal(t, events[0].Type, models.EventConsolidationCompleted)
	assert.Equal(t, events[3].Type, models.EventConsolidationStarted)

	// history is keyed by the lowercased address
	history, err := tr.History(ctx, "0xabcd000000000000000000000000000000000001", 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, len(history), 1)
	assert.Equal(t, history[0].ConsolidationID, "cons-1")
}

func TestConsumeDrainsWhenStoreFails(t *testing.T) {
	tr := tracker.New(failingStore{tracker.NewMemoryStore()}, nil)
	run := newFakeRun("cons-2", models.StatusFailed, models.EventConsolidationStarted, models.EventConsolidationFailed)

	err := tr.Consume(context.Background(), run)
	assert.True(t, errors.Is(err, errDown))
	_, open := <-run.Events()
	assert.False(t, open)
}

func TestEventLogKeepsLastHundred(t *testing.T) {
	ctx := context.Background()
	store := tracker.NewMemoryStore()
	for i := range 150 {
		assert.NoError(t, store.AppendEvent(ctx, models.ConsolidationEvent{
			Type:            models.EventChainRetry,
			ConsolidationID: "cons-3",
			Data:            map[string]any{"retry": i},
		}))
	}

	events, err := store.Events(ctx, "cons-3", 0)
	assert.NoError(t, err)
	assert.Equal(t, len(events), tracker.MaxEvents)
	assert.Equal(t, events[0].Data["retry"], 149)
	assert.Equal(t, events[99].Data["retry"], 50)

	tr := tracker.New(store, nil)
	limited, err := tr.Events(ctx, "cons-3", 500)
	assert.NoError(t, err)
	assert.Equal(t, len(limited), tracker.MaxEvents)

	empty, err := tr.Events(ctx, "cons-unknown", 10)
	assert.NoError(t, err)
	assert.Equal(t, len(empty), 0)
}

func TestHistoryPaging(t *testing.T) {
	ctx := context.Background()
	store := tracker.NewMemoryStore()
	tr := tracker.New(store, nil)
	for i := range 5 {
		id := fmt.Sprintf("cons-%d", i)
		assert.NoError(t, store.AddHistory(ctx, user, id))
		if i != 2 {
			assert.NoError(t, store.SaveStatus(ctx, models.ConsolidationStatusDetail{ConsolidationID: id}))
		}
	}

	page, err := tr.History(ctx, user, 1, 3)
	assert.NoError(t, err)
	// cons-3, cons-2 (status gone), cons-1
	assert.Equal(t, len(page), 2)
	assert.Equal(t, page[0].ConsolidationID, "cons-3")
	assert.Equal(t, page[1].ConsolidationID, "cons-1")

	past, err := tr.History(ctx, user, 10, 3)
	assert.NoError(t, err)
	assert.Equal(t, len(past), 0)
}

func TestHistoryKeepsLastFiveHundred(t *testing.T) {
	ctx := context.Background()
	store := tracker.NewMemoryStore()
	for i := range tracker.MaxHistory + 20 {
		assert.NoError(t, store.AddHistory(ctx, user, fmt.Sprintf("cons-%d", i)))
	}
	ids, err := store.History(ctx, user, 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, len(ids), tracker.MaxHistory)
	assert.Equal(t, ids[0], fmt.Sprintf("cons-%d", tracker.MaxHistory+19))
}

func TestStorePlan(t *testing.T) {
	ctx := context.Background()
	tr := tracker.New(tracker.NewMemoryStore(), func() time.Time { return now })

	plan := &models.ConsolidationPlan{ID: "plan-1", ExpiresAt: now.Add(time.Minute)}
	assert.NoError(t, tr.StorePlan(ctx, plan))
	got, err := tr.Plan(ctx, "plan-1")
	assert.NoError(t, err)
	assert.Equal(t, got.ID, "plan-1")

	_, err = tr.Plan(ctx, "plan-missing")
	assert.True(t, errors.Is(err, tracker.ErrNotFound))

	_, err = tr.Status(ctx, "cons-missing")
	assert.True(t, errors.Is(err, tracker.ErrNotFound))

	err = tr.StorePlan(ctx, &models.ConsolidationPlan{ID: "plan-2", ExpiresAt: now})
	assert.True(t, errors.Is(err, tracker.ErrPlanExpired))
}

func TestRecordExpired(t *testing.T) {
	ctx := context.Background()
	tr := tracker.New(tracker.NewMemoryStore(), func() time.Time { return now })

	status := models.ConsolidationStatusDetail{
		ConsolidationID: "cons-expired",
		PlanID:          "plan-1",
		UserAddress:     user,
		Status:          models.StatusExpired,
	}
	assert.NoError(t, tr.RecordExpired(ctx, status))

	got, err := tr.Status(ctx, "cons-expired")
	assert.NoError(t, err)
	assert.Equal(t, got.Status, models.StatusExpired)

	events, err := tr.Events(ctx, "cons-expired", 0)
	assert.NoError(t, err)
	assert.Equal(t, len(events), 1)
	assert.Equal(t, events[0].Type, models.EventConsolidationExpired)

	history, err := tr.History(ctx, user, 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, len(history), 1)
	assert.Equal(t, history[0].PlanID, "plan-1")

	status.Status = models.StatusFailed
	assert.Error(t, tr.RecordExpired(ctx, status))
}

// TestRedisStore runs against a real server when SWEEP_TEST_REDIS_ADDR is set
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("SWEEP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SWEEP_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	store, err := tracker.NewRedisStore(ctx, tracker.RedisOptions{Addr: addr, DB: 15})
	assert.NoError(t, err)
	defer func() { _ = store.Close() }()

	id := models.NewConsolidationID(time.Now())
	tr := tracker.New(store, nil)
	run := newFakeRun(id, models.StatusCompleted, models.EventConsolidationStarted, models.EventConsolidationCompleted)
	assert.NoError(t, tr.Consume(ctx, run))

	status, err := tr.Status(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, status.Status, models.StatusCompleted)

	events, err := tr.Events(ctx, id, 10)
	assert.NoError(t, err)
	assert.Equal(t, len(events), 2)
	assert.Equal(t, events[0].Type, models.EventConsolidationCompleted)

	_, err = tr.Status(ctx, "cons-missing")
	assert.True(t, errors.Is(err, tracker.ErrNotFound))
}

package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps everything in process. State is lost on restart.
type MemoryStore struct {
	// mu serialises the read-modify-write of event logs and histories
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: gocache.New(StatusTTL, 10*time.Minute)}
}

func (s *MemoryStore) SavePlan(_ context.Context, plan *models.ConsolidationPlan, ttl time.Duration) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("plan without id")
	}
	s.cache.Set(planKey(plan.ID), plan, ttl)
	return nil
}

func (s *MemoryStore) GetPlan(_ context.Context, planID string) (*models.ConsolidationPlan, error) {
	v, ok := s.cache.Get(planKey(planID))
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	return v.(*models.ConsolidationPlan), nil
}

func (s *MemoryStore) SaveStatus(_ context.Context, status models.ConsolidationStatusDetail) error {
	s.cache.Set(statusKey(status.ConsolidationID), status.Clone(), StatusTTL)
	return nil
}

func (s *MemoryStore) GetStatus(_ context.Context, consolidationID string) (models.ConsolidationStatusDetail, error) {
	v, ok := s.cache.Get(statusKey(consolidationID))
	if !ok {
		return models.ConsolidationStatusDetail{}, fmt.Errorf("consolidation %s: %w", consolidationID, ErrNotFound)
	}
	return v.(models.ConsolidationStatusDetail).Clone(), nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, ev models.ConsolidationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := eventsKey(ev.ConsolidationID)
	var events []models.ConsolidationEvent
	if v, ok := s.cache.Get(key); ok {
		events = v.([]models.ConsolidationEvent)
	}
	events = prepend(events, ev, MaxEvents)
	s.cache.Set(key, events, EventsTTL)
	return nil
}

func (s *MemoryStore) Events(_ context.Context, consolidationID string, limit int) ([]models.ConsolidationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(eventsKey(consolidationID))
	if !ok {
		return []models.ConsolidationEvent{}, nil
	}
	return window(v.([]models.ConsolidationEvent), 0, limit), nil
}

func (s *MemoryStore) AddHistory(_ context.Context, user, consolidationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := historyKey(user)
	var ids []string
	if v, ok := s.cache.Get(key); ok {
		ids = v.([]string)
	}
	ids = prepend(ids, consolidationID, MaxHistory)
	s.cache.Set(key, ids, HistoryTTL)
	return nil
}

func (s *MemoryStore) History(_ context.Context, user string, offset, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(historyKey(user))
	if !ok {
		return []string{}, nil
	}
	return window(v.([]string), offset, limit), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}

// prepend returns a new slice with v first, trimmed to size
func prepend[T any](list []T, v T, size int) []T {
	out := make([]T, 0, min(len(list)+1, size))
	out = append(out, v)
	for _, item := range list {
		if len(out) == size {
			break
		}
		out = append(out, item)
	}
	return out
}

func window[T any](list []T, offset, limit int) []T {
	if offset >= len(list) {
		return []T{}
	}
	end := len(list)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]T, end-offset)
	copy(out, list[offset:end])
	return out
}

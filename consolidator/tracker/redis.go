package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
	"github.com/redis/go-redis/v9"
)

// RedisOptions selects the redis server of a RedisStore
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps state in redis and publishes every event on
// consolidation:pubsub:<consolidationID> for live subscribers.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings the server
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to redis")
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) SavePlan(ctx context.Context, plan *models.ConsolidationPlan, ttl time.Duration) error {
	return s.set(ctx, planKey(plan.ID), plan, ttl)
}

func (s *RedisStore) GetPlan(ctx context.Context, planID string) (*models.ConsolidationPlan, error) {
	var plan models.ConsolidationPlan
	if err := s.get(ctx, planKey(planID), &plan); err != nil {
		return nil, fmt.Errorf("plan %s: %w", planID, err)
	}
	return &plan, nil
}

func (s *RedisStore) SaveStatus(ctx context.Context, status models.ConsolidationStatusDetail) error {
	return s.set(ctx, statusKey(status.ConsolidationID), status, StatusTTL)
}

func (s *RedisStore) GetStatus(ctx context.Context, consolidationID string) (models.ConsolidationStatusDetail, error) {
	var status models.ConsolidationStatusDetail
	if err := s.get(ctx, statusKey(consolidationID), &status); err != nil {
		return status, fmt.Errorf("consolidation %s: %w", consolidationID, err)
	}
	return status, nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, ev models.ConsolidationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	key := eventsKey(ev.ConsolidationID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, MaxEvents-1)
		pipe.Expire(ctx, key, EventsTTL)
		pipe.Publish(ctx, pubsubKey(ev.ConsolidationID), data)
		return nil
	})
	return err
}

func (s *RedisStore) Events(ctx context.Context, consolidationID string, limit int) ([]models.ConsolidationEvent, error) {
	raw, err := s.client.LRange(ctx, eventsKey(consolidationID), 0, stop(0, limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events of %s: %w", consolidationID, err)
	}
	events := make([]models.ConsolidationEvent, 0, len(raw))
	for _, item := range raw {
		var ev models.ConsolidationEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			log.Warn().Err(err).Str("consolidation", consolidationID).Msg("Skipping undecodable event")
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *RedisStore) AddHistory(ctx context.Context, user, consolidationID string) error {
	key := historyKey(user)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, consolidationID)
		pipe.LTrim(ctx, key, 0, MaxHistory-1)
		pipe.Expire(ctx, key, HistoryTTL)
		return nil
	})
	return err
}

func (s *RedisStore) History(ctx context.Context, user string, offset, limit int) ([]string, error) {
	ids, err := s.client.LRange(ctx, historyKey(user), int64(offset), stop(offset, limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", user, err)
	}
	return ids, nil
}

// Subscribe streams the events of one consolidation as they are appended
func (s *RedisStore) Subscribe(ctx context.Context, consolidationID string) *redis.PubSub {
	return s.client.Subscribe(ctx, pubsubKey(consolidationID))
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisStore) get(ctx context.Context, key string, dest any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	return json.Unmarshal(data, dest)
}

// stop is the inclusive LRANGE end, -1 reads to the end of the list
func stop(offset, limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(offset + limit - 1)
}

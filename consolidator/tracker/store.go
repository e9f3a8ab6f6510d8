package tracker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
)

// ErrNotFound is returned for plans, statuses and histories the store does not hold
var ErrNotFound = errors.New("not found")

const (
	// MaxEvents is the length of the per consolidation event log
	MaxEvents = 100
	// MaxHistory is the number of consolidations remembered per user
	MaxHistory = 500

	StatusTTL  = 7 * 24 * time.Hour
	EventsTTL  = 24 * time.Hour
	HistoryTTL = 90 * 24 * time.Hour
)

// Store persists consolidation state. Event logs and histories are returned
// newest first.
type Store interface {
	SavePlan(ctx context.Context, plan *models.ConsolidationPlan, ttl time.Duration) error
	GetPlan(ctx context.Context, planID string) (*models.ConsolidationPlan, error)

	SaveStatus(ctx context.Context, status models.ConsolidationStatusDetail) error
	GetStatus(ctx context.Context, consolidationID string) (models.ConsolidationStatusDetail, error)

	// AppendEvent keeps the last MaxEvents events of a consolidation
	AppendEvent(ctx context.Context, ev models.ConsolidationEvent) error
	Events(ctx context.Context, consolidationID string, limit int) ([]models.ConsolidationEvent, error)

	// AddHistory keeps the last MaxHistory consolidation ids of a user
	AddHistory(ctx context.Context, user, consolidationID string) error
	History(ctx context.Context, user string, offset, limit int) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

const keyPrefix = "consolidation"

func planKey(id string) string   { return keyPrefix + ":plan:" + id }
func statusKey(id string) string { return keyPrefix + ":status:" + id }
func eventsKey(id string) string { return keyPrefix + ":events:" + id }
func pubsubKey(id string) string { return keyPrefix + ":pubsub:" + id }
func historyKey(u string) string { return keyPrefix + ":user:" + strings.ToLower(u) + ":history" }

// Package executor runs consolidation plans. Every chain goes through its own
// swap then bridge pipeline; chains run in priority order on a bounded pool and
// never wait on each other, so one failing chain cannot stop the others.
package executor

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/evm"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/metrics"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/ratelimit"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "executor").Logger()
}

var tracer = otel.Tracer("github.com/Cogwheel-Validator/spectra-sweep/consolidator/executor")

const (
	DefaultMaxConcurrentChains = 3
	DefaultStatusPollInterval  = 15 * time.Second
	DefaultBridgeTimeout       = time.Hour
	DefaultReceiptPollInterval = 3 * time.Second
	DefaultReceiptTimeout      = 10 * time.Minute
	// DefaultRunRetention keeps finished runs queryable through Status
	DefaultRunRetention = time.Hour
	// executed plan ids outlive any plan TTL so a plan can never run twice
	executedPlanRetention = 24 * time.Hour
)

// Submitter sends transactions on behalf of the user. *evm.Submitter implements it.
type Submitter interface {
	Submit(ctx context.Context, tx evm.Transaction) (string, error)
	// Receipt returns evm.ErrReceiptNotFound while pending and evm.ErrReverted on failure
	Receipt(ctx context.Context, chain chains.Chain, txHash string) (*evm.Receipt, error)
}

// Aggregators resolves the aggregator that issued a swap quote. *dex.Router implements it.
type Aggregators interface {
	Aggregator(name string) (dex.Aggregator, error)
}

// Providers resolves the bridge provider of a leg. *bridges.Registry implements it.
type Providers interface {
	Get(name string) (bridges.Provider, error)
}

// Config tunes the executor, zero values use the defaults
type Config struct {
	MaxConcurrentChains int64
	StatusPollInterval  time.Duration
	BridgeTimeout       time.Duration
	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration
	RunRetention        time.Duration
	Retry               RetryPolicy
	Limits              *ratelimit.Registry
	Metrics             *metrics.Collector
	Now                 func() time.Time
}

// Executor schedules plan executions. It is safe for concurrent use.
type Executor struct {
	aggregators Aggregators
	providers   Providers
	submitter   Submitter

	maxConcurrent int64
	statusPoll    time.Duration
	bridgeTimeout time.Duration
	receiptPoll   time.Duration
	receiptWait   time.Duration
	retention     time.Duration
	retry         RetryPolicy
	limits        *ratelimit.Registry
	metrics       *metrics.Collector
	now           func() time.Time

	runs     *gocache.Cache
	executed *gocache.Cache
}

// New creates an executor
func New(aggregators Aggregators, providers Providers, submitter Submitter, cfg Config) *Executor {
	if cfg.MaxConcurrentChains <= 0 {
		cfg.MaxConcurrentChains = DefaultMaxConcurrentChains
	}
	if cfg.StatusPollInterval <= 0 {
		cfg.StatusPollInterval = DefaultStatusPollInterval
	}
	if cfg.BridgeTimeout <= 0 {
		cfg.BridgeTimeout = DefaultBridgeTimeout
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}
	if cfg.RunRetention <= 0 {
		cfg.RunRetention = DefaultRunRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Executor{
		aggregators:   aggregators,
		providers:     providers,
		submitter:     submitter,
		maxConcurrent: cfg.MaxConcurrentChains,
		statusPoll:    cfg.StatusPollInterval,
		bridgeTimeout: cfg.BridgeTimeout,
		receiptPoll:   cfg.ReceiptPollInterval,
		receiptWait:   cfg.ReceiptTimeout,
		retention:     cfg.RunRetention,
		retry:         cfg.Retry.withDefaults(),
		limits:        cfg.Limits,
		metrics:       cfg.Metrics,
		now:           cfg.Now,
		runs:          gocache.New(cfg.RunRetention, 10*time.Minute),
		executed:      gocache.New(executedPlanRetention, time.Hour),
	}
}

// Execute validates plan and starts it in the background. Cancelling ctx, or
// calling Run.Cancel, stops scheduling further chains. The returned error is
// ErrInvalidPlan, ErrAlreadyExecuted or a *StaleQuoteError wrapping
// ErrQuoteStale; in those cases nothing
// was submitted.
func (e *Executor) Execute(ctx context.Context, plan *models.ConsolidationPlan, signatures map[chains.Chain]string) (*Run, error) {
	return e.start(ctx, plan, signatures, "")
}

func (e *Executor) start(ctx context.Context, plan *models.ConsolidationPlan, signatures map[chains.Chain]string, id string) (*Run, error) {
	if err := validatePlan(plan); err != nil {
		return nil, err
	}
	if _, found := e.executed.Get(plan.ID); found {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExecuted, plan.ID)
	}
	now := e.now()
	if id == "" {
		id = models.NewConsolidationID(now)
	}
	if plan.Expired(now) {
		e.metrics.ExecutionFinished(string(models.StatusExpired))
		log.Warn().Str("plan", plan.ID).Time("expired", plan.ExpiresAt).Msg("Rejected stale plan")
		status := models.NewStatus(id, plan, now)
		status.Status = models.StatusExpired
		status.CompletedAt = &now
		return nil, &StaleQuoteError{PlanID: plan.ID, ExpiresAt: plan.ExpiresAt, Status: status}
	}
	// Add is atomic, two concurrent executions of one plan cannot both pass
	if err := e.executed.Add(plan.ID, id, gocache.DefaultExpiration); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExecuted, plan.ID)
	}

	run := newRun(id, plan, e.now)
	runCtx, cancel := context.WithCancel(ctx)
	run.cancel = cancel
	e.runs.Set(id, run, gocache.NoExpiration)

	sigs := make(map[chains.Chain]string, len(signatures))
	for c, s := range signatures {
		sigs[c] = s
	}
	go func() {
		defer cancel()
		e.execute(runCtx, run, plan, sigs)
	}()
	return run, nil
}

// Status returns a snapshot of a running or recently finished consolidation
func (e *Executor) Status(consolidationID string) (models.ConsolidationStatusDetail, error) {
	v, ok := e.runs.Get(consolidationID)
	if !ok {
		return models.ConsolidationStatusDetail{}, fmt.Errorf("%w: %s", ErrUnknownConsolidation, consolidationID)
	}
	return v.(*Run).Snapshot(), nil
}

// Run returns a running or recently finished consolidation
func (e *Executor) Run(consolidationID string) (*Run, bool) {
	v, ok := e.runs.Get(consolidationID)
	if !ok {
		return nil, false
	}
	return v.(*Run), true
}

func (e *Executor) execute(ctx context.Context, run *Run, plan *models.ConsolidationPlan, signatures map[chains.Chain]string) {
	ctx, span := tracer.Start(ctx, "executor.Execute", trace.WithAttributes(
		attribute.String("consolidation.id", run.ID()),
		attribute.String("plan.id", plan.ID),
		attribute.Int("chains", len(plan.ChainPlans)),
	))
	defer span.End()

	e.metrics.ExecutionStarted()
	run.start()
	log.Info().
		Str("consolidation", run.ID()).
		Str("plan", plan.ID).
		Int("chains", len(plan.ChainPlans)).
		Msg("Consolidation started")

	ordered := slices.Clone(plan.ChainPlans)
	slices.SortStableFunc(ordered, func(a, b models.ChainConsolidationPlan) int {
		return a.Priority - b.Priority
	})

	// signatures are checked before anything starts
	var ready []models.ChainConsolidationPlan
	for _, cp := range ordered {
		if signatures[cp.Chain] == "" {
			run.fail(cp.Chain, models.StageSignature, fmt.Errorf("missing permit signature for %s", cp.Chain))
			e.metrics.ChainFinished(string(cp.Chain), string(models.ChainSkipped))
			continue
		}
		ready = append(ready, cp)
	}

	// started chains must finish even when scheduling is cancelled
	detached := context.WithoutCancel(ctx)
	sem := semaphore.NewWeighted(e.maxConcurrent)
	done := make(chan struct{}, len(ready))
	started := 0
	for i, cp := range ready {
		if ctx.Err() != nil || sem.Acquire(ctx, 1) != nil {
			for _, rest := range ready[i:] {
				run.fail(rest.Chain, models.StageCancelled, fmt.Errorf("cancelled before %s started: %w", rest.Chain, context.Cause(ctx)))
				e.metrics.ChainFinished(string(rest.Chain), string(models.ChainSkipped))
			}
			break
		}
		started++
		go func() {
			defer func() {
				sem.Release(1)
				done <- struct{}{}
			}()
			e.runChain(detached, run, plan, cp, signatures[cp.Chain])
		}()
	}
	for range started {
		<-done
	}

	final := run.finish()
	e.runs.Set(run.ID(), run, e.retention)
	e.metrics.ExecutionFinished(string(final))
	span.SetAttributes(attribute.String("status", string(final)))

	snapshot := run.Snapshot()
	log.Info().
		Str("consolidation", run.ID()).
		Str("status", string(final)).
		Int("completed", snapshot.CompletedChains).
		Int("total", snapshot.TotalChains).
		Int("errors", len(snapshot.Errors)).
		Dur("took", snapshot.UpdatedAt.Sub(snapshot.StartedAt)).
		Msg("Consolidation finished")
}

func validatePlan(plan *models.ConsolidationPlan) error {
	if plan == nil {
		return fmt.Errorf("%w: nil plan", ErrInvalidPlan)
	}
	if plan.ID == "" {
		return fmt.Errorf("%w: missing plan id", ErrInvalidPlan)
	}
	if len(plan.ChainPlans) == 0 {
		return fmt.Errorf("%w: plan %s has no chains", ErrInvalidPlan, plan.ID)
	}
	if !chains.ValidAddress(plan.DestinationChain, plan.UserAddress) {
		return fmt.Errorf("%w: invalid user address %q", ErrInvalidPlan, plan.UserAddress)
	}
	seen := make(map[chains.Chain]bool, len(plan.ChainPlans))
	for _, cp := range plan.ChainPlans {
		if seen[cp.Chain] {
			return fmt.Errorf("%w: chain %s planned twice", ErrInvalidPlan, cp.Chain)
		}
		seen[cp.Chain] = true
		sameChain := cp.Chain == plan.DestinationChain
		if sameChain != (cp.Bridge == nil) {
			return fmt.Errorf("%w: chain %s must bridge iff it is not the destination", ErrInvalidPlan, cp.Chain)
		}
		for _, q := range cp.Swap.Quotes {
			if q.Aggregator == "" || q.AmountIn == nil || q.MinAmountOut == nil {
				return fmt.Errorf("%w: incomplete swap quote on %s", ErrInvalidPlan, cp.Chain)
			}
		}
		if cp.Bridge != nil && (cp.Bridge.Provider == "" || cp.Bridge.Quote.InputAmount == nil) {
			return fmt.Errorf("%w: incomplete bridge leg on %s", ErrInvalidPlan, cp.Chain)
		}
	}
	return nil
}

// Package planner turns a consolidation request into an executable plan.
// Every source chain is priced concurrently: its tokens are swapped into a
// bridge friendly token (or straight into the destination token when the chain
// is the destination), then the bridge comparator picks the leg to the
// destination chain. Chains that cannot be priced are skipped, never fatal.
package planner

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/comparator"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/metrics"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/scoring"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "planner").Logger()
}

var tracer = otel.Tracer("github.com/Cogwheel-Validator/spectra-sweep/consolidator/planner")

// ErrNoViableRoutes is returned when not a single chain could be planned
var ErrNoViableRoutes = errors.New("no viable consolidation routes")

var errNoSwapRoute = errors.New("no swap route")

// NoViableRoutesError carries the chains that were skipped. It matches ErrNoViableRoutes.
type NoViableRoutesError struct {
	Skipped  []models.SkippedChain
	Warnings []string
}

func (e *NoViableRoutesError) Error() string {
	if len(e.Skipped) == 0 {
		return ErrNoViableRoutes.Error() + ": every chain is below the minimum value"
	}
	reasons := make([]string, len(e.Skipped))
	for i, s := range e.Skipped {
		reasons[i] = string(s.Chain) + " (" + s.Reason + ")"
	}
	return ErrNoViableRoutes.Error() + ": " + strings.Join(reasons, ", ")
}

func (e *NoViableRoutesError) Unwrap() error {
	return ErrNoViableRoutes
}

const (
	// MaxChainsPerConsolidation caps the sources of one request
	MaxChainsPerConsolidation = 10
	// DefaultMaxConcurrentChains bounds how many chains are priced at once
	DefaultMaxConcurrentChains = 4
	// DefaultQuoteTimeout is the deadline of a whole planning pass
	DefaultQuoteTimeout = 20 * time.Second
	// DefaultPlanTTL is the longest a plan stays executable
	DefaultPlanTTL = 30 * time.Minute

	tokenConcurrency = 4
)

var (
	// DefaultMinValueUsd is the dust threshold of a whole chain
	DefaultMinValueUsd = decimal.NewFromInt(1)
	// DefaultMinProfitRatio warns when less than 80% of the input value arrives
	DefaultMinProfitRatio = decimal.RequireFromString("0.8")
)

// SwapQuoter prices a single token swap. *dex.Router implements it.
type SwapQuoter interface {
	GetQuote(ctx context.Context, req dex.QuoteRequest) (*dex.Quote, error)
}

// BridgeComparator ranks bridge quotes for a route. *comparator.Comparator implements it.
type BridgeComparator interface {
	Compare(ctx context.Context, route comparator.Route, strategy scoring.Strategy) (*comparator.Result, error)
}

// Config tunes the planner. Zero values fall back to the defaults above.
type Config struct {
	MinValueUsd         decimal.Decimal
	MinTokenValueUsd    decimal.Decimal
	MaxChains           int
	MaxConcurrentChains int
	QuoteTimeout        time.Duration
	PlanTTL             time.Duration
	MinProfitRatio      decimal.Decimal
	Now                 func() time.Time
	Metrics             *metrics.Collector
	// ExecutableChains lists the chains transactions can be submitted on.
	// Empty means every supported chain.
	ExecutableChains []chains.Chain
}

// Planner builds consolidation plans. It holds no per request state.
type Planner struct {
	swaps   SwapQuoter
	bridges BridgeComparator

	minValue       decimal.Decimal
	minTokenValue  decimal.Decimal
	maxChains      int
	maxConcurrent  int
	quoteTimeout   time.Duration
	planTTL        time.Duration
	minProfitRatio decimal.Decimal
	now            func() time.Time
	metrics        *metrics.Collector
	executable     map[chains.Chain]bool
}

// New creates a planner on top of a swap quoter and a bridge comparator
func New(swaps SwapQuoter, bridgeComparator BridgeComparator, cfg Config) *Planner {
	if !cfg.MinValueUsd.IsPositive() {
		cfg.MinValueUsd = DefaultMinValueUsd
	}
	if cfg.MaxChains <= 0 {
		cfg.MaxChains = MaxChainsPerConsolidation
	}
	if cfg.MaxConcurrentChains <= 0 {
		cfg.MaxConcurrentChains = DefaultMaxConcurrentChains
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = DefaultQuoteTimeout
	}
	if cfg.PlanTTL <= 0 {
		cfg.PlanTTL = DefaultPlanTTL
	}
	if !cfg.MinProfitRatio.IsPositive() {
		cfg.MinProfitRatio = DefaultMinProfitRatio
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	var executable map[chains.Chain]bool
	if len(cfg.ExecutableChains) > 0 {
		executable = make(map[chains.Chain]bool, len(cfg.ExecutableChains))
		for _, c := range cfg.ExecutableChains {
			executable[c] = true
		}
	}
	return &Planner{
		swaps:          swaps,
		bridges:        bridgeComparator,
		minValue:       cfg.MinValueUsd,
		minTokenValue:  cfg.MinTokenValueUsd,
		maxChains:      cfg.MaxChains,
		maxConcurrent:  cfg.MaxConcurrentChains,
		quoteTimeout:   cfg.QuoteTimeout,
		planTTL:        cfg.PlanTTL,
		minProfitRatio: cfg.MinProfitRatio,
		now:            cfg.Now,
		metrics:        cfg.Metrics,
		executable:     executable,
	}
}

// Quote prices every source chain of req and assembles the plan.
// It returns ErrInvalidRequest for malformed requests and a *NoViableRoutesError
// when no chain could be planned.
func (p *Planner) Quote(ctx context.Context, req models.ConsolidationQuoteRequest) (plan *models.ConsolidationPlan, err error) {
	ctx, span := tracer.Start(ctx, "planner.Quote", trace.WithAttributes(
		attribute.String("destination.chain", string(req.DestinationChain)),
		attribute.Int("sources", len(req.Sources)),
	))
	start := time.Now()
	defer func() {
		p.metrics.ObserveQuote("plan", time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := Validate(req, p.maxChains); err != nil {
		return nil, err
	}
	strategy := req.Priority
	if strategy == "" {
		strategy = scoring.DefaultStrategy
	}
	slippage := dex.DefaultSlippageBps
	if req.SlippageBps != nil && *req.SlippageBps > 0 {
		slippage = *req.SlippageBps
	}

	createdAt := p.now()
	sources, warnings := p.filterDust(req)
	if len(sources) == 0 {
		return nil, &NoViableRoutesError{Warnings: warnings}
	}

	qctx, cancel := context.WithTimeout(ctx, p.quoteTimeout)
	defer cancel()

	outcomes := make([]chainOutcome, len(sources))
	g := new(errgroup.Group)
	g.SetLimit(p.maxConcurrent)
	for i, source := range sources {
		g.Go(func() error {
			outcomes[i] = p.planChain(qctx, req, source, strategy, slippage)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		chainPlans []models.ChainConsolidationPlan
		skipped    []models.SkippedChain
	)
	for i, o := range outcomes {
		if o.plan == nil {
			skipped = append(skipped, *o.skipped)
			warnings = append(warnings, fmt.Sprintf("Skipped %s: %s", o.skipped.Chain, o.skipped.Reason))
			continue
		}
		warnings = append(warnings, o.warnings...)
		sources[i].EstimatedOutputUsd = o.plan.ExpectedOutputUsd
		chainPlans = append(chainPlans, *o.plan)
	}
	if len(chainPlans) == 0 {
		log.Warn().Int("skipped", len(skipped)).Msg("No chain could be planned")
		return nil, &NoViableRoutesError{Skipped: skipped, Warnings: warnings}
	}

	assignPriority(chainPlans)
	plan = &models.ConsolidationPlan{
		ID:                   models.NewPlanID(createdAt),
		UserID:               req.UserID,
		UserAddress:          req.UserAddress,
		Sources:              sources,
		ChainPlans:           chainPlans,
		DestinationChain:     req.DestinationChain,
		DestinationToken:     req.DestinationToken,
		CreatedAt:            createdAt,
		ExpiresAt:            p.expiry(createdAt, chainPlans),
		OptimizationStrategy: strategy,
		SlippageBps:          slippage,
		Skipped:              skipped,
	}
	summarize(plan)
	plan.AlternativeStrategies = alternatives(chainPlans, strategy)

	if plan.ExpectedOutputValueUsd.LessThan(plan.TotalInputValueUsd.Mul(p.minProfitRatio)) {
		warnings = append(warnings, fmt.Sprintf(
			"Expected output of %s USD is less than %s%% of the %s USD input, fees dominate this consolidation",
			plan.ExpectedOutputValueUsd.StringFixed(2),
			p.minProfitRatio.Shift(2).String(),
			plan.TotalInputValueUsd.StringFixed(2),
		))
	}
	plan.Warnings = warnings

	span.SetAttributes(
		attribute.String("plan.id", plan.ID),
		attribute.Int("plan.chains", len(chainPlans)),
		attribute.Int("plan.skipped", len(skipped)),
	)
	log.Info().
		Str("plan", plan.ID).
		Int("chains", len(chainPlans)).
		Int("skipped", len(skipped)).
		Str("strategy", string(strategy)).
		Str("input_usd", plan.TotalInputValueUsd.String()).
		Str("fees_usd", plan.TotalFeesUsd.String()).
		Time("expires", plan.ExpiresAt).
		Msg("Consolidation plan built")
	return plan, nil
}

// filterDust drops tokens below the per token minimum and chains below the chain minimum
func (p *Planner) filterDust(req models.ConsolidationQuoteRequest) ([]models.ConsolidationSource, []string) {
	var (
		sources []models.ConsolidationSource
		dust    []string
	)
	for _, s := range req.Sources {
		tokens := make([]models.TokenHolding, 0, len(s.Tokens))
		total := decimal.Zero
		for _, t := range s.Tokens {
			if t.Amount.Sign() == 0 || t.ValueUsd.LessThan(p.minTokenValue) {
				continue
			}
			t.Chain = s.Chain
			tokens = append(tokens, t)
			total = total.Add(t.ValueUsd)
		}
		if len(tokens) == 0 || total.LessThan(p.minValue) {
			dust = append(dust, string(s.Chain))
			continue
		}
		sources = append(sources, models.ConsolidationSource{
			Chain:         s.Chain,
			Tokens:        tokens,
			TotalValueUsd: total,
			NeedsBridge:   s.Chain != req.DestinationChain,
		})
	}
	var warnings []string
	if len(dust) > 0 {
		warnings = append(warnings, fmt.Sprintf("Excluded %d chain(s) worth less than %s USD: %s",
			len(dust), p.minValue.String(), strings.Join(dust, ", ")))
	}
	return sources, warnings
}

type chainOutcome struct {
	plan     *models.ChainConsolidationPlan
	skipped  *models.SkippedChain
	warnings []string
}

func skip(chain chains.Chain, reason string, err error) chainOutcome {
	s := &models.SkippedChain{Chain: chain, Reason: reason}
	if err != nil {
		s.Detail = err.Error()
	}
	log.Debug().Str("chain", string(chain)).Str("reason", reason).Err(err).Msg("Chain skipped")
	return chainOutcome{skipped: s}
}

// planChain prices one source chain. It never fails, chains that cannot be
// priced come back as skipped.
func (p *Planner) planChain(
	ctx context.Context,
	req models.ConsolidationQuoteRequest,
	source models.ConsolidationSource,
	strategy scoring.Strategy,
	slippage uint32,
) chainOutcome {
	if !chains.IsSupported(source.Chain) {
		return skip(source.Chain, models.SkipUnsupportedChain, nil)
	}
	if p.executable != nil && !p.executable[source.Chain] {
		return skip(source.Chain, models.SkipUnsupportedChain,
			fmt.Errorf("no transaction endpoint configured for %s", source.Chain))
	}

	if !source.NeedsBridge {
		swap, dropped, err := p.quoteSwap(ctx, req.UserAddress, source, req.DestinationToken, slippage)
		if err != nil {
			if ctx.Err() != nil {
				return skip(source.Chain, models.SkipTimeout, err)
			}
			return skip(source.Chain, models.SkipNoSwapRoute, err)
		}
		return chainOutcome{plan: newChainPlan(source.Chain, swap, nil, nil), warnings: dropped}
	}

	targets := bridgeTargets(source.Chain, req.DestinationChain, req.DestinationToken)
	if len(targets) == 0 {
		return skip(source.Chain, models.SkipNoBridgeRoute,
			fmt.Errorf("no bridgeable token shared by %s and %s", source.Chain, req.DestinationChain))
	}

	var (
		swapped bool
		lastErr error
	)
	for _, target := range targets {
		swap, dropped, err := p.quoteSwap(ctx, req.UserAddress, source, target.source.Address, slippage)
		if err != nil {
			if ctx.Err() != nil {
				return skip(source.Chain, models.SkipTimeout, err)
			}
			lastErr = fmt.Errorf("%s: %w", target.source.Symbol, err)
			continue
		}
		swapped = true

		var bridgeSlippage uint32
		if req.SlippageBps != nil {
			bridgeSlippage = *req.SlippageBps
		}
		result, err := p.bridges.Compare(ctx, comparator.Route{
			SourceChain:      source.Chain,
			DestinationChain: req.DestinationChain,
			SourceToken:      target.source.Address,
			DestinationToken: target.destination.Address,
			Amount:           swap.MinOutput,
			AmountUsd:        swap.OutputValueUsd,
			Sender:           req.UserAddress,
			Recipient:        req.UserAddress,
			SlippageBps:      bridgeSlippage,
		}, strategy)
		if err != nil {
			if ctx.Err() != nil {
				return skip(source.Chain, models.SkipTimeout, err)
			}
			lastErr = fmt.Errorf("%s: %w", target.source.Symbol, err)
			continue
		}

		if !chains.SameAddress(target.destination.Address, req.DestinationToken) {
			dropped = append(dropped, fmt.Sprintf("Funds from %s arrive on %s as %s", source.Chain, req.DestinationChain, target.destination.Symbol))
		}
		leg := bridgeLeg(source.Chain, result.Best())
		return chainOutcome{
			plan:     newChainPlan(source.Chain, swap, leg, result.Comparisons),
			warnings: dropped,
		}
	}

	if !swapped {
		return skip(source.Chain, models.SkipNoSwapRoute, lastErr)
	}
	return skip(source.Chain, models.SkipNoBridgeRoute, lastErr)
}

type bridgeTarget struct {
	source      chains.Token
	destination chains.Token
}

// bridgeTargets lists the intermediate tokens to try, the one matching the
// destination token first and then in registry preference order (USDC, WETH)
func bridgeTargets(src, dst chains.Chain, destToken string) []bridgeTarget {
	var preferred string
	if t, ok := chains.IntermediateByAddress(dst, destToken); ok {
		preferred = t.Symbol
	}
	var targets []bridgeTarget
	for _, t := range chains.Intermediates(src) {
		d, ok := chains.IntermediateBySymbol(dst, t.Symbol)
		if !ok {
			continue
		}
		targets = append(targets, bridgeTarget{source: t, destination: d})
	}
	slices.SortStableFunc(targets, func(a, b bridgeTarget) int {
		switch {
		case a.source.Symbol == preferred && b.source.Symbol != preferred:
			return -1
		case b.source.Symbol == preferred && a.source.Symbol != preferred:
			return 1
		}
		return 0
	})
	return targets
}

type tokenQuote struct {
	quote *dex.Quote
	err   error
}

// quoteSwap quotes every token of source into target. Tokens without a route
// are left out with a warning, the leg fails only when nothing is left.
func (p *Planner) quoteSwap(
	ctx context.Context,
	user string,
	source models.ConsolidationSource,
	target string,
	slippage uint32,
) (models.SwapLeg, []string, error) {
	results := make([]tokenQuote, len(source.Tokens))
	g := new(errgroup.Group)
	g.SetLimit(tokenConcurrency)
	for i, t := range source.Tokens {
		if chains.SameAddress(t.TokenAddress, target) {
			continue
		}
		g.Go(func() error {
			q, err := p.swaps.GetQuote(ctx, dex.QuoteRequest{
				Chain:       source.Chain,
				TokenIn:     t.TokenAddress,
				TokenOut:    target,
				Amount:      t.Amount,
				From:        user,
				SlippageBps: slippage,
			})
			results[i] = tokenQuote{quote: q, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return models.SwapLeg{}, nil, err
	}

	leg := models.SwapLeg{
		OutputToken:    target,
		OutputAmount:   new(big.Int),
		MinOutput:      new(big.Int),
		InputValueUsd:  decimal.Zero,
		OutputValueUsd: decimal.Zero,
		GasEstimateUsd: decimal.Zero,
	}
	if t, ok := chains.IntermediateByAddress(source.Chain, target); ok {
		leg.OutputSymbol = t.Symbol
	}

	var dropped []string
	for i, t := range source.Tokens {
		if chains.SameAddress(t.TokenAddress, target) {
			leg.PassThrough = append(leg.PassThrough, t)
			leg.InputValueUsd = leg.InputValueUsd.Add(t.ValueUsd)
			leg.OutputValueUsd = leg.OutputValueUsd.Add(t.ValueUsd)
			leg.OutputAmount.Add(leg.OutputAmount, t.Amount)
			leg.MinOutput.Add(leg.MinOutput, t.Amount)
			if leg.OutputSymbol == "" {
				leg.OutputSymbol = t.Symbol
			}
			continue
		}

		r := results[i]
		if r.err != nil || r.quote == nil || r.quote.AmountOut == nil || r.quote.AmountOut.Sign() <= 0 {
			log.Debug().Err(r.err).Str("chain", string(source.Chain)).Str("token", t.TokenAddress).Msg("No swap route for token")
			dropped = append(dropped, fmt.Sprintf("No swap route for %s on %s, token left out", tokenLabel(t), source.Chain))
			continue
		}

		q := r.quote.Clone()
		if q.MinAmountOut == nil {
			q.MinAmountOut = dex.CalculateMinOutput(q.AmountOut, slippage)
		}
		impact := min(q.PriceImpactBps, 10000)
		outUsd := t.ValueUsd.Mul(decimal.New(int64(10000-impact), -4))
		gas := q.EstimatedGasUsd
		if !gas.IsPositive() {
			gas = chains.GasEstimateUsd(source.Chain)
		}

		leg.InputValueUsd = leg.InputValueUsd.Add(t.ValueUsd)
		leg.OutputValueUsd = leg.OutputValueUsd.Add(outUsd)
		leg.OutputAmount.Add(leg.OutputAmount, q.AmountOut)
		leg.MinOutput.Add(leg.MinOutput, q.MinAmountOut)
		leg.GasEstimateUsd = leg.GasEstimateUsd.Add(gas)
		leg.Quotes = append(leg.Quotes, q)
	}

	if len(leg.Quotes) == 0 && len(leg.PassThrough) == 0 {
		return leg, dropped, fmt.Errorf("%w on %s into %s", errNoSwapRoute, source.Chain, target)
	}
	leg.FeeUsd = leg.InputValueUsd.Sub(leg.OutputValueUsd)
	return leg, dropped, nil
}

func tokenLabel(t models.TokenHolding) string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.TokenAddress
}

func bridgeLeg(src chains.Chain, c bridges.Comparison) *models.BridgeLeg {
	return &models.BridgeLeg{
		Provider:             c.Provider,
		Quote:                c.Quote,
		InputAmount:          c.Quote.InputAmount,
		OutputAmount:         c.NetOutput,
		FeeUsd:               c.FeeUsd,
		GasEstimateUsd:       chains.GasEstimateUsd(src),
		EstimatedTimeSeconds: c.EstimatedTimeSeconds,
	}
}

// newChainPlan applies TotalFee = swap fee + bridge fee + gas and
// ExpectedOutput = input - TotalFee
func newChainPlan(
	chain chains.Chain,
	swap models.SwapLeg,
	bridge *models.BridgeLeg,
	comparisons []bridges.Comparison,
) *models.ChainConsolidationPlan {
	gas := swap.GasEstimateUsd
	fees := swap.FeeUsd
	if bridge != nil {
		gas = gas.Add(bridge.GasEstimateUsd)
		fees = fees.Add(bridge.FeeUsd)
	}
	total := fees.Add(gas)
	return &models.ChainConsolidationPlan{
		Chain:             chain,
		Swap:              swap,
		Bridge:            bridge,
		GasFeeUsd:         gas,
		TotalFeeUsd:       total,
		ExpectedOutputUsd: swap.InputValueUsd.Sub(total),
		Comparisons:       comparisons,
	}
}

// assignPriority orders plans slowest first so long bridges start early,
// ties broken by chain name
func assignPriority(plans []models.ChainConsolidationPlan) {
	slices.SortStableFunc(plans, func(a, b models.ChainConsolidationPlan) int {
		if c := cmp.Compare(b.EstimatedTimeSeconds(), a.EstimatedTimeSeconds()); c != 0 {
			return c
		}
		return cmp.Compare(a.Chain, b.Chain)
	})
	for i := range plans {
		plans[i].Priority = i
	}
}

func summarize(plan *models.ConsolidationPlan) {
	input, swapFees, bridgeFees, gas := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	longest := 0
	for _, cp := range plan.ChainPlans {
		input = input.Add(cp.Swap.InputValueUsd)
		swapFees = swapFees.Add(cp.Swap.FeeUsd)
		if cp.Bridge != nil {
			bridgeFees = bridgeFees.Add(cp.Bridge.FeeUsd)
		}
		gas = gas.Add(cp.GasFeeUsd)
		longest = max(longest, cp.EstimatedTimeSeconds())
	}
	total := swapFees.Add(bridgeFees).Add(gas)

	plan.TotalInputValueUsd = input
	plan.TotalSwapFeesUsd = swapFees
	plan.TotalBridgeFeesUsd = bridgeFees
	plan.TotalGasFeesUsd = gas
	plan.TotalFeesUsd = total
	plan.ExpectedOutputValueUsd = input.Sub(total)
	plan.FeePercentage = decimal.Zero
	if input.IsPositive() {
		plan.FeePercentage = total.Div(input).Mul(decimal.NewFromInt(100)).Round(4)
	}
	plan.EstimatedTotalTimeSeconds = longest
}

// expiry is the plan TTL cut short by the earliest quote expiry
func (p *Planner) expiry(createdAt time.Time, plans []models.ChainConsolidationPlan) time.Time {
	expires := createdAt.Add(p.planTTL)
	earliest := func(t time.Time) {
		if !t.IsZero() && t.Before(expires) {
			expires = t
		}
	}
	for _, cp := range plans {
		for _, q := range cp.Swap.Quotes {
			earliest(q.ExpiresAt)
		}
		if cp.Bridge != nil {
			earliest(cp.Bridge.Quote.ExpiresAt)
		}
	}
	return expires
}

// alternatives re-ranks the bridge quotes already collected under the other strategies
func alternatives(plans []models.ChainConsolidationPlan, chosen scoring.Strategy) []models.StrategySummary {
	var out []models.StrategySummary
	for _, s := range scoring.Strategies() {
		if s == chosen {
			continue
		}
		summary := models.StrategySummary{
			Strategy:               s,
			TotalFeesUsd:           decimal.Zero,
			ExpectedOutputValueUsd: decimal.Zero,
			Providers:              make(map[chains.Chain]string),
		}
		for _, cp := range plans {
			fee := cp.TotalFeeUsd
			seconds := cp.EstimatedTimeSeconds()
			if cp.Bridge != nil {
				summary.Providers[cp.Chain] = cp.Bridge.Provider
				if best, ok := scoring.Best(cp.Comparisons, s); ok {
					fee = cp.Swap.FeeUsd.Add(best.FeeUsd).Add(cp.GasFeeUsd)
					seconds = best.EstimatedTimeSeconds
					summary.Providers[cp.Chain] = best.Provider
				}
			}
			summary.TotalFeesUsd = summary.TotalFeesUsd.Add(fee)
			summary.ExpectedOutputValueUsd = summary.ExpectedOutputValueUsd.Add(cp.Swap.InputValueUsd.Sub(fee))
			summary.EstimatedTotalTimeSeconds = max(summary.EstimatedTotalTimeSeconds, seconds)
		}
		out = append(out, summary)
	}
	return out
}

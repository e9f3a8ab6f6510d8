package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/bridges"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/chains"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/dex"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/evm"
	"github.com/Cogwheel-Validator/spectra-sweep/consolidator/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// runChain drives one chain from PENDING to a terminal state
func (e *Executor) runChain(ctx context.Context, run *Run, plan *models.ConsolidationPlan, cp models.ChainConsolidationPlan, signature string) {
	ctx, span := tracer.Start(ctx, "executor.chain", trace.WithAttributes(
		attribute.String("chain", string(cp.Chain)),
		attribute.Int("priority", cp.Priority),
	))
	defer span.End()

	final, err := e.pipeline(ctx, run, plan, cp, signature)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.ChainFinished(string(cp.Chain), string(final))
}

func (e *Executor) pipeline(ctx context.Context, run *Run, plan *models.ConsolidationPlan, cp models.ChainConsolidationPlan, signature string) (models.ChainOperationStatus, error) {
	chain := cp.Chain
	logger := log.With().Str("consolidation", run.ID()).Str("chain", string(chain)).Logger()

	if err := run.advance(chain, models.ChainSwapping, models.ConsolidationEvent{
		Type: models.EventChainSwapStarted,
		Data: map[string]any{"swaps": len(cp.Swap.Quotes)},
	}, nil); err != nil {
		return run.fail(chain, models.StageSwap, err), err
	}

	hashes, err := e.swap(ctx, run, plan, cp, signature)
	if err != nil {
		logger.Error().Err(err).Msg("Swap failed")
		return run.fail(chain, models.StageSwap, err), err
	}
	var lastHash string
	if len(hashes) > 0 {
		lastHash = hashes[len(hashes)-1]
	}
	_ = run.advance(chain, models.ChainSwapComplete, models.ConsolidationEvent{
		Type:   models.EventChainSwapCompleted,
		TxHash: lastHash,
		Data:   map[string]any{"outputAmount": cp.Swap.OutputAmount.String()},
	}, func(op *models.ChainOperationStatusDetail) {
		op.SwapConfirmed = true
	})

	if cp.Bridge == nil {
		_ = run.advance(chain, models.ChainCompleted, models.ConsolidationEvent{
			Type:   models.EventChainCompleted,
			TxHash: lastHash,
		}, func(op *models.ChainOperationStatusDetail) {
			op.OutputAmount = new(big.Int).Set(cp.Swap.OutputAmount)
		})
		logger.Info().Msg("Chain consolidated")
		return models.ChainCompleted, nil
	}

	_ = run.advance(chain, models.ChainBridging, models.ConsolidationEvent{
		Type: models.EventChainBridgeStarted,
		Data: map[string]any{"provider": cp.Bridge.Provider},
	}, nil)

	receipt, err := e.bridge(ctx, run, plan, cp, signature)
	if err != nil {
		logger.Error().Err(err).Str("provider", cp.Bridge.Provider).Msg("Bridge failed")
		return run.fail(chain, models.StageBridge, err), err
	}

	output := receipt.OutputAmount
	if output == nil {
		output = cp.Bridge.OutputAmount
	}
	_ = run.advance(chain, models.ChainBridgeComplete, models.ConsolidationEvent{
		Type:   models.EventChainBridgeCompleted,
		TxHash: receipt.DestinationTxHash,
		Data:   map[string]any{"provider": cp.Bridge.Provider},
	}, func(op *models.ChainOperationStatusDetail) {
		op.BridgeConfirmed = true
		op.BridgeStatus = receipt.Status
		op.DestinationTxHash = receipt.DestinationTxHash
	})
	_ = run.advance(chain, models.ChainCompleted, models.ConsolidationEvent{
		Type:   models.EventChainCompleted,
		TxHash: receipt.DestinationTxHash,
	}, func(op *models.ChainOperationStatusDetail) {
		if output != nil {
			op.OutputAmount = new(big.Int).Set(output)
		}
	})
	logger.Info().Str("provider", cp.Bridge.Provider).Msg("Chain consolidated")
	return models.ChainCompleted, nil
}

// swap submits every swap of the chain in order and waits for each receipt
func (e *Executor) swap(ctx context.Context, run *Run, plan *models.ConsolidationPlan, cp models.ChainConsolidationPlan, signature string) ([]string, error) {
	var hashes []string
	for _, quote := range cp.Swap.Quotes {
		var hash string
		err := e.withRetry(ctx, run, cp.Chain, models.StageSwap, func(ctx context.Context) error {
			tx, err := e.swapTransaction(ctx, plan, quote, signature)
			if err != nil {
				return err
			}
			if err := e.limits.Wait(ctx, quote.Aggregator, cp.Chain); err != nil {
				return err
			}
			hash, err = e.submitter.Submit(ctx, *tx)
			return err
		})
		if err != nil {
			return hashes, fmt.Errorf("swap %s: %w", quote.TokenIn, err)
		}
		hashes = append(hashes, hash)
		run.update(cp.Chain, func(op *models.ChainOperationStatusDetail) {
			op.SwapTxHashes = append(op.SwapTxHashes, hash)
		})

		if _, err := e.awaitReceipt(ctx, cp.Chain, hash); err != nil {
			return hashes, fmt.Errorf("swap %s: %w", quote.TokenIn, err)
		}
	}
	return hashes, nil
}

// swapTransaction builds the swap transaction, re-quoting with calldata when
// the planned quote was priced without it
func (e *Executor) swapTransaction(ctx context.Context, plan *models.ConsolidationPlan, quote dex.Quote, signature string) (*evm.Transaction, error) {
	agg, err := e.aggregators.Aggregator(quote.Aggregator)
	if err != nil {
		return nil, err
	}
	data, err := agg.BuildCalldata(quote)
	if errors.Is(err, dex.ErrCalldataNotIncluded) {
		if err := e.limits.Wait(ctx, agg.Name(), quote.Chain); err != nil {
			return nil, err
		}
		fresh, err := agg.GetQuote(ctx, dex.QuoteRequest{
			Chain:           quote.Chain,
			TokenIn:         quote.TokenIn,
			TokenOut:        quote.TokenOut,
			Amount:          quote.AmountIn,
			From:            plan.UserAddress,
			SlippageBps:     plan.SlippageBps,
			IncludeCalldata: true,
		})
		if err != nil {
			return nil, err
		}
		if fresh == nil || fresh.MinAmountOut == nil {
			return nil, fmt.Errorf("%w: %s -> %s on %s", ErrRouteGone, quote.TokenIn, quote.TokenOut, quote.Chain)
		}
		if fresh.MinAmountOut.Cmp(quote.MinAmountOut) < 0 {
			return nil, fmt.Errorf("%w: at least %s now, planned %s", ErrPriceMoved, fresh.MinAmountOut, quote.MinAmountOut)
		}
		quote = *fresh
		data, err = agg.BuildCalldata(quote)
	}
	if err != nil {
		return nil, err
	}
	return &evm.Transaction{
		Chain:     quote.Chain,
		From:      plan.UserAddress,
		To:        quote.Router,
		Data:      data,
		Value:     quote.Value,
		Signature: signature,
	}, nil
}

// bridge submits the deposit (and its approval), waits for the source receipt
// and polls the provider until the transfer is final
func (e *Executor) bridge(ctx context.Context, run *Run, plan *models.ConsolidationPlan, cp models.ChainConsolidationPlan, signature string) (*bridges.Receipt, error) {
	provider, err := e.providers.Get(cp.Bridge.Provider)
	if err != nil {
		return nil, err
	}
	chain := cp.Chain

	var tx *bridges.TxRequest
	err = e.withRetry(ctx, run, chain, models.StageBridge, func(ctx context.Context) error {
		if err := e.limits.Wait(ctx, provider.Name(), chain); err != nil {
			return err
		}
		built, err := provider.BuildTransaction(ctx, cp.Bridge.Quote, plan.UserAddress, plan.UserAddress)
		tx = built
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("build %s deposit: %w", provider.Name(), err)
	}

	if tx.Approval != nil {
		if err := e.approve(ctx, run, plan, chain, tx.Approval, signature); err != nil {
			return nil, err
		}
	}

	var hash string
	err = e.withRetry(ctx, run, chain, models.StageBridge, func(ctx context.Context) error {
		submitted, err := e.submitter.Submit(ctx, evm.Transaction{
			Chain:     chain,
			From:      plan.UserAddress,
			To:        tx.To,
			Data:      tx.Data,
			Value:     tx.Value,
			GasLimit:  tx.GasLimit,
			Signature: signature,
		})
		hash = submitted
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("submit %s deposit: %w", provider.Name(), err)
	}
	run.update(chain, func(op *models.ChainOperationStatusDetail) {
		op.BridgeTxHash = hash
	})

	if _, err := e.awaitReceipt(ctx, chain, hash); err != nil {
		return nil, fmt.Errorf("%s deposit: %w", provider.Name(), err)
	}
	return e.awaitTransfer(ctx, run, provider, chain, hash)
}

func (e *Executor) approve(ctx context.Context, run *Run, plan *models.ConsolidationPlan, chain chains.Chain, approval *bridges.Approval, signature string) error {
	data, err := evm.ApproveCalldata(approval.Spender, approval.Amount)
	if err != nil {
		return err
	}
	var hash string
	err = e.withRetry(ctx, run, chain, models.StageBridge, func(ctx context.Context) error {
		submitted, err := e.submitter.Submit(ctx, evm.Transaction{
			Chain:     chain,
			From:      plan.UserAddress,
			To:        approval.Token,
			Data:      data,
			Signature: signature,
		})
		hash = submitted
		return err
	})
	if err != nil {
		return fmt.Errorf("approve %s: %w", approval.Spender, err)
	}
	if _, err := e.awaitReceipt(ctx, chain, hash); err != nil {
		return fmt.Errorf("approve %s: %w", approval.Spender, err)
	}
	return nil
}

// awaitReceipt polls until the transaction is mined. Pending and transient
// lookups are polled again, reverts fail immediately.
func (e *Executor) awaitReceipt(ctx context.Context, chain chains.Chain, hash string) (*evm.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.receiptWait)
	defer cancel()

	ticker := time.NewTicker(e.receiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := e.submitter.Receipt(ctx, chain, hash)
		switch {
		case err == nil:
			return receipt, nil
		case !IsTransient(err):
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no receipt for %s: %w", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// awaitTransfer polls the provider every StatusPollInterval until the transfer
// is terminal or BridgeTimeout passed
func (e *Executor) awaitTransfer(ctx context.Context, run *Run, provider bridges.Provider, chain chains.Chain, hash string) (*bridges.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.bridgeTimeout)
	defer cancel()

	ticker := time.NewTicker(e.statusPoll)
	defer ticker.Stop()
	for {
		receipt, err := provider.GetStatus(ctx, hash, chain)
		switch {
		case err != nil && !IsTransient(err) && ctx.Err() == nil:
			return nil, fmt.Errorf("%s status: %w", provider.Name(), err)
		case err != nil:
			log.Debug().Err(err).Str("provider", provider.Name()).Str("tx", hash).Msg("Bridge status lookup failed, polling again")
		default:
			run.update(chain, func(op *models.ChainOperationStatusDetail) {
				op.BridgeStatus = receipt.Status
			})
			if receipt.Status.IsTerminal() {
				if !receipt.Status.IsSuccess() {
					return nil, &BridgeFailedError{Provider: provider.Name(), Status: receipt.Status, Message: receipt.Message}
				}
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s after %s", ErrBridgeTimeout, hash, e.bridgeTimeout)
		case <-ticker.C:
		}
	}
}

func (e *Executor) withRetry(ctx context.Context, run *Run, chain chains.Chain, stage string, op func(context.Context) error) error {
	return e.retry.Do(ctx, op, func(retry int, err error, wait time.Duration) {
		run.retried(chain, stage, retry, err, wait)
		e.metrics.ChainRetry(string(chain), stage)
		log.Warn().
			Err(err).
			Str("consolidation", run.ID()).
			Str("chain", string(chain)).
			Str("stage", stage).
			Int("retry", retry).
			Dur("wait", wait).
			Msg("Retrying step")
	})
}

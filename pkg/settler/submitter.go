package settler

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/otcdesk/rfq-settler/pkg/contracts"
	"github.com/otcdesk/rfq-settler/pkg/models"
)

const (
	simulateAttempts = 3
	simulateDelay    = 1 * time.Second

	// Escalation factors. The tip grows 50% per cycle; the fee cap grows
	// at least the 10% a node requires to accept a replacement.
	tipBumpNum = 3
	tipBumpDen = 2
	capBumpNum = 11
	capBumpDen = 10
)

// BuildCalldata packs the settlement call for a fully signed job. The
// output is deterministic, so every fee-bump resubmission reuses it.
func BuildCalldata(job *models.Job) ([]byte, error) {
	if job.MakerSignature == nil || job.TakerSignature == nil {
		return nil, fmt.Errorf("calldata requires both signatures")
	}

	makerSig, err := job.MakerSignature.Packed()
	if err != nil {
		return nil, fmt.Errorf("invalid maker signature: %w", err)
	}
	takerSig, err := job.TakerSignature.Packed()
	if err != nil {
		return nil, fmt.Errorf("invalid taker signature: %w", err)
	}

	order := job.Order
	return contracts.PackFill(contracts.FillOrder{
		Maker:          order.Maker,
		Taker:          order.Taker,
		TxOrigin:       order.TxOrigin,
		MakerToken:     order.MakerToken,
		TakerToken:     order.TakerToken,
		MakerAmount:    order.MakerAmount,
		TakerAmount:    order.TakerAmount,
		ExpiryAndNonce: order.ExpiryAndNonce,
	}, makerSig, takerSig, job.Unwrap)
}

// SubmitInitial performs the first on-chain submission for a job:
// simulation, gas estimation, initial fee parameters, presubmit record,
// broadcast. The job moves to PendingSubmitted on success.
func (s *Settler) SubmitInitial(ctx context.Context, job *models.Job, sctx *SubmissionContext) (*models.Job, error) {
	data, err := BuildCalldata(job)
	if err != nil {
		return nil, s.failJob(ctx, job, models.JobFailedSubmitFailed)
	}

	if err := s.simulate(ctx, job, data); err != nil {
		s.logDiagnostics(ctx, job)
		return nil, s.failJob(ctx, job, models.JobFailedEthCallFailed)
	}

	gasLimit := s.estimateGas(ctx, job, data)

	nonce, err := s.chain.GetNonce(ctx, s.chain.Sender())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	fast, err := s.gasEstimate(ctx)
	if err != nil {
		return nil, err
	}

	tip := new(big.Int).Set(s.cfg.InitialPriorityFee)
	feeCap := initialFeeCap(fast, tip)

	sub, err := s.broadcast(ctx, job, data, nonce, gasLimit, feeCap, tip)
	if err != nil && !IsNonceAlreadyUsed(err) {
		return nil, s.failJob(ctx, job, models.JobFailedSubmitFailed)
	}
	sctx.Add(sub)

	updated := job.Clone()
	updated.Status = models.JobPendingSubmitted
	updated.UpdatedAt = time.Now()
	if err := s.store.UpdateJob(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to persist submitted status: %w", err)
	}
	return updated, nil
}

// Resubmit broadcasts a fee-bumped replacement carrying the same nonce
// and calldata. Returns false without error when the tip ceiling halts
// escalation, and treats a nonce-already-used broadcast failure as benign.
func (s *Settler) Resubmit(ctx context.Context, job *models.Job, sctx *SubmissionContext) (bool, error) {
	data, err := BuildCalldata(job)
	if err != nil {
		return false, err
	}

	nonce, ok := sctx.Nonce()
	if !ok {
		return false, fmt.Errorf("resubmit without prior submission")
	}
	oldFeeCap, oldTip, _ := sctx.LatestFees()

	fast, err := s.gasEstimate(ctx)
	if err != nil {
		return false, err
	}

	feeCap, tip := EscalateFees(oldFeeCap, oldTip, fast)
	if tip.Cmp(s.cfg.PriorityFeeCeiling) > 0 {
		s.logger.NoticeWithOrder(job.OrderHash, "Priority fee ceiling reached, watching without resubmitting")
		return false, nil
	}

	gasLimit := s.estimateGas(ctx, job, data)

	sub, err := s.broadcast(ctx, job, data, nonce, gasLimit, feeCap, tip)
	if err != nil {
		if IsNonceAlreadyUsed(err) {
			s.logger.DebugWithOrder(job.OrderHash, "Nonce already used, an earlier submission landed")
			sctx.Add(sub)
			return true, nil
		}
		return false, err
	}
	sctx.Add(sub)
	return true, nil
}

// EscalateFees computes the next fee parameters: tip grows 1.5x, fee cap
// takes the larger of a 10% bump and the refreshed 2x-fast-plus-tip floor.
// Both bumps divide rounding up, so the factors hold at every magnitude
// and both outputs strictly exceed their predecessors.
func EscalateFees(oldFeeCap, oldTip, fast *big.Int) (feeCap, tip *big.Int) {
	tip = new(big.Int).Mul(oldTip, big.NewInt(tipBumpNum))
	tip.Add(tip, big.NewInt(tipBumpDen-1))
	tip.Div(tip, big.NewInt(tipBumpDen))

	bumped := new(big.Int).Mul(oldFeeCap, big.NewInt(capBumpNum))
	bumped.Add(bumped, big.NewInt(capBumpDen-1))
	bumped.Div(bumped, big.NewInt(capBumpDen))

	floor := initialFeeCap(fast, tip)
	if floor.Cmp(bumped) > 0 {
		return floor, tip
	}
	return bumped, tip
}

// initialFeeCap returns 2x the fast estimate plus the tip
func initialFeeCap(fast, tip *big.Int) *big.Int {
	feeCap := new(big.Int).Mul(fast, big.NewInt(2))
	return feeCap.Add(feeCap, tip)
}

// simulate runs the read-only settlement call with fixed-delay retries
func (s *Settler) simulate(ctx context.Context, job *models.Job, data []byte) error {
	msg := ethereum.CallMsg{
		From: s.chain.Sender(),
		To:   &s.settlement,
		Data: data,
	}
	return Retry(ctx, func() error {
		_, err := s.chain.SimulateCall(ctx, msg)
		return err
	}, simulateDelay, 1.0, simulateAttempts, func(attempt int, err error) {
		s.logger.NoticeWithOrder(job.OrderHash, "Simulation attempt %d failed: %v", attempt, err)
	})
}

// estimateGas estimates the settlement call's gas, falling back to the
// configured constant when the node refuses the estimate
func (s *Settler) estimateGas(ctx context.Context, job *models.Job, data []byte) uint64 {
	gasLimit, err := s.chain.EstimateGas(ctx, ethereum.CallMsg{
		From: s.chain.Sender(),
		To:   &s.settlement,
		Data: data,
	})
	if err != nil {
		s.logger.NoticeWithOrder(job.OrderHash, "Gas estimation failed, using fallback %d: %v", s.cfg.FallbackGasEstimate, err)
		return s.cfg.FallbackGasEstimate
	}
	return gasLimit
}

// gasEstimate fetches the fast gas price and records the gauge
func (s *Settler) gasEstimate(ctx context.Context) (*big.Int, error) {
	fast, err := s.chain.GetGasPriceEstimate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price estimate: %w", err)
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(fast), big.NewFloat(1e9)).Float64()
	s.metrics.GasPriceGwei(s.chainLabel, gwei)
	return fast, nil
}

// broadcast signs and sends one submission. The presubmit record is
// persisted before the send, so a crash in between leaves a recoverable
// trace; the record is promoted to submitted after a successful send.
func (s *Settler) broadcast(ctx context.Context, job *models.Job, data []byte, nonce, gasLimit uint64, feeCap, tip *big.Int) (*models.TransactionSubmission, error) {
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(s.chain.ChainID()),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &s.settlement,
		Data:      data,
	})

	signed, err := s.chain.SignTransaction(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sub := &models.TransactionSubmission{
		TxHash:               signed.Hash().Hex(),
		OrderHash:            job.OrderHash,
		Nonce:                nonce,
		MaxFeePerGas:         new(big.Int).Set(feeCap),
		MaxPriorityFeePerGas: new(big.Int).Set(tip),
		From:                 s.chain.Sender().Hex(),
		To:                   s.settlement.Hex(),
		Status:               models.SubmissionPresubmit,
		CreatedAt:            time.Now(),
	}
	if err := s.store.WriteSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to persist presubmit record: %w", err)
	}

	if _, err := s.chain.BroadcastRawTransaction(ctx, signed); err != nil {
		if IsNonceAlreadyUsed(err) {
			return sub, fmt.Errorf("%w: %v", ErrNonceAlreadyUsed, err)
		}
		return sub, fmt.Errorf("broadcast failed: %w", err)
	}

	sub.Status = models.SubmissionSubmitted
	if err := s.store.UpdateSubmissions(ctx, []*models.TransactionSubmission{sub}); err != nil {
		return sub, fmt.Errorf("failed to promote presubmit record: %w", err)
	}

	s.logger.InfoWithOrder(job.OrderHash, "Submitted tx %s nonce %d tip %s cap %s", sub.TxHash, nonce, tip, feeCap)
	return sub, nil
}

// logDiagnostics dumps balances and the current block after a persistent
// simulation failure. Best effort.
func (s *Settler) logDiagnostics(ctx context.Context, job *models.Job) {
	order := job.Order

	if block, err := s.chain.BlockNumber(ctx); err == nil {
		s.logger.InfoWithOrder(job.OrderHash, "Simulation diagnostics at block %d", block)
	}

	if balances, err := s.chain.GetTokenBalances(ctx, order.MakerToken, []common.Address{order.Maker}); err == nil {
		s.logger.InfoWithOrder(job.OrderHash, "Maker %s holds %s of %s",
			order.Maker.Hex(), s.formatAmount(ctx, order.MakerToken, balances[0]), order.MakerToken.Hex())
	}
	if balances, err := s.chain.GetTokenBalances(ctx, order.TakerToken, []common.Address{order.Taker}); err == nil {
		s.logger.InfoWithOrder(job.OrderHash, "Taker %s holds %s of %s",
			order.Taker.Hex(), s.formatAmount(ctx, order.TakerToken, balances[0]), order.TakerToken.Hex())
	}
}

// formatAmount renders a raw token amount in whole units using the
// cached token decimals, falling back to the raw value
func (s *Settler) formatAmount(ctx context.Context, token common.Address, amount *big.Int) string {
	decimals, err := s.decimals.GetOrFetch(ctx, token, s.chain.GetTokenDecimals)
	if err != nil {
		return amount.String()
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	return new(big.Float).Quo(new(big.Float).SetInt(amount), scale).Text('f', 6)
}

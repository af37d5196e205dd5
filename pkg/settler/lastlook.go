package settler

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/otcdesk/rfq-settler/pkg/models"
	"github.com/otcdesk/rfq-settler/pkg/quoter"
)

const (
	signRetryFactor   = 2.0
	signRetryAttempts = 3
)

// CoordinateLastLook obtains the maker's consent signature for a job.
// Idempotent: a job that already carries a maker signature passes through
// untouched, so crash re-entry never requests a second signature. The
// returned job is a persisted clone holding the accepted signature; a
// terminal failure is persisted and returned as an error.
func (s *Settler) CoordinateLastLook(ctx context.Context, job *models.Job) (*models.Job, error) {
	if job.MakerSignature != nil {
		s.logger.DebugWithOrder(job.OrderHash, "Maker signature already recorded, skipping last look")
		return job, nil
	}

	if err := s.validateBalances(ctx, job); err != nil {
		s.metrics.BalanceCheckFailed(s.chainLabel, s.chain.Sender().Hex())
		s.logger.ErrorWithOrder(job.OrderHash, "Pre-sign balance validation failed: %v", err)
		return nil, s.failJob(ctx, job, models.JobFailedPresignValidationFailed)
	}

	breaker := s.breakers.For(job.MakerURI)
	var sig *models.Signature
	err := Retry(ctx, func() error {
		signCtx, cancel := context.WithTimeout(ctx, s.cfg.SignTimeout)
		defer cancel()

		var err error
		sig, err = s.makers.Sign(signCtx, job.MakerURI, job.Order, job.OrderHash, feeAmount(job))
		if err != nil {
			breaker.RecordFailure()
			return err
		}
		breaker.RecordSuccess()
		return nil
	}, s.cfg.SignRetryDelay, signRetryFactor, signRetryAttempts, func(attempt int, err error) {
		s.logger.NoticeWithOrder(job.OrderHash, "Sign request attempt %d failed: %v", attempt, err)
	})
	if err != nil {
		s.metrics.SignatureFailed(s.chainLabel)
		return nil, s.failJob(ctx, job, models.JobFailedSignFailed)
	}

	// nil signature with no error is the maker exercising last look
	if sig == nil {
		s.metrics.LastLookDeclined(s.chainLabel)
		s.logger.InfoWithOrder(job.OrderHash, "Maker declined at last look")
		failErr := s.failJob(ctx, job, models.JobFailedLastLookDeclined)
		go s.recordDeclineDelta(job)
		return nil, fmt.Errorf("%w: %v", ErrMakerDeclined, failErr)
	}

	if err := s.verifyMakerSignature(ctx, job, sig); err != nil {
		s.metrics.SignatureFailed(s.chainLabel)
		s.logger.ErrorWithOrder(job.OrderHash, "Maker signature rejected: %v", err)
		return nil, s.failJob(ctx, job, models.JobFailedSignFailed)
	}

	updated := job.Clone()
	updated.MakerSignature = sig
	updated.Status = models.JobPendingLastLookAccepted
	updated.UpdatedAt = time.Now()
	if err := s.store.UpdateJob(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to persist accepted signature: %w", err)
	}
	return updated, nil
}

// validateBalances re-checks that both sides can still cover the trade
func (s *Settler) validateBalances(ctx context.Context, job *models.Job) error {
	order := job.Order

	makerBalances, err := s.chain.GetTokenBalances(ctx, order.MakerToken, []common.Address{order.Maker})
	if err != nil {
		return fmt.Errorf("maker balance query failed: %w", err)
	}
	if makerBalances[0].Cmp(order.MakerAmount) < 0 {
		return fmt.Errorf("maker balance %s below maker amount %s", makerBalances[0], order.MakerAmount)
	}

	takerBalances, err := s.chain.GetTokenBalances(ctx, order.TakerToken, []common.Address{order.Taker})
	if err != nil {
		return fmt.Errorf("taker balance query failed: %w", err)
	}
	if takerBalances[0].Cmp(order.TakerAmount) < 0 {
		return fmt.Errorf("taker balance %s below taker amount %s", takerBalances[0], order.TakerAmount)
	}

	return nil
}

// verifyMakerSignature normalizes the signature and checks the recovered
// signer is the maker, falling back to the on-chain delegated signer
// registry when it is not
func (s *Settler) verifyMakerSignature(ctx context.Context, job *models.Job, sig *models.Signature) error {
	if err := sig.Normalize(); err != nil {
		return err
	}

	signer, err := sig.RecoverSigner(common.HexToHash(job.OrderHash))
	if err != nil {
		return err
	}
	if signer == job.Order.Maker {
		return nil
	}

	valid, err := s.chain.IsValidDelegatedSigner(ctx, job.Order.Maker, signer)
	if err != nil {
		return fmt.Errorf("delegated signer check failed: %w", err)
	}
	if !valid {
		return fmt.Errorf("signer %s is neither maker nor delegated", signer.Hex())
	}
	return nil
}

// recordDeclineDelta re-prices the declined order and records the
// movement in basis points: the current best market quote when one is
// registered for the pair, otherwise the decliner's own fresh price.
// Best effort: every failure here is swallowed and logged, and only the
// delta is persisted, on a fresh read, so the terminal status written by
// the decline path stays untouched.
func (s *Settler) recordDeclineDelta(job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.QuoteTimeout)
	defer cancel()

	order := job.Order
	req := &models.QuoteRequest{
		BuyToken:     order.MakerToken.Hex(),
		SellToken:    order.TakerToken.Hex(),
		SellAmount:   order.TakerAmount,
		TakerAddress: order.Taker.Hex(),
		IntegratorID: job.IntegratorID,
	}

	quote, price := s.quotes.BestQuote(s.quotes.FetchQuotes(ctx, req), req, time.Now())
	if quote == nil {
		fresh, err := s.makers.GetPrice(ctx, job.MakerURI, req)
		if err != nil {
			s.logger.DebugWithOrder(job.OrderHash, "Post-decline price check failed: %v", err)
			return
		}
		price = quoter.RoundPrice(fresh.EffectivePrice(true), quoter.PriceDecimals)
	}
	if price == nil ||
		order.MakerAmount == nil || order.MakerAmount.Sign() == 0 ||
		order.TakerAmount == nil || order.TakerAmount.Sign() == 0 {
		return
	}
	orderPrice := quoter.RoundPrice(new(big.Rat).SetFrac(order.MakerAmount, order.TakerAmount), quoter.PriceDecimals)
	if orderPrice.Sign() == 0 {
		return
	}

	// delta_bps = (old - new) / old * 10000 on the effective price
	deltaBps := new(big.Rat).Sub(orderPrice, price)
	deltaBps.Quo(deltaBps, orderPrice)
	deltaBps.Mul(deltaBps, big.NewRat(10000, 1))
	delta, _ := deltaBps.Float64()
	if delta < 0 {
		delta = -delta
	}

	s.metrics.LastLookDeclinedToPriceDeltaBps(s.chainLabel, delta)

	// Re-read before persisting; the captured job predates the decline
	current, err := s.store.FindJobByHash(ctx, job.OrderHash)
	if err != nil {
		s.logger.DebugWithOrder(job.OrderHash, "Failed to reload job for decline delta: %v", err)
		return
	}
	deltaInt, _ := new(big.Float).SetRat(deltaBps).Int(nil)
	updated := current.Clone()
	updated.LastLookDeltaBps = deltaInt
	updated.UpdatedAt = time.Now()
	if err := s.store.UpdateJob(ctx, updated); err != nil {
		s.logger.DebugWithOrder(job.OrderHash, "Failed to persist decline delta: %v", err)
	}
}

// failJob persists a terminal failure status through a clone and returns
// an error carrying the status for the processing boundary
func (s *Settler) failJob(ctx context.Context, job *models.Job, status models.JobStatus) error {
	updated := job.Clone()
	updated.Status = status
	updated.UpdatedAt = time.Now()
	if err := s.store.UpdateJob(ctx, updated); err != nil {
		return fmt.Errorf("failed to persist status %s: %w", status, err)
	}
	return fmt.Errorf("job failed with status %s", status)
}

func feeAmount(job *models.Job) *big.Int {
	if job.Fee == nil {
		return nil
	}
	return job.Fee.Amount
}

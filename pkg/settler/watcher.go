package settler

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/otcdesk/rfq-settler/pkg/models"
)

// Watch drives a submitted job to a confirmed terminal status. Each cycle
// polls for a mined receipt, escalates fees while none exists and the
// order has not expired, and promotes an unconfirmed outcome once enough
// blocks have been built on top of the receipt. Re-entrant: a crashed
// watch resumes from persisted state and reaches the same outcome.
func (s *Settler) Watch(ctx context.Context, job *models.Job, sctx *SubmissionContext) (*models.Job, error) {
	var minedBlock uint64

	for cycle := 0; ; cycle++ {
		mined, err := s.pollReceipts(ctx, job, sctx)
		if err != nil {
			return nil, err
		}

		if mined != nil {
			minedBlock = mined.BlockNumber.Uint64()

			if !job.Status.IsResolved() {
				job, err = s.recordOutcome(ctx, job, sctx, mined)
				if err != nil {
					return nil, err
				}
			}

			confirmed, err := s.checkFinality(ctx, minedBlock)
			if err != nil {
				s.logger.NoticeWithOrder(job.OrderHash, "Finality check failed: %v", err)
			} else if confirmed {
				return s.confirm(ctx, job, sctx)
			}
		} else {
			expiry := time.Unix(int64(job.Order.Expiry()), 0)
			now := time.Now()

			switch {
			case now.After(expiry.Add(s.cfg.ExpiryGrace)):
				s.logger.InfoWithOrder(job.OrderHash, "Order expired %s beyond grace, giving up", now.Sub(expiry))
				return nil, s.failJob(ctx, job, models.JobFailedExpired)
			case now.After(expiry):
				// Inside the grace window a mined receipt may still appear
				s.logger.DebugWithOrder(job.OrderHash, "Order expired, watching through grace window")
			case cycle == 0:
				// The first poll races the broadcast; escalation waits
				// until a full interval has passed without a receipt
			default:
				if _, err := s.Resubmit(ctx, job, sctx); err != nil {
					s.logger.NoticeWithOrder(job.OrderHash, "Resubmission failed: %v", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.WatchInterval):
		}
	}
}

// pollReceipts queries a receipt for each in-flight submission. At most
// one submission sharing the job's nonce can mine; observing a second
// mined receipt is surfaced as ErrDuplicateReceipt.
func (s *Settler) pollReceipts(ctx context.Context, job *models.Job, sctx *SubmissionContext) (*types.Receipt, error) {
	var mined *types.Receipt
	var minedSub *models.TransactionSubmission

	for _, sub := range sctx.Submissions() {
		if sub.Status == models.SubmissionPresubmit {
			continue
		}

		receipt, err := s.chain.GetReceipt(ctx, common.HexToHash(sub.TxHash))
		if err != nil {
			s.logger.DebugWithOrder(job.OrderHash, "Receipt query for %s failed: %v", sub.TxHash, err)
			continue
		}
		if receipt == nil {
			continue
		}

		if mined != nil {
			s.metrics.ReceiptInvariantViolation(s.chainLabel)
			s.logger.ErrorWithOrder(job.OrderHash, "Duplicate mined receipt: %s and %s share nonce %d",
				minedSub.TxHash, sub.TxHash, sub.Nonce)
			return nil, fmt.Errorf("%w: %s and %s", ErrDuplicateReceipt, minedSub.TxHash, sub.TxHash)
		}
		mined = receipt
		minedSub = sub
	}
	return mined, nil
}

// recordOutcome classifies a freshly mined receipt, persists the
// unconfirmed submission and job statuses and observes mining latency
func (s *Settler) recordOutcome(ctx context.Context, job *models.Job, sctx *SubmissionContext, receipt *types.Receipt) (*models.Job, error) {
	var subStatus models.SubmissionStatus
	var jobStatus models.JobStatus
	if receipt.Status == types.ReceiptStatusSuccessful {
		subStatus = models.SubmissionSucceededUnconfirmed
		jobStatus = models.JobSucceededUnconfirmed
	} else {
		subStatus = models.SubmissionFailedRevertedUnconfirmed
		jobStatus = models.JobFailedRevertedUnconfirmed
	}

	txHash := receipt.TxHash.Hex()
	for _, sub := range sctx.Submissions() {
		if sub.TxHash == txHash {
			sub.Status = subStatus
			if err := s.store.UpdateSubmissions(ctx, []*models.TransactionSubmission{sub}); err != nil {
				return nil, fmt.Errorf("failed to persist submission outcome: %w", err)
			}
			break
		}
	}

	s.observeMiningLatency(ctx, job, sctx, receipt)

	updated := job.Clone()
	updated.Status = jobStatus
	updated.UpdatedAt = time.Now()
	if err := s.store.UpdateJob(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to persist job outcome: %w", err)
	}

	s.logger.InfoWithOrder(job.OrderHash, "Receipt mined in block %d: %s", receipt.BlockNumber.Uint64(), jobStatus)
	return updated, nil
}

// observeMiningLatency records receipt block timestamp minus the first
// submission time. Best effort.
func (s *Settler) observeMiningLatency(ctx context.Context, job *models.Job, sctx *SubmissionContext, receipt *types.Receipt) {
	first, ok := sctx.FirstSubmittedAt()
	if !ok {
		return
	}
	block, err := s.chain.GetBlock(ctx, receipt.BlockNumber)
	if err != nil {
		s.logger.DebugWithOrder(job.OrderHash, "Block fetch for latency failed: %v", err)
		return
	}
	latency := float64(block.Time()) - float64(first.Unix())
	if latency < 0 {
		latency = 0
	}
	s.metrics.MiningLatency(s.chainLabel, latency)
}

// checkFinality reports whether enough blocks were built on the mined one
func (s *Settler) checkFinality(ctx context.Context, minedBlock uint64) (bool, error) {
	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	return head >= minedBlock+s.cfg.FinalityBlocks, nil
}

// confirm promotes the unconfirmed outcome to its confirmed variant
func (s *Settler) confirm(ctx context.Context, job *models.Job, sctx *SubmissionContext) (*models.Job, error) {
	var jobStatus models.JobStatus
	switch job.Status {
	case models.JobSucceededUnconfirmed:
		jobStatus = models.JobSucceededConfirmed
	case models.JobFailedRevertedUnconfirmed:
		jobStatus = models.JobFailedRevertedConfirmed
	default:
		return nil, fmt.Errorf("cannot confirm job in status %s", job.Status)
	}

	for _, sub := range sctx.Submissions() {
		switch sub.Status {
		case models.SubmissionSucceededUnconfirmed:
			sub.Status = models.SubmissionSucceededConfirmed
		case models.SubmissionFailedRevertedUnconfirmed:
			sub.Status = models.SubmissionFailedRevertedConfirmed
		default:
			continue
		}
		if err := s.store.UpdateSubmissions(ctx, []*models.TransactionSubmission{sub}); err != nil {
			return nil, fmt.Errorf("failed to persist confirmed submission: %w", err)
		}
	}

	updated := job.Clone()
	updated.Status = jobStatus
	updated.UpdatedAt = time.Now()
	if err := s.store.UpdateJob(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to persist confirmed status: %w", err)
	}

	s.logger.InfoWithOrder(job.OrderHash, "Job confirmed: %s", jobStatus)
	return updated, nil
}

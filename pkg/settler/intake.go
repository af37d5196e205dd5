package settler

import (
	"context"
	"fmt"
	"time"

	"github.com/otcdesk/rfq-settler/pkg/models"
	"github.com/otcdesk/rfq-settler/pkg/queue"
)

// AcceptQuote turns a taker-accepted firm quote into a persisted job and
// enqueues it for asynchronous settlement. Duplicate acceptance of the
// same order is rejected by the store's insert, keeping one job per hash.
func (s *Settler) AcceptQuote(
	ctx context.Context,
	q queue.Queue,
	quote *models.Quote,
	takerSignature *models.Signature,
	fee *models.Fee,
	integratorID string,
	unwrap bool,
) (*models.Job, error) {
	if quote.Order == nil {
		return nil, fmt.Errorf("quote carries no order")
	}

	orderHash := quote.Order.Hash().Hex()
	now := time.Now()

	job := &models.Job{
		OrderHash:      orderHash,
		Order:          quote.Order.Clone(),
		Fee:            fee.Clone(),
		MakerURI:       quote.MakerURI,
		TakerSignature: takerSignature.Clone(),
		Status:         models.JobPendingEnqueued,
		IntegratorID:   integratorID,
		Unwrap:         unwrap,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if failure, ok := ValidateJob(job, now); !ok {
		return nil, fmt.Errorf("accepted quote fails validation: %s", failure)
	}

	// A firm quote may carry the maker's pre-signature; keeping it lets
	// last look skip the sign round-trip. It is only kept if it verifies.
	if quote.MakerSignature != nil {
		sig := quote.MakerSignature.Clone()
		if err := s.verifyMakerSignature(ctx, job, sig); err != nil {
			s.logger.NoticeWithOrder(orderHash, "Quote pre-signature rejected, deferring to last look: %v", err)
		} else {
			job.MakerSignature = sig
		}
	}

	if err := s.store.WriteJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}
	s.metrics.QuoteInserted(s.chainLabel)

	if err := q.Enqueue(ctx, s.chain.Sender().Hex(), orderHash, models.QueuePayload{OrderHash: orderHash, Type: "settle"}); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.InfoWithOrder(orderHash, "Accepted quote from %s enqueued for settlement", quote.MakerURI)
	return job, nil
}

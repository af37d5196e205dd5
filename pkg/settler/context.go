package settler

import (
	"math/big"
	"time"

	"github.com/otcdesk/rfq-settler/pkg/models"
)

// SubmissionContext aggregates the ordered submissions of one job during
// a watch cycle. It is owned exclusively by the worker processing the job
// and never shared.
type SubmissionContext struct {
	subs []*models.TransactionSubmission
}

// NewSubmissionContext builds the aggregate from submissions ordered
// oldest first, as the store returns them
func NewSubmissionContext(subs []*models.TransactionSubmission) *SubmissionContext {
	return &SubmissionContext{subs: subs}
}

// Add appends a new submission to the working set
func (c *SubmissionContext) Add(sub *models.TransactionSubmission) {
	c.subs = append(c.subs, sub)
}

// Submissions returns the active working set, oldest first
func (c *SubmissionContext) Submissions() []*models.TransactionSubmission {
	return c.subs
}

// Empty reports whether no submission has been made yet
func (c *SubmissionContext) Empty() bool {
	return len(c.subs) == 0
}

// Nonce returns the nonce shared by the job's submissions. All fee-bump
// replacements carry the same nonce.
func (c *SubmissionContext) Nonce() (uint64, bool) {
	if len(c.subs) == 0 {
		return 0, false
	}
	return c.subs[0].Nonce, true
}

// LatestFees returns the fee parameters of the most recent submission
func (c *SubmissionContext) LatestFees() (maxFee, maxPriorityFee *big.Int, ok bool) {
	if len(c.subs) == 0 {
		return nil, nil, false
	}
	last := c.subs[len(c.subs)-1]
	return last.MaxFeePerGas, last.MaxPriorityFeePerGas, true
}

// FirstSubmittedAt returns the creation time of the earliest submission,
// the anchor for mining-latency measurement
func (c *SubmissionContext) FirstSubmittedAt() (time.Time, bool) {
	if len(c.subs) == 0 {
		return time.Time{}, false
	}
	return c.subs[0].CreatedAt, true
}

// DropPresubmit removes a presubmit record from the working set after the
// network reported the transaction unknown. The database record stays for
// forensics.
func (c *SubmissionContext) DropPresubmit(txHash string) {
	kept := c.subs[:0]
	for _, sub := range c.subs {
		if sub.TxHash == txHash && sub.Status == models.SubmissionPresubmit {
			continue
		}
		kept = append(kept, sub)
	}
	c.subs = kept
}

// ResolvedStatus derives the job status implied by the receipts retrieved
// so far. It returns ErrDuplicateReceipt when more than one submission
// carries a mined receipt; at most one replacement per nonce can mine.
func (c *SubmissionContext) ResolvedStatus() (models.JobStatus, error) {
	var resolved models.JobStatus
	seen := 0
	for _, sub := range c.subs {
		if !sub.Status.HasReceipt() {
			continue
		}
		seen++
		if seen > 1 {
			return "", ErrDuplicateReceipt
		}
		switch sub.Status {
		case models.SubmissionSucceededUnconfirmed:
			resolved = models.JobSucceededUnconfirmed
		case models.SubmissionSucceededConfirmed:
			resolved = models.JobSucceededConfirmed
		case models.SubmissionFailedRevertedUnconfirmed:
			resolved = models.JobFailedRevertedUnconfirmed
		case models.SubmissionFailedRevertedConfirmed:
			resolved = models.JobFailedRevertedConfirmed
		}
	}
	return resolved, nil
}

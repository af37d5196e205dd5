package models

import (
	"math/big"
	"time"
)

// SubmissionStatus represents the lifecycle status of one broadcast attempt
type SubmissionStatus string

const (
	// SubmissionPresubmit is recorded before broadcast outcome is known
	SubmissionPresubmit                 SubmissionStatus = "presubmit"
	SubmissionSubmitted                 SubmissionStatus = "submitted"
	SubmissionSucceededUnconfirmed      SubmissionStatus = "succeeded_unconfirmed"
	SubmissionFailedRevertedUnconfirmed SubmissionStatus = "failed_reverted_unconfirmed"
	SubmissionSucceededConfirmed        SubmissionStatus = "succeeded_confirmed"
	SubmissionFailedRevertedConfirmed   SubmissionStatus = "failed_reverted_confirmed"
)

// IsSucceeded reports whether the submission mined successfully
func (s SubmissionStatus) IsSucceeded() bool {
	return s == SubmissionSucceededUnconfirmed || s == SubmissionSucceededConfirmed
}

// HasReceipt reports whether a mined receipt determined this status
func (s SubmissionStatus) HasReceipt() bool {
	switch s {
	case SubmissionSucceededUnconfirmed, SubmissionFailedRevertedUnconfirmed,
		SubmissionSucceededConfirmed, SubmissionFailedRevertedConfirmed:
		return true
	}
	return false
}

// TransactionSubmission is one on-chain submission attempt for a job.
// Fee-bump replacements for the same job share a nonce; at most one of
// them may ultimately be mined.
type TransactionSubmission struct {
	TxHash               string
	OrderHash            string
	Nonce                uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	From                 string
	To                   string
	Status               SubmissionStatus
	CreatedAt            time.Time
}

// Clone returns a deep copy of the submission
func (t *TransactionSubmission) Clone() *TransactionSubmission {
	if t == nil {
		return nil
	}
	c := *t
	if t.MaxFeePerGas != nil {
		c.MaxFeePerGas = new(big.Int).Set(t.MaxFeePerGas)
	}
	if t.MaxPriorityFeePerGas != nil {
		c.MaxPriorityFeePerGas = new(big.Int).Set(t.MaxPriorityFeePerGas)
	}
	return &c
}

package models

import (
	"math/big"
	"time"
)

// JobStatus represents the lifecycle status of a settlement job
type JobStatus string

const (
	JobPendingEnqueued                  JobStatus = "pending_enqueued"
	JobPendingProcessing                JobStatus = "pending_processing"
	JobPendingLastLookAccepted          JobStatus = "pending_last_look_accepted"
	JobPendingSubmitted                 JobStatus = "pending_submitted"
	JobSucceededUnconfirmed             JobStatus = "succeeded_unconfirmed"
	JobSucceededConfirmed               JobStatus = "succeeded_confirmed"
	JobFailedRevertedUnconfirmed        JobStatus = "failed_reverted_unconfirmed"
	JobFailedRevertedConfirmed          JobStatus = "failed_reverted_confirmed"
	JobFailedExpired                    JobStatus = "failed_expired"
	JobFailedValidationNoMakerURI       JobStatus = "failed_validation_no_maker_uri"
	JobFailedValidationNoOrder          JobStatus = "failed_validation_no_order"
	JobFailedValidationNoFee            JobStatus = "failed_validation_no_fee"
	JobFailedValidationNoTakerSignature JobStatus = "failed_validation_no_taker_signature"
	JobFailedPresignValidationFailed    JobStatus = "failed_presign_validation_failed"
	JobFailedLastLookDeclined           JobStatus = "failed_last_look_declined"
	JobFailedSignFailed                 JobStatus = "failed_sign_failed"
	JobFailedEthCallFailed              JobStatus = "failed_eth_call_failed"
	JobFailedSubmitFailed               JobStatus = "failed_submit_failed"
)

// IsTerminal reports whether no further transition from the status is allowed
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSucceededConfirmed,
		JobFailedRevertedConfirmed,
		JobFailedExpired,
		JobFailedValidationNoMakerURI,
		JobFailedValidationNoOrder,
		JobFailedValidationNoFee,
		JobFailedValidationNoTakerSignature,
		JobFailedPresignValidationFailed,
		JobFailedLastLookDeclined,
		JobFailedSignFailed,
		JobFailedEthCallFailed,
		JobFailedSubmitFailed:
		return true
	case JobPendingEnqueued,
		JobPendingProcessing,
		JobPendingLastLookAccepted,
		JobPendingSubmitted,
		JobSucceededUnconfirmed,
		JobFailedRevertedUnconfirmed:
		return false
	}
	return false
}

// IsResolved reports whether a mined receipt already determined the outcome.
// Unconfirmed statuses still wait on finality but need no further submissions.
func (s JobStatus) IsResolved() bool {
	switch s {
	case JobSucceededUnconfirmed, JobFailedRevertedUnconfirmed:
		return true
	}
	return s.IsTerminal()
}

// Fee holds the fee terms agreed for a job
type Fee struct {
	Token     string   `db:"fee_token" json:"token"`
	Amount    *big.Int `db:"-" json:"amount"`
	Type      string   `db:"fee_type" json:"type"`
	Recipient string   `db:"fee_recipient" json:"recipient"`
}

// Clone returns a deep copy of the fee
func (f *Fee) Clone() *Fee {
	if f == nil {
		return nil
	}
	c := *f
	if f.Amount != nil {
		c.Amount = new(big.Int).Set(f.Amount)
	}
	return &c
}

// Job is the unit of settlement work for one accepted RFQ order
type Job struct {
	OrderHash      string
	Order          *Order
	Fee            *Fee
	MakerURI       string
	MakerSignature *Signature
	TakerSignature *Signature
	Status         JobStatus
	WorkerID       string
	IntegratorID   string
	Unwrap         bool
	// LastLookDeltaBps records the maker's post-decline price movement in
	// basis points, populated best-effort after a decline.
	LastLookDeltaBps *big.Int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Clone returns a deep copy of the job so callers can apply a
// transform-then-persist update without aliasing the stored record.
func (j *Job) Clone() *Job {
	c := *j
	c.Order = j.Order.Clone()
	c.Fee = j.Fee.Clone()
	c.MakerSignature = j.MakerSignature.Clone()
	c.TakerSignature = j.TakerSignature.Clone()
	if j.LastLookDeltaBps != nil {
		c.LastLookDeltaBps = new(big.Int).Set(j.LastLookDeltaBps)
	}
	return &c
}

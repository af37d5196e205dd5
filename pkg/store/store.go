package store

import (
	"context"
	"errors"
	"time"

	"github.com/otcdesk/rfq-settler/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Store is the persistence surface for jobs, submissions and worker
// heartbeats. Implementations must make ClaimJob atomic so that exactly
// one worker wins a contested job.
type Store interface {
	// WriteJob inserts a new job record
	WriteJob(ctx context.Context, job *models.Job) error
	// UpdateJob replaces the mutable fields of an existing job
	UpdateJob(ctx context.Context, job *models.Job) error
	// FindJobByHash returns the job for an order hash or ErrNotFound
	FindJobByHash(ctx context.Context, orderHash string) (*models.Job, error)
	// FindUnresolvedJobsForWorker returns jobs claimed by the worker whose
	// outcome is not yet determined by a mined receipt
	FindUnresolvedJobsForWorker(ctx context.Context, workerID string) ([]*models.Job, error)
	// ClaimJob assigns the job to the worker if no worker holds it yet.
	// Returns true when this worker won the claim.
	ClaimJob(ctx context.Context, orderHash, workerID string) (bool, error)

	// WriteSubmission inserts a new transaction submission record
	WriteSubmission(ctx context.Context, sub *models.TransactionSubmission) error
	// UpdateSubmissions replaces the status of each submission in one batch
	UpdateSubmissions(ctx context.Context, subs []*models.TransactionSubmission) error
	// FindSubmissionByTxHash returns the submission for a transaction hash
	// or ErrNotFound
	FindSubmissionByTxHash(ctx context.Context, txHash string) (*models.TransactionSubmission, error)
	// FindSubmissionsByOrderHash returns all submissions recorded for a job,
	// oldest first
	FindSubmissionsByOrderHash(ctx context.Context, orderHash string) ([]*models.TransactionSubmission, error)

	// WriteHeartbeat upserts the worker's liveness timestamp
	WriteHeartbeat(ctx context.Context, workerID string, at time.Time) error

	// Close releases the underlying connection
	Close() error
}

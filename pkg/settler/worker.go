package settler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"

	"github.com/otcdesk/rfq-settler/pkg/models"
	"github.com/otcdesk/rfq-settler/pkg/queue"
	"github.com/otcdesk/rfq-settler/pkg/store"
)

// Worker consumes settlement jobs from the queue and processes them
// through the settler pipeline. It owns the readiness checks, heartbeat
// schedule and crash recovery for its worker identity.
type Worker struct {
	settler *Settler
	queue   queue.Queue
	cron    *cron.Cron

	mu    sync.Mutex
	ready bool
}

// NewWorker creates a worker around a settler and its queue
func NewWorker(s *Settler, q queue.Queue) *Worker {
	return &Worker{
		settler: s,
		queue:   q,
		cron:    cron.New(),
	}
}

// Start performs readiness checks, recovers unresolved jobs, schedules
// the heartbeat and then consumes the queue until ctx is cancelled
func (w *Worker) Start(ctx context.Context) error {
	s := w.settler

	w.setReady(w.checkReadiness(ctx))
	if !w.isReady() {
		s.logger.Notice("Worker %s starting not-ready; heartbeat will re-check", s.workerID)
	}

	if err := w.recoverJobs(ctx); err != nil {
		s.logger.Error("Crash recovery failed: %v", err)
	}

	spec := fmt.Sprintf("@every %s", s.cfg.HeartbeatInterval)
	if _, err := w.cron.AddFunc(spec, func() { w.heartbeat(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule heartbeat: %w", err)
	}
	w.cron.Start()
	defer w.cron.Stop()

	w.heartbeat(ctx)

	s.logger.Info("Worker %s consuming settlement jobs", s.workerID)
	err := w.queue.Consume(ctx, w.HandleJob)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// heartbeat re-checks readiness and writes the liveness timestamp. The
// cron schedule caps writes at one per interval.
func (w *Worker) heartbeat(ctx context.Context) {
	s := w.settler

	w.setReady(w.checkReadiness(ctx))

	if err := s.store.WriteHeartbeat(ctx, s.workerID, time.Now()); err != nil {
		s.logger.Notice("Heartbeat write failed: %v", err)
	}
}

// checkReadiness verifies the worker can fetch gas prices and holds
// enough native balance to pay for a settlement. Failures mark the
// worker not-ready without propagating.
func (w *Worker) checkReadiness(ctx context.Context) bool {
	s := w.settler
	sender := s.chain.Sender().Hex()

	fast, err := s.chain.GetGasPriceEstimate(ctx)
	if err != nil {
		s.logger.Notice("Readiness: gas price estimate failed: %v", err)
		s.metrics.WorkerReady(s.chainLabel, sender, false)
		return false
	}

	balance, err := s.chain.GetBalance(ctx, s.chain.Sender())
	if err != nil {
		s.logger.Notice("Readiness: balance query failed: %v", err)
		s.metrics.WorkerReady(s.chainLabel, sender, false)
		return false
	}

	needed := new(big.Int).Mul(fast, new(big.Int).SetUint64(s.cfg.FallbackGasEstimate))
	if balance.Cmp(needed) < 0 {
		s.logger.Notice("Readiness: balance %s below estimated gas need %s", balance, needed)
		s.metrics.WorkerReady(s.chainLabel, sender, false)
		return false
	}

	s.metrics.WorkerReady(s.chainLabel, sender, true)
	return true
}

// recoverJobs re-enters processing for every unresolved job this worker
// identity owns, typically after a crash. Jobs are processed one at a
// time, before the consumer starts: all submissions for this sender go
// through a single goroutine, so no two jobs can race for a nonce.
func (w *Worker) recoverJobs(ctx context.Context) error {
	s := w.settler

	jobs, err := s.store.FindUnresolvedJobsForWorker(ctx, s.workerID)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		s.metrics.JobRepaired(s.chainLabel, s.chain.Sender().Hex())
		s.logger.InfoWithOrder(job.OrderHash, "Re-entering unresolved job in status %s", job.Status)
		if err := w.HandleJob(ctx, models.QueuePayload{OrderHash: job.OrderHash, Type: "repair"}); err != nil {
			s.logger.ErrorWithOrder(job.OrderHash, "Repair processing failed: %v", err)
		}
	}
	return nil
}

// HandleJob is the processing boundary: every exit is caught here, logged
// with order context and counted, and the cycle never crashes the worker.
// It always acks (returns nil) because job state, not queue state, is the
// source of truth.
func (w *Worker) HandleJob(ctx context.Context, payload models.QueuePayload) error {
	s := w.settler
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorWithOrder(payload.OrderHash, "Panic in job processing: %v", r)
			s.metrics.JobCompletedWithError(s.chainLabel, s.chain.Sender().Hex(), "panic")
		}
		s.metrics.ProcessLatency(s.chainLabel, time.Since(start).Seconds())
	}()

	if err := w.processJob(ctx, payload.OrderHash); err != nil {
		_, errorType := ClassifyError(err)
		s.logger.ErrorWithOrder(payload.OrderHash, "Job processing failed (%s): %v", errorType, err)
		s.metrics.JobCompletedWithError(s.chainLabel, s.chain.Sender().Hex(), errorType)
		return nil
	}

	s.metrics.JobCompleted(s.chainLabel, s.chain.Sender().Hex())
	return nil
}

// processJob runs one job through claim, validation, last look,
// submission and the watch loop. Idempotent under redelivery: each stage
// checks persisted state before acting.
func (w *Worker) processJob(ctx context.Context, orderHash string) error {
	s := w.settler

	job, err := s.store.FindJobByHash(ctx, orderHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.SignedQuoteNotFound(s.chainLabel)
			s.logger.NoticeWithOrder(orderHash, "No job recorded for order hash, dropping")
			return nil
		}
		return err
	}

	if job.Status.IsTerminal() {
		s.logger.DebugWithOrder(orderHash, "Job already terminal (%s), nothing to do", job.Status)
		return nil
	}

	won, err := s.store.ClaimJob(ctx, orderHash, s.workerID)
	if err != nil {
		return err
	}
	if !won {
		s.logger.DebugWithOrder(orderHash, "Job owned by another worker, skipping")
		return nil
	}
	job.WorkerID = s.workerID

	if job.Status == models.JobPendingEnqueued {
		updated := job.Clone()
		updated.Status = models.JobPendingProcessing
		updated.UpdatedAt = time.Now()
		if err := s.store.UpdateJob(ctx, updated); err != nil {
			return fmt.Errorf("failed to mark job processing: %w", err)
		}
		job = updated
	}

	// Validation gates every signature request and transaction attempt
	if !job.Status.IsResolved() {
		if failure, ok := ValidateJob(job, time.Now()); !ok {
			s.logger.InfoWithOrder(orderHash, "Validation failed: %s", failure)
			return s.failJob(ctx, job, failure)
		}
	}

	sctx, err := w.loadSubmissions(ctx, job)
	if err != nil {
		return err
	}

	// A receipt retrieved in a previous life may already determine the
	// outcome; skip straight to the watch loop for finality
	if resolved, err := sctx.ResolvedStatus(); err != nil {
		s.metrics.ReceiptInvariantViolation(s.chainLabel)
		return err
	} else if resolved == "" && !job.Status.IsResolved() {
		job, err = s.CoordinateLastLook(ctx, job)
		if err != nil {
			return err
		}

		if sctx.Empty() {
			job, err = s.SubmitInitial(ctx, job, sctx)
			if err != nil {
				return err
			}
		}
	}

	if job.Status.IsTerminal() {
		return nil
	}

	_, err = s.Watch(ctx, job, sctx)
	return err
}

// loadSubmissions builds the submission context and runs presubmit
// recovery: presubmit records found on the network are promoted, unknown
// ones are dropped from the working set but kept in the store
func (w *Worker) loadSubmissions(ctx context.Context, job *models.Job) (*SubmissionContext, error) {
	s := w.settler

	subs, err := s.store.FindSubmissionsByOrderHash(ctx, job.OrderHash)
	if err != nil {
		return nil, err
	}
	sctx := NewSubmissionContext(subs)

	for _, sub := range subs {
		if sub.Status != models.SubmissionPresubmit {
			continue
		}

		tx, _, err := s.chain.GetTransactionByHash(ctx, common.HexToHash(sub.TxHash))
		if err != nil {
			return nil, fmt.Errorf("presubmit recovery query failed: %w", err)
		}
		if tx == nil {
			s.logger.InfoWithOrder(job.OrderHash, "Presubmit tx %s unknown to network, dropping from working set", sub.TxHash)
			sctx.DropPresubmit(sub.TxHash)
			continue
		}

		sub.Status = models.SubmissionSubmitted
		if err := s.store.UpdateSubmissions(ctx, []*models.TransactionSubmission{sub}); err != nil {
			return nil, fmt.Errorf("failed to promote recovered presubmit: %w", err)
		}
		s.logger.InfoWithOrder(job.OrderHash, "Recovered presubmit tx %s as submitted", sub.TxHash)
	}

	return sctx, nil
}

func (w *Worker) isReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

func (w *Worker) setReady(ready bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ready = ready
}

// Ready exposes readiness for the health endpoint
func (w *Worker) Ready() bool { return w.isReady() }

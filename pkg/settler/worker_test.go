package settler

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcdesk/rfq-settler/pkg/models"
	"github.com/otcdesk/rfq-settler/pkg/settler/mocks"
)

func newTestWorker(rig *testRig) *Worker {
	return NewWorker(rig.settler, &mocks.MockQueue{})
}

func TestHandleJobUnknownOrderDropped(t *testing.T) {
	rig := newTestRig(t)
	w := newTestWorker(rig)

	err := w.HandleJob(context.Background(), models.QueuePayload{OrderHash: "0xdeadbeef", Type: "settle"})
	require.NoError(t, err, "unknown orders ack, not requeue")

	assert.Equal(t, 1, rig.sink.Count("signed_quote_not_found"))
	assert.Equal(t, 1, rig.sink.Count("job_completed"))
}

func TestHandleJobExpiredOrderNeverSigns(t *testing.T) {
	rig := newTestRig(t)
	w := newTestWorker(rig)
	ctx := context.Background()

	job := newTestJob(t, uint64(time.Now().Add(-time.Minute).Unix()))
	require.NoError(t, rig.store.WriteJob(ctx, job))

	err := w.HandleJob(ctx, models.QueuePayload{OrderHash: job.OrderHash, Type: "settle"})
	require.NoError(t, err)

	assert.Equal(t, 0, rig.makers.SignCalls, "no signature request for an expired order")

	stored, err := rig.store.FindJobByHash(ctx, job.OrderHash)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailedExpired, stored.Status)
	assert.Equal(t, 1, rig.sink.Count("job_completed_with_error"))
}

func TestHandleJobTerminalIsNoop(t *testing.T) {
	rig := newTestRig(t)
	w := newTestWorker(rig)
	ctx := context.Background()

	job := newTestJob(t, futureExpiry())
	job.Status = models.JobSucceededConfirmed
	require.NoError(t, rig.store.WriteJob(ctx, job))

	err := w.HandleJob(ctx, models.QueuePayload{OrderHash: job.OrderHash, Type: "settle"})
	require.NoError(t, err)

	assert.Equal(t, 0, rig.makers.SignCalls)
	assert.Equal(t, 0, rig.chain.BroadcastCount())
	assert.Equal(t, 1, rig.sink.Count("job_completed"))
}

func TestHandleJobClaimedByAnotherWorker(t *testing.T) {
	rig := newTestRig(t)
	w := newTestWorker(rig)
	ctx := context.Background()

	job := newTestJob(t, futureExpiry())
	job.WorkerID = "0x2222222222222222222222222222222222222222"
	require.NoError(t, rig.store.WriteJob(ctx, job))

	err := w.HandleJob(ctx, models.QueuePayload{OrderHash: job.OrderHash, Type: "settle"})
	require.NoError(t, err)

	assert.Equal(t, 0, rig.makers.SignCalls)

	stored, err := rig.store.FindJobByHash(ctx, job.OrderHash)
	require.NoError(t, err)
	assert.Equal(t, models.JobPendingEnqueued, stored.Status, "foreign jobs stay untouched")
}

func TestHandleJobEndToEnd(t *testing.T) {
	rig := newTestRig(t)
	w := newTestWorker(rig)
	ctx := context.Background()

	job, responder := makerSignedJob(t)
	rig.makers.SignFunc = responder
	require.NoError(t, rig.store.WriteJob(ctx, job))

	done := make(chan error, 1)
	go func() {
		done <- w.HandleJob(ctx, models.QueuePayload{OrderHash: job.OrderHash, Type: "settle"})
	}()

	// Wait for the broadcast, then mine the transaction
	var txHash common.Hash
	require.Eventually(t, func() bool {
		if rig.chain.BroadcastCount() == 0 {
			return false
		}
		subs, err := rig.store.FindSubmissionsByOrderHash(ctx, job.OrderHash)
		if err != nil || len(subs) == 0 {
			return false
		}
		txHash = common.HexToHash(subs[0].TxHash)
		return subs[0].Status == models.SubmissionSubmitted
	}, time.Second, 2*time.Millisecond)

	rig.chain.AddReceipt(txHash, &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		TxHash:      txHash,
	})
	rig.chain.SetHead(103)

	require.NoError(t, <-done)

	stored, err := rig.store.FindJobByHash(ctx, job.OrderHash)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceededConfirmed, stored.Status)
	assert.Equal(t, testWorkerID, stored.WorkerID)
	assert.Equal(t, 1, rig.sink.Count("job_completed"))
	assert.Equal(t, 1, rig.makers.SignCalls)
}

func TestHandleJobPanicIsContained(t *testing.T) {
	rig := newTestRig(t)
	w := newTestWorker(rig)
	ctx := context.Background()

	// A resolved job missing its order makes the watch loop dereference
	// nil; the boundary must absorb it
	job := newTestJob(t, futureExpiry())
	job.Order = nil
	job.Status = models.JobSucceededUnconfirmed
	job.WorkerID = testWorkerID
	require.NoError(t, rig.store.WriteJob(ctx, job))

	err := w.HandleJob(ctx, models.QueuePayload{OrderHash: job.OrderHash, Type: "settle"})
	require.NoError(t, err, "panics never escape the processing boundary")

	assert.Equal(t, 1, rig.sink.Count("job_completed_with_error:panic"))
}

func TestLoadSubmissionsPresubmitRecovery(t *testing.T) {
	rig := newTestRig(t)
	w := newTestWorker(rig)
	ctx := context.Background()

	job := newTestJob(t, futureExpiry())
	job.Status = models.JobPendingSubmitted
	require.NoError(t, rig.store.WriteJob(ctx, job))

	now := time.Now()
	known := newSubmission("0x00000000000000000000000000000000000000000000000000000000000000aa", 5, models.SubmissionPresubmit, now)
	known.OrderHash = job.OrderHash
	unknown := newSubmission("0x00000000000000000000000000000000000000000000000000000000000000bb", 5, models.SubmissionPresubmit, now.Add(time.Second))
	unknown.OrderHash = job.OrderHash
	require.NoError(t, rig.store.WriteSubmission(ctx, known))
	require.NoError(t, rig.store.WriteSubmission(ctx, unknown))

	// Only the first presubmit is visible on the network
	rig.chain.KnownTxs[common.HexToHash(known.TxHash)] = types.NewTx(&types.DynamicFeeTx{Nonce: 5})

	sctx, err := w.loadSubmissions(ctx, job)
	require.NoError(t, err)

	require.Len(t, sctx.Submissions(), 1, "unknown presubmit dropped from the working set")
	assert.Equal(t, known.TxHash, sctx.Submissions()[0].TxHash)
	assert.Equal(t, models.SubmissionSubmitted, sctx.Submissions()[0].Status)

	// The dropped record survives in the store for the audit trail
	stored, err := rig.store.FindSubmissionByTxHash(ctx, unknown.TxHash)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionPresubmit, stored.Status)
}

func TestCheckReadiness(t *testing.T) {
	rig := newTestRig(t)
	w := newTestWorker(rig)
	ctx := context.Background()

	assert.True(t, w.checkReadiness(ctx))
	assert.Equal(t, 1, rig.sink.Count("worker_ready"))

	// Balance below one settlement's worth of gas
	rig.chain.Balance = big.NewInt(1)
	assert.False(t, w.checkReadiness(ctx))
	assert.Equal(t, 1, rig.sink.Count("worker_not_ready"))

	rig.chain.Balance = big.NewInt(1000000000000000000)
	rig.chain.GasPrice = nil
	assert.False(t, w.checkReadiness(ctx), "gas estimate failure means not ready")
}

func TestHeartbeatWritesLiveness(t *testing.T) {
	rig := newTestRig(t)
	w := newTestWorker(rig)

	w.heartbeat(context.Background())

	last, ok := rig.store.LastHeartbeat(testWorkerID)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), last, time.Second)
	assert.True(t, w.Ready())
}

func TestRecoverJobsSerializesSubmissions(t *testing.T) {
	rig := newTestRig(t)
	w := newTestWorker(rig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two jobs ready to submit, both owned by this worker from a previous
	// life. They share the sender, so they share its nonce sequence: the
	// second must not broadcast until the first is resolved.
	jobA := newTestJob(t, futureExpiry())
	jobA.MakerSignature = &models.Signature{V: 28, R: make([]byte, 32), S: make([]byte, 32)}
	jobA.Status = models.JobPendingLastLookAccepted
	jobA.WorkerID = testWorkerID
	jobA.CreatedAt = time.Now().Add(-2 * time.Minute)
	require.NoError(t, rig.store.WriteJob(ctx, jobA))

	jobB := newTestJob(t, futureExpiry())
	jobB.Order.TakerAmount = big.NewInt(3000000)
	jobB.OrderHash = jobB.Order.Hash().Hex()
	jobB.MakerSignature = &models.Signature{V: 28, R: make([]byte, 32), S: make([]byte, 32)}
	jobB.Status = models.JobPendingLastLookAccepted
	jobB.WorkerID = testWorkerID
	jobB.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, rig.store.WriteJob(ctx, jobB))

	other := map[string]string{jobA.OrderHash: jobB.OrderHash, jobB.OrderHash: jobA.OrderHash}

	// Mine every submitted transaction, checking on each one that the
	// other job is not in flight at the same time
	var overlap atomic.Bool
	go func() {
		mined := make(map[string]bool)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			for _, orderHash := range []string{jobA.OrderHash, jobB.OrderHash} {
				subs, err := rig.store.FindSubmissionsByOrderHash(ctx, orderHash)
				if err != nil {
					continue
				}
				for _, sub := range subs {
					if sub.Status != models.SubmissionSubmitted || mined[sub.TxHash] {
						continue
					}
					otherSubs, subErr := rig.store.FindSubmissionsByOrderHash(ctx, other[orderHash])
					otherJob, jobErr := rig.store.FindJobByHash(ctx, other[orderHash])
					if subErr == nil && jobErr == nil && len(otherSubs) > 0 && !otherJob.Status.IsTerminal() {
						overlap.Store(true)
					}
					rig.chain.AddReceipt(common.HexToHash(sub.TxHash), minedReceipt(sub.TxHash, types.ReceiptStatusSuccessful, 100))
					mined[sub.TxHash] = true
				}
			}
		}
	}()

	require.NoError(t, w.recoverJobs(ctx))

	for _, orderHash := range []string{jobA.OrderHash, jobB.OrderHash} {
		stored, err := rig.store.FindJobByHash(ctx, orderHash)
		require.NoError(t, err)
		assert.Equal(t, models.JobSucceededConfirmed, stored.Status)
	}
	assert.False(t, overlap.Load(), "recovered jobs must never be in flight concurrently")
	assert.Equal(t, 2, rig.sink.Count("job_repaired"))
}

func TestRecoverJobsReentersUnresolved(t *testing.T) {
	rig := newTestRig(t)
	w := newTestWorker(rig)
	ctx := context.Background()

	// An expired job owned by this worker from a previous life; repair
	// re-enters it and settles it to a terminal failure
	job := newTestJob(t, uint64(time.Now().Add(-3*time.Minute).Unix()))
	job.Status = models.JobPendingProcessing
	job.WorkerID = testWorkerID
	require.NoError(t, rig.store.WriteJob(ctx, job))

	require.NoError(t, w.recoverJobs(ctx))
	assert.Equal(t, 1, rig.sink.Count("job_repaired"))

	assert.Eventually(t, func() bool {
		stored, err := rig.store.FindJobByHash(ctx, job.OrderHash)
		return err == nil && stored.Status == models.JobFailedExpired
	}, time.Second, 2*time.Millisecond)
}

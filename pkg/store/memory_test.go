package store

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcdesk/rfq-settler/pkg/models"
)

func storeJob(orderHash string, status models.JobStatus, createdAt time.Time) *models.Job {
	return &models.Job{
		OrderHash: orderHash,
		Order: &models.Order{
			Maker:       common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
			MakerAmount: big.NewInt(100),
			TakerAmount: big.NewInt(200),
		},
		Fee:            &models.Fee{Token: "0x01", Amount: big.NewInt(1)},
		MakerURI:       "https://maker.example.com",
		TakerSignature: &models.Signature{V: 27, R: make([]byte, 32), S: make([]byte, 32)},
		Status:         status,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestMemoryStoreJobRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	job := storeJob("0xaa", models.JobPendingEnqueued, time.Now())
	require.NoError(t, s.WriteJob(ctx, job))

	found, err := s.FindJobByHash(ctx, "0xaa")
	require.NoError(t, err)
	assert.Equal(t, job.OrderHash, found.OrderHash)
	assert.Equal(t, job.Status, found.Status)

	_, err = s.FindJobByHash(ctx, "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateJob(ctx, storeJob("0xmissing", models.JobPendingProcessing, time.Now()))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreReturnsClones(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	job := storeJob("0xaa", models.JobPendingEnqueued, time.Now())
	require.NoError(t, s.WriteJob(ctx, job))

	// Mutating a read result must not leak into the store
	found, err := s.FindJobByHash(ctx, "0xaa")
	require.NoError(t, err)
	found.Status = models.JobFailedExpired
	found.Order.MakerAmount.SetInt64(999)

	again, err := s.FindJobByHash(ctx, "0xaa")
	require.NoError(t, err)
	assert.Equal(t, models.JobPendingEnqueued, again.Status)
	assert.Equal(t, int64(100), again.Order.MakerAmount.Int64())
}

func TestClaimJobFirstWriterWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.WriteJob(ctx, storeJob("0xaa", models.JobPendingEnqueued, time.Now())))

	won, err := s.ClaimJob(ctx, "0xaa", "worker-1")
	require.NoError(t, err)
	assert.True(t, won)

	// A second worker loses the race
	won, err = s.ClaimJob(ctx, "0xaa", "worker-2")
	require.NoError(t, err)
	assert.False(t, won)

	// The holder re-claims on redelivery
	won, err = s.ClaimJob(ctx, "0xaa", "worker-1")
	require.NoError(t, err)
	assert.True(t, won)

	_, err = s.ClaimJob(ctx, "0xmissing", "worker-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindUnresolvedJobsForWorker(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	older := storeJob("0xaa", models.JobPendingSubmitted, now.Add(-time.Hour))
	older.WorkerID = "worker-1"
	newer := storeJob("0xbb", models.JobPendingProcessing, now)
	newer.WorkerID = "worker-1"
	terminal := storeJob("0xcc", models.JobSucceededConfirmed, now)
	terminal.WorkerID = "worker-1"
	foreign := storeJob("0xdd", models.JobPendingProcessing, now)
	foreign.WorkerID = "worker-2"

	for _, job := range []*models.Job{older, newer, terminal, foreign} {
		require.NoError(t, s.WriteJob(ctx, job))
	}

	jobs, err := s.FindUnresolvedJobsForWorker(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "0xaa", jobs[0].OrderHash, "oldest first")
	assert.Equal(t, "0xbb", jobs[1].OrderHash)
}

func TestSubmissionLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	first := &models.TransactionSubmission{
		TxHash:               "0x01",
		OrderHash:            "0xaa",
		Nonce:                5,
		MaxFeePerGas:         big.NewInt(10),
		MaxPriorityFeePerGas: big.NewInt(2),
		Status:               models.SubmissionSubmitted,
		CreatedAt:            now.Add(-time.Minute),
	}
	second := first.Clone()
	second.TxHash = "0x02"
	second.CreatedAt = now

	require.NoError(t, s.WriteSubmission(ctx, first))
	require.NoError(t, s.WriteSubmission(ctx, second))

	subs, err := s.FindSubmissionsByOrderHash(ctx, "0xaa")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "0x01", subs[0].TxHash, "ordered by creation time")

	second.Status = models.SubmissionSucceededUnconfirmed
	require.NoError(t, s.UpdateSubmissions(ctx, []*models.TransactionSubmission{second}))

	found, err := s.FindSubmissionByTxHash(ctx, "0x02")
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionSucceededUnconfirmed, found.Status)

	err = s.UpdateSubmissions(ctx, []*models.TransactionSubmission{{TxHash: "0xmissing"}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHeartbeats(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, ok := s.LastHeartbeat("worker-1")
	assert.False(t, ok)

	at := time.Now()
	require.NoError(t, s.WriteHeartbeat(ctx, "worker-1", at))

	got, ok := s.LastHeartbeat("worker-1")
	require.True(t, ok)
	assert.Equal(t, at, got)
}

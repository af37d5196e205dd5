package settler

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcdesk/rfq-settler/pkg/models"
)

func newSubmission(txHash string, nonce uint64, status models.SubmissionStatus, createdAt time.Time) *models.TransactionSubmission {
	return &models.TransactionSubmission{
		TxHash:               txHash,
		OrderHash:            "0xorder",
		Nonce:                nonce,
		MaxFeePerGas:         big.NewInt(10000000000),
		MaxPriorityFeePerGas: big.NewInt(2000000000),
		Status:               status,
		CreatedAt:            createdAt,
	}
}

func TestSubmissionContextAccessors(t *testing.T) {
	now := time.Now()
	sctx := NewSubmissionContext([]*models.TransactionSubmission{
		newSubmission("0xaa", 5, models.SubmissionSubmitted, now.Add(-time.Minute)),
		newSubmission("0xbb", 5, models.SubmissionSubmitted, now),
	})

	nonce, ok := sctx.Nonce()
	require.True(t, ok)
	assert.Equal(t, uint64(5), nonce)

	first, ok := sctx.FirstSubmittedAt()
	require.True(t, ok)
	assert.Equal(t, now.Add(-time.Minute), first)

	feeCap, tip, ok := sctx.LatestFees()
	require.True(t, ok)
	assert.NotNil(t, feeCap)
	assert.NotNil(t, tip)

	empty := NewSubmissionContext(nil)
	assert.True(t, empty.Empty())
	_, ok = empty.Nonce()
	assert.False(t, ok)
}

func TestSubmissionContextDropPresubmit(t *testing.T) {
	now := time.Now()
	sctx := NewSubmissionContext([]*models.TransactionSubmission{
		newSubmission("0xaa", 5, models.SubmissionPresubmit, now),
		newSubmission("0xbb", 5, models.SubmissionSubmitted, now),
	})

	sctx.DropPresubmit("0xaa")
	require.Len(t, sctx.Submissions(), 1)
	assert.Equal(t, "0xbb", sctx.Submissions()[0].TxHash)

	// Only presubmit records are droppable
	sctx.DropPresubmit("0xbb")
	assert.Len(t, sctx.Submissions(), 1)
}

func TestResolvedStatusSingleReceipt(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		status   models.SubmissionStatus
		expected models.JobStatus
	}{
		{"Succeeded unconfirmed", models.SubmissionSucceededUnconfirmed, models.JobSucceededUnconfirmed},
		{"Succeeded confirmed", models.SubmissionSucceededConfirmed, models.JobSucceededConfirmed},
		{"Reverted unconfirmed", models.SubmissionFailedRevertedUnconfirmed, models.JobFailedRevertedUnconfirmed},
		{"Reverted confirmed", models.SubmissionFailedRevertedConfirmed, models.JobFailedRevertedConfirmed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sctx := NewSubmissionContext([]*models.TransactionSubmission{
				newSubmission("0xaa", 5, models.SubmissionSubmitted, now),
				newSubmission("0xbb", 5, tc.status, now),
			})

			resolved, err := sctx.ResolvedStatus()
			require.NoError(t, err)
			assert.Equal(t, tc.expected, resolved)
		})
	}
}

func TestResolvedStatusRejectsSecondReceipt(t *testing.T) {
	now := time.Now()
	sctx := NewSubmissionContext([]*models.TransactionSubmission{
		newSubmission("0xaa", 5, models.SubmissionSucceededUnconfirmed, now),
		newSubmission("0xbb", 5, models.SubmissionSucceededConfirmed, now),
	})

	_, err := sctx.ResolvedStatus()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateReceipt)
}

func TestResolvedStatusNoReceipts(t *testing.T) {
	sctx := NewSubmissionContext([]*models.TransactionSubmission{
		newSubmission("0xaa", 5, models.SubmissionSubmitted, time.Now()),
	})

	resolved, err := sctx.ResolvedStatus()
	require.NoError(t, err)
	assert.Equal(t, models.JobStatus(""), resolved)
}

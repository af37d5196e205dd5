package settler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcdesk/rfq-settler/pkg/models"
	"github.com/otcdesk/rfq-settler/pkg/settler/mocks"
)

func TestAcceptQuoteEnqueuesJob(t *testing.T) {
	rig := newTestRig(t)
	q := &mocks.MockQueue{}
	ctx := context.Background()

	seed := newTestJob(t, futureExpiry())
	quote := &models.Quote{
		MakerURI: seed.MakerURI,
		Order:    seed.Order,
		Expiry:   time.Now().Add(time.Hour),
	}

	job, err := rig.settler.AcceptQuote(ctx, q, quote, seed.TakerSignature, seed.Fee, "integrator-1", false)
	require.NoError(t, err)

	assert.Equal(t, seed.Order.Hash().Hex(), job.OrderHash)
	assert.Equal(t, models.JobPendingEnqueued, job.Status)
	assert.Equal(t, "integrator-1", job.IntegratorID)

	stored, err := rig.store.FindJobByHash(ctx, job.OrderHash)
	require.NoError(t, err)
	assert.Equal(t, models.JobPendingEnqueued, stored.Status)

	require.Len(t, q.Payloads, 1)
	assert.Equal(t, job.OrderHash, q.Payloads[0].OrderHash)
	assert.Equal(t, "settle", q.Payloads[0].Type)
	assert.Equal(t, rig.chain.Sender().Hex(), q.GroupKeys[0], "jobs group by settlement sender")
	assert.Equal(t, job.OrderHash, q.DedupeKeys[0])
	assert.Equal(t, 1, rig.sink.Count("quote_inserted"))
}

func TestAcceptQuoteKeepsVerifiedPreSignature(t *testing.T) {
	rig := newTestRig(t)
	q := &mocks.MockQueue{}
	ctx := context.Background()

	seed, responder := makerSignedJob(t)
	presig, err := responder("", nil, seed.OrderHash)
	require.NoError(t, err)
	quote := &models.Quote{
		MakerURI:       seed.MakerURI,
		Order:          seed.Order,
		Expiry:         time.Now().Add(time.Hour),
		MakerSignature: presig,
	}

	job, err := rig.settler.AcceptQuote(ctx, q, quote, seed.TakerSignature, seed.Fee, "", false)
	require.NoError(t, err)
	require.NotNil(t, job.MakerSignature)

	// Last look sees the recorded signature and never calls the maker
	updated, err := rig.settler.CoordinateLastLook(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 0, rig.makers.SignCalls, "pre-signed quotes skip the sign round-trip")
	assert.NotNil(t, updated.MakerSignature)
}

func TestAcceptQuoteDropsUnverifiablePreSignature(t *testing.T) {
	rig := newTestRig(t)
	q := &mocks.MockQueue{}
	ctx := context.Background()

	// A signature over the right hash but from an unrelated key
	seed, _ := makerSignedJob(t)
	_, strangerResponder := makerSignedJob(t)
	presig, err := strangerResponder("", nil, seed.OrderHash)
	require.NoError(t, err)
	quote := &models.Quote{
		MakerURI:       seed.MakerURI,
		Order:          seed.Order,
		Expiry:         time.Now().Add(time.Hour),
		MakerSignature: presig,
	}

	job, err := rig.settler.AcceptQuote(ctx, q, quote, seed.TakerSignature, seed.Fee, "", false)
	require.NoError(t, err)
	assert.Nil(t, job.MakerSignature, "unverifiable pre-signatures defer to last look")
	require.Len(t, q.Payloads, 1, "the job itself still settles")
}

func TestAcceptQuoteRejectsInvalid(t *testing.T) {
	rig := newTestRig(t)
	q := &mocks.MockQueue{}
	ctx := context.Background()

	seed := newTestJob(t, futureExpiry())
	quote := &models.Quote{MakerURI: seed.MakerURI, Order: seed.Order}

	// No taker signature
	_, err := rig.settler.AcceptQuote(ctx, q, quote, nil, seed.Fee, "", false)
	require.Error(t, err)
	assert.Empty(t, q.Payloads, "invalid quotes never reach the queue")

	// No order at all
	_, err = rig.settler.AcceptQuote(ctx, q, &models.Quote{MakerURI: seed.MakerURI}, seed.TakerSignature, seed.Fee, "", false)
	require.Error(t, err)

	// Expired order
	expired := newTestJob(t, uint64(time.Now().Add(-time.Minute).Unix()))
	_, err = rig.settler.AcceptQuote(ctx, q, &models.Quote{MakerURI: expired.MakerURI, Order: expired.Order}, expired.TakerSignature, expired.Fee, "", false)
	require.Error(t, err)
}

package settler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/otcdesk/rfq-settler/pkg/models"
)

func TestValidateJob(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		mutate  func(job *models.Job)
		failure models.JobStatus
		valid   bool
	}{
		{
			name:   "Valid job",
			mutate: func(job *models.Job) {},
			valid:  true,
		},
		{
			name:    "Missing maker endpoint",
			mutate:  func(job *models.Job) { job.MakerURI = "" },
			failure: models.JobFailedValidationNoMakerURI,
		},
		{
			name:    "Missing order",
			mutate:  func(job *models.Job) { job.Order = nil },
			failure: models.JobFailedValidationNoOrder,
		},
		{
			name:    "Missing fee",
			mutate:  func(job *models.Job) { job.Fee = nil },
			failure: models.JobFailedValidationNoFee,
		},
		{
			name:    "Missing taker signature",
			mutate:  func(job *models.Job) { job.TakerSignature = nil },
			failure: models.JobFailedValidationNoTakerSignature,
		},
		{
			name:    "Expired order",
			mutate:  func(job *models.Job) {},
			failure: models.JobFailedExpired,
		},
		{
			name:    "Maker endpoint checked before order",
			mutate:  func(job *models.Job) { job.MakerURI = ""; job.Order = nil },
			failure: models.JobFailedValidationNoMakerURI,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			job := newTestJob(t, futureExpiry())
			if tc.name == "Expired order" {
				job = newTestJob(t, uint64(now.Add(-time.Second).Unix()))
			}
			tc.mutate(job)

			failure, valid := ValidateJob(job, now)
			assert.Equal(t, tc.valid, valid)
			if !tc.valid {
				assert.Equal(t, tc.failure, failure)
			}
		})
	}
}

func TestValidateJobIsPure(t *testing.T) {
	job := newTestJob(t, futureExpiry())
	now := time.Now()

	failure1, valid1 := ValidateJob(job, now)
	failure2, valid2 := ValidateJob(job, now)

	assert.Equal(t, failure1, failure2)
	assert.Equal(t, valid1, valid2)
}

func TestValidateJobExpiryBoundary(t *testing.T) {
	now := time.Now()

	// Expiry exactly at evaluation time is expired
	job := newTestJob(t, uint64(now.Unix()))
	failure, valid := ValidateJob(job, now)
	assert.False(t, valid)
	assert.Equal(t, models.JobFailedExpired, failure)

	// One second of life left is fine
	job = newTestJob(t, uint64(now.Unix())+1)
	_, valid = ValidateJob(job, now)
	assert.True(t, valid)
}

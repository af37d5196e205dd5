package settler

import (
	"time"

	"github.com/otcdesk/rfq-settler/pkg/models"
)

// ValidateJob checks the preconditions a job must satisfy before any
// signature request or transaction attempt. It is pure: given the same
// job and clock it always returns the same answer. The first violated
// precondition wins; ("", true) means the job is valid.
func ValidateJob(job *models.Job, now time.Time) (models.JobStatus, bool) {
	if job.MakerURI == "" {
		return models.JobFailedValidationNoMakerURI, false
	}
	if job.Order == nil {
		return models.JobFailedValidationNoOrder, false
	}
	if job.Fee == nil {
		return models.JobFailedValidationNoFee, false
	}
	if job.TakerSignature == nil {
		return models.JobFailedValidationNoTakerSignature, false
	}
	if int64(job.Order.Expiry()) <= now.Unix() {
		return models.JobFailedExpired, false
	}
	return "", true
}
